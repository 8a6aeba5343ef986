// Package websocket pushes live session status to operator dashboards. Each
// connection watches one scope; updates arrive over the scope's redis pub/sub
// channel, so any instance in the fleet can serve the socket.
package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"formpulse-backend/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
	redisClient *redis.Client
	auth        *middleware.JWTAuth
	cancelFuncs map[uuid.UUID]context.CancelFunc
}

func NewHub(redisClient *redis.Client, auth *middleware.JWTAuth) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*websocket.Conn),
		redisClient: redisClient,
		auth:        auth,
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
	}
}

// HandleWebSocket upgrades an operator connection. The browser WebSocket API
// cannot set headers, so the JWT arrives as a query parameter; the scope to
// watch comes alongside it.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := h.auth.ParseToken(tokenStr); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	scopeID, err := uuid.Parse(r.URL.Query().Get("scope_id"))
	if err != nil {
		http.Error(w, "scope_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.registerConnection(scopeID, conn)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(scopeID, conn)
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (h *Hub) registerConnection(scopeID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[scopeID] = append(h.connections[scopeID], conn)

	// First watcher of this scope starts the pub/sub subscription.
	if len(h.connections[scopeID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[scopeID] = cancel
		go h.subscribeToPubSub(ctx, scopeID)
	}

	log.Printf("WebSocket connected: scope %s (total: %d)", scopeID, len(h.connections[scopeID]))
}

func (h *Hub) unregisterConnection(scopeID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[scopeID]
	for i, c := range conns {
		if c == conn {
			h.connections[scopeID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	// Last watcher gone: stop the subscription.
	if len(h.connections[scopeID]) == 0 {
		delete(h.connections, scopeID)
		if cancel, ok := h.cancelFuncs[scopeID]; ok {
			cancel()
			delete(h.cancelFuncs, scopeID)
		}
	}

	log.Printf("WebSocket disconnected: scope %s", scopeID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, scopeID uuid.UUID) {
	channel := "scope_updates:" + scopeID.String()
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(scopeID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(scopeID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[scopeID] {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

// SendToScope sends a message directly to a scope's watchers (for use
// outside pub/sub)
func (h *Hub) SendToScope(scopeID uuid.UUID, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast(scopeID, data)
}
