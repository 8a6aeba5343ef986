package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type client struct {
	count     int
	windowEnd time.Time
}

// RateLimiter is a fixed-window per-IP limiter. It sits on the public capture
// endpoints so a misbehaving embed cannot flood session registration.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   int
	window  time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*client),
		limit:   limit,
		window:  window,
	}

	// Cleanup goroutine
	go func() {
		for {
			time.Sleep(window)
			now := time.Now()
			rl.mu.Lock()
			for ip, c := range rl.clients {
				if now.After(c.windowEnd) {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}()

	return rl
}

func (rl *RateLimiter) allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, exists := rl.clients[ip]
	if !exists || now.After(c.windowEnd) {
		rl.clients[ip] = &client{count: 1, windowEnd: now.Add(rl.window)}
		return true
	}

	c.count++
	return c.count <= rl.limit
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr // RealIP middleware may have stripped the port already
		}

		if !rl.allow(ip) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
			return
		}

		next.ServeHTTP(w, r)
	})
}
