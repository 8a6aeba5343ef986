package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"formpulse-backend/internal/handlers"
	"formpulse-backend/internal/middleware"
	"formpulse-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	recordingHandler *handlers.RecordingHandler,
	sessionHandler *handlers.SessionHandler,
	heatmapHandler *handlers.HeatmapHandler,
	retentionHandler *handlers.RetentionHandler,
	wsHub *websocket.Hub,
	dashboardURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)

	// Registration rate limiter (60 req/min per IP). Event uploads are not
	// limited here; the client already throttles and batches.
	registerLimiter := middleware.NewRateLimiter(60, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Capture Routes (public, called by the embed script) ────
		r.Group(func(r chi.Router) {
			r.Use(middleware.CORS("*"))

			r.Route("/recordings", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(registerLimiter.Middleware)
					r.Post("/register", recordingHandler.Register)
				})
				r.Post("/{token}/events", recordingHandler.UploadEvents)
				r.Post("/{token}/finalize", recordingHandler.Finalize)
				r.Post("/{token}/response", recordingHandler.AttachResponse)
			})

			r.Post("/heatmaps/contribute", heatmapHandler.Contribute)
		})

		// ──── Operator Routes ────
		r.Group(func(r chi.Router) {
			r.Use(middleware.CORS(dashboardURL))
			r.Use(jwtAuth.Middleware)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Get("/{id}", sessionHandler.Get)
				r.Get("/{id}/replay", sessionHandler.Replay)
			})

			r.Get("/heatmaps", heatmapHandler.Query)

			r.Post("/retention/sweep", retentionHandler.Sweep)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
