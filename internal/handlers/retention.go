package handlers

import (
	"context"
	"net/http"

	"formpulse-backend/internal/retention"
)

type sweeper interface {
	Sweep(ctx context.Context) retention.Report
}

// RetentionHandler exposes a manual sweep trigger. The scheduled daily run
// lives in main; this endpoint exists for support tooling.
type RetentionHandler struct {
	sweeper sweeper
}

func NewRetentionHandler(s sweeper) *RetentionHandler {
	return &RetentionHandler{sweeper: s}
}

func (h *RetentionHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report := h.sweeper.Sweep(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"report": report})
}
