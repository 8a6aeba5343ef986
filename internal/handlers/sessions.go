package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"formpulse-backend/internal/models"
	"formpulse-backend/internal/storage"
)

// SessionHandler is the operator's read side: listing sessions, inspecting
// one, downloading the merged replay artifact.
type SessionHandler struct {
	sessions sessionRepo
	chunks   storage.ChunkStore
}

func NewSessionHandler(sessions sessionRepo, chunks storage.ChunkStore) *SessionHandler {
	return &SessionHandler{sessions: sessions, chunks: chunks}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	scopeID, err := uuid.Parse(r.URL.Query().Get("scope_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "scope_id is required", r))
		return
	}

	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	sessions, total, err := h.sessions.ListByScope(r.Context(), scopeID, status, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list sessions", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    total,
	})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	session, err := h.sessions.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// Replay serves the merged artifact. Only READY sessions have one; anything
// else is either still being processed or lost its data.
func (h *SessionHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	session, err := h.sessions.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
		return
	}

	if session.Status != models.StatusReady || session.ArtifactPath == nil {
		writeJSON(w, http.StatusConflict, errorResp("REPLAY_UNAVAILABLE", "Session has no replay artifact", r))
		return
	}

	artifact, err := h.chunks.ReadArtifact(r.Context(), *session.ArtifactPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to read replay artifact", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
		"replay":  artifact,
	})
}
