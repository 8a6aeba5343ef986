package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"formpulse-backend/internal/codec"
	"formpulse-backend/internal/heatmap"
	"formpulse-backend/internal/models"
	"formpulse-backend/internal/repository"
	"formpulse-backend/internal/storage"
)

// InactivityWindow is how long a visitor's token stays reusable after the
// last upload. A returning visitor inside the window continues the same
// session instead of opening a new one.
const InactivityWindow = 30 * time.Minute

const maxBatchBody = 2 << 20 // 2 MB of compressed payload per upload

type sessionRepo interface {
	Create(ctx context.Context, s *models.RecordingSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecordingSession, error)
	GetByToken(ctx context.Context, token uuid.UUID) (*models.RecordingSession, error)
	ListByScope(ctx context.Context, scopeID uuid.UUID, status string, limit, offset int) ([]*models.RecordingSession, int, error)
	IncrementEvents(ctx context.Context, id uuid.UUID, n int) error
	AttachResponse(ctx context.Context, id, responseID uuid.UUID) error
}

// ActivityCache tracks the live token per (scope, visitor) with a sliding
// TTL. Backed by redis in production.
type ActivityCache interface {
	GetToken(ctx context.Context, scopeID uuid.UUID, visitorID string) (uuid.UUID, bool)
	SetToken(ctx context.Context, scopeID uuid.UUID, visitorID string, token uuid.UUID)
	Refresh(ctx context.Context, scopeID uuid.UUID, visitorID string)
}

type RedisActivityCache struct {
	Client *redis.Client
}

func activityKey(scopeID uuid.UUID, visitorID string) string {
	return fmt.Sprintf("session_activity:%s:%s", scopeID, visitorID)
}

func (c *RedisActivityCache) GetToken(ctx context.Context, scopeID uuid.UUID, visitorID string) (uuid.UUID, bool) {
	val, err := c.Client.Get(ctx, activityKey(scopeID, visitorID)).Result()
	if err != nil {
		return uuid.Nil, false
	}
	token, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false
	}
	return token, true
}

func (c *RedisActivityCache) SetToken(ctx context.Context, scopeID uuid.UUID, visitorID string, token uuid.UUID) {
	c.Client.Set(ctx, activityKey(scopeID, visitorID), token.String(), InactivityWindow)
}

func (c *RedisActivityCache) Refresh(ctx context.Context, scopeID uuid.UUID, visitorID string) {
	c.Client.Expire(ctx, activityKey(scopeID, visitorID), InactivityWindow)
}

type RecordingHandler struct {
	sessions sessionRepo
	chunks   storage.ChunkStore
	activity ActivityCache
	enqueue  func(ctx context.Context, sessionID uuid.UUID) error
	config   models.CaptureConfig
}

func NewRecordingHandler(sessions sessionRepo, chunks storage.ChunkStore, activity ActivityCache, enqueue func(ctx context.Context, sessionID uuid.UUID) error, config models.CaptureConfig) *RecordingHandler {
	return &RecordingHandler{
		sessions: sessions,
		chunks:   chunks,
		activity: activity,
		enqueue:  enqueue,
		config:   config,
	}
}

// Register opens a session or resumes the visitor's live one. Reuse applies
// when the visitor has uploaded within the inactivity window and the session
// is still recording; anything else gets a fresh token.
func (h *RecordingHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	fields := map[string]string{}
	if req.ScopeID == uuid.Nil {
		fields["scope_id"] = "required"
	}
	if req.VisitorID == "" {
		fields["visitor_id"] = "required"
	}
	if req.ViewportWidth <= 0 || req.ViewportHeight <= 0 {
		fields["viewport"] = "width and height must be positive"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	if !h.config.RecordingEnabled {
		writeJSON(w, http.StatusOK, models.RegisterSessionResponse{Config: h.config})
		return
	}

	if token, ok := h.resumableToken(r.Context(), req); ok {
		h.activity.SetToken(r.Context(), req.ScopeID, req.VisitorID, token)
		writeJSON(w, http.StatusOK, models.RegisterSessionResponse{Token: token, Reused: true, Config: h.config})
		return
	}

	session := &models.RecordingSession{
		ScopeID:        req.ScopeID,
		VisitorID:      req.VisitorID,
		Token:          uuid.New(),
		Device:         heatmap.Breakpoint(req.ViewportWidth),
		ViewportWidth:  req.ViewportWidth,
		ViewportHeight: req.ViewportHeight,
	}
	if err := h.sessions.Create(r.Context(), session); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create session", r))
		return
	}
	h.activity.SetToken(r.Context(), req.ScopeID, req.VisitorID, session.Token)

	writeJSON(w, http.StatusCreated, models.RegisterSessionResponse{Token: session.Token, Config: h.config})
}

// resumableToken decides reuse. The activity cache is the authority for the
// inactivity window: a client-held token whose window has lapsed gets a new
// session, and a mismatched client token is treated as stale.
func (h *RecordingHandler) resumableToken(ctx context.Context, req models.RegisterSessionRequest) (uuid.UUID, bool) {
	token, ok := h.activity.GetToken(ctx, req.ScopeID, req.VisitorID)
	if !ok {
		return uuid.Nil, false
	}
	if req.Token != nil && *req.Token != token {
		return uuid.Nil, false
	}

	session, err := h.sessions.GetByToken(ctx, token)
	if err != nil {
		return uuid.Nil, false
	}
	if session.Status != models.StatusRecording || session.ScopeID != req.ScopeID || session.VisitorID != req.VisitorID {
		return uuid.Nil, false
	}
	return token, true
}

// UploadEvents accepts one compressed batch. The batch is decoded before
// acceptance so a count mismatch or corrupt payload is rejected at the edge
// instead of surfacing at finalize time.
func (h *RecordingHandler) UploadEvents(w http.ResponseWriter, r *http.Request) {
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session token", r))
		return
	}

	var batch models.CompressedBatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if batch.Token != token {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Batch token does not match URL", r))
		return
	}

	decoded, err := codec.Decode(batch)
	if err != nil {
		if errors.Is(err, codec.ErrCountMismatch) {
			writeJSON(w, http.StatusBadRequest, errorResp("CORRUPT_BATCH", "Declared event count does not match payload", r))
		} else {
			writeJSON(w, http.StatusBadRequest, errorResp("CORRUPT_BATCH", "Payload could not be decoded", r))
		}
		return
	}
	if len(decoded.Events) == 0 {
		writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 0})
		return
	}

	session, err := h.sessions.GetByToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Unknown session token", r))
		return
	}
	if session.Status != models.StatusRecording {
		writeJSON(w, http.StatusConflict, errorResp("SESSION_CLOSED", "Session is no longer recording", r))
		return
	}

	if err := h.chunks.WriteChunk(r.Context(), session.ID, batch); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to store events", r))
		return
	}
	if err := h.sessions.IncrementEvents(r.Context(), session.ID, len(decoded.Events)); err != nil {
		// The chunk is stored; the counter catches up at finalize, which
		// recounts from the merged artifact.
		if !errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to record events", r))
			return
		}
	}
	h.activity.Refresh(r.Context(), session.ScopeID, session.VisitorID)

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(decoded.Events)})
}

// Finalize signals end of capture. Repeats are accepted: once the session
// leaves RECORDING the queued job is a no-op.
func (h *RecordingHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session token", r))
		return
	}

	session, err := h.sessions.GetByToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Unknown session token", r))
		return
	}

	if err := h.enqueue(r.Context(), session.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue finalization", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": models.StatusProcessing})
}

// AttachResponse links a submitted survey response to the session, so the
// operator can jump from an answer to its replay.
func (h *RecordingHandler) AttachResponse(w http.ResponseWriter, r *http.Request) {
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session token", r))
		return
	}

	var req struct {
		ResponseID uuid.UUID `json:"response_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ResponseID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "response_id is required", r))
		return
	}

	session, err := h.sessions.GetByToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Unknown session token", r))
		return
	}

	if err := h.sessions.AttachResponse(r.Context(), session.ID, req.ResponseID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to attach response", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Response attached"})
}
