package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"formpulse-backend/internal/heatmap"
	"formpulse-backend/internal/models"
	"formpulse-backend/internal/repository"
)

type heatmapRepo interface {
	Merge(ctx context.Context, key repository.HeatmapKey, contribution models.GridData, sessions int, periodEnd time.Time) error
	Query(ctx context.Context, scopeID uuid.UUID, page, heatmapType, breakpoint string, from, to time.Time) ([]*models.HeatmapRecord, error)
}

type HeatmapHandler struct {
	repo heatmapRepo
	now  func() time.Time
}

func NewHeatmapHandler(repo heatmapRepo) *HeatmapHandler {
	return &HeatmapHandler{repo: repo, now: time.Now}
}

// periodBucket is the aggregation granularity: one record per UTC day per key.
func periodBucket(t time.Time) (start, end time.Time) {
	start = t.UTC().Truncate(24 * time.Hour)
	return start, start.Add(24 * time.Hour)
}

// Contribute folds one page view's spatial events into the live grids. A
// single request feeds every applicable heatmap type: clicks, movement,
// scroll depth, and attention dwell derived from the movement stream.
func (h *HeatmapHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	var req models.HeatmapContributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	fields := map[string]string{}
	if req.ScopeID == uuid.Nil {
		fields["scope_id"] = "required"
	}
	if req.Page == "" {
		fields["page"] = "required"
	}
	if req.ViewportWidth <= 0 || req.ViewportHeight <= 0 {
		fields["viewport"] = "width and height must be positive"
	}
	if len(req.Events) == 0 {
		fields["events"] = "at least one event is required"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	breakpoint := heatmap.Breakpoint(req.ViewportWidth)
	periodStart, periodEnd := periodBucket(h.now())

	merged := 0
	for _, heatmapType := range []string{models.HeatmapClick, models.HeatmapMove, models.HeatmapScroll, models.HeatmapAttention} {
		grid := heatmap.FromEvents(heatmapType, req.Events, req.ViewportWidth, req.ViewportHeight)
		if grid.CellCount() == 0 {
			continue
		}
		key := repository.HeatmapKey{
			ScopeID:     req.ScopeID,
			Page:        req.Page,
			QuestionID:  req.QuestionID,
			Type:        heatmapType,
			Breakpoint:  breakpoint,
			PeriodStart: periodStart,
		}
		if err := h.repo.Merge(r.Context(), key, grid.Data(), 1, periodEnd); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to record heatmap contribution", r))
			return
		}
		merged++
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"grids_updated": merged})
}

// Query returns heatmap records for the operator dashboard. Optional
// downsample and min_count parameters reshape each grid for rendering;
// session counts are always reported untouched.
func (h *HeatmapHandler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	scopeID, err := uuid.Parse(q.Get("scope_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "scope_id is required", r))
		return
	}

	now := h.now()
	from := now.AddDate(0, 0, -30)
	to := now
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "from must be RFC 3339", r))
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "to must be RFC 3339", r))
			return
		}
	}

	records, err := h.repo.Query(r.Context(), scopeID, q.Get("page"), q.Get("type"), q.Get("breakpoint"), from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to query heatmaps", r))
		return
	}

	downsample, _ := strconv.Atoi(q.Get("downsample"))
	minCount, _ := strconv.Atoi(q.Get("min_count"))
	for _, rec := range records {
		grid := heatmap.FromData(rec.Grid)
		if downsample > 1 {
			grid = grid.Downsample(downsample)
		}
		if minCount > 0 {
			grid = grid.Threshold(minCount)
		}
		rec.Grid = grid.Data()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"heatmaps": records,
		"total":    len(records),
	})
}
