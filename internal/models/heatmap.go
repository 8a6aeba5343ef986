package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	HeatmapClick     = "click"
	HeatmapScroll    = "scroll"
	HeatmapMove      = "move"
	HeatmapAttention = "attention"
)

type GridPoint struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Count int `json:"count"`
}

// GridData is the persisted grid form. MaxCount is always the max of the
// point counts (0 when empty), recomputed after every merge or filter.
type GridData struct {
	Points   []GridPoint `json:"points"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	MaxCount int         `json:"max_count"`
}

type HeatmapRecord struct {
	ID           uuid.UUID  `json:"id"`
	ScopeID      uuid.UUID  `json:"scope_id"`
	Page         string     `json:"page"`
	QuestionID   *uuid.UUID `json:"question_id,omitempty"`
	Type         string     `json:"type"`       // click | scroll | move | attention
	Breakpoint   string     `json:"breakpoint"` // desktop | tablet | mobile
	Grid         GridData   `json:"grid"`
	SessionCount int        `json:"session_count"`
	PeriodStart  time.Time  `json:"period_start"`
	PeriodEnd    time.Time  `json:"period_end"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SpatialEvent is the raw input to the heatmap aggregator. Heatmap
// contributions are independent of full-session replay storage.
type SpatialEvent struct {
	Type        string `json:"type"` // click | move | scroll
	TimestampMs int64  `json:"ts_ms"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
}

type HeatmapContributeRequest struct {
	ScopeID        uuid.UUID      `json:"scope_id"`
	Page           string         `json:"page"`
	QuestionID     *uuid.UUID     `json:"question_id,omitempty"`
	ViewportWidth  int            `json:"viewport_width"`
	ViewportHeight int            `json:"viewport_height"`
	Events         []SpatialEvent `json:"events"`
}
