package models

import (
	"time"

	"github.com/google/uuid"
)

// Session status values. Transitions only move forward:
// RECORDING -> PROCESSING -> READY | FAILED, and any state -> EXPIRED
// via the retention sweep.
const (
	StatusRecording  = "recording"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
	StatusExpired    = "expired"
)

const (
	DeviceDesktop = "desktop"
	DeviceTablet  = "tablet"
	DeviceMobile  = "mobile"
)

type RecordingSession struct {
	ID             uuid.UUID  `json:"id"`
	ScopeID        uuid.UUID  `json:"scope_id"`
	VisitorID      string     `json:"visitor_id"`
	Token          uuid.UUID  `json:"token"`
	Device         string     `json:"device"` // "desktop" | "tablet" | "mobile"
	ViewportWidth  int        `json:"viewport_width"`
	ViewportHeight int        `json:"viewport_height"`
	Status         string     `json:"status"`
	EventCount     int        `json:"event_count"`
	DurationMs     int64      `json:"duration_ms"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	ArtifactPath   *string    `json:"artifact_path,omitempty"`
	ResponseID     *uuid.UUID `json:"response_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CaptureConfig is returned at registration and drives the client agent.
type CaptureConfig struct {
	RecordingEnabled bool    `json:"recording_enabled"`
	SamplingRate     float64 `json:"sampling_rate"`
	HeatmapsEnabled  bool    `json:"heatmaps_enabled"`
}

type RegisterSessionRequest struct {
	ScopeID        uuid.UUID  `json:"scope_id"`
	VisitorID      string     `json:"visitor_id"`
	Token          *uuid.UUID `json:"token,omitempty"`
	ViewportWidth  int        `json:"viewport_width"`
	ViewportHeight int        `json:"viewport_height"`
}

type RegisterSessionResponse struct {
	Token  uuid.UUID     `json:"token"`
	Reused bool          `json:"reused"`
	Config CaptureConfig `json:"config"`
}
