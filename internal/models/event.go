package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Raw event types produced by the capture agent.
const (
	EventClick     = "click"
	EventMove      = "move"
	EventScroll    = "scroll"
	EventInput     = "input"
	EventResize    = "resize"
	EventCustom    = "custom"
	EventPageLoad  = "page_load"
	EventRageClick = "rage_click"
)

type RawEvent struct {
	Type        string          `json:"type"`
	TimestampMs int64           `json:"ts_ms"` // relative to session start, never negative
	Payload     json.RawMessage `json:"payload"`
	ScopeID     *uuid.UUID      `json:"scope_id,omitempty"`
}

// EventBatch is the uncompressed form handed to the codec.
type EventBatch struct {
	Token        uuid.UUID  `json:"token"`
	CapturedAt   time.Time  `json:"captured_at"`
	IsCheckpoint bool       `json:"is_checkpoint"`
	Events       []RawEvent `json:"events"`
}

// CompressedBatch is what travels the wire and lands in chunk storage.
// EventCount must equal the decompressed sequence length; a mismatch is
// treated as corruption, never tolerated silently.
type CompressedBatch struct {
	Token        uuid.UUID `json:"token"`
	CapturedAt   time.Time `json:"captured_at"`
	IsCheckpoint bool      `json:"is_checkpoint"`
	EventCount   int       `json:"event_count"`
	Payload      string    `json:"payload"` // gzip, base64-encoded
}

// Typed payloads. Stored as json.RawMessage on RawEvent so the finalizer
// can merge without caring about per-type shape.

type ClickPayload struct {
	Selector      string `json:"selector"`
	Tag           string `json:"tag"`
	ViewportX     int    `json:"vx"`
	ViewportY     int    `json:"vy"`
	PageX         int    `json:"px"`
	PageY         int    `json:"py"`
	IsInteractive bool   `json:"interactive"`
}

type MovePayload struct {
	ViewportX int `json:"vx"`
	ViewportY int `json:"vy"`
	PageX     int `json:"px"`
	PageY     int `json:"py"`
}

type ScrollPayload struct {
	ScrollY      int `json:"scroll_y"`
	DepthPercent int `json:"depth_percent"`
}

type InputPayload struct {
	Selector    string `json:"selector"`
	Tag         string `json:"tag"`
	InputType   string `json:"input_type"`
	Name        string `json:"name"`
	HasValue    bool   `json:"has_value"`
	ValueLength *int   `json:"value_length,omitempty"` // suppressed for sensitive fields
}

type ResizePayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type CustomPayload struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

type PageLoadPayload struct {
	URL            string `json:"url"`
	Title          string `json:"title,omitempty"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
}
