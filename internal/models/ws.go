package models

import "github.com/google/uuid"

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type SessionStatusUpdate struct {
	SessionID  uuid.UUID `json:"session_id"`
	ScopeID    uuid.UUID `json:"scope_id"`
	Status     string    `json:"status"`
	EventCount int       `json:"event_count"`
	DurationMs int64     `json:"duration_ms"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
