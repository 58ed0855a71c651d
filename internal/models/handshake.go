package models

import "time"

// Handshake attempt statuses.
const (
	HandshakeStarted   = "started"
	HandshakeSucceeded = "success"
	HandshakeFailed    = "error"
)

// HandshakeRecord is one live session token handshake attempt.
type HandshakeRecord struct {
	ID           int64      `json:"id"`
	AttemptID    string     `json:"attempt_id"`
	ConsumerKey  string     `json:"consumer_key"`
	Attempt      int        `json:"attempt"`
	Status       string     `json:"status"`
	ErrorClass   string     `json:"error_class,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}
