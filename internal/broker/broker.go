package broker

import (
	"context"
	"net/url"
	"time"
)

// Authorizer produces Authorization headers for broker API requests.
type Authorizer interface {
	// SignRequest returns the Authorization header for one request, obtaining
	// credentials first if needed.
	SignRequest(ctx context.Context, method, rawURL string, params url.Values) (string, error)

	// Invalidate discards credentials the broker no longer accepts.
	Invalidate(ctx context.Context)
}

// Session is a snapshot of the authenticated broker session.
type Session struct {
	State     string    `json:"state"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// TimeLeft returns how long the session remains valid at now, or zero.
func (s Session) TimeLeft(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
