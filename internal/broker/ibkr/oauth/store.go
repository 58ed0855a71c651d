package oauth

import (
	"context"
	"time"
)

// StoredToken is the persisted form of a live session token.
type StoredToken struct {
	Secret    []byte
	Signature string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenStore persists tokens across restarts. LoadToken returns nil, nil when nothing
// is stored. Restored tokens are re-validated before use.
type TokenStore interface {
	LoadToken(ctx context.Context, consumerKey string) (*StoredToken, error)
	SaveToken(ctx context.Context, consumerKey string, tok *StoredToken) error
	DeleteToken(ctx context.Context, consumerKey string) error
}

// HandshakeObserver receives handshake lifecycle events. Callbacks run on the
// handshake goroutine and must not block.
type HandshakeObserver interface {
	HandshakeStarted(id string, attempt int)
	HandshakeSucceeded(id string, expiresAt time.Time, elapsed time.Duration)
	HandshakeFailed(id string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) HandshakeStarted(string, int)                       {}
func (nopObserver) HandshakeSucceeded(string, time.Time, time.Duration) {}
func (nopObserver) HandshakeFailed(string, error, time.Duration)       {}
