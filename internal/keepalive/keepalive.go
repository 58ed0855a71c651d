// Package keepalive keeps the live session token fresh and the brokerage
// session alive while the gateway runs.
package keepalive

import (
	"context"
	"log"
	"time"

	"broker_gateway/internal/broker/ibkr"
	"broker_gateway/internal/broker/ibkr/oauth"
	apperrors "broker_gateway/internal/errors"
)

const (
	// DefaultInterval is the time between keepalive cycles.
	DefaultInterval = time.Minute

	// DefaultLead is how long before expiry the token is proactively replaced.
	DefaultLead = 10 * time.Minute
)

// Session is the part of the token manager the keepalive drives.
type Session interface {
	Status() oauth.Status
	Token(ctx context.Context) (*oauth.LiveSessionToken, error)
	Refresh(ctx context.Context) (*oauth.LiveSessionToken, error)
}

// Tickler pings the broker so the brokerage session does not time out.
type Tickler interface {
	Tickle(ctx context.Context) (*ibkr.TickleResponse, error)
}

// CleanupFunc prunes stale persisted state. It runs once per cycle.
type CleanupFunc func(ctx context.Context, now time.Time) error

// Config tunes the keepalive loop.
type Config struct {
	Interval time.Duration
	Lead     time.Duration
}

// Service runs the keepalive loop.
type Service struct {
	session  Session
	tickler  Tickler
	cleanup  []CleanupFunc
	interval time.Duration
	lead     time.Duration
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCleanup registers fn to run on every cycle.
func WithCleanup(fn CleanupFunc) Option {
	return func(s *Service) { s.cleanup = append(s.cleanup, fn) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a keepalive Service. tickler may be nil to only manage the token.
func New(session Session, tickler Tickler, cfg Config, opts ...Option) *Service {
	s := &Service{
		session:  session,
		tickler:  tickler,
		interval: cfg.Interval,
		lead:     cfg.Lead,
		now:      time.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.lead <= 0 {
		s.lead = DefaultLead
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs a cycle immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[Keepalive] Started (interval %v, refresh lead %v)", s.interval, s.lead)
	s.Check(ctx)

	for {
		select {
		case <-ticker.C:
			s.Check(ctx)
		case <-ctx.Done():
			log.Printf("[Keepalive] Stopped")
			return
		}
	}
}

// Check runs one cycle: ensure a token, refresh it if it is about to expire,
// tickle the broker, and run cleanups. Failures are logged and retried on the
// next cycle.
func (s *Service) Check(ctx context.Context) {
	if err := s.ensureToken(ctx); err != nil {
		log.Printf("[Keepalive] Session unavailable: %s: %v", apperrors.Class(err), err)
		return
	}

	if s.tickler != nil {
		resp, err := s.tickler.Tickle(ctx)
		switch {
		case err != nil:
			log.Printf("[Keepalive] Tickle failed: %v", err)
		case !resp.IServer.AuthStatus.Authenticated:
			log.Printf("[Keepalive] Brokerage session not authenticated: %s", resp.IServer.AuthStatus.Message)
		case resp.IServer.AuthStatus.Competing:
			log.Printf("[Keepalive] Competing brokerage session detected")
		}
	}

	now := s.now()
	for _, fn := range s.cleanup {
		if err := fn(ctx, now); err != nil {
			log.Printf("[Keepalive] Cleanup failed: %v", err)
		}
	}
}

func (s *Service) ensureToken(ctx context.Context) error {
	st := s.session.Status()
	if st.State != oauth.StateValid {
		_, err := s.session.Token(ctx)
		return err
	}

	left := st.ExpiresAt.Sub(s.now())
	if left >= refreshLead(st, s.lead) {
		return nil
	}
	log.Printf("[Keepalive] Token expires in %v, refreshing", left.Round(time.Second))
	_, err := s.session.Refresh(ctx)
	return err
}

// refreshLead caps lead at half the token lifetime, so a token that lives
// shorter than the configured lead is not refreshed on every check.
func refreshLead(st oauth.Status, lead time.Duration) time.Duration {
	if st.IssuedAt.IsZero() {
		return lead
	}
	if lifetime := st.ExpiresAt.Sub(st.IssuedAt); lifetime > 0 && lead > lifetime/2 {
		return lifetime / 2
	}
	return lead
}
