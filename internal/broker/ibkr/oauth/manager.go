package oauth

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/util/memzero"
)

// State is the lifecycle state of the live session token.
type State int

const (
	StateNoToken State = iota
	StateRequesting
	StateValidating
	StateValid
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no_token"
	case StateRequesting:
		return "requesting"
	case StateValidating:
		return "validating"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

const (
	// DefaultHandshakeTimeout bounds one transport exchange.
	DefaultHandshakeTimeout = 30 * time.Second
	// DefaultExpiryMargin refreshes tokens this long before they expire.
	DefaultExpiryMargin = 5 * time.Minute

	flightKey = "live_session_token"
)

// ManagerConfig tunes the token lifecycle. Zero values take defaults; a negative
// ExpiryMargin disables the margin.
type ManagerConfig struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	ExpiryMargin     time.Duration
	DefaultLifetime  time.Duration
	Retry            RetryPolicy
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	switch {
	case c.ExpiryMargin == 0:
		c.ExpiryMargin = DefaultExpiryMargin
	case c.ExpiryMargin < 0:
		c.ExpiryMargin = 0
	}
	if c.DefaultLifetime <= 0 {
		c.DefaultLifetime = DefaultTokenLifetime
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy()
	}
	return c
}

// Status is a point-in-time view of the manager.
type Status struct {
	State     State
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SigningFunc signs one API request and returns its Authorization header.
type SigningFunc func(method, rawURL string, params url.Values) (string, error)

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists tokens to s and restores them on first use.
func WithStore(s TokenStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithObserver reports handshake events to o.
func WithObserver(o HandshakeObserver) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
		m.signer.now = now
	}
}

// WithRandom replaces the entropy source for DH exponents.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

// WithNonceSource replaces nonce generation for handshakes and signed requests.
func WithNonceSource(nonce func() (string, error)) Option {
	return func(m *Manager) {
		m.nonce = nonce
		m.signer.nonce = nonce
	}
}

// Manager owns the live session token: it runs at most one handshake at a time,
// publishes the validated token, and signs requests with it. Safe for concurrent use.
type Manager struct {
	keys      *KeyMaterial
	creds     Credentials
	transport Transport
	cfg       ManagerConfig
	signer    *HMACSigner
	store     TokenStore
	observer  HandshakeObserver
	now       func() time.Time
	random    io.Reader
	nonce     func() (string, error)

	flight singleflight.Group

	mu       sync.RWMutex
	state    State
	token    *LiveSessionToken
	restored bool
}

// NewManager creates a manager in the NoToken state. No network traffic happens
// until the first token is requested.
func NewManager(keys *KeyMaterial, creds Credentials, transport Transport, cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if keys == nil || keys.EncryptionKey == nil || keys.SignatureKey == nil || keys.DH == nil {
		return nil, apperrors.KeyLoad("key material is incomplete", nil)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, apperrors.Validation("transport is required")
	}

	m := &Manager{
		keys:      keys,
		creds:     creds,
		transport: transport,
		cfg:       cfg.withDefaults(),
		signer:    NewHMACSigner(creds),
		observer:  nopObserver{},
		now:       time.Now,
		nonce:     GenerateNonce,
		state:     StateNoToken,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Token returns a valid live session token, performing a handshake if none is
// usable. Concurrent callers share one handshake. Cancelling ctx abandons the wait
// but not the handshake, whose result is still published for later callers.
func (m *Manager) Token(ctx context.Context) (*LiveSessionToken, error) {
	if tok := m.current(); tok != nil {
		return tok, nil
	}

	ch := m.flight.DoChan(flightKey, func() (any, error) {
		return m.handshake(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LiveSessionToken), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcquireSigningCapability returns a function that signs requests with the current
// token. The function keeps using that token; once the token expires or is
// invalidated the function fails and a new capability must be acquired.
func (m *Manager) AcquireSigningCapability(ctx context.Context) (SigningFunc, error) {
	tok, err := m.Token(ctx)
	if err != nil {
		return nil, err
	}
	return func(method, rawURL string, params url.Values) (string, error) {
		return m.signer.Sign(&SignedRequest{Method: method, URL: rawURL, Params: params}, tok)
	}, nil
}

// SignRequest obtains a token if needed and signs one request.
func (m *Manager) SignRequest(ctx context.Context, method, rawURL string, params url.Values) (string, error) {
	tok, err := m.Token(ctx)
	if err != nil {
		return "", err
	}
	return m.signer.Sign(&SignedRequest{Method: method, URL: rawURL, Params: params}, tok)
}

// Invalidate drops the current token, for instance after the broker answers 401.
// A handshake already in flight is not affected.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	if m.token != nil {
		m.token.revoke()
	}
	m.token = nil
	m.restored = true
	if m.state == StateValid || m.state == StateExpired {
		m.state = StateNoToken
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteToken(ctx, m.creds.ConsumerKey); err != nil {
			log.Printf("[IBKR OAuth] Failed to delete cached token: %v", err)
		}
	}
}

// Refresh discards the current token and performs a new handshake.
func (m *Manager) Refresh(ctx context.Context) (*LiveSessionToken, error) {
	m.Invalidate(ctx)
	return m.Token(ctx)
}

// Status reports the lifecycle state without triggering a handshake.
func (m *Manager) Status() Status {
	m.current()

	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{State: m.state}
	if m.token != nil {
		st.IssuedAt = m.token.issuedAt
		st.ExpiresAt = m.token.expiresAt
	}
	return st
}

// Credentials returns the consumer credentials the manager signs with.
func (m *Manager) Credentials() Credentials {
	return m.creds
}

// current returns the published token if it is still usable, moving a stale token
// to the Expired state.
func (m *Manager) current() *LiveSessionToken {
	m.mu.RLock()
	tok, state := m.token, m.state
	m.mu.RUnlock()

	if state != StateValid || tok == nil {
		return nil
	}
	if m.usable(tok) {
		return tok
	}

	m.mu.Lock()
	if m.token == tok && m.state == StateValid {
		tok.revoke()
		m.state = StateExpired
		log.Printf("[IBKR OAuth] Live session token expires at %v, refresh required", tok.expiresAt.Format(time.RFC3339))
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) usable(tok *LiveSessionToken) bool {
	return m.now().Add(m.cfg.ExpiryMargin).Before(tok.expiresAt)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) publish(tok *LiveSessionToken) {
	m.mu.Lock()
	if m.token != nil && m.token != tok {
		m.token.revoke()
	}
	m.token = tok
	m.state = StateValid
	m.mu.Unlock()
}

func (m *Manager) handshake(ctx context.Context) (*LiveSessionToken, error) {
	// A previous flight may have published while this caller was queued.
	if tok := m.current(); tok != nil {
		return tok, nil
	}
	if tok := m.restore(ctx); tok != nil {
		return tok, nil
	}

	attempts := m.cfg.Retry.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		tok, err := m.attempt(ctx, attempt)
		if err == nil {
			return tok, nil
		}
		lastErr = err
		if attempt == attempts || !apperrors.IsRetryable(err) {
			break
		}
		delay := m.cfg.Retry.Backoff(attempt)
		log.Printf("[IBKR OAuth] Handshake attempt %d/%d failed (%s), retrying in %v", attempt, attempts, apperrors.Class(err), delay)
		if err := sleepContext(ctx, delay); err != nil {
			break
		}
	}
	return nil, lastErr
}

func (m *Manager) attempt(ctx context.Context, n int) (tok *LiveSessionToken, err error) {
	id := uuid.NewString()
	started := m.now()
	m.setState(StateRequesting)
	m.observer.HandshakeStarted(id, n)

	defer func() {
		if err != nil {
			m.setState(StateNoToken)
			m.observer.HandshakeFailed(id, err, m.now().Sub(started))
			log.Printf("[IBKR OAuth] Handshake %s failed: %s", id, apperrors.Class(err))
		}
	}()

	accessTokenSecret, prepend, err := DecryptAccessTokenSecret(m.creds.AccessTokenSecret, m.keys.EncryptionKey)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(accessTokenSecret)

	challenge, err := GenerateChallenge(m.keys.DH, m.random)
	if err != nil {
		return nil, err
	}
	nonce, err := m.nonce()
	if err != nil {
		return nil, apperrors.Signing("generating nonce")
	}

	req, err := BuildHandshakeRequest(m.creds, m.keys, HandshakeInput{
		BaseURL:   m.cfg.BaseURL,
		Prepend:   prepend,
		Challenge: challenge,
		Nonce:     nonce,
		Timestamp: Timestamp(m.now()),
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	resp, err := m.transport.Exchange(callCtx, req)
	cancel()
	if err != nil {
		return nil, classifyTransportError(err)
	}

	secret, err := deriveSecret(resp, challenge, accessTokenSecret)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(secret)

	m.setState(StateValidating)
	tok, err = validateToken(secret, resp, m.creds.ConsumerKey, m.now(), m.cfg.DefaultLifetime)
	if err != nil {
		return nil, err
	}

	m.publish(tok)
	m.observer.HandshakeSucceeded(id, tok.expiresAt, m.now().Sub(started))
	log.Printf("[IBKR OAuth] Live session token established, expires at %v", tok.expiresAt.Format(time.RFC3339))

	if m.store != nil {
		if err := m.store.SaveToken(ctx, m.creds.ConsumerKey, tok.stored()); err != nil {
			log.Printf("[IBKR OAuth] Failed to cache live session token: %v", err)
		}
	}
	return tok, nil
}

// restore loads a cached token once per process and re-validates it.
func (m *Manager) restore(ctx context.Context) *LiveSessionToken {
	m.mu.Lock()
	if m.restored || m.store == nil {
		m.mu.Unlock()
		return nil
	}
	m.restored = true
	m.mu.Unlock()

	stored, err := m.store.LoadToken(ctx, m.creds.ConsumerKey)
	if err != nil {
		log.Printf("[IBKR OAuth] Failed to load cached token: %v", err)
		return nil
	}
	if stored == nil {
		return nil
	}
	defer memzero.Zero(stored.Secret)

	if err := ValidateLiveSessionToken(stored.Secret, m.creds.ConsumerKey, stored.Signature); err != nil {
		log.Printf("[IBKR OAuth] Discarding cached token: %s", apperrors.Class(err))
		if err := m.store.DeleteToken(ctx, m.creds.ConsumerKey); err != nil {
			log.Printf("[IBKR OAuth] Failed to delete cached token: %v", err)
		}
		return nil
	}
	tok, err := newLiveSessionToken(stored.Secret, stored.Signature, stored.IssuedAt, stored.ExpiresAt)
	if err != nil || !m.usable(tok) {
		return nil
	}

	m.publish(tok)
	log.Printf("[IBKR OAuth] Restored cached live session token, expires at %v", tok.expiresAt.Format(time.RFC3339))
	return tok
}

func classifyTransportError(err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.HandshakeTimeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.HandshakeTimeout(err)
	}
	return apperrors.Transport("handshake request failed", err)
}
