package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type golden struct {
	ConsumerKey       string `json:"consumer_key"`
	AccessToken       string `json:"access_token"`
	AccessTokenSecret string `json:"access_token_secret"`
	Realm             string `json:"realm"`
	BaseURL           string `json:"base_url"`
	Nonce             string `json:"nonce"`
	Timestamp         string `json:"timestamp"`
	DHExponent        string `json:"dh_exponent"`
	DHChallenge       string `json:"dh_challenge"`
	Prepend           string `json:"prepend"`
	HandshakeBase     string `json:"handshake_base_string"`
	HandshakeAuth     string `json:"handshake_authorization"`
	DHResponse        string `json:"dh_response"`
	SharedSecret      string `json:"shared_secret"`
	LiveSessionToken  string `json:"live_session_token"`
	TokenSignature    string `json:"live_session_token_signature"`
	TokenExpiration   int64  `json:"live_session_token_expiration"`
	RequestURL        string `json:"request_url"`
	RequestNonce      string `json:"request_nonce"`
	RequestTimestamp  string `json:"request_timestamp"`
	RequestBase       string `json:"request_base_string"`
	RequestAuth       string `json:"request_authorization"`
}

func loadGolden(t *testing.T) *golden {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "golden.json"))
	if err != nil {
		t.Fatalf("failed to read golden fixture: %v", err)
	}
	var g golden
	if err := json.Unmarshal(data, &g); err != nil {
		t.Fatalf("failed to parse golden fixture: %v", err)
	}
	return &g
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return data
}

func loadTestKeys(t *testing.T) *KeyMaterial {
	t.Helper()
	keys, err := LoadKeyMaterial(
		readTestdata(t, "private_encryption.pem"),
		readTestdata(t, "private_signature.pem"),
		readTestdata(t, "dhparam.pem"),
	)
	if err != nil {
		t.Fatalf("LoadKeyMaterial() error = %v, want nil", err)
	}
	return keys
}

func goldenCredentials(g *golden) Credentials {
	return Credentials{
		ConsumerKey:       g.ConsumerKey,
		AccessToken:       g.AccessToken,
		AccessTokenSecret: g.AccessTokenSecret,
	}
}

func mustHexInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		t.Fatalf("invalid hex integer %q", s)
	}
	return v
}

// parseAuthorization splits an OAuth header into its quoted parameters.
func parseAuthorization(t *testing.T, header string) map[string]string {
	t.Helper()
	if !strings.HasPrefix(header, "OAuth ") {
		t.Fatalf("Authorization header %q lacks OAuth scheme", header)
	}
	params := make(map[string]string)
	for _, part := range strings.Split(strings.TrimPrefix(header, "OAuth "), ", ") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			t.Fatalf("malformed header parameter %q", part)
		}
		params[k] = strings.Trim(v, `"`)
	}
	return params
}

var errTestUnavailable = errors.New("broker unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBroker plays the server side of the handshake with a fixed private value.
type fakeBroker struct {
	t           *testing.T
	params      *DHParams
	secret      []byte
	consumerKey string
	clock       *fakeClock
	lifetime    time.Duration

	calls      atomic.Int32
	delay      time.Duration
	badSig     atomic.Bool
	failFirst  atomic.Int32
	mu         sync.Mutex
	challenges []string
	nonces     []string
}

func newFakeBroker(t *testing.T, g *golden, keys *KeyMaterial, clock *fakeClock) *fakeBroker {
	t.Helper()
	secret, err := hex.DecodeString(g.Prepend)
	if err != nil {
		t.Fatalf("invalid prepend fixture: %v", err)
	}
	return &fakeBroker{
		t:           t,
		params:      keys.DH,
		secret:      secret,
		consumerKey: g.ConsumerKey,
		clock:       clock,
		lifetime:    time.Hour,
	}
}

func (b *fakeBroker) Exchange(ctx context.Context, req *HandshakeRequest) (*HandshakeResponse, error) {
	b.calls.Add(1)
	params := parseAuthorization(b.t, req.Authorization)

	b.mu.Lock()
	b.challenges = append(b.challenges, params[ParamDHChallenge])
	b.nonces = append(b.nonces, params[ParamNonce])
	b.mu.Unlock()

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.failFirst.Load() > 0 {
		b.failFirst.Add(-1)
		return nil, errTestUnavailable
	}

	a, ok := new(big.Int).SetString(params[ParamDHChallenge], 16)
	if !ok {
		b.t.Errorf("challenge %q is not hex", params[ParamDHChallenge])
		return nil, errTestUnavailable
	}
	y := big.NewInt(0x5eed1234abcd)
	pub := new(big.Int).Exp(b.params.G, y, b.params.P)
	shared := new(big.Int).Exp(a, y, b.params.P)

	mac := hmac.New(sha1.New, toByteArray(shared))
	mac.Write(b.secret)
	lst := mac.Sum(nil)

	sig := hex.EncodeToString(TokenSignature(lst, b.consumerKey))
	if b.badSig.Load() {
		sig = hex.EncodeToString(TokenSignature(lst, "SOMEONEELSE"))
	}
	return &HandshakeResponse{
		DHResponse: pub.Text(16),
		Signature:  sig,
		Expiration: b.clock.Now().Add(b.lifetime).UnixMilli(),
	}, nil
}

func (b *fakeBroker) Calls() int {
	return int(b.calls.Load())
}

type memoryStore struct {
	mu     sync.Mutex
	tokens map[string]*StoredToken
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tokens: make(map[string]*StoredToken)}
}

func (s *memoryStore) LoadToken(_ context.Context, consumerKey string) (*StoredToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[consumerKey]
	if !ok {
		return nil, nil
	}
	cp := *tok
	cp.Secret = append([]byte(nil), tok.Secret...)
	return &cp, nil
}

func (s *memoryStore) SaveToken(_ context.Context, consumerKey string, tok *StoredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[consumerKey] = tok
	return nil
}

func (s *memoryStore) DeleteToken(_ context.Context, consumerKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, consumerKey)
	return nil
}
