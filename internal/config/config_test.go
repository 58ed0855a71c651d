package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/keystore"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()

	if cfg.Address() != "localhost:8080" {
		t.Errorf("Address() = %s, want localhost:8080", cfg.Address())
	}
	if cfg.IBKR.BaseURL != "https://api.ibkr.com/v1/api" {
		t.Errorf("IBKR.BaseURL = %s", cfg.IBKR.BaseURL)
	}
	if cfg.Session.ExpiryMargin != 5*time.Minute {
		t.Errorf("Session.ExpiryMargin = %v, want 5m", cfg.Session.ExpiryMargin)
	}
	if cfg.Session.TokenLifetime != 24*time.Hour {
		t.Errorf("Session.TokenLifetime = %v, want 24h", cfg.Session.TokenLifetime)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true by default")
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("IBKR_CONSUMER_KEY", "TESTCONS")
	t.Setenv("HANDSHAKE_TIMEOUT", "7s")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("TOKEN_CACHE", "false")
	t.Setenv("REQUESTS_PER_SECOND", "2.5")

	cfg := New()
	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.Credentials().RealmName() != "test_realm" {
		t.Errorf("RealmName() = %s, want test_realm", cfg.Credentials().RealmName())
	}
	if cfg.Session.HandshakeTimeout != 7*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 7s", cfg.Session.HandshakeTimeout)
	}
	if cfg.ManagerConfig().Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.ManagerConfig().Retry.MaxAttempts)
	}
	if cfg.Session.TokenCache {
		t.Error("TokenCache = true, want false")
	}
	if cfg.IBKR.RequestsPerSecond != 2.5 {
		t.Errorf("RequestsPerSecond = %v, want 2.5", cfg.IBKR.RequestsPerSecond)
	}
}

func TestNew_InvalidDurationKeepsDefault(t *testing.T) {
	t.Setenv("EXPIRY_MARGIN", "soon")
	if got := New().Session.ExpiryMargin; got != 5*time.Minute {
		t.Errorf("ExpiryMargin = %v, want default", got)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.toml")
	content := `
port = "7000"

[ibkr]
consumer_key = "ACMECONS"
access_token = "file-token"
access_token_secret = "c2VjcmV0"

[session]
handshake_timeout = "12s"
expiry_margin = "2m"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("IBKR_ACCESS_TOKEN", "env-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Port != "7000" {
		t.Errorf("Port = %s, want 7000 from file", cfg.Port)
	}
	if cfg.IBKR.AccessToken != "env-token" {
		t.Errorf("AccessToken = %s, want env override", cfg.IBKR.AccessToken)
	}
	if cfg.Session.HandshakeTimeout != 12*time.Second || cfg.Session.ExpiryMargin != 2*time.Minute {
		t.Errorf("Session = %+v, want durations from file", cfg.Session)
	}
	if cfg.Session.TokenLifetime != 24*time.Hour {
		t.Errorf("TokenLifetime = %v, want default kept", cfg.Session.TokenLifetime)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("port = ["), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want decode error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Validate() without credentials error = %v, want validation error", err)
	}

	cfg.IBKR.ConsumerKey, cfg.IBKR.AccessToken, cfg.IBKR.AccessTokenSecret = "c", "t", "s"
	cfg.Keys.Backend = "vault"
	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Validate() with unknown backend error = %v, want validation error", err)
	}

	cfg.Keys.Backend = KeyBackendFile
	cfg.Env = "production"
	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Validate() in production without API key hash error = %v, want validation error", err)
	}
	cfg.GatewayAPIKeyHash = "$2a$12$hash"
	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Validate() in production with default secret error = %v, want validation error", err)
	}
	cfg.EncryptionSecret = "a-production-secret-of-32-characters"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestKeySource_Backends(t *testing.T) {
	cfg := Default()

	cfg.Keys.Backend = KeyBackendEnv
	src, err := cfg.KeySource()
	if err != nil {
		t.Fatalf("KeySource() error = %v, want nil", err)
	}
	if _, ok := src.(keystore.EnvSource); !ok {
		t.Errorf("KeySource() = %T, want keystore.EnvSource", src)
	}

	cfg.Keys.Backend = KeyBackendFile
	src, err = cfg.KeySource()
	if err != nil {
		t.Fatalf("KeySource() error = %v, want nil", err)
	}
	if _, ok := src.(keystore.Chain); !ok {
		t.Errorf("KeySource() = %T, want keystore.Chain", src)
	}

	cfg.Keys.Backend = "vault"
	if _, err := cfg.KeySource(); err == nil {
		t.Error("KeySource() error = nil, want error for unknown backend")
	}
}
