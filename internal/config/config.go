// Package config provides application configuration.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"broker_gateway/internal/broker/ibkr"
	"broker_gateway/internal/broker/ibkr/oauth"
	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/keystore"
)

// Key backends.
const (
	KeyBackendFile    = "file"
	KeyBackendEnv     = "env"
	KeyBackendKeyring = "keyring"
)

// PEM environment variables read by the env backend and as overrides of the file backend.
const (
	EnvEncryptionKeyPEM = "IBKR_ENCRYPTION_KEY_PEM"
	EnvSignatureKeyPEM  = "IBKR_SIGNATURE_KEY_PEM"
	EnvDHParamPEM       = "IBKR_DH_PARAM_PEM"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	Port string `toml:"port"`
	Host string `toml:"host"`

	// Database settings
	DBPath string `toml:"db_path"`

	// Used for encrypting cached live session tokens
	EncryptionSecret string `toml:"encryption_secret"`

	// bcrypt hash of the key clients send in X-API-Key
	GatewayAPIKeyHash string `toml:"gateway_api_key_hash"`

	// Environment
	Env string `toml:"env"`

	IBKR    IBKRConfig    `toml:"ibkr"`
	Keys    KeysConfig    `toml:"keys"`
	Session SessionConfig `toml:"session"`
}

// IBKRConfig holds the broker credentials and request pacing.
type IBKRConfig struct {
	BaseURL           string  `toml:"base_url"`
	ConsumerKey       string  `toml:"consumer_key"`
	AccessToken       string  `toml:"access_token"`
	AccessTokenSecret string  `toml:"access_token_secret"`
	Realm             string  `toml:"realm"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	RequestBurst      int     `toml:"request_burst"`
}

// KeysConfig selects where key material comes from.
type KeysConfig struct {
	Backend           string `toml:"backend"`
	EncryptionKeyPath string `toml:"encryption_key_path"`
	SignatureKeyPath  string `toml:"signature_key_path"`
	DHParamPath       string `toml:"dh_param_path"`
	KeyringService    string `toml:"keyring_service"`
	KeyringBackend    string `toml:"keyring_backend"`
	KeyringDir        string `toml:"keyring_dir"`
	KeyringPassword   string `toml:"-"`
}

// SessionConfig tunes the live session token lifecycle.
type SessionConfig struct {
	HandshakeTimeout    time.Duration `toml:"handshake_timeout"`
	ExpiryMargin        time.Duration `toml:"expiry_margin"`
	TokenLifetime       time.Duration `toml:"token_lifetime"`
	RetryMaxAttempts    int           `toml:"retry_max_attempts"`
	RetryInitialBackoff time.Duration `toml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `toml:"retry_max_backoff"`
	TokenCache          bool          `toml:"token_cache"`
	KeepaliveInterval   time.Duration `toml:"keepalive_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	retry := oauth.DefaultRetryPolicy()
	return &Config{
		Port:             "8080",
		Host:             "localhost",
		DBPath:           filepath.Join("data", "gateway.db"),
		EncryptionSecret: "change-me-in-production-32chars!",
		Env:              "development",
		IBKR: IBKRConfig{
			BaseURL:           ibkr.DefaultBaseURL,
			RequestsPerSecond: 10,
			RequestBurst:      5,
		},
		Keys: KeysConfig{
			Backend:           KeyBackendFile,
			EncryptionKeyPath: filepath.Join("keys", "private_encryption.pem"),
			SignatureKeyPath:  filepath.Join("keys", "private_signature.pem"),
			DHParamPath:       filepath.Join("keys", "dhparam.pem"),
			KeyringService:    keystore.DefaultKeyringService,
		},
		Session: SessionConfig{
			HandshakeTimeout:    oauth.DefaultHandshakeTimeout,
			ExpiryMargin:        oauth.DefaultExpiryMargin,
			TokenLifetime:       oauth.DefaultTokenLifetime,
			RetryMaxAttempts:    retry.MaxAttempts,
			RetryInitialBackoff: retry.InitialBackoff,
			RetryMaxBackoff:     retry.MaxBackoff,
			TokenCache:          true,
			KeepaliveInterval:   time.Minute,
		},
	}
}

// New creates a new Config with values from environment variables or defaults.
func New() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Load reads defaults, then the TOML file named by CONFIG_FILE if set, then
// environment variables, which win over file values.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile decodes a TOML file over cfg.
func LoadFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decoding config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Printf("[Config] Ignoring unknown keys in %s: %v", path, undecoded)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Host = getEnv("HOST", c.Host)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.EncryptionSecret = getEnv("ENCRYPTION_SECRET", c.EncryptionSecret)
	c.GatewayAPIKeyHash = getEnv("GATEWAY_API_KEY_HASH", c.GatewayAPIKeyHash)
	c.Env = getEnv("ENV", c.Env)

	c.IBKR.BaseURL = getEnv("IBKR_BASE_URL", c.IBKR.BaseURL)
	c.IBKR.ConsumerKey = getEnv("IBKR_CONSUMER_KEY", c.IBKR.ConsumerKey)
	c.IBKR.AccessToken = getEnv("IBKR_ACCESS_TOKEN", c.IBKR.AccessToken)
	c.IBKR.AccessTokenSecret = getEnv("IBKR_ACCESS_TOKEN_SECRET", c.IBKR.AccessTokenSecret)
	c.IBKR.Realm = getEnv("IBKR_REALM", c.IBKR.Realm)
	c.IBKR.RequestsPerSecond = getEnvFloat("REQUESTS_PER_SECOND", c.IBKR.RequestsPerSecond)
	c.IBKR.RequestBurst = getEnvInt("REQUEST_BURST", c.IBKR.RequestBurst)

	c.Keys.Backend = getEnv("KEY_BACKEND", c.Keys.Backend)
	c.Keys.EncryptionKeyPath = getEnv("IBKR_ENCRYPTION_KEY_PATH", c.Keys.EncryptionKeyPath)
	c.Keys.SignatureKeyPath = getEnv("IBKR_SIGNATURE_KEY_PATH", c.Keys.SignatureKeyPath)
	c.Keys.DHParamPath = getEnv("IBKR_DH_PARAM_PATH", c.Keys.DHParamPath)
	c.Keys.KeyringService = getEnv("KEYRING_SERVICE", c.Keys.KeyringService)
	c.Keys.KeyringBackend = getEnv("KEYRING_BACKEND", c.Keys.KeyringBackend)
	c.Keys.KeyringDir = getEnv("KEYRING_DIR", c.Keys.KeyringDir)
	c.Keys.KeyringPassword = getEnv("KEYRING_PASSWORD", c.Keys.KeyringPassword)

	c.Session.HandshakeTimeout = getEnvDuration("HANDSHAKE_TIMEOUT", c.Session.HandshakeTimeout)
	c.Session.ExpiryMargin = getEnvDuration("EXPIRY_MARGIN", c.Session.ExpiryMargin)
	c.Session.TokenLifetime = getEnvDuration("TOKEN_LIFETIME", c.Session.TokenLifetime)
	c.Session.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", c.Session.RetryMaxAttempts)
	c.Session.RetryInitialBackoff = getEnvDuration("RETRY_INITIAL_BACKOFF", c.Session.RetryInitialBackoff)
	c.Session.RetryMaxBackoff = getEnvDuration("RETRY_MAX_BACKOFF", c.Session.RetryMaxBackoff)
	c.Session.TokenCache = getEnvBool("TOKEN_CACHE", c.Session.TokenCache)
	c.Session.KeepaliveInterval = getEnvDuration("KEEPALIVE_INTERVAL", c.Session.KeepaliveInterval)
}

// Address returns the full address to bind the server to.
func (c *Config) Address() string {
	return c.Host + ":" + c.Port
}

// IsDevelopment reports whether ENV is development.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Credentials returns the broker OAuth credentials.
func (c *Config) Credentials() oauth.Credentials {
	return oauth.Credentials{
		ConsumerKey:       c.IBKR.ConsumerKey,
		AccessToken:       c.IBKR.AccessToken,
		AccessTokenSecret: c.IBKR.AccessTokenSecret,
		Realm:             c.IBKR.Realm,
	}
}

// ManagerConfig returns the token lifecycle settings.
func (c *Config) ManagerConfig() oauth.ManagerConfig {
	return oauth.ManagerConfig{
		BaseURL:          c.IBKR.BaseURL,
		HandshakeTimeout: c.Session.HandshakeTimeout,
		ExpiryMargin:     c.Session.ExpiryMargin,
		DefaultLifetime:  c.Session.TokenLifetime,
		Retry: oauth.RetryPolicy{
			MaxAttempts:    c.Session.RetryMaxAttempts,
			InitialBackoff: c.Session.RetryInitialBackoff,
			MaxBackoff:     c.Session.RetryMaxBackoff,
			Multiplier:     oauth.DefaultRetryPolicy().Multiplier,
		},
	}
}

// Validate checks the settings the token manager cannot start without.
func (c *Config) Validate() error {
	if err := c.Credentials().Validate(); err != nil {
		return err
	}
	switch c.Keys.Backend {
	case KeyBackendFile, KeyBackendEnv, KeyBackendKeyring:
	default:
		return apperrors.Validation(fmt.Sprintf("unknown key backend %q", c.Keys.Backend))
	}
	if c.Session.RetryMaxAttempts < 1 {
		return apperrors.Validation("retry_max_attempts must be at least 1")
	}
	if !c.IsDevelopment() {
		if c.GatewayAPIKeyHash == "" {
			return apperrors.Validation("GATEWAY_API_KEY_HASH is required outside development")
		}
		if c.EncryptionSecret == Default().EncryptionSecret {
			return apperrors.Validation("ENCRYPTION_SECRET must be changed outside development")
		}
	}
	return nil
}

// KeyringConfig returns the settings for the keyring backend.
func (c *Config) KeyringConfig() keystore.KeyringConfig {
	return keystore.KeyringConfig{
		Service:  c.Keys.KeyringService,
		Backend:  c.Keys.KeyringBackend,
		FileDir:  c.Keys.KeyringDir,
		Password: c.Keys.KeyringPassword,
	}
}

// KeySource returns the configured key material source. The file backend lets
// the PEM environment variables override individual files.
func (c *Config) KeySource() (keystore.Source, error) {
	env := keystore.EnvSource{Vars: map[string]string{
		keystore.NameEncryptionKey: EnvEncryptionKeyPEM,
		keystore.NameSignatureKey:  EnvSignatureKeyPEM,
		keystore.NameDHParams:      EnvDHParamPEM,
	}}

	switch c.Keys.Backend {
	case KeyBackendEnv:
		return env, nil
	case KeyBackendKeyring:
		return keystore.OpenKeyring(c.KeyringConfig())
	case KeyBackendFile, "":
		return keystore.Chain{env, keystore.FileSource{Paths: map[string]string{
			keystore.NameEncryptionKey: c.Keys.EncryptionKeyPath,
			keystore.NameSignatureKey:  c.Keys.SignatureKeyPath,
			keystore.NameDHParams:      c.Keys.DHParamPath,
		}}}, nil
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unknown key backend %q", c.Keys.Backend))
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[Config] Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("[Config] Invalid %s=%q, using %v", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("[Config] Invalid %s=%q, using %v", key, value, defaultValue)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[Config] Invalid %s=%q, using %v", key, value, defaultValue)
		return defaultValue
	}
	return d
}
