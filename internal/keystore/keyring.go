package keystore

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	// DefaultKeyringService names the keyring service holding key material.
	DefaultKeyringService = "broker-gateway"

	keyringItemPrefix = "ibkr."
)

// KeyringConfig selects and opens a system keyring.
type KeyringConfig struct {
	Service string
	// Backend restricts the keyring to one backend type (e.g. "file", "keychain").
	Backend string
	// FileDir is the directory of the file backend.
	FileDir string
	// Password unlocks file-backed keyrings.
	Password string
}

// KeyringSource stores key material in the system keyring.
type KeyringSource struct {
	ring keyring.Keyring
}

// OpenKeyring opens the keyring described by cfg.
func OpenKeyring(cfg KeyringConfig) (*KeyringSource, error) {
	service := cfg.Service
	if service == "" {
		service = DefaultKeyringService
	}
	krCfg := keyring.Config{
		ServiceName:              service,
		KeychainTrustApplication: true,
		KeyCtlScope:              "user",
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.Password),
	}
	if cfg.Backend != "" {
		backend := keyring.BackendType(cfg.Backend)
		supported := false
		for _, name := range keyring.AvailableBackends() {
			if name == backend {
				supported = true
				break
			}
		}
		if !supported {
			return nil, fmt.Errorf("unsupported keyring backend %q", cfg.Backend)
		}
		krCfg.AllowedBackends = []keyring.BackendType{backend}
	}

	ring, err := keyring.Open(krCfg)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringSource(ring), nil
}

// NewKeyringSource wraps an open keyring.
func NewKeyringSource(ring keyring.Keyring) *KeyringSource {
	return &KeyringSource{ring: ring}
}

// Load reads the keyring item for name.
func (s *KeyringSource) Load(name string) ([]byte, error) {
	item, err := s.ring.Get(keyringItemPrefix + name)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading keyring: %w", name, err)
	}
	return nonEmpty(name, append([]byte(nil), item.Data...))
}

// Store writes data under name, replacing any previous value.
func (s *KeyringSource) Store(name string, data []byte) error {
	if _, err := nonEmpty(name, data); err != nil {
		return err
	}
	if err := s.ring.Set(keyring.Item{
		Key:         keyringItemPrefix + name,
		Data:        data,
		Label:       "IBKR " + name,
		Description: "broker gateway key material",
	}); err != nil {
		return fmt.Errorf("%s: writing keyring: %w", name, err)
	}
	return nil
}

// Remove deletes the item for name.
func (s *KeyringSource) Remove(name string) error {
	if err := s.ring.Remove(keyringItemPrefix + name); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%s: removing from keyring: %w", name, err)
	}
	return nil
}
