// Package auth authenticates callers of the gateway's HTTP API.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the bcrypt hashing cost.
	BcryptCost = 12

	// APIKeyBytes is the entropy of generated API keys.
	APIKeyBytes = 32
)

// HashAPIKey hashes an API key using bcrypt.
func HashAPIKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(bytes), nil
}

// CheckAPIKey compares an API key with a hash.
func CheckAPIKey(key, hash string) bool {
	if key == "" || hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}

// GenerateAPIKey creates a cryptographically secure API key.
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, APIKeyBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// APIKeyVerifier checks presented keys against one bcrypt hash. Keys that
// verified once are remembered by SHA-256 digest so bcrypt runs once per key.
type APIKeyVerifier struct {
	hash string

	mu       sync.Mutex
	verified map[[sha256.Size]byte]struct{}
}

// NewAPIKeyVerifier creates a verifier for hash. An empty hash rejects every key.
func NewAPIKeyVerifier(hash string) *APIKeyVerifier {
	return &APIKeyVerifier{hash: hash, verified: make(map[[sha256.Size]byte]struct{})}
}

// Enabled reports whether a hash is configured.
func (v *APIKeyVerifier) Enabled() bool {
	return v.hash != ""
}

// Verify reports whether key matches the configured hash.
func (v *APIKeyVerifier) Verify(key string) bool {
	if key == "" || v.hash == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))

	v.mu.Lock()
	_, ok := v.verified[digest]
	v.mu.Unlock()
	if ok {
		return true
	}

	if !CheckAPIKey(key, v.hash) {
		return false
	}
	v.mu.Lock()
	v.verified[digest] = struct{}{}
	v.mu.Unlock()
	return true
}
