package oauth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	apperrors "broker_gateway/internal/errors"
)

// LiveSessionTokenSize is the length of a derived live session token (HMAC-SHA1 output).
const LiveSessionTokenSize = sha1.Size

// DefaultTokenLifetime applies when the server sends no expiration hint.
const DefaultTokenLifetime = 24 * time.Hour

// LiveSessionToken is the symmetric secret that signs API requests. The secret
// and expiry never change; a new handshake replaces the token. Once revoked a
// token stays invalid.
type LiveSessionToken struct {
	secret    []byte
	signature string
	issuedAt  time.Time
	expiresAt time.Time
	revoked   atomic.Bool
}

func newLiveSessionToken(secret []byte, signature string, issuedAt, expiresAt time.Time) (*LiveSessionToken, error) {
	if len(secret) != LiveSessionTokenSize {
		return nil, apperrors.TokenValidation("live session token has unexpected length")
	}
	if !expiresAt.After(issuedAt) {
		return nil, apperrors.TokenValidation("live session token expiration is not in the future")
	}
	return &LiveSessionToken{
		secret:    append([]byte(nil), secret...),
		signature: signature,
		issuedAt:  issuedAt,
		expiresAt: expiresAt,
	}, nil
}

// IssuedAt returns when the token was derived.
func (t *LiveSessionToken) IssuedAt() time.Time {
	return t.issuedAt
}

// ExpiresAt returns the token expiration.
func (t *LiveSessionToken) ExpiresAt() time.Time {
	return t.expiresAt
}

// Expired reports whether the token is past its expiration at now.
func (t *LiveSessionToken) Expired(now time.Time) bool {
	return !now.Before(t.expiresAt)
}

// Valid reports whether the token has not been revoked and is not past its
// expiration at now.
func (t *LiveSessionToken) Valid(now time.Time) bool {
	return !t.revoked.Load() && !t.Expired(now)
}

// revoke marks the token invalid for good. Signing capabilities holding it fail
// from then on.
func (t *LiveSessionToken) revoke() {
	t.revoked.Store(true)
}

// String never prints the secret.
func (t *LiveSessionToken) String() string {
	return fmt.Sprintf("LiveSessionToken{expires=%s}", t.expiresAt.UTC().Format(time.RFC3339))
}

// stored returns a copy of the token for the out-of-process cache.
func (t *LiveSessionToken) stored() *StoredToken {
	return &StoredToken{
		Secret:    append([]byte(nil), t.secret...),
		Signature: t.signature,
		IssuedAt:  t.issuedAt,
		ExpiresAt: t.expiresAt,
	}
}

// DeriveLiveSessionToken computes HMAC-SHA1(key = DH shared secret, msg = access token secret).
func DeriveLiveSessionToken(sharedSecret, accessTokenSecret []byte) []byte {
	mac := hmac.New(sha1.New, sharedSecret)
	mac.Write(accessTokenSecret)
	return mac.Sum(nil)
}

// TokenSignature computes HMAC-SHA1(key = token, msg = consumer key), the value the
// server returns as live_session_token_signature.
func TokenSignature(secret []byte, consumerKey string) []byte {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(consumerKey))
	return mac.Sum(nil)
}

// ValidateLiveSessionToken recomputes the integrity signature and compares it with the
// server's hex value in constant time.
func ValidateLiveSessionToken(secret []byte, consumerKey, serverSignature string) error {
	if len(secret) != LiveSessionTokenSize {
		return apperrors.TokenValidation("live session token has unexpected length")
	}
	expected, err := hex.DecodeString(strings.TrimSpace(serverSignature))
	if err != nil || len(expected) == 0 {
		return apperrors.TokenValidation("live session token signature is not hex")
	}
	if !Equal(TokenSignature(secret, consumerKey), expected) {
		return apperrors.TokenValidation("live session token signature mismatch")
	}
	return nil
}
