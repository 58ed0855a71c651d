package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	apperrors "broker_gateway/internal/errors"
)

const (
	// RealmLimitedPOA is the realm for production consumers.
	RealmLimitedPOA = "limited_poa"
	// RealmTest is the realm the broker assigns to its paper-trading consumer key.
	RealmTest = "test_realm"

	testConsumerKey = "TESTCONS"
	nonceBytes      = 8
)

// Credentials identify the consumer to the broker.
type Credentials struct {
	ConsumerKey string
	AccessToken string
	// AccessTokenSecret is base64 of the RSA-encrypted secret as issued by the broker.
	AccessTokenSecret string
	// Realm overrides the realm derived from the consumer key.
	Realm string
}

// Validate checks that every credential is present.
func (c Credentials) Validate() error {
	switch {
	case c.ConsumerKey == "":
		return apperrors.Validation("consumer key is required")
	case c.AccessToken == "":
		return apperrors.Validation("access token is required")
	case c.AccessTokenSecret == "":
		return apperrors.Validation("access token secret is required")
	}
	return nil
}

// RealmName returns the OAuth realm for the Authorization header.
func (c Credentials) RealmName() string {
	if c.Realm != "" {
		return c.Realm
	}
	if c.ConsumerKey == testConsumerKey {
		return RealmTest
	}
	return RealmLimitedPOA
}

// String masks everything but the consumer key.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{consumer_key=%s}", c.ConsumerKey)
}

// GenerateNonce returns 16 random hex characters.
func GenerateNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Timestamp formats t as OAuth seconds since the epoch.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
