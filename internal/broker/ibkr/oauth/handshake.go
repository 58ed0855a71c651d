package oauth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/util/memzero"
)

// LiveSessionTokenPath is appended to the API base URL for the handshake.
const LiveSessionTokenPath = "/oauth/live_session_token"

// HandshakeRequest is the signed token request handed to a Transport.
type HandshakeRequest struct {
	Method        string
	URL           string
	Authorization string
}

// HandshakeResponse is the broker's answer to a token request.
type HandshakeResponse struct {
	// DHResponse is the server public value B in hex.
	DHResponse string `json:"diffie_hellman_response"`
	// Signature is hex HMAC-SHA1(token, consumer key).
	Signature string `json:"live_session_token_signature"`
	// Expiration is the token expiry in Unix milliseconds; zero when absent.
	Expiration int64 `json:"live_session_token_expiration"`
}

// Transport delivers a handshake request to the broker. Implementations map
// deadline expiry to a handshake timeout error and 4xx answers to a rejection.
type Transport interface {
	Exchange(ctx context.Context, req *HandshakeRequest) (*HandshakeResponse, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *HandshakeRequest) (*HandshakeResponse, error)

// Exchange calls f.
func (f TransportFunc) Exchange(ctx context.Context, req *HandshakeRequest) (*HandshakeResponse, error) {
	return f(ctx, req)
}

// HandshakeInput carries everything that varies between handshake attempts.
type HandshakeInput struct {
	BaseURL   string
	Prepend   string
	Challenge *DHChallenge
	Nonce     string
	Timestamp string
}

// BuildHandshakeRequest assembles and RSA-signs the token request.
func BuildHandshakeRequest(creds Credentials, keys *KeyMaterial, in HandshakeInput) (*HandshakeRequest, error) {
	if keys == nil {
		return nil, apperrors.Signing("key material is missing")
	}
	if in.Challenge == nil {
		return nil, apperrors.Signing("DH challenge is missing")
	}

	endpoint := strings.TrimRight(in.BaseURL, "/") + LiveSessionTokenPath
	oauthParams := map[string]string{
		ParamDHChallenge:     in.Challenge.PublicHex(),
		ParamConsumerKey:     creds.ConsumerKey,
		ParamNonce:           in.Nonce,
		ParamSignatureMethod: SignatureMethodRSA,
		ParamTimestamp:       in.Timestamp,
		ParamToken:           creds.AccessToken,
	}

	values := make(url.Values, len(oauthParams))
	for k, v := range oauthParams {
		values.Set(k, v)
	}
	base, err := BaseString(in.Prepend, http.MethodPost, endpoint, values)
	if err != nil {
		return nil, apperrors.Signing("broker base URL is malformed")
	}

	sig, err := SignRSA(base, keys.SignatureKey)
	if err != nil {
		return nil, err
	}
	oauthParams[ParamSignature] = PercentEncode(base64.StdEncoding.EncodeToString(sig))

	return &HandshakeRequest{
		Method:        http.MethodPost,
		URL:           endpoint,
		Authorization: AuthorizationHeader(creds.RealmName(), oauthParams),
	}, nil
}

// deriveSecret completes the DH exchange and derives the token secret.
func deriveSecret(resp *HandshakeResponse, challenge *DHChallenge, accessTokenSecret []byte) ([]byte, error) {
	if resp == nil {
		return nil, apperrors.KeyExchange("empty handshake response")
	}
	serverPublic, err := ParseServerPublic(resp.DHResponse)
	if err != nil {
		return nil, err
	}
	shared, err := CompleteExchange(challenge, serverPublic)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(shared)
	return DeriveLiveSessionToken(shared, accessTokenSecret), nil
}

// validateToken checks the derived secret against the server's signature and applies
// the expiration hint.
func validateToken(secret []byte, resp *HandshakeResponse, consumerKey string, now time.Time, lifetime time.Duration) (*LiveSessionToken, error) {
	if err := ValidateLiveSessionToken(secret, consumerKey, resp.Signature); err != nil {
		return nil, err
	}
	expiresAt := now.Add(lifetime)
	if resp.Expiration > 0 {
		expiresAt = time.UnixMilli(resp.Expiration)
	}
	return newLiveSessionToken(secret, resp.Signature, now, expiresAt)
}
