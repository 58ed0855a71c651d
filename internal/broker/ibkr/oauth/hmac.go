package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	apperrors "broker_gateway/internal/errors"
)

// SignedRequest is an outgoing API call awaiting its Authorization header.
// Empty Nonce and Timestamp are filled in by the signer.
type SignedRequest struct {
	Method    string
	URL       string
	Params    url.Values
	Nonce     string
	Timestamp string
}

// HMACSigner signs API requests with a live session token. It never starts a
// handshake: callers obtain a token from the Manager first.
type HMACSigner struct {
	creds Credentials
	now   func() time.Time
	nonce func() (string, error)
}

// NewHMACSigner creates a signer for creds.
func NewHMACSigner(creds Credentials) *HMACSigner {
	return &HMACSigner{
		creds: creds,
		now:   time.Now,
		nonce: GenerateNonce,
	}
}

// Sign returns the Authorization header value for req signed with HMAC-SHA256 under tok.
func (s *HMACSigner) Sign(req *SignedRequest, tok *LiveSessionToken) (string, error) {
	if req == nil || req.URL == "" {
		return "", apperrors.Signing("request URL is required")
	}
	if tok == nil || len(tok.secret) == 0 {
		return "", apperrors.Signing("no live session token")
	}
	if !tok.Valid(s.now()) {
		return "", apperrors.Wrap(apperrors.ErrSigning, "live session token is not valid", apperrors.TokenExpired())
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	nonce := req.Nonce
	if nonce == "" {
		var err error
		if nonce, err = s.nonce(); err != nil {
			return "", apperrors.Signing("generating nonce")
		}
	}
	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = Timestamp(s.now())
	}

	oauthParams := map[string]string{
		ParamConsumerKey:     s.creds.ConsumerKey,
		ParamNonce:           nonce,
		ParamSignatureMethod: SignatureMethodHMAC,
		ParamTimestamp:       timestamp,
		ParamToken:           s.creds.AccessToken,
	}

	params := make(url.Values, len(req.Params)+len(oauthParams))
	for k, vs := range req.Params {
		params[k] = append([]string(nil), vs...)
	}
	for k, v := range oauthParams {
		params.Set(k, v)
	}

	base, err := BaseString("", method, req.URL, params)
	if err != nil {
		return "", apperrors.Signing("request URL is malformed")
	}

	mac := hmac.New(sha256.New, tok.secret)
	mac.Write([]byte(base))
	oauthParams[ParamSignature] = PercentEncode(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return AuthorizationHeader(s.creds.RealmName(), oauthParams), nil
}
