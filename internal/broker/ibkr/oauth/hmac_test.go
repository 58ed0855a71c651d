package oauth

import (
	"bytes"
	"errors"
	"net/url"
	"testing"
	"time"

	apperrors "broker_gateway/internal/errors"
)

func testToken(t *testing.T, expiresAt time.Time) *LiveSessionToken {
	t.Helper()
	tok, err := newLiveSessionToken(bytes.Repeat([]byte{0x5A}, LiveSessionTokenSize), "sig", expiresAt.Add(-time.Hour), expiresAt)
	if err != nil {
		t.Fatalf("newLiveSessionToken() error = %v, want nil", err)
	}
	return tok
}

func testSigner(now time.Time) *HMACSigner {
	s := NewHMACSigner(Credentials{ConsumerKey: "ACMECONS", AccessToken: "tok", AccessTokenSecret: "x"})
	s.now = func() time.Time { return now }
	return s
}

func TestHMACSigner_Deterministic(t *testing.T) {
	now := time.Unix(1714000000, 0)
	s := testSigner(now)
	tok := testToken(t, now.Add(time.Hour))
	req := &SignedRequest{Method: "GET", URL: "https://api.ibkr.com/v1/api/iserver/accounts", Nonce: "abc", Timestamp: "1714000000"}

	a, err := s.Sign(req, tok)
	if err != nil {
		t.Fatalf("Sign() error = %v, want nil", err)
	}
	b, err := s.Sign(req, tok)
	if err != nil {
		t.Fatalf("Sign() error = %v, want nil", err)
	}
	if a != b {
		t.Errorf("Sign() not deterministic:\n%s\n%s", a, b)
	}

	req.Nonce = "abd"
	c, err := s.Sign(req, tok)
	if err != nil {
		t.Fatalf("Sign() error = %v, want nil", err)
	}
	if parseAuthorization(t, a)[ParamSignature] == parseAuthorization(t, c)[ParamSignature] {
		t.Error("changing the nonce did not change the signature")
	}
}

func TestHMACSigner_FillsNonceAndTimestamp(t *testing.T) {
	now := time.Unix(1714000000, 0)
	s := testSigner(now)
	s.nonce = func() (string, error) { return "fixednonce", nil }

	header, err := s.Sign(&SignedRequest{URL: "https://api.ibkr.com/v1/api/tickle"}, testToken(t, now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Sign() error = %v, want nil", err)
	}
	params := parseAuthorization(t, header)
	if params[ParamNonce] != "fixednonce" {
		t.Errorf("nonce = %q, want fixednonce", params[ParamNonce])
	}
	if params[ParamTimestamp] != "1714000000" {
		t.Errorf("timestamp = %q, want 1714000000", params[ParamTimestamp])
	}
	if params[ParamSignatureMethod] != SignatureMethodHMAC {
		t.Errorf("signature method = %q, want %s", params[ParamSignatureMethod], SignatureMethodHMAC)
	}
	if params["realm"] != RealmLimitedPOA {
		t.Errorf("realm = %q, want %s", params["realm"], RealmLimitedPOA)
	}
}

func TestHMACSigner_BodyParamsAffectSignature(t *testing.T) {
	now := time.Unix(1714000000, 0)
	s := testSigner(now)
	tok := testToken(t, now.Add(time.Hour))
	base := SignedRequest{Method: "POST", URL: "https://api.ibkr.com/v1/api/x", Nonce: "n", Timestamp: "1"}

	withParams := base
	withParams.Params = url.Values{"conid": {"265598"}}

	a, err := s.Sign(&base, tok)
	if err != nil {
		t.Fatalf("Sign() error = %v, want nil", err)
	}
	b, err := s.Sign(&withParams, tok)
	if err != nil {
		t.Fatalf("Sign() error = %v, want nil", err)
	}
	if a == b {
		t.Error("extra parameters did not change the signature")
	}
}

func TestHMACSigner_ExpiredToken(t *testing.T) {
	now := time.Unix(1714000000, 0)
	s := testSigner(now)

	_, err := s.Sign(&SignedRequest{URL: "https://api.ibkr.com/v1/api/tickle"}, testToken(t, now))
	if !errors.Is(err, apperrors.ErrSigning) {
		t.Errorf("Sign() error = %v, want signing error", err)
	}
	if !errors.Is(err, apperrors.ErrTokenExpired) {
		t.Errorf("Sign() error = %v, want token expired cause", err)
	}
}

func TestHMACSigner_InvalidInputs(t *testing.T) {
	now := time.Unix(1714000000, 0)
	s := testSigner(now)
	tok := testToken(t, now.Add(time.Hour))

	if _, err := s.Sign(&SignedRequest{URL: "https://api.ibkr.com/x"}, nil); !errors.Is(err, apperrors.ErrSigning) {
		t.Errorf("Sign(nil token) error = %v, want signing error", err)
	}
	if _, err := s.Sign(&SignedRequest{}, tok); !errors.Is(err, apperrors.ErrSigning) {
		t.Errorf("Sign(empty URL) error = %v, want signing error", err)
	}
	if _, err := s.Sign(&SignedRequest{URL: "/relative"}, tok); !errors.Is(err, apperrors.ErrSigning) {
		t.Errorf("Sign(relative URL) error = %v, want signing error", err)
	}
}
