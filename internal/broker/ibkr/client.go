// Package ibkr is the HTTP client for the broker's Web API. It carries the live
// session token handshake for the oauth package and sends signed API requests.
package ibkr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"broker_gateway/internal/broker"
	"broker_gateway/internal/broker/ibkr/oauth"
	apperrors "broker_gateway/internal/errors"
)

const (
	// DefaultBaseURL is the production Web API root.
	DefaultBaseURL = "https://api.ibkr.com/v1/api"

	httpClientTimeout = 60 * time.Second
	maxResponseBytes  = 1 << 20
	userAgent         = "broker-gateway/1.0"

	defaultRequestsPerSecond = 10
	defaultBurst             = 5
)

// Client talks to the broker's Web API. It implements oauth.Transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	auth       broker.Authorizer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAuthorizer sets the signer for API requests.
func WithAuthorizer(a broker.Authorizer) Option {
	return func(c *Client) { c.auth = a }
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: httpClientTimeout,
		},
		limiter: rate.NewLimiter(defaultRequestsPerSecond, defaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAuthorizer sets the signer after construction. The token manager needs the
// client as its transport before it can act as the client's authorizer.
func (c *Client) SetAuthorizer(a broker.Authorizer) {
	c.auth = a
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Exchange sends a live session token request. 4xx answers are rejections,
// 5xx answers and network failures are transport errors, and an expired
// deadline is a handshake timeout.
func (c *Client) Exchange(ctx context.Context, req *oauth.HandshakeRequest) (*oauth.HandshakeResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(ctx, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, apperrors.Signing("handshake URL is malformed")
	}
	httpReq.Header.Set("Authorization", req.Authorization)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(ctx, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, apperrors.Transport(fmt.Sprintf("live session token request failed with status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		log.Printf("[IBKR] Live session token request rejected: status %d", resp.StatusCode)
		return nil, apperrors.HandshakeRejected(resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apperrors.Transport(fmt.Sprintf("unexpected live session token status %d", resp.StatusCode), nil)
	}

	var out oauth.HandshakeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperrors.Transport("decoding live session token response", err)
	}
	return &out, nil
}

// NewRequest builds a request for an API path relative to the base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), body)
}

// Do signs and sends req. A 401 answer invalidates the session and the request is
// replayed once with a fresh token; requests whose body cannot be replayed are not
// retried.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.auth == nil {
		return nil, apperrors.Internal("broker client has no authorizer", nil)
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || (req.Body != nil && req.GetBody == nil) {
		return resp, nil
	}

	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()

	log.Printf("[IBKR] %s %s returned 401, refreshing live session token", req.Method, req.URL.Path)
	c.auth.Invalidate(ctx)

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, apperrors.Internal("replaying request body", err)
		}
		retry.Body = body
	}
	return c.send(ctx, retry)
}

func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Transport("waiting for request slot", err)
	}

	params, err := formParams(req)
	if err != nil {
		return nil, apperrors.Validation("request form body is malformed")
	}
	header, err := c.auth.SignRequest(ctx, req.Method, req.URL.String(), params)
	if err != nil {
		return nil, err
	}

	req = req.WithContext(ctx)
	req.Header.Set("Authorization", header)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Transport("broker request failed", err)
	}
	return resp, nil
}

// Tickle keeps the brokerage session alive.
func (c *Client) Tickle(ctx context.Context) (*TickleResponse, error) {
	var out TickleResponse
	if err := c.doJSON(ctx, http.MethodPost, "/tickle", &out); err != nil {
		return nil, fmt.Errorf("tickle: %w", err)
	}
	return &out, nil
}

// Accounts lists the portfolio accounts visible to the consumer.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var out []Account
	if err := c.doJSON(ctx, http.MethodGet, "/portfolio/accounts", &out); err != nil {
		return nil, fmt.Errorf("accounts: %w", err)
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	req, err := c.NewRequest(ctx, method, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.Transport("reading response", err)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperrors.Unauthorized("broker rejected the live session token")
	case http.StatusTooManyRequests:
		return apperrors.New(apperrors.ErrRateLimit, "broker rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.Transport(fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Transport("decoding response", err)
	}
	return nil
}

// formParams returns the parameters of a form-encoded body, which take part in
// the OAuth signature.
func formParams(req *http.Request) (url.Values, error) {
	if req.GetBody == nil || !strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return nil, nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(string(b))
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.HandshakeTimeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.HandshakeTimeout(err)
	}
	return apperrors.Transport("live session token request failed", err)
}
