package handlers

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"

	apperrors "broker_gateway/internal/errors"
)

const (
	// ProxyPrefix is the gateway path under which broker API calls are forwarded.
	ProxyPrefix = "/v1/api"

	maxProxyBodyBytes = 1 << 20
)

// Headers copied from the caller to the broker and back.
var (
	forwardRequestHeaders  = []string{"Content-Type", "Accept"}
	forwardResponseHeaders = []string{"Content-Type", "Content-Length", "Retry-After"}
)

// ProxyHandler forwards API calls to the broker with a signed Authorization header.
type ProxyHandler struct {
	broker BrokerClient
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(deps *Dependencies) *ProxyHandler {
	return &ProxyHandler{broker: deps.Broker}
}

// ServeHTTP implements http.Handler.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, ProxyPrefix)
	if path == "" || path == "/" {
		writeError(w, r, apperrors.Validation("missing broker API path"))
		return
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	// Buffer the body so the request can be replayed after a 401
	var body io.Reader
	if r.Body != nil && r.ContentLength != 0 {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBodyBytes+1))
		if err != nil {
			writeError(w, r, apperrors.Validation("reading request body"))
			return
		}
		if len(data) > maxProxyBodyBytes {
			writeError(w, r, apperrors.Validation("request body too large"))
			return
		}
		if len(data) > 0 {
			body = bytes.NewReader(data)
		}
	}

	req, err := h.broker.NewRequest(r.Context(), r.Method, path, body)
	if err != nil {
		writeError(w, r, apperrors.Validation("malformed broker API path"))
		return
	}
	for _, name := range forwardRequestHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := h.broker.Do(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer resp.Body.Close()

	for _, name := range forwardResponseHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Printf("[Server] Proxy response for %s %s truncated: %v", r.Method, path, err)
	}
}
