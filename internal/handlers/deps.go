// Package handlers provides HTTP handlers for the signing gateway.
package handlers

import (
	"context"
	"io"
	"net/http"

	"broker_gateway/internal/auth"
	"broker_gateway/internal/broker/ibkr/oauth"
	"broker_gateway/internal/models"
)

// SessionManager is the token manager as seen by the handlers.
type SessionManager interface {
	Status() oauth.Status
	Refresh(ctx context.Context) (*oauth.LiveSessionToken, error)
	Invalidate(ctx context.Context)
}

// HandshakeHistory reads recorded handshake attempts.
type HandshakeHistory interface {
	Recent(consumerKey string, limit int) ([]*models.HandshakeRecord, error)
	GetByAttemptID(attemptID string) (*models.HandshakeRecord, error)
	CountByStatus(consumerKey, status string) (int, error)
}

// BrokerClient sends signed requests to the broker's Web API.
type BrokerClient interface {
	NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error)
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Dependencies holds all handler dependencies.
type Dependencies struct {
	Sessions    SessionManager
	History     HandshakeHistory
	Broker      BrokerClient
	APIKeys     *auth.APIKeyVerifier
	ConsumerKey string
}

// NewDependencies creates an empty Dependencies container.
// Use the builder methods to set required dependencies.
func NewDependencies() *Dependencies {
	return &Dependencies{APIKeys: auth.NewAPIKeyVerifier("")}
}

// WithSessions sets the token manager.
func (d *Dependencies) WithSessions(s SessionManager, consumerKey string) *Dependencies {
	d.Sessions = s
	d.ConsumerKey = consumerKey
	return d
}

// WithHistory sets the handshake history reader.
func (d *Dependencies) WithHistory(h HandshakeHistory) *Dependencies {
	d.History = h
	return d
}

// WithBroker sets the broker API client.
func (d *Dependencies) WithBroker(b BrokerClient) *Dependencies {
	d.Broker = b
	return d
}

// WithAPIKeys sets the API key verifier.
func (d *Dependencies) WithAPIKeys(v *auth.APIKeyVerifier) *Dependencies {
	d.APIKeys = v
	return d
}
