package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"broker_gateway/internal/broker"
	"broker_gateway/internal/broker/ibkr/oauth"
	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// SessionHandler exposes the live session token lifecycle.
type SessionHandler struct {
	sessions    SessionManager
	history     HandshakeHistory
	consumerKey string
	now         func() time.Time
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(deps *Dependencies) *SessionHandler {
	return &SessionHandler{
		sessions:    deps.Sessions,
		history:     deps.History,
		consumerKey: deps.ConsumerKey,
		now:         time.Now,
	}
}

// sessionResponse describes the current token without revealing it.
type sessionResponse struct {
	broker.Session
	ConsumerKey      string `json:"consumer_key"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

func (h *SessionHandler) describe(st oauth.Status) sessionResponse {
	s := broker.Session{State: st.State.String(), IssuedAt: st.IssuedAt, ExpiresAt: st.ExpiresAt}
	resp := sessionResponse{Session: s, ConsumerKey: h.consumerKey}
	if st.State == oauth.StateValid {
		resp.ExpiresInSeconds = int64(s.TimeLeft(h.now()) / time.Second)
	}
	return resp
}

// Status reports the token state. It never triggers a handshake.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.describe(h.sessions.Status()))
}

// Refresh forces a new handshake.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sessions.Refresh(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.describe(h.sessions.Status()))
}

// Invalidate drops the current token and its cached copy.
func (h *SessionHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	h.sessions.Invalidate(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// History lists recent handshake attempts, newest first.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, apperrors.Validation("limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if h.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"attempts": []any{}, "counts": map[string]int{}})
		return
	}
	records, err := h.history.Recent(h.consumerKey, limit)
	if err != nil {
		writeError(w, r, apperrors.Internal("loading handshake history", err))
		return
	}

	counts := make(map[string]int, 3)
	for _, status := range []string{models.HandshakeStarted, models.HandshakeSucceeded, models.HandshakeFailed} {
		n, err := h.history.CountByStatus(h.consumerKey, status)
		if err != nil {
			writeError(w, r, apperrors.Internal("counting handshake attempts", err))
			return
		}
		counts[status] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": records, "counts": counts})
}

// Attempt returns one handshake attempt by its ID.
func (h *SessionHandler) Attempt(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "handshake attempt not found"})
		return
	}
	rec, err := h.history.GetByAttemptID(chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, r, apperrors.Internal("loading handshake attempt", err))
		return
	}
	// Attempts of other consumers sharing the database stay hidden.
	if rec == nil || rec.ConsumerKey != h.consumerKey {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "handshake attempt not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
