package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"broker_gateway/internal/middleware"
)

// NewRouter wires every gateway route.
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Chi middleware (aliased as chimw to avoid conflict with our middleware package)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders)

	sessions := NewSessionHandler(deps)
	proxy := NewProxyHandler(deps)

	r.Get("/health", sessions.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(deps.APIKeys))

		r.Get("/session", sessions.Status)
		r.Get("/session/history", sessions.History)
		r.Get("/session/history/{attemptID}", sessions.Attempt)
		r.Delete("/session", sessions.Invalidate)
		// Each refresh is a full handshake against the broker
		r.With(middleware.LimitStrict).Post("/session/refresh", sessions.Refresh)

		r.With(middleware.LimitAPI).Handle(ProxyPrefix+"/*", proxy)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})

	return r
}
