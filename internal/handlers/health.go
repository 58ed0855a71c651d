package handlers

import "net/http"

// Health returns the server health status along with the token state.
func (h *SessionHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"session": h.sessions.Status().State.String(),
	})
}
