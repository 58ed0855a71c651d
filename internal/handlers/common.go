package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/middleware"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}

// writeError maps err onto a status code. Messages of unclassified errors are
// not echoed to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	resp := errorResponse{Error: "internal error"}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && status != http.StatusInternalServerError {
		resp.Error = appErr.Error()
		resp.Class = apperrors.Class(err)
	} else {
		log.Printf("[Server] Internal error (request %s): %v", middleware.GetRequestID(r), err)
	}
	writeJSON(w, status, resp)
}
