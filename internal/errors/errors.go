// Package errors provides typed errors for the broker gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the authentication core.
var (
	// ErrKeyLoad indicates key material is missing or does not parse.
	ErrKeyLoad = errors.New("key load error")

	// ErrSigning indicates malformed inputs to a signing operation.
	ErrSigning = errors.New("signing error")

	// ErrKeyExchange indicates an invalid Diffie-Hellman value or computation.
	ErrKeyExchange = errors.New("key exchange error")

	// ErrTokenValidation indicates the derived live session token failed its integrity check.
	ErrTokenValidation = errors.New("token validation error")

	// ErrHandshakeTimeout indicates the transport did not answer the handshake in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrTokenExpired indicates a stale live session token was used directly.
	ErrTokenExpired = errors.New("token expired")

	// ErrTransport indicates a network or server-side (5xx) failure.
	ErrTransport = errors.New("transport error")

	// ErrHandshakeRejected indicates the broker refused the handshake request (4xx).
	ErrHandshakeRejected = errors.New("handshake rejected")
)

// Sentinel errors for the gateway surface.
var (
	// ErrUnauthorized indicates the caller is not authenticated.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation indicates a validation error.
	ErrValidation = errors.New("validation error")

	// ErrInternal indicates an internal server error.
	ErrInternal = errors.New("internal error")

	// ErrRateLimit indicates too many requests.
	ErrRateLimit = errors.New("rate limit exceeded")
)

// AppError is a structured application error.
type AppError struct {
	// Type is the error type (sentinel error).
	Type error
	// Message is the user-facing error message.
	Message string
	// Details contains additional error details.
	Details map[string]any
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the sentinel type and the cause so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Type, e.Cause}
	}
	return []error{e.Type}
}

// Is checks if this error matches the target.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Type, target)
}

// New creates a new AppError.
func New(errType error, message string) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(errType error, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// WithDetails adds details to an AppError.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// KeyLoad creates a key load error.
func KeyLoad(message string, cause error) *AppError {
	return Wrap(ErrKeyLoad, message, cause)
}

// Signing creates a signing error.
func Signing(message string) *AppError {
	return New(ErrSigning, message)
}

// KeyExchange creates a key exchange error.
func KeyExchange(message string) *AppError {
	return New(ErrKeyExchange, message)
}

// TokenValidation creates a token validation error.
func TokenValidation(message string) *AppError {
	return New(ErrTokenValidation, message)
}

// HandshakeTimeout creates a handshake timeout error.
func HandshakeTimeout(cause error) *AppError {
	return Wrap(ErrHandshakeTimeout, "live session token handshake timed out", cause)
}

// TokenExpired creates a token expired error.
func TokenExpired() *AppError {
	return New(ErrTokenExpired, "live session token has expired")
}

// Transport creates a transport error.
func Transport(message string, cause error) *AppError {
	return Wrap(ErrTransport, message, cause)
}

// HandshakeRejected creates a handshake rejected error carrying the HTTP status.
func HandshakeRejected(status int) *AppError {
	return New(ErrHandshakeRejected, fmt.Sprintf("broker rejected handshake with status %d", status)).
		WithDetails(map[string]any{"status": status})
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return New(ErrUnauthorized, message)
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

// Internal creates an internal error.
func Internal(message string, cause error) *AppError {
	return Wrap(ErrInternal, message, cause)
}

// IsRetryable reports whether a failed handshake attempt may be retried with a fresh challenge.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrKeyExchange),
		errors.Is(err, ErrTokenValidation),
		errors.Is(err, ErrHandshakeTimeout),
		errors.Is(err, ErrTransport):
		return true
	default:
		return false
	}
}

// Class returns a short stable name for the error's type, safe to log and persist.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrKeyLoad):
		return "key_load"
	case errors.Is(err, ErrSigning):
		return "signing"
	case errors.Is(err, ErrKeyExchange):
		return "key_exchange"
	case errors.Is(err, ErrTokenValidation):
		return "token_validation"
	case errors.Is(err, ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrHandshakeRejected):
		return "handshake_rejected"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	default:
		return "internal"
	}
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrHandshakeTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrTransport),
		errors.Is(err, ErrHandshakeRejected),
		errors.Is(err, ErrKeyExchange),
		errors.Is(err, ErrTokenValidation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
