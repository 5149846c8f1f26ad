// Package apierr defines the proxy's error taxonomy (spec §7) and its
// mapping to HTTP responses shaped like the client's upstream API, mirroring
// the Anthropic/CommonError structs the teacher's providers package already
// declares for its own error passthrough.
package apierr

import (
	"net/http"

	"github.com/google/uuid"
)

// Kind is one of the fixed error categories the proxy can surface.
type Kind string

const (
	KindInvalidClientRequest Kind = "invalid_client_request"
	KindInvalidArgs          Kind = "invalid_args"
	KindBackendAuth          Kind = "backend_auth"
	KindBackendRateLimited   Kind = "backend_rate_limited"
	KindBackendServerError   Kind = "backend_server_error"
	KindBackendProtocol      Kind = "backend_protocol"
	KindUpstreamCancelled    Kind = "upstream_cancelled"
	KindInternalError        Kind = "internal_error"
)

// Error is the typed error the Transformer, Registry and Adapter raise
// internally; the Server maps it to an HTTP response and never leaks the
// wrapped upstream error text to the client.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter string // set only for KindBackendRateLimited when the backend supplied Retry-After
	IncidentID string // set only for KindInternalError
	wrapped    error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return e.Message + ": " + e.wrapped.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds a typed error of the given kind with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a typed error that also carries an internal cause, kept out of
// the client-visible message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, wrapped: cause}
}

// Internal builds an InternalError with a fresh correlation id. The id (not
// the wrapped error) is what gets echoed to the client.
func Internal(cause error) *Error {
	return &Error{
		Kind:       KindInternalError,
		Message:    "internal error",
		IncidentID: "inc_" + uuid.NewString(),
		wrapped:    cause,
	}
}

// HTTPStatus maps a Kind to the status code spec §7 assigns it.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidClientRequest, KindInvalidArgs:
		return http.StatusBadRequest
	case KindBackendAuth:
		return http.StatusUnauthorized
	case KindBackendRateLimited:
		return http.StatusTooManyRequests
	case KindBackendServerError, KindBackendProtocol:
		return http.StatusBadGateway
	case KindInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ClientBody renders the error the way the client's upstream API shapes its
// own error envelopes, so client-side error handling stays meaningful.
func (e *Error) ClientBody() map[string]any {
	msg := e.Message
	if e.Kind == KindBackendAuth {
		msg = "authentication to the upstream backend failed"
	}
	if e.Kind == KindInternalError {
		msg = "internal error (incident " + e.IncidentID + ")"
	}

	return map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    string(e.Kind),
			"message": msg,
		},
	}
}
