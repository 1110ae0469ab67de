package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest          = "bad_request"
	ErrCodeNotFound            = "not_found"
	ErrCodeUnauthorized        = "unauthorised"
	ErrCodeInternal            = "internal_error"
	ErrCodeUnavailable         = "service_unavailable"
	ErrCodeUpstreamAuthFailed  = "upstream_auth_failed"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeCancelled           = "request_cancelled"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// syncErrorStatus maps a synchronisation error onto an HTTP status and code.
//
// An upstream credential rejection is a 502, not a 401: the caller of this
// API is authorised, the metering API refused this service.
func syncErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, backfill.ErrUnknownResource):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, backfill.ErrAuthenticationFailed):
		return http.StatusBadGateway, ErrCodeUpstreamAuthFailed
	case backfill.IsRetryable(err):
		return http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrCodeCancelled
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
