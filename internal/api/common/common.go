// Package common holds the JSON response helpers shared by the API routers
package common

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

// Error codes carried in the "code" field of error responses
const (
	CodeConflict         = "Conflict"
	CodeNotFound         = "NotFound"
	CodeInvalidState     = "InvalidState"
	CodeInvalidAttribute = "InvalidAttribute"
	CodeInUse            = "InUse"
	CodeExternalFailure  = "ExternalFailure"
	CodeStaleSignal      = "StaleSignal"
	CodeTimeout          = "Timeout"
	CodeInvalidInput     = "InvalidInput"
	CodeUnauthorized     = "Unauthorized"
	CodeInternal         = "Internal"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message, code string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message, Code: code}, statusCode)
}

// errorMapping is checked in order; the first sentinel the error wraps wins
var errorMapping = []struct {
	err    error
	code   string
	status int
}{
	{service.ErrNotFound, CodeNotFound, http.StatusNotFound},
	{service.ErrConflict, CodeConflict, http.StatusConflict},
	{service.ErrInvalidState, CodeInvalidState, http.StatusConflict},
	{service.ErrInUse, CodeInUse, http.StatusConflict},
	{service.ErrExternalFailure, CodeExternalFailure, http.StatusConflict},
	{service.ErrInvalidAttribute, CodeInvalidAttribute, http.StatusBadRequest},
	{service.ErrInvalidInput, CodeInvalidInput, http.StatusBadRequest},
	{service.ErrStaleSignal, CodeStaleSignal, http.StatusAccepted},
	{service.ErrTimeout, CodeTimeout, http.StatusAccepted},
}

// StatusFor returns the error code and HTTP status for a service error
func StatusFor(err error) (string, int) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.code, m.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// WriteServiceError maps a service error onto its HTTP status. Unexpected errors
// are logged and answered without details.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code, statusCode := StatusFor(err)
	message := err.Error()
	if statusCode == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()))
		message = "internal error"
	}
	WriteErrorResponse(w, message, code, statusCode)
}
