// Package api provides HTTP handlers for the check-in API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/dotcheck/internal/conversation"
	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/scheduler"
)

const defaultMaxRequestBodySize = 64 << 10

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorBody is the JSON shape of a domain error.
type errorBody struct {
	Error     string `json:"error"`
	Completed bool   `json:"completed,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteError maps a domain error to its HTTP status.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	JSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error(), Retryable: domain.IsRetryable(err)}
	switch {
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden, errorBody{Error: "not authorized"}
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrEmployeeNotFound),
		errors.Is(err, domain.ErrOrganizationNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrSessionAlreadyCompleted):
		body.Completed = true
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrSchedulingConflict):
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrAgentInvocationFailed),
		errors.Is(err, domain.ErrTurnConflict):
		return http.StatusServiceUnavailable, body
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, domain.ErrUnknownAgent),
		errors.Is(err, scheduler.ErrInvalidDate),
		errors.Is(err, scheduler.ErrInvalidSource):
		return http.StatusBadRequest, body
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

// decodeBody reads a bounded JSON body into v. An empty body leaves v as is.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeDecodeError answers a body that failed to decode.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	Error(w, http.StatusBadRequest, "invalid request body")
}
