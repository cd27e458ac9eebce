package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/logsift/logsift/internal/embed"
	"github.com/logsift/logsift/internal/ingest"
	"github.com/logsift/logsift/internal/logstore"
	"github.com/logsift/logsift/internal/postgres"
	"github.com/logsift/logsift/internal/search"
)

// writeJSON writes a JSON response with the given status code.
// Uses buffer-first strategy to ensure headers are only sent after successful encoding.
// This allows returning a proper 500 error if JSON encoding fails.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		slog.Debug("failed to write response body", "error", err)
	}
}

// errorBody is the payload inside the error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes the error envelope {"error": {"code", "message"}}.
func writeError(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	if logger != nil {
		logger.Debug("request rejected", "status", status, "code", code, "message", message)
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// errorStatus maps a domain error to its HTTP status and error code.
// Unrecognized errors are internal.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrInvalidInput),
		errors.Is(err, ingest.ErrNoEvents),
		errors.Is(err, search.ErrInvalidInput),
		errors.Is(err, embed.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, logstore.ErrBatchNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, logstore.ErrInvalidTransition),
		errors.Is(err, logstore.ErrImmutable),
		errors.Is(err, postgres.ErrConstraint):
		return http.StatusConflict, "conflict"
	case errors.Is(err, postgres.ErrPoolExhausted):
		return http.StatusServiceUnavailable, "pool_exhausted"
	case errors.Is(err, postgres.ErrConnection):
		return http.StatusServiceUnavailable, "db_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeDomainError translates err via errorStatus and writes the
// envelope. Client errors carry the sentinel text so callers see what
// to fix; internals are logged and masked. Pool exhaustion advertises
// a retry.
func writeDomainError(w http.ResponseWriter, err error, logger *slog.Logger) {
	status, code := errorStatus(err)

	if errors.Is(err, postgres.ErrPoolExhausted) {
		w.Header().Set("Retry-After", "1")
	}

	message := err.Error()
	switch {
	case code == "internal_error":
		logger.Error("request failed", "error", err)
		message = "internal server error"
	case status == http.StatusServiceUnavailable:
		// Connection errors can carry DSN details; keep those in logs.
		logger.Warn("dependency unavailable", "error", err)
		message = "service temporarily unavailable"
	}

	writeError(w, status, code, message, logger)
}
