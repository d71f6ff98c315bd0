package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crucial707/equipment-manager/internal/db"
	"github.com/crucial707/equipment-manager/internal/repo"
	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/crucial707/equipment-manager/internal/sheet"
	"github.com/crucial707/equipment-manager/internal/validation"
	"go.uber.org/zap"
)

// ErrMessageInternal is the generic message for 500 responses. Do not expose internal details to clients.
const ErrMessageInternal = "internal server error"

// ErrMessageUnavailable is returned with 503 when the database stayed unreachable after the reconnect attempt.
const ErrMessageUnavailable = "database temporarily unavailable"

// JSONError sends a JSON error response with a single "error" field.
func JSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// JSONValidationError sends a JSON error response with "error", the "violations" list and
// a "fields" map of the first message per field. status is 400, or 409 for a duplicate serial.
func JSONValidationError(w http.ResponseWriter, message string, vs validation.Violations, status int) {
	out := map[string]interface{}{"error": message}
	if len(vs) > 0 {
		out["violations"] = vs
		out["fields"] = vs.Fields()
	}
	writeJSON(w, status, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondError maps an error from the layers below to a status code. Only
// terminal failures are logged with their details; clients get a generic message.
func respondError(w http.ResponseWriter, log *zap.Logger, op string, err error) {
	if vs, ok := validation.AsViolations(err); ok {
		status := http.StatusBadRequest
		if vs.HasCode(validation.CodeDuplicateSerial) || vs.HasCode(validation.CodeNotFound) {
			status = http.StatusConflict
		}
		JSONValidationError(w, "validation failed", vs, status)
		return
	}

	switch {
	case errors.Is(err, repo.ErrNotFound):
		JSONError(w, "equipment not found", http.StatusNotFound)
		return
	case errors.Is(err, search.ErrInvalidRequest),
		errors.Is(err, repo.ErrLookupField),
		errors.Is(err, sheet.ErrUnknownFormat),
		errors.Is(err, sheet.ErrEmptyFile),
		errors.Is(err, sheet.ErrMissingHeader),
		errors.Is(err, sheet.ErrNoDataRows),
		errors.Is(err, sheet.ErrInvalidEncoding):
		JSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch db.KindOf(err) {
	case db.KindRetryable:
		log.Warn("database unavailable", zap.String("op", op), zap.Error(err))
		JSONError(w, ErrMessageUnavailable, http.StatusServiceUnavailable)
	case db.KindConstraint:
		JSONError(w, "conflicts with existing data", http.StatusConflict)
	case db.KindNotFound:
		JSONError(w, "not found", http.StatusNotFound)
	default:
		log.Error("request failed", zap.String("op", op), zap.Error(err))
		JSONError(w, ErrMessageInternal, http.StatusInternalServerError)
	}
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
