package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/syncer"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/tracker"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// writeTrackerError maps tracker and sync errors to HTTP statuses
func writeTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidConfig, err.Error())
	case errors.Is(err, syncer.ErrConfiguration):
		writeError(w, http.StatusBadRequest, ErrCodeNotConfigured, err.Error())
	case errors.Is(err, tracker.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeTrackerStopped, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
