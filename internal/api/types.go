package api

import (
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/stats"
)

// Request Types

// Event types accepted by POST /events
const (
	EventTabActivated     = "tab_activated"
	EventTabUpdated       = "tab_updated"
	EventTabRemoved       = "tab_removed"
	EventFocusChanged     = "focus_changed"
	EventIdleStateChanged = "idle_state_changed"
)

// EventRequest for POST /events
type EventRequest struct {
	Type    string       `json:"type" validate:"required,oneof=tab_activated tab_updated tab_removed focus_changed idle_state_changed"`
	Tab     *session.Tab `json:"tab,omitempty" validate:"required_if=Type tab_activated,required_if=Type tab_updated"`
	TabID   *int         `json:"tab_id,omitempty" validate:"required_if=Type tab_removed"`
	Focused *bool        `json:"focused,omitempty" validate:"required_if=Type focus_changed"`
	State   string       `json:"state,omitempty" validate:"required_if=Type idle_state_changed"`
}

// ValidateUserRequest for POST /validate-user. Config defaults to the saved one.
type ValidateUserRequest struct {
	UserID string          `json:"user_id" validate:"required"`
	Config *session.Config `json:"config,omitempty" validate:"-"`
}

// Response Types

// StatsResponse returned by GET /stats
type StatsResponse struct {
	stats.Stats
	TodayFormatted   string `json:"today_formatted"`
	AllTimeFormatted string `json:"all_time_formatted"`
}

// CurrentSessionResponse returned by GET /session/current
type CurrentSessionResponse struct {
	Session *stats.CurrentView `json:"session"`
}

// HealthResponse returned by GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// SuccessResponse for operations that just need success confirmation
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Error Types

// ErrorResponse for all error cases
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`    // Machine-readable error code
	Message string `json:"message"` // Human-readable message
}

// Common error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidConfig    = "INVALID_CONFIG"
	ErrCodeNotConfigured    = "NOT_CONFIGURED"
	ErrCodeTrackerStopped   = "TRACKER_STOPPED"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)
