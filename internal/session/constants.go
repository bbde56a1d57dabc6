package session

import "errors"

const (
	// MinDurationSeconds is the shortest visit that is kept
	MinDurationSeconds = 1

	// SecondsPerDay is used for retention arithmetic
	SecondsPerDay = 86400

	// Defaults for a fresh installation
	DefaultDeviceType           = "desktop"
	DefaultSyncIntervalMinutes  = 5
	DefaultIdleThresholdSeconds = 60
	DefaultRetentionDays        = 30
)

// Error definitions
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrNoSession     = errors.New("no active session")
)
