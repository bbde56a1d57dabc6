package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DeviceProfile describes the installation in synced rows
type DeviceProfile struct {
	Type    string `json:"type" yaml:"type" validate:"required,oneof=desktop laptop tablet mobile other"`
	Name    string `json:"name" yaml:"name" validate:"max=100"`
	Browser string `json:"browser" yaml:"browser" validate:"max=50"`
	OS      string `json:"os" yaml:"os" validate:"max=50"`
}

// Config is the user-editable tracker configuration. It is replaced wholesale on save.
type Config struct {
	DeviceProfile        DeviceProfile `json:"deviceProfile" yaml:"device_profile"`
	Endpoint             string        `json:"supabaseUrl" yaml:"supabase_url" validate:"omitempty,url"`
	APIKey               string        `json:"supabaseKey" yaml:"supabase_key"`
	SyncInterval         int           `json:"syncInterval" yaml:"sync_interval" validate:"gte=1,lte=1440"` // minutes
	IdleDetection        bool          `json:"idleDetection" yaml:"idle_detection"`
	IdleThreshold        int           `json:"idleThreshold" yaml:"idle_threshold" validate:"gte=15,lte=3600"` // seconds
	ArchiveRetentionDays int           `json:"archiveRetentionDays" yaml:"archive_retention_days" validate:"gte=1,lte=3650"`
	UserID               string        `json:"userId" yaml:"user_id" validate:"max=100"`
}

// DefaultConfig returns the configuration of a fresh installation
func DefaultConfig() Config {
	return Config{
		DeviceProfile:        DeviceProfile{Type: DefaultDeviceType},
		SyncInterval:         DefaultSyncIntervalMinutes,
		IdleDetection:        true,
		IdleThreshold:        DefaultIdleThresholdSeconds,
		ArchiveRetentionDays: DefaultRetentionDays,
	}
}

// HasBackend reports whether both endpoint and credential are set
func (c Config) HasBackend() bool {
	return c.Endpoint != "" && c.APIKey != ""
}

// BaseURL returns the endpoint without trailing slashes
func (c Config) BaseURL() string {
	return strings.TrimRight(c.Endpoint, "/")
}

// SyncEvery returns the alarm period
func (c Config) SyncEvery() time.Duration {
	if c.SyncInterval < 1 {
		return DefaultSyncIntervalMinutes * time.Minute
	}
	return time.Duration(c.SyncInterval) * time.Minute
}

// Redacted returns a copy safe to hand out in exports
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "[redacted]"
	}
	return c
}

// Validate checks the config before it is saved
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
