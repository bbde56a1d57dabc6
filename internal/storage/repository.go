package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
)

// This struct handles tracker persistence on top of a Store
type Repository struct {
	store Store
}

// NewRepository creates a new repository
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Store returns the underlying key/value store
func (r *Repository) Store() Store {
	return r.store
}

// getJSON decodes the value under key into out. Missing keys leave out untouched
// and report found=false.
func getJSON[T any](ctx context.Context, s Store, key string, out *T) (bool, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func setJSON[T any](ctx context.Context, s Store, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// DeviceID returns the installation id, generating and persisting it on first use
func (r *Repository) DeviceID(ctx context.Context) (string, error) {
	var id string
	found, err := getJSON(ctx, r.store, KeyDeviceID, &id)
	if err != nil {
		return "", err
	}
	if found && id != "" {
		return id, nil
	}

	id = session.NewDeviceID()
	if err := setJSON(ctx, r.store, KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}
	slog.Info("generated device id", "device_id", id)
	return id, nil
}

// LoadConfig returns the stored config. found is false when nothing was saved yet,
// in which case the defaults are returned.
func (r *Repository) LoadConfig(ctx context.Context) (cfg session.Config, found bool, err error) {
	cfg = session.DefaultConfig()
	found, err = getJSON(ctx, r.store, KeyConfig, &cfg)
	if err != nil {
		return session.DefaultConfig(), false, err
	}
	return cfg, found, nil
}

// SaveConfig replaces the stored config
func (r *Repository) SaveConfig(ctx context.Context, cfg session.Config) error {
	return setJSON(ctx, r.store, KeyConfig, cfg)
}

// Pending returns the pending session buffer
func (r *Repository) Pending(ctx context.Context) ([]session.Session, error) {
	sessions := []session.Session{}
	if _, err := getJSON(ctx, r.store, KeyPendingSessions, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// SavePending replaces the pending session buffer
func (r *Repository) SavePending(ctx context.Context, sessions []session.Session) error {
	if sessions == nil {
		sessions = []session.Session{}
	}
	return setJSON(ctx, r.store, KeyPendingSessions, sessions)
}

// Archive returns the archived sessions
func (r *Repository) Archive(ctx context.Context) ([]session.ArchivedSession, error) {
	archived := []session.ArchivedSession{}
	if _, err := getJSON(ctx, r.store, KeyArchive, &archived); err != nil {
		return nil, err
	}
	return archived, nil
}

// SaveArchive replaces the archive
func (r *Repository) SaveArchive(ctx context.Context, archived []session.ArchivedSession) error {
	if archived == nil {
		archived = []session.ArchivedSession{}
	}
	return setJSON(ctx, r.store, KeyArchive, archived)
}

// FailedSyncs returns the failed sync queue
func (r *Repository) FailedSyncs(ctx context.Context) ([]session.Session, error) {
	failed := []session.Session{}
	if _, err := getJSON(ctx, r.store, KeyFailedSyncs, &failed); err != nil {
		return nil, err
	}
	return failed, nil
}

// SaveFailedSyncs replaces the failed sync queue
func (r *Repository) SaveFailedSyncs(ctx context.Context, failed []session.Session) error {
	if failed == nil {
		failed = []session.Session{}
	}
	return setJSON(ctx, r.store, KeyFailedSyncs, failed)
}

// ClearData removes all tracked sessions. Device id and config are kept.
func (r *Repository) ClearData(ctx context.Context) error {
	if err := r.store.Delete(ctx, KeyPendingSessions, KeyArchive, KeyFailedSyncs); err != nil {
		return fmt.Errorf("failed to clear data: %w", err)
	}
	slog.Debug("tracker data cleared")
	return nil
}
