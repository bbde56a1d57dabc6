package storage

import (
	"context"
	"errors"
)

// Keys used by the tracker
const (
	KeyDeviceID        = "deviceId"
	KeyConfig          = "config"
	KeyPendingSessions = "pendingSessions"
	KeyArchive         = "archive"
	KeyFailedSyncs     = "failedSyncs"
)

// ErrNotFound is returned by Store.Get for missing keys
var ErrNotFound = errors.New("key not found")

// Store is a durable key/value store. Values are opaque bytes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
