package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
)

// Test helper: one store per backend so every test runs against both
func setupStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	redisStore, err := NewRedisClient(ctx, mr.Addr(), "", 0, "tracker:")
	require.NoError(t, err)
	t.Cleanup(func() { redisStore.Close() })

	sqliteStore, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "data", "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"redis":  redisStore,
		"sqlite": sqliteStore,
	}
}

func closedSession(url string, start, end int64) session.Session {
	s := session.New(session.Tab{ID: 1, URL: url, Title: url}, start)
	s.Close(end)
	return s
}

// TestStoreRoundTrip tests raw get/set/delete on both backends
func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range setupStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set(ctx, "k", []byte("v1")))
			require.NoError(t, store.Set(ctx, "k", []byte("v2")))
			got, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v2", string(got))

			require.NoError(t, store.Delete(ctx, "k", "never-existed"))
			_, err = store.Get(ctx, "k")
			require.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, store.Ping(ctx))
		})
	}
}

// TestRedisKeyPrefix tests that keys are namespaced
func TestRedisKeyPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := NewRedisClient(ctx, mr.Addr(), "", 0, "tracker:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, NewRepository(store).SavePending(ctx, nil))
	assert.True(t, mr.Exists("tracker:pendingSessions"))
	assert.False(t, mr.Exists("pendingSessions"))
}

// TestDeviceIDIsStable tests that the id is generated once
func TestDeviceIDIsStable(t *testing.T) {
	ctx := context.Background()
	for name, store := range setupStores(t) {
		t.Run(name, func(t *testing.T) {
			repo := NewRepository(store)
			first, err := repo.DeviceID(ctx)
			require.NoError(t, err)
			require.Len(t, first, 36)

			second, err := repo.DeviceID(ctx)
			require.NoError(t, err)
			assert.Equal(t, first, second)

			// Clearing data keeps the identity
			require.NoError(t, repo.ClearData(ctx))
			third, err := repo.DeviceID(ctx)
			require.NoError(t, err)
			assert.Equal(t, first, third)
		})
	}
}

// TestRepositoryCollections tests the typed accessors
func TestRepositoryCollections(t *testing.T) {
	ctx := context.Background()
	for name, store := range setupStores(t) {
		t.Run(name, func(t *testing.T) {
			repo := NewRepository(store)

			cfg, found, err := repo.LoadConfig(ctx)
			require.NoError(t, err)
			assert.False(t, found)
			assert.Equal(t, session.DefaultConfig(), cfg)

			cfg.UserID = "alice"
			cfg.Endpoint = "https://x.supabase.co"
			require.NoError(t, repo.SaveConfig(ctx, cfg))
			loaded, found, err := repo.LoadConfig(ctx)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, cfg, loaded)

			pending, err := repo.Pending(ctx)
			require.NoError(t, err)
			assert.Empty(t, pending)

			a := closedSession("https://a.com", 100, 165)
			b := closedSession("https://b.com", 165, 200)
			require.NoError(t, repo.SavePending(ctx, []session.Session{a, b}))
			pending, err = repo.Pending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Equal(t, a, pending[0])
			assert.Equal(t, int64(65), pending[0].DurationSeconds)

			require.NoError(t, repo.SaveArchive(ctx, []session.ArchivedSession{a.Archive(300)}))
			archived, err := repo.Archive(ctx)
			require.NoError(t, err)
			require.Len(t, archived, 1)
			assert.Equal(t, int64(300), archived[0].ArchivedAt)
			assert.Equal(t, "a.com", archived[0].Domain)

			require.NoError(t, repo.SaveFailedSyncs(ctx, []session.Session{b}))
			failed, err := repo.FailedSyncs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []session.Session{b}, failed)

			require.NoError(t, repo.ClearData(ctx))
			pending, _ = repo.Pending(ctx)
			archived, _ = repo.Archive(ctx)
			failed, _ = repo.FailedSyncs(ctx)
			assert.Empty(t, pending)
			assert.Empty(t, archived)
			assert.Empty(t, failed)

			_, found, err = repo.LoadConfig(ctx)
			require.NoError(t, err)
			assert.True(t, found, "config survives clear")
		})
	}
}
