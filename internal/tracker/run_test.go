package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/syncer"
)

// TestRunLifecycle tests the loop end to end: events, the sync alarm and shutdown
func TestRunLifecycle(t *testing.T) {
	h := setupTracker(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- h.tr.Run(ctx) }()
	<-h.tr.Started()

	require.NoError(t, h.tr.Send(ctx, TabActivated{Tab: tab(1, "https://a.com", "A")}))
	current, err := h.tr.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "a.com", current.Domain)

	h.advance(12 * time.Second)
	out, err := h.tr.Stats(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(12), out.AllTimeTotal)

	// The alarm fires after the configured interval and ships the open session
	h.advance(h.cfg.SyncEvery() - 12*time.Second)
	require.Eventually(t, func() bool {
		inserts, _ := h.backend.snapshot()
		return inserts == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Pending drains and tracking resumes once the loop sees the result
	require.Eventually(t, func() bool {
		out, err := h.tr.Stats(ctx, "", "")
		return err == nil && out.PendingCount == 0 && out.CurrentSession != nil
	}, 5*time.Second, 10*time.Millisecond)
	archived, err := h.repo.Archive(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, int64(300), archived[0].DurationSeconds)

	h.advance(20 * time.Second)
	current, err = h.tr.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, int64(20), current.DurationSeconds)

	cancel()
	require.NoError(t, <-errCh)

	// The open session was closed on shutdown
	pending, err := h.repo.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(20), pending[0].DurationSeconds)

	_, err = h.tr.Stats(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrStopped)
}

// TestSaveConfigThroughRun tests the typed client helpers
func TestSaveConfigThroughRun(t *testing.T) {
	h := setupTracker(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.tr.Run(ctx) }()
	<-h.tr.Started()

	cfg, err := h.tr.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.cfg, cfg)

	cfg.SyncInterval = 1
	saved, err := h.tr.SaveConfig(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.SyncInterval)

	validation, err := h.tr.ValidateUser(ctx, "alice", cfg)
	require.NoError(t, err)
	assert.True(t, validation.Valid)

	require.NoError(t, h.tr.ClearData(ctx))
	result, err := h.tr.SyncNow(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.Synced)

	cancel()
	require.NoError(t, <-errCh)
}

// TestShutdownWaitsForSync tests that stopping the loop lets a running sync
// finish and records its outcome before returning
func TestShutdownWaitsForSync(t *testing.T) {
	h := setupTracker(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- h.tr.Run(ctx) }()
	<-h.tr.Started()

	require.NoError(t, h.tr.Send(ctx, TabActivated{Tab: tab(1, "https://a.com", "A")}))
	_, err := h.tr.CurrentSession(ctx)
	require.NoError(t, err)
	h.advance(40 * time.Second)

	reply := make(chan Response, 1)
	require.NoError(t, h.tr.Send(ctx, UserMessage{Request: SyncNow{}, Reply: reply}))
	require.Eventually(t, func() bool {
		return h.backend.blocked() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	close(h.backend.gate)
	require.NoError(t, <-errCh)

	result, ok := receive(t, reply).Value.(syncer.Result)
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Synced)

	inserts, _ := h.backend.snapshot()
	assert.Equal(t, 1, inserts)

	// The batch was trimmed from pending, so a restart will not send it again
	pending, err := h.repo.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	archived, err := h.repo.Archive(context.Background())
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, int64(40), archived[0].DurationSeconds)
}
