package tracker

import (
	"context"
	"slices"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/syncer"
)

// startSync closes the open session and hands a snapshot of pending to the
// engine. Only one sync runs at a time: explicit requests made meanwhile wait
// for the running one, alarms are dropped.
func (t *Tracker) startSync(ctx context.Context, waiter chan<- Response) {
	if t.syncing {
		if waiter != nil {
			t.waiters = append(t.waiters, waiter)
			return
		}
		t.logger.Debug("sync already in flight, skipping alarm")
		return
	}

	hadSession := t.current != nil
	t.endCurrentSession(ctx)

	batch := slices.Clone(t.pending)
	cfg, deviceID, generation := t.cfg, t.deviceID, t.generation
	t.syncing = true
	t.inFlight = batch
	t.inFlightGen = generation
	if waiter != nil {
		t.waiters = append(t.waiters, waiter)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		// Shutdown does not abort a sync; the timeout still bounds it
		syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.syncTimeout)
		defer cancel()

		result := t.engine.Sync(syncCtx, batch, deviceID, cfg)
		t.post(syncCompleted{
			batch:      len(batch),
			generation: generation,
			resume:     hadSession,
			result:     result,
		})
	}()
}

func (t *Tracker) onSyncCompleted(ctx context.Context, e syncCompleted) {
	batch := t.inFlight
	t.syncing = false
	t.inFlight = nil

	switch {
	case e.generation != t.generation:
		// Data was cleared while the batch was on its way; drop whatever the
		// engine wrote back for it
		removed, err := t.engine.Forget(ctx, batch)
		if err != nil {
			t.logger.Warn("failed to drop cleared sessions", "error", err)
		} else if removed > 0 {
			t.logger.Info("dropped sessions cleared during sync", "removed", removed)
		}

	case e.result.InArchive():
		// Sessions closed during the sync were appended after the snapshot, so
		// the snapshot is still the prefix of pending
		n := min(e.batch, len(t.pending))
		t.pending = slices.Clone(t.pending[n:])
		t.metrics.PendingSessions.Set(float64(len(t.pending)))
		t.persistPending(ctx)
	}

	logArgs := []any{
		"success", e.result.Success,
		"synced", e.result.Synced,
		"archived", e.result.Archived,
		"queued", e.result.Queued,
		"pending", len(t.pending),
	}
	if e.result.Error != "" {
		logArgs = append(logArgs, "error", e.result.Error)
	}
	if syncer.IsOffline(e.result) {
		t.logger.Info("sync deferred, offline", logArgs...)
	} else {
		t.logger.Info("sync finished", logArgs...)
	}

	for _, w := range t.waiters {
		w <- Response{Value: e.result}
	}
	t.waiters = nil

	if e.resume && t.current == nil {
		t.startTrackingActiveTab(ctx)
	}
}

// awaitSync blocks until the sync in flight reports back and records its
// outcome. Other events are dropped.
func (t *Tracker) awaitSync(ctx context.Context) {
	for t.syncing {
		select {
		case ev := <-t.events:
			if e, ok := ev.(syncCompleted); ok {
				e.resume = false
				t.onSyncCompleted(ctx, e)
			}
		case <-ctx.Done():
			t.logger.Warn("gave up waiting for sync in flight", "error", ctx.Err())
			return
		}
	}
}

// localView is a copy of pending taken on the loop. While a sync is in flight
// the engine may move the batch to the archive before the loop trims it, so
// the batch is kept apart and reconciled against the archive once it is read.
type localView struct {
	pending  []session.Session
	inFlight []session.Session
	cleared  bool
}

func (t *Tracker) snapshot() localView {
	if !t.syncing {
		return localView{pending: slices.Clone(t.pending)}
	}
	if t.generation != t.inFlightGen {
		return localView{pending: slices.Clone(t.pending), inFlight: t.inFlight, cleared: true}
	}
	n := min(len(t.inFlight), len(t.pending))
	return localView{pending: slices.Clone(t.pending[n:]), inFlight: t.inFlight}
}

// resolve combines the view with an archive read after it was taken so that
// every visit is counted once
func (v localView) resolve(archive []session.ArchivedSession) ([]session.Session, []session.ArchivedSession) {
	if len(v.inFlight) == 0 {
		return v.pending, archive
	}

	if v.cleared {
		batch := make(map[session.VisitKey]bool, len(v.inFlight))
		for _, s := range v.inFlight {
			batch[s.Key()] = true
		}
		archive = slices.DeleteFunc(slices.Clone(archive), func(a session.ArchivedSession) bool {
			return batch[a.Key()]
		})
		return v.pending, archive
	}

	archived := make(map[session.VisitKey]bool, len(archive))
	for _, a := range archive {
		archived[a.Key()] = true
	}
	pending := make([]session.Session, 0, len(v.inFlight)+len(v.pending))
	for _, s := range v.inFlight {
		if !archived[s.Key()] {
			pending = append(pending, s.Clone())
		}
	}
	return append(pending, v.pending...), archive
}
