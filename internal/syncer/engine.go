package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/metrics"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/storage"
)

// Result is the structured outcome of a sync. Nothing else escapes Sync.
type Result struct {
	Success  bool   `json:"success"`
	Synced   int    `json:"synced"`
	Archived int    `json:"archived,omitempty"`
	Queued   int    `json:"queued,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`

	err error
}

// Err returns the typed error behind a failed result
func (r Result) Err() error {
	return r.err
}

// InArchive reports whether the synced batch ended up in the local archive,
// either because the backend accepted it or because it was kept locally.
func (r Result) InArchive() bool {
	return r.Synced > 0 || r.Archived > 0
}

// ValidationResult is the answer of ValidateUser
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`

	err error
}

// Engine moves pending sessions to the backend and keeps the archive and the
// failed queue consistent with the outcome
type Engine struct {
	repo    *storage.Repository
	client  *Client
	prober  Prober
	clock   quartz.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Serializes read-modify-write cycles on the archive and failed queue
	mu sync.Mutex
}

// NewEngine creates a sync engine
func NewEngine(repo *storage.Repository, client *Client, prober Prober, clock quartz.Clock, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		repo:    repo,
		client:  client,
		prober:  prober,
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

// Sync transmits sessions and records the outcome locally. Every failure path
// leaves the sessions in either the archive or the failed queue.
func (e *Engine) Sync(ctx context.Context, sessions []session.Session, deviceID string, cfg session.Config) Result {
	// 1. Nothing to do
	if len(sessions) == 0 {
		e.metrics.SyncRuns.WithLabelValues(metrics.ResultEmpty).Inc()
		return Result{Success: true, Message: "no sessions to sync"}
	}

	// 2. Unconfigured: keep everything locally
	if !cfg.HasBackend() {
		archived, err := e.ArchiveLocally(ctx, sessions)
		if err != nil {
			e.metrics.SyncRuns.WithLabelValues(metrics.ResultFailed).Inc()
			return failure(err)
		}
		e.metrics.SyncRuns.WithLabelValues(metrics.ResultArchived).Inc()
		e.logger.Info("backend not configured, archived sessions locally", "count", archived)
		return Result{Success: true, Archived: archived, Message: "archived locally, not synced"}
	}

	// 3. Allowlist check
	validation, err := e.ValidateUser(ctx, cfg.UserID, cfg)
	if err != nil {
		validation = ValidationResult{Valid: false, Error: err.Error(), err: err}
	}
	if !validation.Valid {
		result := Result{Success: false, Error: validation.Error, err: validation.err}
		archived, archiveErr := e.ArchiveLocally(ctx, sessions)
		if archiveErr != nil {
			e.logger.Warn("failed to archive sessions after validation failure", "error", archiveErr)
		}
		result.Archived = archived
		e.metrics.SyncRuns.WithLabelValues(metrics.ResultUnauthorized).Inc()
		e.logger.Warn("user validation failed, kept sessions locally",
			"user_id", cfg.UserID,
			"archived", archived,
			"error", validation.Error)
		return result
	}

	// 4. Connectivity
	if !e.prober.Online(ctx, cfg) {
		queued, err := e.QueueFailedSync(ctx, sessions)
		if err != nil {
			e.logger.Warn("failed to queue sessions while offline", "error", err)
		}
		e.metrics.SyncRuns.WithLabelValues(metrics.ResultOffline).Inc()
		e.logger.Info("offline, queued sessions for retry", "count", len(sessions), "new", queued)
		return Result{Success: false, Error: ErrOffline.Error(), Queued: len(sessions), err: ErrOffline}
	}

	// 5. Transmit
	started := e.clock.Now()
	rows := BuildRows(sessions, deviceID, cfg, started)
	err = e.client.InsertSessions(ctx, cfg, rows)
	e.metrics.SyncDuration.Observe(e.clock.Since(started).Seconds())
	if err != nil {
		queued, qerr := e.QueueFailedSync(ctx, sessions)
		if qerr != nil {
			e.logger.Warn("failed to queue sessions after transport error", "error", qerr)
		}
		e.metrics.SyncRuns.WithLabelValues(metrics.ResultFailed).Inc()
		e.logger.Warn("sync failed, queued sessions for retry",
			"count", len(sessions),
			"new", queued,
			"error", err)
		result := failure(err)
		result.Queued = len(sessions)
		return result
	}

	// Data is on the backend from here on; local bookkeeping errors are only logged
	if _, err := e.ArchiveLocally(ctx, sessions); err != nil {
		e.logger.Warn("failed to archive synced sessions", "error", err)
	}
	if err := e.clearFailedQueue(ctx); err != nil {
		e.logger.Warn("failed to clear failed sync queue", "error", err)
	}
	if removed, err := e.PruneArchive(ctx, cfg.ArchiveRetentionDays); err != nil {
		e.logger.Warn("failed to prune archive", "error", err)
	} else if removed > 0 {
		e.logger.Info("pruned archive", "removed", removed, "retention_days", cfg.ArchiveRetentionDays)
	}

	e.metrics.SyncRuns.WithLabelValues(metrics.ResultSynced).Inc()
	e.metrics.SyncedSessions.Add(float64(len(sessions)))
	e.logger.Info("sync complete", "synced", len(sessions), "device_id", deviceID)
	return Result{Success: true, Synced: len(sessions)}
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error(), err: err}
}

// BuildRows maps sessions to backend rows
func BuildRows(sessions []session.Session, deviceID string, cfg session.Config, syncedAt time.Time) []Row {
	stamp := syncedAt.UTC().Format(time.RFC3339)
	rows := make([]Row, 0, len(sessions))
	for _, s := range sessions {
		s = s.Clone()
		rows = append(rows, Row{
			DeviceID:        deviceID,
			UserID:          cfg.UserID,
			URL:             s.URL,
			Domain:          s.Domain,
			Title:           s.Title,
			StartTimestamp:  s.StartTimestamp,
			EndTimestamp:    s.EndTimestamp,
			DurationSeconds: s.DurationSeconds,
			TabID:           s.TabID,
			Incognito:       s.Incognito,
			DeviceProfile:   cfg.DeviceProfile,
			SyncedAt:        stamp,
		})
	}
	return rows
}

// ValidateUser asks the backend whether userID is allowlisted. Only an
// incomplete config is returned as an error; every remote failure is folded
// into an invalid result.
func (e *Engine) ValidateUser(ctx context.Context, userID string, cfg session.Config) (ValidationResult, error) {
	if !cfg.HasBackend() {
		return ValidationResult{}, fmt.Errorf("%w: endpoint and api key are required", ErrConfiguration)
	}
	if userID == "" {
		return ValidationResult{}, fmt.Errorf("%w: user id is required", ErrConfiguration)
	}

	valid, err := e.client.IsValidUser(ctx, cfg, userID)
	if err != nil {
		return ValidationResult{Valid: false, Error: err.Error(), err: err}, nil
	}
	if !valid {
		return ValidationResult{Valid: false, Error: ErrUnauthorized.Error(), err: ErrUnauthorized}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// ArchiveLocally appends the sessions to the archive stamped with the current
// time. It never deduplicates against existing entries.
func (e *Engine) ArchiveLocally(ctx context.Context, sessions []session.Session) (int, error) {
	if len(sessions) == 0 {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	archived, err := e.repo.Archive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load archive: %w", err)
	}

	now := session.NowUnix(e.clock)
	for _, s := range sessions {
		archived = append(archived, s.Archive(now))
	}

	if err := e.repo.SaveArchive(ctx, archived); err != nil {
		return 0, fmt.Errorf("failed to save archive: %w", err)
	}
	return len(sessions), nil
}

// QueueFailedSync merges sessions into the failed queue, skipping any whose
// start timestamp is already queued. It returns how many were added.
func (e *Engine) QueueFailedSync(ctx context.Context, sessions []session.Session) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	queue, err := e.repo.FailedSyncs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load failed queue: %w", err)
	}

	seen := make(map[int64]bool, len(queue))
	for _, s := range queue {
		seen[s.StartTimestamp] = true
	}

	added := 0
	for _, s := range sessions {
		if seen[s.StartTimestamp] {
			continue
		}
		seen[s.StartTimestamp] = true
		queue = append(queue, s.Clone())
		added++
	}

	if added == 0 {
		return 0, nil
	}
	if err := e.repo.SaveFailedSyncs(ctx, queue); err != nil {
		return 0, fmt.Errorf("failed to save failed queue: %w", err)
	}
	return added, nil
}

func (e *Engine) clearFailedQueue(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repo.SaveFailedSyncs(ctx, nil)
}

// PruneArchive drops entries whose archive time and start time are both older
// than the retention window. It returns how many were removed.
func (e *Engine) PruneArchive(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 1 {
		retentionDays = session.DefaultRetentionDays
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	archived, err := e.repo.Archive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load archive: %w", err)
	}

	cutoff := session.NowUnix(e.clock) - int64(retentionDays)*session.SecondsPerDay
	kept := archived[:0]
	for _, a := range archived {
		if a.ArchivedAt >= cutoff || a.StartTimestamp >= cutoff {
			kept = append(kept, a)
		}
	}

	removed := len(archived) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := e.repo.SaveArchive(ctx, kept); err != nil {
		return 0, fmt.Errorf("failed to save archive: %w", err)
	}
	return removed, nil
}

// Forget removes the given visits from the archive and the failed queue. It
// returns how many entries were dropped.
func (e *Engine) Forget(ctx context.Context, sessions []session.Session) (int, error) {
	if len(sessions) == 0 {
		return 0, nil
	}

	drop := make(map[session.VisitKey]bool, len(sessions))
	for _, s := range sessions {
		drop[s.Key()] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	archived, err := e.repo.Archive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load archive: %w", err)
	}
	keptArchive := slices.DeleteFunc(archived, func(a session.ArchivedSession) bool {
		return drop[a.Key()]
	})
	removed := len(archived) - len(keptArchive)

	queue, err := e.repo.FailedSyncs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load failed queue: %w", err)
	}
	queued := len(queue)
	keptQueue := slices.DeleteFunc(queue, func(s session.Session) bool {
		return drop[s.Key()]
	})

	if removed > 0 {
		if err := e.repo.SaveArchive(ctx, keptArchive); err != nil {
			return 0, fmt.Errorf("failed to save archive: %w", err)
		}
	}
	if len(keptQueue) < queued {
		if err := e.repo.SaveFailedSyncs(ctx, keptQueue); err != nil {
			return removed, fmt.Errorf("failed to save failed queue: %w", err)
		}
		removed += queued - len(keptQueue)
	}
	return removed, nil
}

// ClearData wipes pending, archive and failed queue
func (e *Engine) ClearData(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repo.ClearData(ctx)
}

// IsOffline reports whether a result failed for lack of connectivity
func IsOffline(r Result) bool {
	return errors.Is(r.err, ErrOffline)
}
