package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/stats"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/syncer"
)

// Request is a user message understood by the tracker
type Request interface {
	isRequest()
}

// Response answers a Request. Value holds the typed answer.
type Response struct {
	Value any
	Err   error
}

type (
	GetStats struct {
		Sort  string
		Query string
	}
	GetCurrentSession struct{}
	SyncNow           struct{}
	ValidateUser      struct {
		UserID string
		Config session.Config
	}
	GetConfig  struct{}
	SaveConfig struct {
		Config session.Config
	}
	ClearData  struct{}
	ExportData struct{}
)

func (GetStats) isRequest()          {}
func (GetCurrentSession) isRequest() {}
func (SyncNow) isRequest()           {}
func (ValidateUser) isRequest()      {}
func (GetConfig) isRequest()         {}
func (SaveConfig) isRequest()        {}
func (ClearData) isRequest()         {}
func (ExportData) isRequest()        {}

// Export is a full dump of local data
type Export struct {
	DeviceID    string                    `json:"device_id"`
	Config      session.Config            `json:"config"`
	Pending     []session.Session         `json:"pending"`
	Archive     []session.ArchivedSession `json:"archive"`
	FailedSyncs []session.Session         `json:"failed_syncs"`
	ExportedAt  string                    `json:"exported_at"`
}

func (t *Tracker) onMessage(ctx context.Context, msg UserMessage) {
	reply := func(v any, err error) {
		msg.Reply <- Response{Value: v, Err: err}
	}

	switch req := msg.Request.(type) {
	case GetStats:
		view := t.snapshot()
		var current *session.Session
		if t.current != nil {
			c := t.current.Clone()
			current = &c
		}
		now := t.clock.Now()
		t.async(func() {
			archive, err := t.repo.Archive(ctx)
			if err != nil {
				reply(nil, fmt.Errorf("failed to load archive: %w", err))
				return
			}
			pending, archive := view.resolve(archive)
			out := stats.Aggregate(pending, archive, current, now, t.loc)
			out.Domains = stats.SortBy(stats.Search(out.Domains, req.Query), req.Sort)
			reply(out, nil)
		})

	case GetCurrentSession:
		if t.current == nil {
			reply((*stats.CurrentView)(nil), nil)
			return
		}
		live := t.current.ClosedAt(session.NowUnix(t.clock))
		reply(&stats.CurrentView{
			URL:             live.URL,
			Domain:          live.Domain,
			Title:           live.Title,
			StartTimestamp:  live.StartTimestamp,
			DurationSeconds: live.DurationSeconds,
			TabID:           live.TabID,
		}, nil)

	case SyncNow:
		t.startSync(ctx, msg.Reply)

	case ValidateUser:
		t.async(func() {
			reply(t.engine.ValidateUser(ctx, req.UserID, req.Config))
		})

	case GetConfig:
		reply(t.cfg, nil)

	case SaveConfig:
		if err := req.Config.Validate(); err != nil {
			reply(nil, err)
			return
		}
		if err := t.repo.SaveConfig(ctx, req.Config); err != nil {
			reply(nil, fmt.Errorf("failed to save config: %w", err))
			return
		}
		t.applyConfig(ctx, req.Config)
		reply(t.cfg, nil)

	case ClearData:
		if err := t.engine.ClearData(ctx); err != nil {
			reply(nil, err)
			return
		}
		// The open session is dropped, not saved
		t.current = nil
		t.pending = nil
		t.generation++
		t.metrics.PendingSessions.Set(0)
		t.logger.Info("local data cleared")
		reply(nil, nil)
		t.startTrackingActiveTab(ctx)

	case ExportData:
		view := t.snapshot()
		out := Export{
			DeviceID:   t.deviceID,
			Config:     t.cfg.Redacted(),
			ExportedAt: t.clock.Now().UTC().Format(time.RFC3339),
		}
		t.async(func() {
			archive, err := t.repo.Archive(ctx)
			if err != nil {
				reply(nil, fmt.Errorf("failed to load archive: %w", err))
				return
			}
			out.Pending, out.Archive = view.resolve(archive)
			if out.Pending == nil {
				out.Pending = []session.Session{}
			}
			if out.FailedSyncs, err = t.repo.FailedSyncs(ctx); err != nil {
				reply(nil, fmt.Errorf("failed to load failed syncs: %w", err))
				return
			}
			reply(out, nil)
		})

	default:
		reply(nil, fmt.Errorf("unknown request %T", msg.Request))
	}
}

// applyConfig switches to cfg and re-arms the alarm
func (t *Tracker) applyConfig(ctx context.Context, cfg session.Config) {
	previous := t.cfg
	t.cfg = cfg

	if cfg.SyncEvery() != previous.SyncEvery() && t.ticker != nil {
		t.ticker.Reset(cfg.SyncEvery(), "tracker", "alarm")
	}

	// Turning idle detection off wakes a tracker that was stopped by it
	if !cfg.IdleDetection && t.idle {
		t.idle = false
		if t.current == nil {
			t.startTrackingActiveTab(ctx)
		}
	}
	t.logger.Info("config saved",
		"sync_interval", cfg.SyncEvery(),
		"idle_detection", cfg.IdleDetection,
		"backend", cfg.HasBackend())
}

// async runs fn off the loop. Replies go straight to the caller.
func (t *Tracker) async(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// ask sends req and waits for the typed answer
func ask[T any](ctx context.Context, t *Tracker, req Request) (T, error) {
	var zero T
	reply := make(chan Response, 1)
	if err := t.Send(ctx, UserMessage{Request: req, Reply: reply}); err != nil {
		return zero, err
	}

	select {
	case resp := <-reply:
		if resp.Err != nil {
			return zero, resp.Err
		}
		if resp.Value == nil {
			return zero, nil
		}
		v, ok := resp.Value.(T)
		if !ok {
			return zero, fmt.Errorf("unexpected response %T", resp.Value)
		}
		return v, nil
	case <-t.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Stats aggregates usage. sortKey and query are optional.
func (t *Tracker) Stats(ctx context.Context, sortKey, query string) (stats.Stats, error) {
	return ask[stats.Stats](ctx, t, GetStats{Sort: sortKey, Query: query})
}

// CurrentSession returns the open session as of now, or nil
func (t *Tracker) CurrentSession(ctx context.Context) (*stats.CurrentView, error) {
	return ask[*stats.CurrentView](ctx, t, GetCurrentSession{})
}

// SyncNow runs a sync, or waits for the one in flight
func (t *Tracker) SyncNow(ctx context.Context) (syncer.Result, error) {
	return ask[syncer.Result](ctx, t, SyncNow{})
}

// ValidateUser checks userID against the allowlist configured in cfg
func (t *Tracker) ValidateUser(ctx context.Context, userID string, cfg session.Config) (syncer.ValidationResult, error) {
	return ask[syncer.ValidationResult](ctx, t, ValidateUser{UserID: userID, Config: cfg})
}

// Config returns the active config
func (t *Tracker) Config(ctx context.Context) (session.Config, error) {
	return ask[session.Config](ctx, t, GetConfig{})
}

// SaveConfig validates, persists and applies cfg
func (t *Tracker) SaveConfig(ctx context.Context, cfg session.Config) (session.Config, error) {
	return ask[session.Config](ctx, t, SaveConfig{Config: cfg})
}

// ClearData deletes pending, archived and queued sessions
func (t *Tracker) ClearData(ctx context.Context) error {
	_, err := ask[any](ctx, t, ClearData{})
	return err
}

// Export dumps all local data with the API key redacted
func (t *Tracker) Export(ctx context.Context) (Export, error) {
	return ask[Export](ctx, t, ExportData{})
}
