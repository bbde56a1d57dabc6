package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/metrics"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/storage"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/syncer"
)

// ErrStopped is returned to callers once the event loop has exited
var ErrStopped = errors.New("tracker stopped")

const (
	eventBufferSize  = 256
	defaultSyncLimit = 30 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// TabQuerier reports the active tab of the focused window
type TabQuerier interface {
	ActiveTab(ctx context.Context) (session.Tab, bool, error)
}

// Options wires the tracker to its collaborators
type Options struct {
	Repo    *storage.Repository
	Engine  *syncer.Engine
	Clock   quartz.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Location decides where "today" starts in stats. Defaults to time.Local.
	Location *time.Location

	// Querier is consulted when tracking resumes. Optional.
	Querier TabQuerier

	// SeedConfig is stored when no config has been saved yet. Optional.
	SeedConfig *session.Config

	SyncTimeout time.Duration
}

// Tracker owns the session state machine. All state below is only touched by
// the goroutine running Run; everything else talks to it through events.
type Tracker struct {
	repo        *storage.Repository
	engine      *syncer.Engine
	clock       quartz.Clock
	metrics     *metrics.Metrics
	logger      *slog.Logger
	loc         *time.Location
	querier     TabQuerier
	seed        *session.Config
	syncTimeout time.Duration

	events  chan Event
	done    chan struct{}
	started chan struct{}
	wg      sync.WaitGroup

	current   *session.Session
	activeTab *session.Tab
	idle      bool
	focused   bool
	pending   []session.Session
	cfg       session.Config
	deviceID  string

	// Bumped whenever pending is replaced wholesale, so a sync finishing
	// afterwards does not trim sessions it never saw
	generation int
	syncing    bool
	waiters    []chan<- Response
	ticker     *quartz.Ticker

	// Batch handed to the engine and the generation it was taken at
	inFlight    []session.Session
	inFlightGen int
}

// New creates a tracker. Call Run to start the event loop.
func New(opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncLimit
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}

	return &Tracker{
		repo:        opts.Repo,
		engine:      opts.Engine,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		loc:         opts.Location,
		querier:     opts.Querier,
		seed:        opts.SeedConfig,
		syncTimeout: opts.SyncTimeout,
		events:      make(chan Event, eventBufferSize),
		done:        make(chan struct{}),
		started:     make(chan struct{}),
		focused:     true,
		cfg:         session.DefaultConfig(),
	}
}

// Run loads persisted state and processes events until ctx is cancelled.
// The open session, if any, is closed and persisted before returning.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.load(ctx); err != nil {
		close(t.done)
		return err
	}

	t.ticker = t.clock.NewTicker(t.cfg.SyncEvery(), "tracker", "alarm")
	defer t.ticker.Stop()

	close(t.started)
	t.logger.Info("tracker started",
		"device_id", t.deviceID,
		"pending", len(t.pending),
		"sync_interval", t.cfg.SyncEvery())

	t.startTrackingActiveTab(ctx)

	for {
		select {
		case <-ctx.Done():
			t.shutdown(ctx)
			return nil
		case <-t.ticker.C:
			t.handle(ctx, AlarmFired{Name: AlarmSync})
		case ev := <-t.events:
			t.handle(ctx, ev)
		}
	}
}

// Started is closed once persisted state is loaded and events are processed
func (t *Tracker) Started() <-chan struct{} {
	return t.started
}

// Send queues an event for the loop
func (t *Tracker) Send(ctx context.Context, ev Event) error {
	select {
	case t.events <- ev:
		return nil
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) load(ctx context.Context) error {
	deviceID, err := t.repo.DeviceID(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device id: %w", err)
	}
	t.deviceID = deviceID

	cfg, found, err := t.repo.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !found && t.seed != nil {
		cfg = *t.seed
		if err := t.repo.SaveConfig(ctx, cfg); err != nil {
			return fmt.Errorf("failed to save seed config: %w", err)
		}
		t.logger.Info("stored seed config", "endpoint", cfg.Endpoint, "user_id", cfg.UserID)
	}
	t.cfg = cfg

	pending, err := t.repo.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending sessions: %w", err)
	}
	t.pending = pending
	t.metrics.PendingSessions.Set(float64(len(t.pending)))
	return nil
}

func (t *Tracker) shutdown(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	t.endCurrentSession(closeCtx)

	if t.syncing {
		waitCtx, cancelWait := context.WithTimeout(context.WithoutCancel(ctx), t.syncTimeout+shutdownTimeout)
		t.awaitSync(waitCtx)
		cancelWait()
	}

	close(t.done)
	t.wg.Wait()
	for _, w := range t.waiters {
		w <- Response{Err: ErrStopped}
	}
	t.waiters = nil
	t.logger.Info("tracker stopped", "pending", len(t.pending))
}

// post delivers an internal event from a helper goroutine
func (t *Tracker) post(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *Tracker) handle(ctx context.Context, ev Event) {
	t.metrics.Events.WithLabelValues(ev.Kind()).Inc()

	switch e := ev.(type) {
	case TabActivated:
		t.onTabActivated(ctx, e.Tab)
	case TabUpdated:
		t.onTabUpdated(ctx, e.Tab)
	case TabRemoved:
		t.onTabRemoved(ctx, e.TabID)
	case FocusChanged:
		t.onFocusChanged(ctx, e.Focused)
	case IdleStateChanged:
		t.onIdleStateChanged(ctx, e.State)
	case AlarmFired:
		if e.Name == AlarmSync {
			t.startSync(ctx, nil)
		}
	case UserMessage:
		t.onMessage(ctx, e)
	case syncCompleted:
		t.onSyncCompleted(ctx, e)
	}
}

// trackingAllowed reports whether a new session may open right now
func (t *Tracker) trackingAllowed() bool {
	if !t.focused {
		return false
	}
	return !(t.cfg.IdleDetection && t.idle)
}

func (t *Tracker) onTabActivated(ctx context.Context, tab session.Tab) {
	t.activeTab = &tab
	if !t.trackingAllowed() {
		t.endCurrentSession(ctx)
		return
	}
	t.startSession(ctx, tab)
}

func (t *Tracker) onTabUpdated(ctx context.Context, tab session.Tab) {
	// Background tabs navigating do not affect the session
	if t.activeTab == nil || t.activeTab.ID != tab.ID {
		return
	}
	t.activeTab = &tab
	if !t.trackingAllowed() {
		return
	}
	t.updateCurrentSession(ctx, tab)
}

func (t *Tracker) onTabRemoved(ctx context.Context, tabID int) {
	if t.current != nil && t.current.TabID == tabID {
		t.endCurrentSession(ctx)
	}
	if t.activeTab != nil && t.activeTab.ID == tabID {
		t.activeTab = nil
	}
}

func (t *Tracker) onFocusChanged(ctx context.Context, focused bool) {
	t.focused = focused
	if !focused {
		t.endCurrentSession(ctx)
		return
	}
	t.startTrackingActiveTab(ctx)
}

func (t *Tracker) onIdleStateChanged(ctx context.Context, state IdleState) {
	if !t.cfg.IdleDetection {
		return
	}

	if state == IdleActive {
		if !t.idle {
			return
		}
		t.idle = false
		t.logger.Debug("user active again")
		t.startTrackingActiveTab(ctx)
		return
	}

	// idle -> locked keeps the tracker stopped
	if t.idle {
		return
	}
	t.idle = true
	t.logger.Debug("user went idle", "state", state)
	t.endCurrentSession(ctx)
}

// startSession closes whatever is open and opens a session for tab if it is
// trackable and the user is not idle
func (t *Tracker) startSession(ctx context.Context, tab session.Tab) {
	t.endCurrentSession(ctx)

	if !session.IsTrackable(tab.URL) {
		return
	}
	if t.cfg.IdleDetection && t.idle {
		return
	}

	s := session.New(tab, session.NowUnix(t.clock))
	t.current = &s
	t.logger.Debug("session started", "domain", s.Domain, "tab_id", s.TabID)
}

// endCurrentSession closes the open session and appends it to pending unless
// it lasted under a second. The slot is cleared either way.
func (t *Tracker) endCurrentSession(ctx context.Context) {
	if t.current == nil {
		return
	}
	s := *t.current
	t.current = nil

	s.Close(session.NowUnix(t.clock))
	if s.DurationSeconds < session.MinDurationSeconds {
		t.metrics.SessionsDiscarded.Inc()
		t.logger.Debug("discarded short session", "domain", s.Domain)
		return
	}

	t.pending = append(t.pending, s.Clone())
	t.metrics.SessionsClosed.Inc()
	t.metrics.PendingSessions.Set(float64(len(t.pending)))
	t.persistPending(ctx)
	t.logger.Debug("session closed",
		"domain", s.Domain,
		"duration_seconds", s.DurationSeconds,
		"pending", len(t.pending))
}

// updateCurrentSession follows navigation inside the active tab. A URL change
// splits the session; a title change is applied in place.
func (t *Tracker) updateCurrentSession(ctx context.Context, tab session.Tab) {
	if t.current == nil || tab.URL != t.current.URL {
		t.startSession(ctx, tab)
		return
	}
	if tab.Title != "" && tab.Title != t.current.Title {
		t.current.Title = tab.Title
	}
}

// startTrackingActiveTab resumes tracking after focus, activity or a sync
func (t *Tracker) startTrackingActiveTab(ctx context.Context) {
	if !t.trackingAllowed() {
		return
	}

	if t.querier != nil {
		tab, ok, err := t.querier.ActiveTab(ctx)
		switch {
		case err != nil:
			t.logger.Warn("failed to query active tab", "error", err)
		case ok:
			t.activeTab = &tab
		default:
			t.activeTab = nil
		}
	}

	if t.activeTab == nil {
		return
	}
	t.startSession(ctx, *t.activeTab)
}

func (t *Tracker) persistPending(ctx context.Context) {
	if err := t.repo.SavePending(ctx, t.pending); err != nil {
		t.logger.Warn("failed to persist pending sessions", "error", err, "pending", len(t.pending))
	}
}
