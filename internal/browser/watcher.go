package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/coder/retry"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/cdp"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/tracker"
)

// Sink receives tracker events
type Sink interface {
	Send(ctx context.Context, ev tracker.Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, ev tracker.Event) error

func (f SinkFunc) Send(ctx context.Context, ev tracker.Event) error {
	return f(ctx, ev)
}

// This struct follows a debuggable browser and reports tab changes. The
// first page target listed by the browser is the one the user is looking at.
type Watcher struct {
	host     string
	port     string
	interval time.Duration
	sink     Sink
	clock    quartz.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	ids    map[string]int
	nextID int
	tabs   map[string]session.Tab
	active string
}

// NewWatcher creates a watcher for the debug endpoint at host:port
func NewWatcher(host, port string, interval time.Duration, sink Sink, clock quartz.Clock, logger *slog.Logger) *Watcher {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		host:     host,
		port:     port,
		interval: interval,
		sink:     sink,
		clock:    clock,
		logger:   logger,
		ids:      make(map[string]int),
		tabs:     make(map[string]session.Tab),
	}
}

// Run connects to the browser and reconnects with backoff until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	endpoint := cdp.Endpoint(w.host, w.port)
	for r := retry.New(time.Second, 30*time.Second); r.Wait(ctx); {
		err := w.watch(ctx, r)
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("browser debug connection unavailable", "endpoint", endpoint, "error", err)
		if err := w.forgetAll(ctx); err != nil {
			return nil
		}
	}
	return nil
}

func (w *Watcher) watch(ctx context.Context, r *retry.Retrier) error {
	wsURL, err := cdp.GetWebSocketURL(ctx, w.host, w.port)
	if err != nil {
		return err
	}

	client, err := cdp.Dial(ctx, wsURL)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := cdp.SetDiscoverTargets(ctx, client); err != nil {
		return err
	}
	r.Reset()
	w.logger.Info("connected to browser", "endpoint", cdp.Endpoint(w.host, w.port))

	if err := w.Reconcile(ctx); err != nil {
		return err
	}

	ticker := w.clock.NewTicker(w.interval, "watcher", "poll")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-client.Events():
			if !ok {
				if err := client.Err(); err != nil {
					return fmt.Errorf("connection closed: %w", err)
				}
				return errors.New("connection closed")
			}
			_, isTarget, err := cdp.ParseTargetEvent(ev)
			if err != nil {
				w.logger.Debug("ignoring malformed target event", "error", err)
				continue
			}
			if !isTarget {
				continue
			}
			if err := w.Reconcile(ctx); err != nil {
				return err
			}

		case <-ticker.C:
			// Activation has no Target event; polling catches tab switches
			if err := w.Reconcile(ctx); err != nil {
				return err
			}
		}
	}
}

// Reconcile lists the page targets and emits events for whatever changed
func (w *Watcher) Reconcile(ctx context.Context) error {
	targets, err := cdp.ListTargets(ctx, w.host, w.port)
	if err != nil {
		return err
	}
	return w.emit(ctx, w.apply(cdp.Pages(targets)))
}

// ActiveTab returns the last known active tab
func (w *Watcher) ActiveTab(_ context.Context) (session.Tab, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == "" {
		return session.Tab{}, false, nil
	}
	return w.tabs[w.active], true, nil
}

// apply swaps in a new page list and returns the events that describe the change
func (w *Watcher) apply(pages []cdp.Target) []tracker.Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := make(map[string]session.Tab, len(pages))
	for _, page := range pages {
		current[page.ID] = w.tabFor(page)
	}

	var events []tracker.Event
	var removed []int
	for targetID, tab := range w.tabs {
		if _, ok := current[targetID]; !ok {
			removed = append(removed, tab.ID)
			delete(w.ids, targetID)
		}
	}
	sort.Ints(removed)
	for _, id := range removed {
		events = append(events, tracker.TabRemoved{TabID: id})
	}

	active := ""
	if len(pages) > 0 {
		active = pages[0].ID
	}
	if active != "" {
		tab := current[active]
		previous, known := w.tabs[active]
		switch {
		case active != w.active:
			events = append(events, tracker.TabActivated{Tab: tab})
		case known && (previous.URL != tab.URL || previous.Title != tab.Title):
			events = append(events, tracker.TabUpdated{Tab: tab})
		}
	}

	w.tabs = current
	w.active = active
	return events
}

// tabFor maps a target to a tab with a stable small id
func (w *Watcher) tabFor(target cdp.Target) session.Tab {
	id, ok := w.ids[target.ID]
	if !ok {
		w.nextID++
		id = w.nextID
		w.ids[target.ID] = id
	}
	return session.Tab{ID: id, WindowID: 1, URL: target.URL, Title: target.Title}
}

// forgetAll reports every known tab as closed after the browser went away
func (w *Watcher) forgetAll(ctx context.Context) error {
	return w.emit(ctx, w.apply(nil))
}

func (w *Watcher) emit(ctx context.Context, events []tracker.Event) error {
	for _, ev := range events {
		if err := w.sink.Send(ctx, ev); err != nil {
			return fmt.Errorf("failed to deliver %s: %w", ev.Kind(), err)
		}
	}
	return nil
}
