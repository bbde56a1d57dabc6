package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/stats"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/syncer"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/tracker"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Tracker is the part of the tracker the API talks to
type Tracker interface {
	Send(ctx context.Context, ev tracker.Event) error
	Stats(ctx context.Context, sortKey, query string) (stats.Stats, error)
	CurrentSession(ctx context.Context) (*stats.CurrentView, error)
	SyncNow(ctx context.Context) (syncer.Result, error)
	ValidateUser(ctx context.Context, userID string, cfg session.Config) (syncer.ValidationResult, error)
	Config(ctx context.Context) (session.Config, error)
	SaveConfig(ctx context.Context, cfg session.Config) (session.Config, error)
	ClearData(ctx context.Context) error
	Export(ctx context.Context) (tracker.Export, error)
}

// Pinger reports store health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains HTTP handlers for the API
type Handlers struct {
	tracker Tracker
	store   Pinger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(t Tracker, store Pinger) *Handlers {
	return &Handlers{
		tracker: t,
		store:   store,
	}
}

// GetStats handles GET /stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	out, err := h.tracker.Stats(r.Context(), query.Get("sort"), query.Get("q"))
	if err != nil {
		writeTrackerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:            out,
		TodayFormatted:   stats.FormatDuration(out.TodayTotal),
		AllTimeFormatted: stats.FormatDuration(out.AllTimeTotal),
	})
}

// GetCurrentSession handles GET /session/current
func (h *Handlers) GetCurrentSession(w http.ResponseWriter, r *http.Request) {
	current, err := h.tracker.CurrentSession(r.Context())
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CurrentSessionResponse{Session: current})
}

// SyncNow handles POST /sync. Failed syncs are still a 200: the outcome is in the body.
func (h *Handlers) SyncNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.tracker.SyncNow(r.Context())
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ValidateUser handles POST /validate-user
func (h *Handlers) ValidateUser(w http.ResponseWriter, r *http.Request) {
	var req ValidateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	cfg := req.Config
	if cfg == nil {
		saved, err := h.tracker.Config(r.Context())
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		cfg = &saved
	}

	result, err := h.tracker.ValidateUser(r.Context(), req.UserID, *cfg)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetConfig handles GET /config
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.tracker.Config(r.Context())
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SaveConfig handles PUT /config. The body replaces the whole config.
func (h *Handlers) SaveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg session.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	saved, err := h.tracker.SaveConfig(r.Context(), cfg)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// ClearData handles DELETE /data
func (h *Handlers) ClearData(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.ClearData(r.Context()); err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "local data cleared"})
}

// ExportData handles GET /export
func (h *Handlers) ExportData(w http.ResponseWriter, r *http.Request) {
	out, err := h.tracker.Export(r.Context())
	if err != nil {
		writeTrackerError(w, err)
		return
	}

	// Named after the day of the export as the tracker's clock saw it
	date, _, _ := strings.Cut(out.ExportedAt, "T")
	filename := fmt.Sprintf("browser-usage-%s.json", date)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	writeJSON(w, http.StatusOK, out)
}

// PostEvent handles POST /events from extensions and other event sources
func (h *Handlers) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	ev, err := req.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if err := h.tracker.Send(r.Context(), ev); err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SuccessResponse{Success: true})
}

// HealthCheck handles GET /healthz
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Store: "ok"})
}

func (req EventRequest) toEvent() (tracker.Event, error) {
	switch req.Type {
	case EventTabActivated:
		return tracker.TabActivated{Tab: *req.Tab}, nil
	case EventTabUpdated:
		return tracker.TabUpdated{Tab: *req.Tab}, nil
	case EventTabRemoved:
		return tracker.TabRemoved{TabID: *req.TabID}, nil
	case EventFocusChanged:
		return tracker.FocusChanged{Focused: *req.Focused}, nil
	case EventIdleStateChanged:
		state, err := tracker.ParseIdleState(req.State)
		if err != nil {
			return nil, err
		}
		return tracker.IdleStateChanged{State: state}, nil
	}
	return nil, errors.New("unknown event type")
}
