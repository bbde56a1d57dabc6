package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/metrics"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/stats"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/syncer"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/tracker"
)

// fakeTracker records what the handlers ask for
type fakeTracker struct {
	mu        sync.Mutex
	events    []tracker.Event
	cfg       session.Config
	sortKey   string
	query     string
	validated string
	cleared   bool
	err       error
}

func (f *fakeTracker) Send(_ context.Context, ev tracker.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeTracker) Stats(_ context.Context, sortKey, query string) (stats.Stats, error) {
	f.sortKey, f.query = sortKey, query
	return stats.Stats{
		TodayTotal:   65,
		AllTimeTotal: 7265,
		Domains:      []stats.DomainStats{{Domain: "a.com", Sessions: 1, TotalSeconds: 65}},
		PendingCount: 1,
	}, f.err
}

func (f *fakeTracker) CurrentSession(context.Context) (*stats.CurrentView, error) {
	return &stats.CurrentView{Domain: "b.com", DurationSeconds: 3}, f.err
}

func (f *fakeTracker) SyncNow(context.Context) (syncer.Result, error) {
	return syncer.Result{Success: false, Error: "offline", Queued: 2}, f.err
}

func (f *fakeTracker) ValidateUser(_ context.Context, userID string, cfg session.Config) (syncer.ValidationResult, error) {
	if !cfg.HasBackend() {
		return syncer.ValidationResult{}, fmt.Errorf("%w: endpoint and api key are required", syncer.ErrConfiguration)
	}
	f.validated = userID
	return syncer.ValidationResult{Valid: true}, nil
}

func (f *fakeTracker) Config(context.Context) (session.Config, error) {
	return f.cfg, f.err
}

func (f *fakeTracker) SaveConfig(_ context.Context, cfg session.Config) (session.Config, error) {
	if err := cfg.Validate(); err != nil {
		return session.Config{}, err
	}
	f.cfg = cfg
	return cfg, nil
}

func (f *fakeTracker) ClearData(context.Context) error {
	f.cleared = true
	return f.err
}

func (f *fakeTracker) Export(context.Context) (tracker.Export, error) {
	return tracker.Export{DeviceID: "device-1", Config: f.cfg.Redacted(), ExportedAt: "2026-03-10T23:30:00Z"}, f.err
}

type fakeStore struct{ err error }

func (s fakeStore) Ping(context.Context) error { return s.err }

// Test helper: router over a fake tracker
func setupRouter(t *testing.T) (http.Handler, *fakeTracker) {
	t.Helper()
	ft := &fakeTracker{cfg: session.DefaultConfig()}
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	return NewRouter(ft, fakeStore{}, reg), ft
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// TestGetStats tests query passthrough and formatting
func TestGetStats(t *testing.T) {
	router, ft := setupRouter(t)

	rec := do(t, router, http.MethodGet, "/stats?sort=today&q=a.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "today", ft.sortKey)
	assert.Equal(t, "a.com", ft.query)

	out := decode[map[string]any](t, rec)
	assert.Equal(t, float64(7265), out["all_time_total"])
	assert.Equal(t, "2h 1m", out["all_time_formatted"])
	assert.Equal(t, "1m 5s", out["today_formatted"])
	assert.Len(t, out["domains"], 1)
}

// TestCurrentSessionAndSync tests the read-only and sync endpoints
func TestCurrentSessionAndSync(t *testing.T) {
	router, _ := setupRouter(t)

	rec := do(t, router, http.MethodGet, "/session/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	current := decode[CurrentSessionResponse](t, rec)
	require.NotNil(t, current.Session)
	assert.Equal(t, "b.com", current.Session.Domain)

	rec = do(t, router, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[map[string]any](t, rec)
	assert.Equal(t, false, result["success"])
	assert.Equal(t, "offline", result["error"])
	assert.Equal(t, float64(2), result["queued"])
}

// TestPostEvent tests the event bridge
func TestPostEvent(t *testing.T) {
	router, ft := setupRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
		want   tracker.Event
	}{
		{
			name:   "tab activated",
			body:   `{"type":"tab_activated","tab":{"id":4,"url":"https://a.com","title":"A"}}`,
			status: http.StatusAccepted,
			want:   tracker.TabActivated{Tab: session.Tab{ID: 4, URL: "https://a.com", Title: "A"}},
		},
		{
			name:   "tab removed",
			body:   `{"type":"tab_removed","tab_id":4}`,
			status: http.StatusAccepted,
			want:   tracker.TabRemoved{TabID: 4},
		},
		{
			name:   "focus lost",
			body:   `{"type":"focus_changed","focused":false}`,
			status: http.StatusAccepted,
			want:   tracker.FocusChanged{Focused: false},
		},
		{
			name:   "idle",
			body:   `{"type":"idle_state_changed","state":"locked"}`,
			status: http.StatusAccepted,
			want:   tracker.IdleStateChanged{State: tracker.IdleLocked},
		},
		{name: "unknown type", body: `{"type":"tab_moved"}`, status: http.StatusBadRequest},
		{name: "missing tab", body: `{"type":"tab_updated"}`, status: http.StatusBadRequest},
		{name: "missing tab id", body: `{"type":"tab_removed"}`, status: http.StatusBadRequest},
		{name: "missing focus", body: `{"type":"focus_changed"}`, status: http.StatusBadRequest},
		{name: "bad idle state", body: `{"type":"idle_state_changed","state":"asleep"}`, status: http.StatusBadRequest},
		{name: "bad json", body: `{`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft.events = nil
			rec := do(t, router, http.MethodPost, "/events", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.want == nil {
				assert.Empty(t, ft.events)
				errResp := decode[ErrorResponse](t, rec)
				assert.Equal(t, ErrCodeInvalidRequest, errResp.Error.Code)
				return
			}
			require.Len(t, ft.events, 1)
			assert.Equal(t, tt.want, ft.events[0])
		})
	}
}

// TestPostEventStoppedTracker tests the unavailable status
func TestPostEventStoppedTracker(t *testing.T) {
	router, ft := setupRouter(t)
	ft.err = tracker.ErrStopped

	rec := do(t, router, http.MethodPost, "/events", `{"type":"focus_changed","focused":true}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ErrCodeTrackerStopped, decode[ErrorResponse](t, rec).Error.Code)
}

// TestConfigEndpoints tests reading, saving and rejecting configs
func TestConfigEndpoints(t *testing.T) {
	router, ft := setupRouter(t)

	rec := do(t, router, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[session.Config](t, rec)
	assert.Equal(t, session.DefaultConfig(), cfg)

	cfg.Endpoint = "https://x.supabase.co"
	cfg.APIKey = "anon"
	cfg.UserID = "alice"
	body, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"supabaseUrl"`)

	rec = do(t, router, http.MethodPut, "/config", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", ft.cfg.UserID)

	cfg.SyncInterval = 0
	body, _ = json.Marshal(cfg)
	rec = do(t, router, http.MethodPut, "/config", string(body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeInvalidConfig, decode[ErrorResponse](t, rec).Error.Code)
}

// TestValidateUser tests the saved-config fallback and the configuration error
func TestValidateUser(t *testing.T) {
	router, ft := setupRouter(t)

	rec := do(t, router, http.MethodPost, "/validate-user", `{"user_id":"bob"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeNotConfigured, decode[ErrorResponse](t, rec).Error.Code)

	rec = do(t, router, http.MethodPost, "/validate-user",
		`{"user_id":"bob","config":{"supabaseUrl":"https://x.supabase.co","supabaseKey":"anon"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[syncer.ValidationResult](t, rec).Valid)
	assert.Equal(t, "bob", ft.validated)

	rec = do(t, router, http.MethodPost, "/validate-user", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestDataEndpoints tests export and clear
func TestDataEndpoints(t *testing.T) {
	router, ft := setupRouter(t)
	ft.cfg.APIKey = "secret"

	rec := do(t, router, http.MethodGet, "/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="browser-usage-2026-03-10.json"`, rec.Header().Get("Content-Disposition"))
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = do(t, router, http.MethodDelete, "/data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ft.cleared)

	ft.err = errors.New("disk full")
	rec = do(t, router, http.MethodDelete, "/data", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

// TestHealthAndMetrics tests the operational endpoints
func TestHealthAndMetrics(t *testing.T) {
	ft := &fakeTracker{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SessionsClosed.Inc()

	router := NewRouter(ft, fakeStore{}, reg)
	rec := do(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)

	rec = do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sessions_closed_total 1")

	router = NewRouter(ft, fakeStore{err: errors.New("connection refused")}, reg)
	rec = do(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
