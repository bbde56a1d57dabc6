package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "usage_tracker"

// Sync outcome labels
const (
	ResultSynced       = "synced"
	ResultArchived     = "archived"
	ResultUnauthorized = "unauthorized"
	ResultOffline      = "offline"
	ResultFailed       = "failed"
	ResultEmpty        = "empty"
)

// Metrics holds the collectors shared by the tracker, the sync engine and the API
type Metrics struct {
	SessionsClosed    prometheus.Counter
	SessionsDiscarded prometheus.Counter
	PendingSessions   prometheus.Gauge
	Events            *prometheus.CounterVec
	SyncRuns          *prometheus.CounterVec
	SyncedSessions    prometheus.Counter
	SyncDuration      prometheus.Histogram
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions closed and appended to the pending buffer.",
		}),
		SessionsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_discarded_total",
			Help:      "Sessions dropped for lasting less than a second.",
		}),
		PendingSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_sessions",
			Help:      "Sessions waiting for the next sync.",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Browser and user events handled by the tracker.",
		}, []string{"type"}),
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync attempts by outcome.",
		}, []string{"result"}),
		SyncedSessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synced_sessions_total",
			Help:      "Sessions accepted by the backend.",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of sync attempts that reached the network.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
