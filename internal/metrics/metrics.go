// Package metrics defines the Prometheus collectors exported by tally.
//
// Collectors are registered on an explicit registry so tests and embedded
// users do not share process-wide state. Endpoint exposure is left to the
// serve command.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tally"

// Metrics groups every collector used by the counter and limit subsystems.
type Metrics struct {
	EventsEnqueued prometheus.Counter
	EventsApplied  prometheus.Counter
	EventsFailed   prometheus.Counter
	EventsDropped  prometheus.Counter
	QueueDepth     prometheus.Gauge

	// IncrementAttempts is labelled by result: ok, conflict or error.
	IncrementAttempts *prometheus.CounterVec
	// RetryStreak is the number of consecutive failed attempts of the most
	// recent increment; it returns to zero once an increment lands.
	RetryStreak      prometheus.Gauge
	LastApplySuccess prometheus.Gauge

	HandleCacheSize      prometheus.Gauge
	HandleCacheEvictions prometheus.Counter

	LimitCacheSize     prometheus.Gauge
	LimitValue         *prometheus.GaugeVec
	WatchFirings       *prometheus.CounterVec
	WatchRearmFailures prometheus.Counter
	// Subscriptions counts watch subscriptions per state.
	Subscriptions *prometheus.GaugeVec
}

// New registers collectors on reg. A nil reg uses a private registry, which
// keeps the collectors usable without exposing them.
func New(reg prometheus.Registerer, processID string) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	var labels prometheus.Labels
	if processID != "" {
		labels = prometheus.Labels{"process_id": processID}
	}
	f := promauto.With(reg)
	return &Metrics{
		EventsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "events_enqueued_total",
			Help: "Increment events accepted by the ingestion queue.", ConstLabels: labels,
		}),
		EventsApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "events_applied_total",
			Help: "Increment events applied by the drain worker.", ConstLabels: labels,
		}),
		EventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "events_failed_total",
			Help: "Increment events the drain worker logged and skipped.", ConstLabels: labels,
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "events_dropped_total",
			Help: "Increment events abandoned when shutdown timed out.", ConstLabels: labels,
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "queue_depth",
			Help: "Increment events waiting in the ingestion queue.", ConstLabels: labels,
		}),
		IncrementAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "increment_attempts_total",
			Help: "Increment attempts against the counter store by result.", ConstLabels: labels,
		}, []string{"result"}),
		RetryStreak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "engine", Name: "retry_streak",
			Help: "Consecutive failed attempts of the latest increment.", ConstLabels: labels,
		}),
		LastApplySuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "engine", Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last increment that landed.", ConstLabels: labels,
		}),
		HandleCacheSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "engine", Name: "handle_cache_size",
			Help: "Counter handles currently cached.", ConstLabels: labels,
		}),
		HandleCacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "handle_cache_evictions_total",
			Help: "Counter handles evicted from a bounded cache.", ConstLabels: labels,
		}),
		LimitCacheSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "limits", Name: "cache_size",
			Help: "Categories with a cached limit.", ConstLabels: labels,
		}),
		LimitValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "limits", Name: "value",
			Help: "Current cached limit per category.", ConstLabels: labels,
		}, []string{"category"}),
		WatchFirings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "limits", Name: "watch_firings_total",
			Help: "Watch notifications processed per category.", ConstLabels: labels,
		}, []string{"category"}),
		WatchRearmFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "limits", Name: "watch_rearm_failures_total",
			Help: "Failed attempts to re-register a watch.", ConstLabels: labels,
		}),
		Subscriptions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "limits", Name: "subscriptions",
			Help: "Watch subscriptions by state.", ConstLabels: labels,
		}, []string{"state"}),
	}
}
