// Package telemetry exposes Prometheus metrics for the memory service.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the instrument set shared by the core client and the HTTP
// server. Create it once per process.
type Metrics struct {
	// AddRequested counts ingest calls at entry, before any work.
	AddRequested prometheus.Counter

	// AddTotal counts completed ingest calls by outcome ("ok", "error").
	AddTotal *prometheus.CounterVec

	// ReconcileDecisions counts reconcile events by type (ADD, UPDATE,
	// DELETE, NONE).
	ReconcileDecisions *prometheus.CounterVec

	// SearchTotal counts searches by plan mode ("native", "fallback").
	SearchTotal *prometheus.CounterVec

	// SearchDuration observes end-to-end search latency in seconds.
	SearchDuration prometheus.Histogram

	// StoreErrors counts storage failures by operation.
	StoreErrors *prometheus.CounterVec
}

// New registers the instrument set on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AddRequested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "add_requested_total",
			Help:      "Ingest calls received.",
		}),
		AddTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "add_total",
			Help:      "Completed ingest calls by outcome.",
		}, []string{"outcome"}),
		ReconcileDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "reconcile_decisions_total",
			Help:      "Reconcile decisions by event type.",
		}, []string{"event"}),
		SearchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "search_total",
			Help:      "Searches by execution mode.",
		}, []string{"mode"}),
		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recall",
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "store_errors_total",
			Help:      "Storage failures by operation.",
		}, []string{"op"}),
	}
}
