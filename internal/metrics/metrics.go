// Package metrics registers the engine's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the engine exports. Construct one
// per process and thread it through the Deps record; tests build
// their own against a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	EventsProcessed  prometheus.Counter
	EventsCached     prometheus.Counter
	EventsRejected   *prometheus.CounterVec
	EventsInvalid    prometheus.Counter
	SignalsEmitted   *prometheus.CounterVec
	LedgerFrames     prometheus.Counter
	ReconcileReplays *prometheus.CounterVec
	PipelineLatency  prometheus.Histogram
	EmitLatency      prometheus.Histogram
}

// New creates and registers the instrument set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omen_events_processed_total",
			Help: "Raw events accepted by the pipeline.",
		}),
		EventsCached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omen_events_cached_total",
			Help: "Events answered from the idempotency cache.",
		}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omen_events_rejected_total",
			Help: "Events rejected by validation, by rule.",
		}, []string{"reason"}),
		EventsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omen_events_invalid_total",
			Help: "Malformed events rejected at the pipeline entrance.",
		}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omen_signals_emitted_total",
			Help: "Emit outcomes by status.",
		}, []string{"status"}),
		LedgerFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omen_ledger_frames_written_total",
			Help: "Frames appended to the ledger.",
		}),
		ReconcileReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omen_reconcile_replays_total",
			Help: "Reconciliation replay outcomes by result.",
		}, []string{"result"}),
		PipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "omen_pipeline_latency_seconds",
			Help:    "Event processing latency.",
			Buckets: prometheus.DefBuckets,
		}),
		EmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "omen_emit_latency_seconds",
			Help:    "Dual-path emission latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.EventsProcessed, m.EventsCached, m.EventsRejected, m.EventsInvalid,
		m.SignalsEmitted, m.LedgerFrames, m.ReconcileReplays,
		m.PipelineLatency, m.EmitLatency,
	)
	return m
}
