package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestNew_RegistersAllInstruments(t *testing.T) {
	m := New()

	m.EventsProcessed.Inc()
	m.EventsCached.Inc()
	m.EventsRejected.WithLabelValues("liquidity").Inc()
	m.EventsInvalid.Inc()
	m.SignalsEmitted.WithLabelValues("DELIVERED").Add(3)
	m.ReconcileReplays.WithLabelValues("replayed").Inc()
	m.PipelineLatency.Observe(0.012)
	m.EmitLatency.Observe(0.034)

	families := gather(t, m)
	for _, name := range []string{
		"omen_events_processed_total",
		"omen_events_cached_total",
		"omen_events_rejected_total",
		"omen_events_invalid_total",
		"omen_signals_emitted_total",
		"omen_ledger_frames_written_total",
		"omen_reconcile_replays_total",
		"omen_pipeline_latency_seconds",
		"omen_emit_latency_seconds",
	} {
		assert.Contains(t, families, name)
	}

	emitted := families["omen_signals_emitted_total"]
	require.Len(t, emitted.GetMetric(), 1)
	assert.Equal(t, float64(3), emitted.GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, "status", emitted.GetMetric()[0].GetLabel()[0].GetName())
	assert.Equal(t, "DELIVERED", emitted.GetMetric()[0].GetLabel()[0].GetValue())

	latency := families["omen_pipeline_latency_seconds"]
	assert.Equal(t, dto.MetricType_HISTOGRAM, latency.GetType())
	assert.Equal(t, uint64(1), latency.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNew_RegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.EventsProcessed.Inc()

	families := gather(t, b)
	processed := families["omen_events_processed_total"]
	require.NotNil(t, processed)
	assert.Zero(t, processed.GetMetric()[0].GetCounter().GetValue())
}
