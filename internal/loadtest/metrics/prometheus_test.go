package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gather registers c on a fresh registry and returns its families by name.
func gather(t *testing.T, c prometheus.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	families, err := registry.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

// byStatus maps the status label of every metric in f to the metric.
func byStatus(f *dto.MetricFamily) map[string]*dto.Metric {
	out := make(map[string]*dto.Metric)
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "status" {
				out[l.GetValue()] = m
			}
		}
	}
	return out
}

func TestCollector_ExposesStatusClasses(t *testing.T) {
	engine := NewEngine()
	engine.Record(sample("200", 200, 10*time.Millisecond, "anonymous"))
	engine.Record(sample("429", 429, 2*time.Millisecond, "keyed"))
	engine.Record(sample("429", 429, 3*time.Millisecond, "keyed"))
	engine.AddActiveVUs(2)
	engine.AddIteration()

	families := gather(t, NewCollector(engine))

	requests := families["ratecheck_http_reqs_total"]
	require.NotNil(t, requests)
	assert.Equal(t, dto.MetricType_COUNTER, requests.GetType())
	reqs := byStatus(requests)
	require.Len(t, reqs, 2)
	assert.Equal(t, 1.0, reqs["200"].GetCounter().GetValue())
	assert.Equal(t, 2.0, reqs["429"].GetCounter().GetValue())

	duration := families["ratecheck_http_req_duration_seconds"]
	require.NotNil(t, duration)
	durs := byStatus(duration)
	require.Len(t, durs, 2)
	assert.Equal(t, uint64(2), durs["429"].GetSummary().GetSampleCount())

	vus := families["ratecheck_vus"]
	require.NotNil(t, vus)
	require.Len(t, vus.GetMetric(), 1)
	assert.Equal(t, 2.0, vus.GetMetric()[0].GetGauge().GetValue())
}

func TestCollector_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(NewCollector(NewEngine())))

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ratecheck_vus"])
	assert.True(t, names["ratecheck_iterations_total"])
}
