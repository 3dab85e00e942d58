package threshold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

func snapshotWith(t *testing.T, samples ...metrics.Sample) *metrics.Snapshot {
	t.Helper()
	engine := metrics.NewEngine()
	engine.Start()
	for _, s := range samples {
		engine.Record(s)
	}
	engine.AddIteration()
	engine.Stop()
	return engine.Snapshot()
}

func ok(latency time.Duration) metrics.Sample {
	return metrics.Sample{Request: "anonymous", Status: 200, Class: "200", Latency: latency}
}

func limited(latency time.Duration) metrics.Sample {
	return metrics.Sample{Request: "keyed", Status: 429, Class: "429", Latency: latency}
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in      string
		want    Selector
		wantErr bool
	}{
		{in: "http_req_duration", want: Selector{Metric: MetricHTTPReqDuration}},
		{in: "http_req_duration{status:200}", want: Selector{Metric: MetricHTTPReqDuration, TagKey: "status", TagValue: "200"}},
		{in: "http_req_duration{ status : 429 }", want: Selector{Metric: MetricHTTPReqDuration, TagKey: "status", TagValue: "429"}},
		{in: "http_reqs{status:timeout}", want: Selector{Metric: MetricHTTPReqs, TagKey: "status", TagValue: "timeout"}},
		{in: "http_req_failed{name:keyed}", want: Selector{Metric: MetricHTTPReqFailed, TagKey: "name", TagValue: "keyed"}},
		{in: "iterations", want: Selector{Metric: MetricIterations}},
		{in: "http_req_duration{status:700}", wantErr: true},
		{in: "http_req_duration{status:2xx}", wantErr: true},
		{in: "http_req_duration{method:GET}", wantErr: true},
		{in: "iterations{status:200}", wantErr: true},
		{in: "vus", wantErr: true},
		{in: "http_req_duration{status:200", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSelector(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	duration := Selector{Metric: MetricHTTPReqDuration}

	tests := []struct {
		name    string
		sel     Selector
		expr    string
		op      Operator
		value   float64
		wantErr bool
	}{
		{name: "max>=0", sel: duration, expr: "max>=0", op: OpGreaterEqual, value: 0},
		{name: "spaced percentile", sel: duration, expr: "p(95) < 500", op: OpLess, value: 500},
		{name: "alias percentile", sel: duration, expr: "p99<=250.5", op: OpLessEqual, value: 250.5},
		{name: "duration value", sel: duration, expr: "avg < 1.5s", op: OpLess, value: 1500},
		{name: "not equal", sel: duration, expr: "min != 0", op: OpNotEqual, value: 0},
		{name: "count on reqs", sel: Selector{Metric: MetricHTTPReqs}, expr: "count > 10", op: OpGreater, value: 10},
		{name: "rate on failed", sel: Selector{Metric: MetricHTTPReqFailed}, expr: "rate == 0", op: OpEqual, value: 0},
		{name: "rate on duration", sel: duration, expr: "rate < 1", wantErr: true},
		{name: "avg on failed", sel: Selector{Metric: MetricHTTPReqFailed}, expr: "avg < 1", wantErr: true},
		{name: "duration on count", sel: Selector{Metric: MetricHTTPReqs}, expr: "count > 1s", wantErr: true},
		{name: "missing operator", sel: duration, expr: "max 5", wantErr: true},
		{name: "unknown stat", sel: duration, expr: "mean < 5", wantErr: true},
		{name: "bad value", sel: duration, expr: "max < fast", wantErr: true},
		{name: "empty", sel: duration, expr: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, err := Parse(tt.sel, tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.op, th.Operator)
			assert.InDelta(t, tt.value, th.Value, 1e-9)
			assert.Equal(t, tt.expr, th.Source)
		})
	}
}

func TestParseSet_SortedAndAggregatesErrors(t *testing.T) {
	set, err := ParseSet(map[string][]string{
		"http_reqs{status:429}":         {"count > 0"},
		"http_req_duration{status:200}": {"max>=0", "p(95)<500"},
	})
	require.NoError(t, err)
	require.Len(t, set, 3)
	assert.Equal(t, "http_req_duration{status:200}", set[0].Selector.String())
	assert.Equal(t, "max>=0", set[0].Source)
	assert.Equal(t, "p(95)<500", set[1].Source)
	assert.Equal(t, "http_reqs{status:429}", set[2].Selector.String())

	_, err = ParseSet(map[string][]string{
		"http_req_duration{status:999}": {"max>=0"},
		"http_req_duration":             {"max>>0"},
		"http_reqs":                     {},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "999")
	assert.Contains(t, err.Error(), "max>>0")
	assert.Contains(t, err.Error(), "at least one expression")
}

func TestEvaluate_TrivialThresholdPassesOnEmptyClass(t *testing.T) {
	set, err := ParseSet(map[string][]string{
		"http_req_duration{status:200}":     {"max>=0"},
		"http_req_duration{status:429}":     {"max>=0"},
		"http_req_duration{status:500}":     {"max>=0"},
		"http_req_duration{status:timeout}": {"max>=0"},
	})
	require.NoError(t, err)

	results, passed := set.Evaluate(snapshotWith(t, ok(10*time.Millisecond)))
	assert.True(t, passed)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Passed, r.Selector)
		assert.Empty(t, r.Message)
	}
}

func TestEvaluate_LatencyFailure(t *testing.T) {
	set, err := ParseSet(map[string][]string{
		"http_req_duration{status:200}": {"max < 50"},
	})
	require.NoError(t, err)

	results, passed := set.Evaluate(snapshotWith(t,
		ok(10*time.Millisecond),
		ok(80*time.Millisecond),
	))
	assert.False(t, passed)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.InDelta(t, 80, results[0].Actual, 0.001)
	assert.Contains(t, results[0].Message, "max is 80")
}

func TestEvaluate_CountsAndRates(t *testing.T) {
	snap := snapshotWith(t,
		ok(5*time.Millisecond),
		limited(1*time.Millisecond),
		limited(2*time.Millisecond),
		metrics.Sample{Request: "keyed", Class: metrics.ClassTimeout, Latency: time.Second},
	)

	set, err := ParseSet(map[string][]string{
		"http_reqs{status:429}":       {"count == 2"},
		"http_reqs":                   {"count == 4"},
		"http_req_failed":             {"rate == 0.75"},
		"http_req_failed{name:keyed}": {"rate == 1"},
		"http_reqs{status:timeout}":   {"count >= 1"},
		"iterations":                  {"count == 1"},
		"dropped_iterations":          {"count == 0"},
	})
	require.NoError(t, err)

	results, passed := set.Evaluate(snap)
	for _, r := range results {
		assert.True(t, r.Passed, "%s %s: %s", r.Selector, r.Expression, r.Message)
	}
	assert.True(t, passed)
}

func TestOperator_Compare(t *testing.T) {
	assert.True(t, OpLess.Compare(1, 2))
	assert.False(t, OpLess.Compare(2, 2))
	assert.True(t, OpLessEqual.Compare(2, 2))
	assert.True(t, OpGreater.Compare(3, 2))
	assert.True(t, OpGreaterEqual.Compare(2, 2))
	assert.True(t, OpEqual.Compare(2, 2))
	assert.True(t, OpNotEqual.Compare(1, 2))
	assert.False(t, Operator("~").Compare(1, 1))
}
