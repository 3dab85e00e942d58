package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/engine"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/threshold"
)

// newTestResult builds a result for two iterations of the anonymous plus
// keyed request pair against a limiter that rejects anonymous calls.
func newTestResult(t *testing.T) *engine.TestResult {
	t.Helper()

	m := metrics.NewEngine()
	m.Record(metrics.Sample{Request: "anonymous", Status: 429, Class: "429", Latency: 5 * time.Millisecond, Bytes: 100})
	m.Record(metrics.Sample{Request: "keyed", Status: 200, Class: "200", Latency: 10 * time.Millisecond, Bytes: 20})
	m.Record(metrics.Sample{Request: "anonymous", Status: 429, Class: "429", Latency: 5 * time.Millisecond, Bytes: 100})
	m.Record(metrics.Sample{Request: "keyed", Status: 200, Class: "200", Latency: 20 * time.Millisecond, Bytes: 20})
	m.AddIteration()
	m.AddIteration()
	m.AddActiveVUs(2)
	m.AddActiveVUs(-2)
	m.Stop()

	stats, err := metrics.ParseTrendStats([]string{"min", "med", "avg", "p(90)", "p(95)", "max", "count"})
	require.NoError(t, err)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &engine.TestResult{
		Name:      "smoke",
		StartTime: start,
		EndTime:   start.Add(time.Second),
		Duration:  time.Second,
		Scenarios: map[string]*engine.ScenarioResult{
			"default": {Name: "default", Executor: "constant-vus", Duration: time.Second, Iterations: 2, MaxVUs: 2},
			"late":    {Name: "late", Executor: "constant-vus", Skipped: true},
		},
		Metrics:           m.Snapshot(),
		SummaryTrendStats: []string{"min", "med", "avg", "p(90)", "p(95)", "max", "count"},
		TrendStats:        stats,
		Passed:            false,
		Thresholds: []threshold.Result{
			{Selector: "http_req_duration{status:200}", Expression: "max>=0", Passed: true, Actual: 20},
			{Selector: "http_reqs{status:429}", Expression: "count==0", Passed: false, Actual: 2, Message: "count is 2, want == 0"},
		},
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, newTestResult(t), NewPalette(false)))
	out := buf.String()

	assert.NotContains(t, out, "\033[", "disabled palette must not emit escape codes")

	assert.Contains(t, out, "THRESHOLDS")
	assert.Contains(t, out, "✓ 'max>=0'")
	assert.Contains(t, out, "✗ 'count==0' count is 2, want == 0")

	assert.Contains(t, out, "{ status:200 }")
	assert.Contains(t, out, "{ status:429 }")
	assert.Contains(t, out, "{ name:anonymous }")
	assert.Contains(t, out, "{ name:keyed }")
	assert.Contains(t, out, "max=20.00ms")
	assert.Contains(t, out, "min=5.00ms")
	assert.Contains(t, out, "count=4")

	assert.Contains(t, out, "50.00% 2 out of 4")
	assert.Contains(t, out, "vus_max")
	assert.NotContains(t, out, "dropped_iterations")

	assert.Contains(t, out, "default constant-vus, 2 iterations in 1.0s, up to 2 VUs")
	assert.Contains(t, out, "late skipped")
	assert.Contains(t, out, "smoke finished in 1.0s, thresholds FAILED")
}

func TestWriteSummary_StatusLinesFollowCodeOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, newTestResult(t), nil))
	out := buf.String()

	i200 := strings.Index(out, "{ status:200 }")
	i429 := strings.Index(out, "{ status:429 }")
	require.True(t, i200 >= 0 && i429 >= 0)
	assert.Less(t, i200, i429)
}

func TestWriteSummary_TrendStatsFromNames(t *testing.T) {
	result := newTestResult(t)
	result.TrendStats = nil
	result.SummaryTrendStats = []string{"max", "count"}
	result.Thresholds = nil
	result.Passed = true
	result.Interrupted = true

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, result, NewPalette(false)))
	out := buf.String()

	assert.Contains(t, out, "max=20.00ms count=4")
	assert.NotContains(t, out, "avg=")
	assert.NotContains(t, out, "THRESHOLDS")
	assert.Contains(t, out, "thresholds PASSED (interrupted)")
}

func TestWriteSummary_EmptyMetrics(t *testing.T) {
	result := &engine.TestResult{Name: "empty", Passed: true}

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, result, NewPalette(false)))
	assert.Contains(t, buf.String(), "0.00% 0 out of 0")
}

func TestPalette_Mark(t *testing.T) {
	p := NewPalette(false)
	assert.Equal(t, "✓", p.Mark(true))
	assert.Equal(t, "✗", p.Mark(false))

	colored := NewPalette(true)
	assert.Contains(t, colored.Mark(true), "\033[")
	assert.Equal(t, "✓", stripANSI(colored.Mark(true)))
}

func TestPalette_ErrorRate(t *testing.T) {
	p := NewPalette(false)
	assert.Same(t, p.Good, p.ErrorRate(0))
	assert.Same(t, p.Warn, p.ErrorRate(0.02))
	assert.Same(t, p.Bad, p.ErrorRate(0.5))
}
