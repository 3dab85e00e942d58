package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSummary(t *testing.T) {
	sum := BuildSummary(newTestResult(t))

	assert.Equal(t, "smoke", sum.Name)
	assert.False(t, sum.Passed)
	assert.Equal(t, 1000.0, sum.DurationMs)

	assert.Equal(t, int64(4), sum.Counters.Requests)
	assert.Equal(t, int64(2), sum.Counters.FailedRequests)
	assert.Equal(t, int64(240), sum.Counters.BytesReceived)
	assert.Equal(t, int64(2), sum.Counters.Iterations)
	assert.Equal(t, 2, sum.Counters.MaxVUs)

	require.Contains(t, sum.Trends, "http_req_duration")
	require.Contains(t, sum.Trends, "http_req_duration{status:200}")
	require.Contains(t, sum.Trends, "http_req_duration{status:429}")
	require.Contains(t, sum.Trends, "http_req_duration{name:keyed}")

	ok := sum.Trends["http_req_duration{status:200}"]
	assert.Equal(t, 20.0, ok["max"])
	assert.Equal(t, 10.0, ok["min"])
	assert.Equal(t, 15.0, ok["avg"])
	assert.Equal(t, 2.0, ok["count"])
	assert.Len(t, ok, 7)

	require.Len(t, sum.Thresholds, 2)
	require.Contains(t, sum.Scenarios, "late")
	assert.True(t, sum.Scenarios["late"].Skipped)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, newTestResult(t)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, "smoke", decoded["name"])
	counters, ok := decoded["counters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 4.0, counters["http_reqs"])

	trends, ok := decoded["trends"].(map[string]any)
	require.True(t, ok)
	limited, ok := trends["http_req_duration{status:429}"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5.0, limited["p(95)"])
}

func TestExportSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "smoke.json")
	require.NoError(t, ExportSummary(path, newTestResult(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var sum Summary
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, "smoke", sum.Name)
	assert.Equal(t, int64(4), sum.Counters.Requests)
}
