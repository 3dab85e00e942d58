package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/engine"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/threshold"
)

// Summary is the machine-readable form of a test result. Trend values are
// keyed by series ("http_req_duration", "http_req_duration{status:429}",
// "http_req_duration{name:keyed}") and then by statistic name, in
// milliseconds except for count.
type Summary struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	DurationMs  float64   `json:"durationMs"`
	Passed      bool      `json:"passed"`
	Interrupted bool      `json:"interrupted,omitempty"`

	Counters   Counters                      `json:"counters"`
	Trends     map[string]map[string]float64 `json:"trends"`
	Thresholds []threshold.Result            `json:"thresholds,omitempty"`
	Scenarios  map[string]ScenarioSummary    `json:"scenarios,omitempty"`
}

// Counters holds the run totals.
type Counters struct {
	Requests              int64   `json:"http_reqs"`
	FailedRequests        int64   `json:"http_req_failed"`
	BytesReceived         int64   `json:"data_received"`
	Iterations            int64   `json:"iterations"`
	InterruptedIterations int64   `json:"iterations_interrupted"`
	DroppedIterations     int64   `json:"dropped_iterations"`
	MaxVUs                int     `json:"vus_max"`
	RPS                   float64 `json:"http_reqs_rate"`
}

// ScenarioSummary is the per-scenario part of a Summary.
type ScenarioSummary struct {
	Executor              string  `json:"executor"`
	DurationMs            float64 `json:"durationMs"`
	Iterations            int64   `json:"iterations"`
	InterruptedIterations int64   `json:"interruptedIterations"`
	DroppedIterations     int64   `json:"droppedIterations"`
	MaxVUs                int     `json:"maxVUs"`
	Skipped               bool    `json:"skipped,omitempty"`
}

// BuildSummary converts a test result into its exported form.
func BuildSummary(result *engine.TestResult) *Summary {
	snap := result.Metrics
	if snap == nil {
		snap = &metrics.Snapshot{}
	}
	stats := trendStatsOf(result)

	sum := &Summary{
		Name:        result.Name,
		Description: result.Description,
		StartTime:   result.StartTime,
		EndTime:     result.EndTime,
		DurationMs:  millis(result.Duration),
		Passed:      result.Passed,
		Interrupted: result.Interrupted,
		Counters: Counters{
			Requests:              snap.TotalRequests,
			FailedRequests:        snap.FailedRequests,
			BytesReceived:         snap.TotalBytes,
			Iterations:            snap.Iterations,
			InterruptedIterations: snap.InterruptedIterations,
			DroppedIterations:     snap.DroppedIterations,
			MaxVUs:                snap.MaxVUs,
			RPS:                   snap.Rate(snap.TotalRequests),
		},
		Trends:     make(map[string]map[string]float64),
		Thresholds: result.Thresholds,
	}

	sum.Trends[durationMetric] = trendValues(snap.Latency, stats)
	for _, class := range snap.StatusClasses() {
		sum.Trends[durationMetric+"{status:"+string(class)+"}"] = trendValues(snap.Status(class), stats)
	}
	for _, name := range snap.RequestNames() {
		sum.Trends[durationMetric+"{name:"+name+"}"] = trendValues(snap.Request(name), stats)
	}

	if len(result.Scenarios) > 0 {
		sum.Scenarios = make(map[string]ScenarioSummary, len(result.Scenarios))
		for name, sc := range result.Scenarios {
			if sc == nil {
				continue
			}
			sum.Scenarios[name] = ScenarioSummary{
				Executor:              sc.Executor,
				DurationMs:            millis(sc.Duration),
				Iterations:            sc.Iterations,
				InterruptedIterations: sc.InterruptedIterations,
				DroppedIterations:     sc.DroppedIterations,
				MaxVUs:                sc.MaxVUs,
				Skipped:               sc.Skipped,
			}
		}
	}

	return sum
}

func trendValues(t *metrics.TrendSnapshot, stats []metrics.TrendStat) map[string]float64 {
	values := make(map[string]float64, len(stats))
	for _, stat := range stats {
		values[stat.String()] = t.Value(stat)
	}
	return values
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// WriteJSON writes the summary of result as indented JSON.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(BuildSummary(result))
}

// ExportSummary writes the JSON summary of result to path, creating parent
// directories as needed.
func ExportSummary(path string, result *engine.TestResult) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := WriteJSON(f, result); err != nil {
		f.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return f.Close()
}
