package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/executor"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

func newTestConsole(buf *bytes.Buffer, tty, quiet bool) *ConsoleOutput {
	return NewConsoleOutput(ConsoleOutputConfig{
		TestName:      "smoke",
		ExecutorType:  "constant-vus",
		TotalDuration: time.Minute,
		Writer:        buf,
		ForceTTY:      tty,
		Quiet:         quiet,
		NoColor:       true,
	})
}

func sampleLiveStats() *LiveStats {
	return &LiveStats{
		Progress:      0.5,
		Elapsed:       30 * time.Second,
		Remaining:     30 * time.Second,
		ActiveVUs:     5,
		TargetVUs:     5,
		CurrentRPS:    9.8,
		TotalRequests: 1200,
		Limited:       600,
		Errors:        600,
		ErrorRate:     0.5,
		LatencyP95:    12 * time.Millisecond,
		LatencyAvg:    4 * time.Millisecond,
		CurrentPhase:  "steady",
	}
}

func TestNewConsoleOutput_NonTerminalWriter(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})

	if c.IsTTY() {
		t.Error("a bytes.Buffer is not a terminal")
	}
	if c.UseColors() {
		t.Error("colors should be off for a non-terminal writer")
	}
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false, false).PrintHeader()

	out := buf.String()
	if !strings.Contains(out, "smoke [constant-vus] for 1m 00s") {
		t.Errorf("header missing title line:\n%s", out)
	}
	if strings.Contains(out, "\033[") {
		t.Error("header should not contain escape codes with NoColor")
	}
}

func TestPrintHeader_Quiet(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false, true).PrintHeader()
	if buf.Len() != 0 {
		t.Errorf("quiet header wrote %q", buf.String())
	}
}

func TestUpdate_NonTTYIsNoop(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false, false).Update(sampleLiveStats())
	if buf.Len() != 0 {
		t.Errorf("Update() on a non-terminal wrote %q", buf.String())
	}
}

func TestUpdate_RedrawsInPlace(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, true, false)

	c.Update(sampleLiveStats())
	first := buf.String()
	if strings.Contains(first, "\033[") {
		t.Error("first draw should not move the cursor")
	}
	for _, want := range []string{"Progress:", "50%", "Phase:    steady", "VUs:     5 / 5", "Requests:    1,200", "Limited:     600", "P95:     12ms"} {
		if !strings.Contains(first, want) {
			t.Errorf("live display missing %q:\n%s", want, first)
		}
	}

	buf.Reset()
	c.Update(sampleLiveStats())
	if !strings.HasPrefix(buf.String(), "\033[9A") {
		t.Errorf("second draw should start by moving up 9 lines, got %q", buf.String()[:min(buf.Len(), 10)])
	}
}

func TestRenderLiveStats_BoxRowsAligned(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, true, false)

	lines := c.renderLiveStats(sampleLiveStats())
	for _, line := range lines[3:] {
		if got := visibleLen(line); got != boxWidth {
			t.Errorf("box line %q has width %d, want %d", line, got, boxWidth)
		}
	}
}

func TestRenderLiveStats_Stages(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, true, false)

	stats := sampleLiveStats()
	stats.CurrentPhase = "ramp-up"
	stats.CurrentStage = 1
	stats.TotalStages = 3

	lines := c.renderLiveStats(stats)
	if lines[1] != "Phase:    ramp-up (stage 1/3)" {
		t.Errorf("phase line = %q", lines[1])
	}
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		progress float64
		expected string
	}{
		{0, "[░░░░]"},
		{0.5, "[██░░]"},
		{1, "[████]"},
		{1.7, "[████]"},
		{-1, "[░░░░]"},
	}

	for _, tt := range tests {
		if got := renderProgressBar(tt.progress, 4); got != tt.expected {
			t.Errorf("renderProgressBar(%v) = %q, want %q", tt.progress, got, tt.expected)
		}
	}
}

func TestPrintNonInteractiveUpdate(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false, false).PrintNonInteractiveUpdate(sampleLiveStats())

	want := "[30.0s] steady 50% | VUs: 5/5 | Reqs: 1200 | RPS: 9.8 | 429: 600 | Failed: 600 (50.0%) | P95: 12ms\n"
	if got := buf.String(); got != want {
		t.Errorf("PrintNonInteractiveUpdate() = %q, want %q", got, want)
	}
}

func TestReport_PicksMode(t *testing.T) {
	var pipe bytes.Buffer
	newTestConsole(&pipe, false, false).Report(sampleLiveStats())
	if !strings.HasPrefix(pipe.String(), "[30.0s]") {
		t.Errorf("non-TTY report = %q", pipe.String())
	}

	var tty bytes.Buffer
	newTestConsole(&tty, true, false).Report(sampleLiveStats())
	if !strings.HasPrefix(tty.String(), "Progress:") {
		t.Errorf("TTY report = %q", tty.String())
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, true, false)
	c.Update(sampleLiveStats())
	buf.Reset()

	if err := c.PrintSummary(newTestResult(t)); err != nil {
		t.Fatalf("PrintSummary() error = %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "\033[9A") {
		t.Error("summary should clear the live display first")
	}
	if !strings.Contains(out, "TOTAL RESULTS") {
		t.Errorf("summary missing totals:\n%s", out)
	}
}

func TestPrintSummary_Quiet(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, false, true)

	result := newTestResult(t)
	if err := c.PrintSummary(result); err != nil {
		t.Fatalf("PrintSummary() error = %v", err)
	}
	if buf.String() != "FAILED\n" {
		t.Errorf("quiet summary = %q, want FAILED", buf.String())
	}

	buf.Reset()
	result.Passed = true
	_ = c.PrintSummary(result)
	if buf.String() != "PASSED\n" {
		t.Errorf("quiet summary = %q, want PASSED", buf.String())
	}
}

func TestStatsFromSnapshot(t *testing.T) {
	m := metrics.NewEngine()
	m.Record(metrics.Sample{Status: 429, Class: "429", Latency: 4 * time.Millisecond})
	m.Record(metrics.Sample{Status: 200, Class: "200", Latency: 8 * time.Millisecond})
	m.AddActiveVUs(3)
	m.SetPhase(metrics.PhaseRampUp)

	scenarios := map[string]*executor.Stats{
		"ramp":  {TargetVUs: 3, CurrentStage: 0, TotalStages: 3},
		"burst": {TargetVUs: 2},
		"gone":  nil,
	}

	stats := StatsFromSnapshot(m.Snapshot(), 0.25, time.Hour, scenarios)

	if stats.TotalRequests != 2 || stats.Limited != 1 || stats.Errors != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", stats.TotalRequests, stats.Limited, stats.Errors)
	}
	if stats.ActiveVUs != 3 || stats.TargetVUs != 5 {
		t.Errorf("VUs = %d/%d, want 3/5", stats.ActiveVUs, stats.TargetVUs)
	}
	if stats.CurrentStage != 1 || stats.TotalStages != 3 {
		t.Errorf("stage = %d/%d, want 1/3", stats.CurrentStage, stats.TotalStages)
	}
	if stats.CurrentPhase != "ramp-up" {
		t.Errorf("phase = %q", stats.CurrentPhase)
	}
	if stats.LatencyAvg != 6*time.Millisecond {
		t.Errorf("avg = %v, want 6ms", stats.LatencyAvg)
	}
	if stats.Remaining <= 0 || stats.Remaining > time.Hour {
		t.Errorf("remaining = %v", stats.Remaining)
	}
}

func TestStatsFromSnapshot_NilSnapshot(t *testing.T) {
	stats := StatsFromSnapshot(nil, 0, 0, map[string]*executor.Stats{
		"ramp": {TargetVUs: 10, CurrentStage: 3, TotalStages: 3},
	})

	if stats.CurrentPhase != string(metrics.PhaseInit) {
		t.Errorf("phase = %q, want init", stats.CurrentPhase)
	}
	if stats.CurrentStage != 3 {
		t.Errorf("stage past the end should clamp to 3, got %d", stats.CurrentStage)
	}
	if stats.TargetVUs != 10 {
		t.Errorf("TargetVUs = %d", stats.TargetVUs)
	}
}
