// Package output renders load test progress and results.
package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/engine"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/executor"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleChar       = "━"
	boxHorizontal  = "─"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	boxWidth = 58
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Limited       int64 // 429 responses
	Errors        int64 // transport failures and status >= 400
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int // 1-indexed, 0 without stages
	TotalStages  int
}

// ConsoleOutput manages live console output during test execution.
type ConsoleOutput struct {
	testName      string
	executorType  string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	useColors     bool
	quiet         bool
	palette       *Palette

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName      string
	ExecutorType  string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	ForceColors   bool
	ForceTTY      bool
	NoColor       bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	return &ConsoleOutput{
		testName:      config.TestName,
		executorType:  config.ExecutorType,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		useColors:     useColors,
		quiet:         config.Quiet,
		palette:       NewPalette(useColors),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return checkIsTerminal(f)
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if runtime.GOOS == "windows" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// UseColors reports whether output is colorized.
func (c *ConsoleOutput) UseColors() bool {
	return c.useColors
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.palette.Border.Sprint(strings.Repeat(ruleChar, boxWidth))
	title := c.testName
	if c.executorType != "" {
		title += " [" + c.executorType + "]"
	}
	if c.totalDuration > 0 {
		title += " for " + formatDuration(c.totalDuration)
	}

	c.writeln(rule)
	c.writeln(c.palette.Title.Sprint(title))
	c.writeln(rule)
	c.writeln("")
}

// Update redraws the live display in place. It is a no-op when the
// output is not a terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// Report shows stats the way the output supports: a redraw on a
// terminal, a log line otherwise.
func (c *ConsoleOutput) Report(stats *LiveStats) {
	if c.isTTY {
		c.Update(stats)
		return
	}
	c.PrintNonInteractiveUpdate(stats)
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	p := c.palette
	lines := make([]string, 0, 9)

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		p.Good.Sprint(renderProgressBar(stats.Progress, 40)),
		p.Title.Sprintf("%.0f%%", stats.Progress*100),
		p.Dim.Sprint(timeInfo)))

	phase := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phase = fmt.Sprintf("%s (stage %d/%d)", phase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, "Phase:    "+p.Phase.Sprint(phase), "")

	errColor := p.ErrorRate(stats.ErrorRate)
	lines = append(lines,
		p.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight),
		c.formatBoxRow(
			fmt.Sprintf("VUs:     %s / %d", p.Value.Sprint(stats.ActiveVUs), stats.TargetVUs),
			"Requests:    "+p.Value.Sprint(formatNumber(stats.TotalRequests))),
		c.formatBoxRow(
			"RPS:     "+p.Good.Sprintf("%.1f", stats.CurrentRPS),
			"Limited:     "+p.Warn.Sprint(formatNumber(stats.Limited))),
		c.formatBoxRow(
			"P95:     "+p.Accent.Sprint(formatDurationShort(stats.LatencyP95)),
			fmt.Sprintf("Failed:      %s (%s)", errColor.Sprint(stats.Errors), errColor.Sprintf("%.1f%%", stats.ErrorRate*100))),
		c.formatBoxRow(
			"Avg:     "+p.Accent.Sprint(formatDurationShort(stats.LatencyAvg)),
			""),
		p.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight),
	)

	return lines
}

// formatBoxRow lays out two columns inside the stats box, padding on the
// visible width of each cell.
func (c *ConsoleOutput) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 6) / 2
	pad := func(s string) string {
		n := colWidth - visibleLen(s)
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}

	border := c.palette.Dim.Sprint(boxVertical)
	return border + " " + pad(left) + border + " " + pad(right) + " " + border
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintNonInteractiveUpdate prints a one-line status update, used when the
// output is piped to a file or a CI log.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | 429: %d | Failed: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.CurrentPhase,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Limited,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary clears the live display and prints the end-of-test
// summary. In quiet mode only the verdict is printed.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result == nil {
		return nil
	}

	if c.quiet {
		verdict := c.palette.Good.Sprint("PASSED")
		if !result.Passed {
			verdict = c.palette.Bad.Sprint("FAILED")
		}
		c.writeln(verdict)
		return nil
	}

	c.clearLive()
	return WriteSummary(c.writer, result, c.palette)
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromSnapshot builds LiveStats from a metrics snapshot and the
// per-scenario executor stats. The busiest ramping scenario provides the
// stage info.
func StatsFromSnapshot(
	snap *metrics.Snapshot,
	progress float64,
	totalDuration time.Duration,
	scenarios map[string]*executor.Stats,
) *LiveStats {
	stats := &LiveStats{Progress: progress, CurrentPhase: string(metrics.PhaseInit)}

	for _, s := range scenarios {
		if s == nil {
			continue
		}
		stats.TargetVUs += s.TargetVUs
		if s.TotalStages > stats.TotalStages {
			stats.TotalStages = s.TotalStages
			stats.CurrentStage = min(s.CurrentStage+1, s.TotalStages)
		}
	}

	if snap == nil {
		return stats
	}

	elapsed := snap.Elapsed
	var remaining time.Duration
	switch {
	case totalDuration > 0:
		remaining = max(totalDuration-elapsed, 0)
	case progress > 0 && progress < 1:
		remaining = time.Duration(float64(elapsed) * (1 - progress) / progress)
	}

	stats.Elapsed = elapsed
	stats.Remaining = remaining
	stats.ActiveVUs = snap.ActiveVUs
	stats.CurrentRPS = snap.RPS
	stats.TotalRequests = snap.TotalRequests
	stats.Limited = snap.Status(metrics.StatusClassFromCode(429)).Count
	stats.Errors = snap.FailedRequests
	stats.ErrorRate = snap.ErrorRate
	stats.LatencyP95 = snap.Latency.Percentile(95)
	stats.LatencyAvg = snap.Latency.Avg()
	if snap.CurrentPhase != "" {
		stats.CurrentPhase = string(snap.CurrentPhase)
	}
	return stats
}
