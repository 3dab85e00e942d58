package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/engine"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

const (
	summaryIndent   = "    "
	summaryLabelLen = 34

	durationMetric = "http_req_duration"
)

// WriteSummary renders the end-of-test summary: thresholds, trend lines per
// status class and request, counters and scenarios. The text is buffered
// and written with a single call.
func WriteSummary(w io.Writer, result *engine.TestResult, p *Palette) error {
	if p == nil {
		p = NewPalette(false)
	}

	var b strings.Builder
	s := &summaryWriter{b: &b, p: p}
	s.render(result)

	_, err := io.WriteString(w, b.String())
	return err
}

type summaryWriter struct {
	b *strings.Builder
	p *Palette
}

func (s *summaryWriter) line(format string, args ...any) {
	fmt.Fprintf(s.b, format, args...)
	s.b.WriteByte('\n')
}

func (s *summaryWriter) section(title string) {
	s.line("")
	s.line("  %s %s", s.p.Border.Sprint("█"), s.p.Title.Sprint(title))
	s.line("")
}

// metricRow prints a dotted label followed by its value.
func (s *summaryWriter) metricRow(indent, label, value string) {
	dots := summaryLabelLen - len(indent) - len(label)
	if dots < 3 {
		dots = 3
	}
	s.line("%s%s%s: %s", indent, label, s.p.Dim.Sprint(strings.Repeat(".", dots)), value)
}

func (s *summaryWriter) render(result *engine.TestResult) {
	snap := result.Metrics
	if snap == nil {
		snap = &metrics.Snapshot{}
	}

	s.renderThresholds(result)
	s.renderTotals(snap, trendStatsOf(result))
	s.renderScenarios(result)

	verdict := s.p.Good.Sprint("PASSED")
	if !result.Passed {
		verdict = s.p.Bad.Sprint("FAILED")
	}
	suffix := ""
	if result.Interrupted {
		suffix = s.p.Warn.Sprint(" (interrupted)")
	}
	s.line("")
	s.line("%s finished in %s, thresholds %s%s", result.Name, formatDuration(result.Duration), verdict, suffix)
}

func (s *summaryWriter) renderThresholds(result *engine.TestResult) {
	if len(result.Thresholds) == 0 {
		return
	}
	s.section("THRESHOLDS")

	// Results keep configuration order within a selector
	var selectors []string
	bySelector := make(map[string][]int)
	for i, r := range result.Thresholds {
		if _, ok := bySelector[r.Selector]; !ok {
			selectors = append(selectors, r.Selector)
		}
		bySelector[r.Selector] = append(bySelector[r.Selector], i)
	}
	sort.Strings(selectors)

	for _, sel := range selectors {
		s.line("%s%s", summaryIndent, s.p.Label.Sprint(sel))
		for _, i := range bySelector[sel] {
			r := result.Thresholds[i]
			detail := s.p.Dim.Sprintf("actual=%g", r.Actual)
			if !r.Passed && r.Message != "" {
				detail = s.p.Bad.Sprint(r.Message)
			}
			s.line("%s%s '%s' %s", summaryIndent, s.p.Mark(r.Passed), r.Expression, detail)
		}
		s.line("")
	}
}

func (s *summaryWriter) renderTotals(snap *metrics.Snapshot, stats []metrics.TrendStat) {
	s.section("TOTAL RESULTS")

	s.metricRow(summaryIndent, durationMetric, s.trendLine(snap.Latency, stats))
	for _, class := range snap.StatusClasses() {
		s.metricRow(summaryIndent+"  ", "{ status:"+string(class)+" }", s.trendLine(snap.Status(class), stats))
	}
	for _, name := range snap.RequestNames() {
		s.metricRow(summaryIndent+"  ", "{ name:"+name+" }", s.trendLine(snap.Request(name), stats))
	}

	failedRate := 0.0
	if snap.TotalRequests > 0 {
		failedRate = float64(snap.FailedRequests) / float64(snap.TotalRequests)
	}
	s.metricRow(summaryIndent, "http_req_failed", fmt.Sprintf("%s %s out of %s",
		s.p.ErrorRate(failedRate).Sprintf("%.2f%%", failedRate*100),
		s.p.Value.Sprint(formatNumber(snap.FailedRequests)),
		formatNumber(snap.TotalRequests)))
	s.metricRow(summaryIndent, "http_reqs", s.counter(snap, snap.TotalRequests))
	s.metricRow(summaryIndent, "data_received", s.p.Value.Sprint(formatBytes(snap.TotalBytes)))
	s.metricRow(summaryIndent, "iterations", s.counter(snap, snap.Iterations))

	interrupted := s.p.Value.Sprint(formatNumber(snap.InterruptedIterations))
	if snap.InterruptedIterations > 0 {
		interrupted = s.p.Warn.Sprint(formatNumber(snap.InterruptedIterations))
	}
	s.metricRow(summaryIndent, "iterations_interrupted", interrupted)
	if snap.DroppedIterations > 0 {
		s.metricRow(summaryIndent, "dropped_iterations", s.p.Warn.Sprint(formatNumber(snap.DroppedIterations)))
	}
	s.metricRow(summaryIndent, "vus_max", s.p.Value.Sprint(snap.MaxVUs))
}

func (s *summaryWriter) trendLine(t *metrics.TrendSnapshot, stats []metrics.TrendStat) string {
	parts := make([]string, len(stats))
	for i, stat := range stats {
		parts[i] = formatTrendStat(t, stat)
	}
	return s.p.Value.Sprint(strings.Join(parts, " "))
}

func (s *summaryWriter) counter(snap *metrics.Snapshot, n int64) string {
	return fmt.Sprintf("%s %s", s.p.Value.Sprint(formatNumber(n)), s.p.Dim.Sprintf("%.2f/s", snap.Rate(n)))
}

func (s *summaryWriter) renderScenarios(result *engine.TestResult) {
	if len(result.Scenarios) == 0 {
		return
	}
	s.section("SCENARIOS")

	names := make([]string, 0, len(result.Scenarios))
	for name := range result.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := result.Scenarios[name]
		if sc == nil {
			continue
		}
		if sc.Skipped {
			s.line("%s%s %s", summaryIndent, s.p.Label.Sprint(name), s.p.Warn.Sprint("skipped"))
			continue
		}
		info := fmt.Sprintf("%s, %s iterations in %s, up to %d VUs",
			sc.Executor, formatNumber(sc.Iterations), formatDuration(sc.Duration), sc.MaxVUs)
		if sc.InterruptedIterations > 0 {
			info += fmt.Sprintf(", %d interrupted", sc.InterruptedIterations)
		}
		if sc.DroppedIterations > 0 {
			info += fmt.Sprintf(", %d dropped", sc.DroppedIterations)
		}
		s.line("%s%s %s", summaryIndent, s.p.Label.Sprint(name), s.p.Dim.Sprint(info))
	}
}

// trendStatsOf returns the statistics to show for every trend. Results
// built outside the engine fall back to parsing SummaryTrendStats.
func trendStatsOf(result *engine.TestResult) []metrics.TrendStat {
	if len(result.TrendStats) > 0 {
		return result.TrendStats
	}
	names := result.SummaryTrendStats
	if len(names) == 0 {
		names = metrics.DefaultSummaryTrendStats
	}
	stats, err := metrics.ParseTrendStats(names)
	if err != nil {
		stats, _ = metrics.ParseTrendStats(metrics.DefaultSummaryTrendStats)
	}
	return stats
}

// formatBytes formats a byte count.
func formatBytes(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)

	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
