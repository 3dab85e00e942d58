package metrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// StatKind identifies a trend statistic.
type StatKind int

const (
	StatMin StatKind = iota
	StatMax
	StatAvg
	StatMed
	StatPercentile
	StatCount
)

// TrendStat is a parsed trend statistic name such as "avg" or "p(95)".
type TrendStat struct {
	Kind       StatKind
	Percentile float64
}

// DefaultSummaryTrendStats is used when a test does not configure
// summaryTrendStats.
var DefaultSummaryTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"}

var (
	percentileRe      = regexp.MustCompile(`^p\(\s*(\d+(?:\.\d+)?)\s*\)$`)
	percentileAliasRe = regexp.MustCompile(`^p(\d+(?:\.\d+)?)$`)
)

// ParseTrendStat parses a statistic name.
//
// Accepted names: min, max, avg, med, count, p(N) with 0 <= N <= 100 and
// the short aliases p50, p90, p95, p99.
func ParseTrendStat(name string) (TrendStat, error) {
	name = strings.TrimSpace(name)
	switch name {
	case "min":
		return TrendStat{Kind: StatMin}, nil
	case "max":
		return TrendStat{Kind: StatMax}, nil
	case "avg":
		return TrendStat{Kind: StatAvg}, nil
	case "med":
		return TrendStat{Kind: StatMed}, nil
	case "count":
		return TrendStat{Kind: StatCount}, nil
	}

	m := percentileRe.FindStringSubmatch(name)
	if m == nil {
		m = percentileAliasRe.FindStringSubmatch(name)
	}
	if m == nil {
		return TrendStat{}, fmt.Errorf("unknown trend stat %q", name)
	}

	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil || p < 0 || p > 100 {
		return TrendStat{}, fmt.Errorf("percentile out of range in %q", name)
	}
	return TrendStat{Kind: StatPercentile, Percentile: p}, nil
}

// ParseTrendStats parses a list of statistic names, keeping order.
func ParseTrendStats(names []string) ([]TrendStat, error) {
	stats := make([]TrendStat, 0, len(names))
	for _, name := range names {
		s, err := ParseTrendStat(name)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// String returns the canonical name of the statistic.
func (s TrendStat) String() string {
	switch s.Kind {
	case StatMin:
		return "min"
	case StatMax:
		return "max"
	case StatAvg:
		return "avg"
	case StatMed:
		return "med"
	case StatCount:
		return "count"
	case StatPercentile:
		return "p(" + strconv.FormatFloat(s.Percentile, 'f', -1, 64) + ")"
	default:
		return "unknown"
	}
}

// IsDuration reports whether values of this statistic are latencies.
func (s TrendStat) IsDuration() bool {
	return s.Kind != StatCount
}

// TrendSnapshot is an immutable view of one latency series.
type TrendSnapshot struct {
	Count  int64         `json:"count"`
	Failed int64         `json:"failed"`
	Sum    time.Duration `json:"sum"`
	MinVal time.Duration `json:"min"`
	MaxVal time.Duration `json:"max"`

	hist *hdrhistogram.Histogram
}

// Min returns the smallest recorded latency.
func (t *TrendSnapshot) Min() time.Duration {
	if t == nil {
		return 0
	}
	return t.MinVal
}

// Max returns the largest recorded latency.
func (t *TrendSnapshot) Max() time.Duration {
	if t == nil {
		return 0
	}
	return t.MaxVal
}

// Avg returns the exact mean latency.
func (t *TrendSnapshot) Avg() time.Duration {
	if t == nil || t.Count == 0 {
		return 0
	}
	return t.Sum / time.Duration(t.Count)
}

// Med returns the median latency.
func (t *TrendSnapshot) Med() time.Duration {
	return t.Percentile(50)
}

// Percentile returns the latency at the given percentile (0-100), clamped
// to the exact min and max.
func (t *TrendSnapshot) Percentile(p float64) time.Duration {
	if t == nil || t.Count == 0 || t.hist == nil {
		return 0
	}
	v := time.Duration(t.hist.ValueAtQuantile(p)) * time.Microsecond
	if v < t.MinVal {
		v = t.MinVal
	}
	if v > t.MaxVal {
		v = t.MaxVal
	}
	return v
}

// FailedRate returns the fraction of failed samples in the series.
func (t *TrendSnapshot) FailedRate() float64 {
	if t == nil || t.Count == 0 {
		return 0
	}
	return float64(t.Failed) / float64(t.Count)
}

// Duration returns the value of a duration statistic.
func (t *TrendSnapshot) Duration(stat TrendStat) time.Duration {
	switch stat.Kind {
	case StatMin:
		return t.Min()
	case StatMax:
		return t.Max()
	case StatAvg:
		return t.Avg()
	case StatMed:
		return t.Med()
	case StatPercentile:
		return t.Percentile(stat.Percentile)
	default:
		return 0
	}
}

// Value returns the statistic as a number: milliseconds for latency
// statistics, the raw sample count for count.
func (t *TrendSnapshot) Value(stat TrendStat) float64 {
	if stat.Kind == StatCount {
		if t == nil {
			return 0
		}
		return float64(t.Count)
	}
	return float64(t.Duration(stat)) / float64(time.Millisecond)
}

// series is the mutable counterpart of TrendSnapshot. Callers hold the
// engine's series lock.
type series struct {
	hist   *hdrhistogram.Histogram
	count  int64
	failed int64
	sum    time.Duration
	min    time.Duration
	max    time.Duration
}

func newSeries(cfg EngineConfig) *series {
	return &series{
		hist: hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs),
	}
}

func (s *series) record(latency time.Duration, micros int64, failed bool) {
	// RecordValue only fails outside the trackable range and micros is clamped.
	_ = s.hist.RecordValue(micros)
	if s.count == 0 || latency < s.min {
		s.min = latency
	}
	if latency > s.max {
		s.max = latency
	}
	s.count++
	s.sum += latency
	if failed {
		s.failed++
	}
}

func (s *series) snapshot(cfg EngineConfig) *TrendSnapshot {
	hist := hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs)
	hist.Merge(s.hist)
	return &TrendSnapshot{
		Count:  s.count,
		Failed: s.failed,
		Sum:    s.sum,
		MinVal: s.min,
		MaxVal: s.max,
		hist:   hist,
	}
}
