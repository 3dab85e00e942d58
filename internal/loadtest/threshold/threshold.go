// Package threshold parses pass/fail criteria and evaluates them against
// final metrics.
//
// A threshold is declared as a selector and a list of expressions:
//
//	thresholds:
//	  "http_req_duration{status:200}": ["max>=0", "p(95) < 500"]
//	  "http_reqs{status:429}": ["count > 0"]
//	  "http_req_failed": ["rate < 0.01"]
//
// Every expression is parsed when the configuration is loaded; a run never
// starts with a threshold it cannot evaluate.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// Metric names a built-in metric.
type Metric string

const (
	MetricHTTPReqDuration   Metric = "http_req_duration"
	MetricHTTPReqs          Metric = "http_reqs"
	MetricHTTPReqFailed     Metric = "http_req_failed"
	MetricIterations        Metric = "iterations"
	MetricDroppedIterations Metric = "dropped_iterations"
)

// Tag keys accepted in selectors.
const (
	TagStatus = "status"
	TagName   = "name"
)

// Aggregation is the statistic a threshold compares.
type Aggregation struct {
	// Trend is set for latency statistics and count.
	Trend *metrics.TrendStat
	// Rate is set for rate aggregations.
	Rate bool
}

func (a Aggregation) String() string {
	if a.Rate {
		return "rate"
	}
	if a.Trend != nil {
		return a.Trend.String()
	}
	return "unknown"
}

// Operator is a comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare applies the operator.
func (op Operator) Compare(actual, threshold float64) bool {
	switch op {
	case OpLess:
		return actual < threshold
	case OpLessEqual:
		return actual <= threshold
	case OpGreater:
		return actual > threshold
	case OpGreaterEqual:
		return actual >= threshold
	case OpEqual:
		return actual == threshold
	case OpNotEqual:
		return actual != threshold
	default:
		return false
	}
}

// Selector picks the series a threshold applies to.
type Selector struct {
	Metric   Metric
	TagKey   string
	TagValue string
}

func (s Selector) String() string {
	if s.TagKey == "" {
		return string(s.Metric)
	}
	return fmt.Sprintf("%s{%s:%s}", s.Metric, s.TagKey, s.TagValue)
}

// Threshold is one parsed expression bound to its selector.
type Threshold struct {
	Selector    Selector
	Aggregation Aggregation
	Operator    Operator
	Value       float64
	Source      string
}

// Result is the outcome of evaluating one threshold.
type Result struct {
	Selector   string  `json:"selector"`
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Actual     float64 `json:"actual"`
	Message    string  `json:"message,omitempty"`
}

var (
	selectorRe   = regexp.MustCompile(`^([a-z_]+)\s*(?:\{\s*([a-z_]+)\s*:\s*([^{}:]+?)\s*\})?$`)
	expressionRe = regexp.MustCompile(`^([a-z]+(?:\(\s*[\d.]+\s*\))?|p\d+(?:\.\d+)?)\s*(<=|>=|==|!=|<|>)\s*(\S+)$`)
)

// allowedAggregations lists, per metric, which aggregations are valid.
var allowedAggregations = map[Metric]func(Aggregation) bool{
	MetricHTTPReqDuration: func(a Aggregation) bool { return a.Trend != nil },
	MetricHTTPReqs: func(a Aggregation) bool {
		return a.Rate || (a.Trend != nil && a.Trend.Kind == metrics.StatCount)
	},
	MetricHTTPReqFailed: func(a Aggregation) bool { return a.Rate },
	MetricIterations: func(a Aggregation) bool {
		return a.Rate || (a.Trend != nil && a.Trend.Kind == metrics.StatCount)
	},
	MetricDroppedIterations: func(a Aggregation) bool {
		return a.Trend != nil && a.Trend.Kind == metrics.StatCount
	},
}

// ParseSelector parses "metric" or "metric{tag:value}".
func ParseSelector(s string) (Selector, error) {
	m := selectorRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Selector{}, fmt.Errorf("invalid metric selector %q", s)
	}

	sel := Selector{Metric: Metric(m[1]), TagKey: m[2], TagValue: m[3]}
	if _, ok := allowedAggregations[sel.Metric]; !ok {
		return Selector{}, fmt.Errorf("unknown metric %q", m[1])
	}

	switch sel.TagKey {
	case "":
	case TagStatus:
		class, ok := metrics.ParseStatusClass(sel.TagValue)
		if !ok {
			return Selector{}, fmt.Errorf("unknown status class %q in %q (want 100-599, error or timeout)", sel.TagValue, s)
		}
		sel.TagValue = string(class)
	case TagName:
		if sel.Metric == MetricIterations || sel.Metric == MetricDroppedIterations {
			return Selector{}, fmt.Errorf("metric %s does not support tag %q", sel.Metric, sel.TagKey)
		}
	default:
		return Selector{}, fmt.Errorf("unsupported tag %q in %q", sel.TagKey, s)
	}

	if sel.TagKey == TagStatus && (sel.Metric == MetricIterations || sel.Metric == MetricDroppedIterations) {
		return Selector{}, fmt.Errorf("metric %s does not support tag %q", sel.Metric, sel.TagKey)
	}

	return sel, nil
}

// Parse parses one expression for the given selector.
func Parse(selector Selector, expr string) (*Threshold, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("threshold expression cannot be empty")
	}

	m := expressionRe.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q (want <stat> <op> <value>)", expr)
	}

	var agg Aggregation
	if m[1] == "rate" {
		agg.Rate = true
	} else {
		stat, err := metrics.ParseTrendStat(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid threshold expression %q: %w", expr, err)
		}
		agg.Trend = &stat
	}

	if !allowedAggregations[selector.Metric](agg) {
		return nil, fmt.Errorf("aggregation %q is not supported by metric %s", m[1], selector.Metric)
	}

	value, err := parseValue(m[3], agg)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold expression %q: %w", expr, err)
	}

	return &Threshold{
		Selector:    selector,
		Aggregation: agg,
		Operator:    Operator(m[2]),
		Value:       value,
		Source:      expr,
	}, nil
}

// parseValue reads a number. Latency statistics also accept a Go duration
// ("500ms", "1s"), converted to milliseconds.
func parseValue(s string, agg Aggregation) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if agg.Trend != nil && agg.Trend.IsDuration() {
		if d, err := time.ParseDuration(s); err == nil {
			return float64(d) / float64(time.Millisecond), nil
		}
	}
	return 0, fmt.Errorf("invalid value %q", s)
}

// Set is an ordered collection of thresholds.
type Set []*Threshold

// ParseSet parses a selector -> expressions mapping. Selectors are sorted so
// evaluation order is stable. All problems are reported together.
func ParseSet(declared map[string][]string) (Set, error) {
	selectors := make([]string, 0, len(declared))
	for s := range declared {
		selectors = append(selectors, s)
	}
	sort.Strings(selectors)

	var set Set
	var problems []string
	for _, raw := range selectors {
		exprs := declared[raw]
		sel, err := ParseSelector(raw)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if len(exprs) == 0 {
			problems = append(problems, fmt.Sprintf("%s: at least one expression is required", raw))
			continue
		}
		for _, expr := range exprs {
			t, err := Parse(sel, expr)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", raw, err))
				continue
			}
			set = append(set, t)
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid thresholds: %s", strings.Join(problems, "; "))
	}
	return set, nil
}

// Evaluate compares the threshold against a snapshot.
func (t *Threshold) Evaluate(snap *metrics.Snapshot) Result {
	actual := t.observe(snap)
	passed := t.Operator.Compare(actual, t.Value)

	result := Result{
		Selector:   t.Selector.String(),
		Expression: t.Source,
		Passed:     passed,
		Actual:     actual,
	}
	if !passed {
		result.Message = fmt.Sprintf("%s is %s, want %s %s",
			t.Aggregation, formatNumber(actual), t.Operator, formatNumber(t.Value))
	}
	return result
}

// Evaluate evaluates every threshold. It reports whether all passed.
func (s Set) Evaluate(snap *metrics.Snapshot) ([]Result, bool) {
	results := make([]Result, 0, len(s))
	passed := true
	for _, t := range s {
		r := t.Evaluate(snap)
		if !r.Passed {
			passed = false
		}
		results = append(results, r)
	}
	return results, passed
}

func (t *Threshold) observe(snap *metrics.Snapshot) float64 {
	switch t.Selector.Metric {
	case MetricIterations:
		if t.Aggregation.Rate {
			return snap.Rate(snap.Iterations)
		}
		return float64(snap.Iterations)
	case MetricDroppedIterations:
		return float64(snap.DroppedIterations)
	}

	trend := t.series(snap)
	switch t.Selector.Metric {
	case MetricHTTPReqFailed:
		return trend.FailedRate()
	case MetricHTTPReqs:
		if t.Aggregation.Rate {
			return snap.Rate(trend.Count)
		}
		return float64(trend.Count)
	default:
		return trend.Value(*t.Aggregation.Trend)
	}
}

func (t *Threshold) series(snap *metrics.Snapshot) *metrics.TrendSnapshot {
	switch t.Selector.TagKey {
	case TagStatus:
		return snap.Status(metrics.StatusClass(t.Selector.TagValue))
	case TagName:
		return snap.Request(t.Selector.TagValue)
	default:
		if snap.Latency == nil {
			return &metrics.TrendSnapshot{}
		}
		return snap.Latency
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
