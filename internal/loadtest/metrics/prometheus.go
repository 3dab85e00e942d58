package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SnapshotSource is anything that can produce a metrics snapshot.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// summaryQuantiles are exported for every latency summary.
var summaryQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Collector exposes engine snapshots to Prometheus. Values are computed at
// scrape time, so the collector never lags behind the engine.
type Collector struct {
	source SnapshotSource

	requests    *prometheus.Desc
	failed      *prometheus.Desc
	duration    *prometheus.Desc
	activeVUs   *prometheus.Desc
	maxVUs      *prometheus.Desc
	iterations  *prometheus.Desc
	dropped     *prometheus.Desc
	interrupted *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source SnapshotSource) *Collector {
	return &Collector{
		source: source,
		requests: prometheus.NewDesc(
			"ratecheck_http_reqs_total",
			"Requests issued, by status class.",
			[]string{"status"}, nil,
		),
		failed: prometheus.NewDesc(
			"ratecheck_http_req_failed_total",
			"Requests counted as failed, by status class.",
			[]string{"status"}, nil,
		),
		duration: prometheus.NewDesc(
			"ratecheck_http_req_duration_seconds",
			"Request latency, by status class.",
			[]string{"status"}, nil,
		),
		activeVUs: prometheus.NewDesc(
			"ratecheck_vus",
			"Currently active virtual users.",
			nil, nil,
		),
		maxVUs: prometheus.NewDesc(
			"ratecheck_vus_max",
			"Peak number of active virtual users.",
			nil, nil,
		),
		iterations: prometheus.NewDesc(
			"ratecheck_iterations_total",
			"Completed iterations.",
			nil, nil,
		),
		dropped: prometheus.NewDesc(
			"ratecheck_dropped_iterations_total",
			"Iterations not started because no VU was free.",
			nil, nil,
		),
		interrupted: prometheus.NewDesc(
			"ratecheck_interrupted_iterations_total",
			"Iterations aborted after the graceful stop period.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.failed
	ch <- c.duration
	ch <- c.activeVUs
	ch <- c.maxVUs
	ch <- c.iterations
	ch <- c.dropped
	ch <- c.interrupted
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	for _, class := range snap.StatusClasses() {
		trend := snap.Status(class)
		label := string(class)

		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(trend.Count), label)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(trend.Failed), label)

		quantiles := make(map[float64]float64, len(summaryQuantiles))
		for _, q := range summaryQuantiles {
			quantiles[q] = trend.Percentile(q * 100).Seconds()
		}
		ch <- prometheus.MustNewConstSummary(c.duration, uint64(trend.Count), trend.Sum.Seconds(), quantiles, label)
	}

	ch <- prometheus.MustNewConstMetric(c.activeVUs, prometheus.GaugeValue, float64(snap.ActiveVUs))
	ch <- prometheus.MustNewConstMetric(c.maxVUs, prometheus.GaugeValue, float64(snap.MaxVUs))
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(snap.Iterations))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(snap.DroppedIterations))
	ch <- prometheus.MustNewConstMetric(c.interrupted, prometheus.CounterValue, float64(snap.InterruptedIterations))
}

var _ prometheus.Collector = (*Collector)(nil)
