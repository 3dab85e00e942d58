package target

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAllowed = "allowed"
	outcomeLimited = "limited"
	outcomeError   = "error"
)

// Metrics counts limiter decisions.
type Metrics struct {
	Decisions *prometheus.CounterVec
}

// NewMetrics registers the limiter metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ratecheck",
				Subsystem: "target",
				Name:      "requests_total",
				Help:      "Requests seen by the rate limiter by key type and outcome.",
			},
			[]string{"key_type", "outcome"},
		),
	}
}

func (m *Metrics) observe(keyType, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(keyType, outcome).Inc()
}
