package output

import (
	"context"
	"time"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/executor"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// DefaultUpdateInterval is how often Watch refreshes the display.
const DefaultUpdateInterval = time.Second

// ProgressSource is the read side of a running engine.
type ProgressSource interface {
	GetMetrics() *metrics.Snapshot
	GetProgress() float64
	TotalDuration() time.Duration
	GetScenarioStats() map[string]*executor.Stats
}

// Watch reports progress from src every interval until ctx is done.
func (c *ConsoleOutput) Watch(ctx context.Context, src ProgressSource, interval time.Duration) {
	if c.quiet {
		return
	}
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Report(StatsFromSnapshot(src.GetMetrics(), src.GetProgress(), src.TotalDuration(), src.GetScenarioStats()))
		}
	}
}
