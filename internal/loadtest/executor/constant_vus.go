package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/wesleyorama2/ratecheck/internal/loadtest"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// Each VU runs iterations back to back (closed model), optionally with
// pacing between iterations. When the duration elapses no new iteration
// starts; in-flight iterations get GracefulStop to finish.
type ConstantVUs struct {
	base
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	g := e.begin(ctx, scheduler, metricsEngine)
	defer e.end()

	// Constant VUs has no ramp
	metricsEngine.SetPhase(metrics.PhaseSteady)

	pace := e.config.Pacing.Pacer()

	var wg sync.WaitGroup
	for i := 0; i < e.config.VUs; i++ {
		vu := scheduler.SpawnVU()
		wg.Add(1)
		go e.runVU(&wg, g, vu, pace)
	}

	g.wait(&wg, e.config.GracefulStop, metricsEngine)
	return nil
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	stats := e.baseStats()
	stats.TargetVUs = e.config.VUs
	return stats
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
