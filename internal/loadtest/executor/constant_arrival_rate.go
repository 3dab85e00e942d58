package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/wesleyorama2/ratecheck/internal/loadtest"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// ConstantArrivalRate starts iterations at a fixed rate (open model).
//
// Iterations are started regardless of how long earlier ones take. Each
// iteration borrows an idle VU from a pool of PreAllocatedVUs that grows
// up to MaxVUs. When every VU is busy and the pool is at MaxVUs the
// iteration is dropped and counted.
//
// Example:
//
//	scenarios:
//	  burst:
//	    executor: constant-arrival-rate
//	    rate: 50               # 50 iterations
//	    timeUnit: 1s           # per second
//	    duration: 30s
//	    preAllocatedVUs: 10
//	    maxVUs: 50
type ConstantArrivalRate struct {
	base

	limiter *rate.Limiter

	// Idle VUs ready to execute
	vuPool chan *loadtest.VirtualUser
	allVUs []*loadtest.VirtualUser
	vuMu   sync.Mutex

	dropped atomic.Int64
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	if config.TimeUnit <= 0 {
		config.TimeUnit = defaultTimeUnit
	}
	if config.PreAllocatedVUs <= 0 {
		config.PreAllocatedVUs = 1
	}
	if config.MaxVUs < config.PreAllocatedVUs {
		config.MaxVUs = config.PreAllocatedVUs
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantArrivalRate) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	g := e.begin(ctx, scheduler, metricsEngine)
	defer e.end()

	e.limiter = rate.NewLimiter(rate.Limit(e.config.IterationsPerSecond()), 1)

	e.vuMu.Lock()
	e.vuPool = make(chan *loadtest.VirtualUser, e.config.MaxVUs)
	e.allVUs = make([]*loadtest.VirtualUser, 0, e.config.MaxVUs)
	for i := 0; i < e.config.PreAllocatedVUs; i++ {
		vu := scheduler.SpawnVU()
		e.allVUs = append(e.allVUs, vu)
		e.vuPool <- vu
	}
	e.vuMu.Unlock()

	metricsEngine.SetPhase(metrics.PhaseSteady)

	var wg sync.WaitGroup
	e.iterationScheduler(g, &wg)

	g.wait(&wg, e.config.GracefulStop, metricsEngine)

	e.vuMu.Lock()
	for _, vu := range e.allVUs {
		scheduler.Release(vu)
	}
	e.vuMu.Unlock()

	return nil
}

// iterationScheduler starts iterations at the configured rate until the
// run's stop context is done.
func (e *ConstantArrivalRate) iterationScheduler(g *gracefulRun, wg *sync.WaitGroup) {
	for {
		if err := e.limiter.Wait(g.stopCtx); err != nil {
			return
		}

		vu := e.getVU()
		if vu == nil {
			e.dropped.Add(1)
			e.metrics.AddDroppedIteration()
			continue
		}

		wg.Add(1)
		go e.runIteration(wg, g, vu)
	}
}

// getVU returns an idle VU, spawning one if the pool is below MaxVUs.
// It returns nil when every VU is busy.
func (e *ConstantArrivalRate) getVU() *loadtest.VirtualUser {
	select {
	case vu := <-e.vuPool:
		return vu
	default:
	}

	e.vuMu.Lock()
	defer e.vuMu.Unlock()

	if len(e.allVUs) >= e.config.MaxVUs {
		return nil
	}
	vu := e.scheduler.SpawnVU()
	e.allVUs = append(e.allVUs, vu)
	return vu
}

// runIteration runs a single iteration on vu and returns it to the pool.
func (e *ConstantArrivalRate) runIteration(wg *sync.WaitGroup, g *gracefulRun, vu *loadtest.VirtualUser) {
	defer wg.Done()

	e.activeVUs.Add(1)
	e.metrics.AddActiveVUs(1)
	defer func() {
		e.activeVUs.Add(-1)
		e.metrics.AddActiveVUs(-1)
	}()

	if err := e.scheduler.RunOnce(g.abortCtx, vu); err != nil {
		return
	}
	e.vuPool <- vu
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	stats := e.baseStats()

	e.vuMu.Lock()
	stats.TargetVUs = len(e.allVUs)
	e.vuMu.Unlock()

	stats.DroppedIterations = e.dropped.Load()
	stats.TargetRate = e.config.IterationsPerSecond()
	return stats
}

// Ensure ConstantArrivalRate implements Executor
var _ Executor = (*ConstantArrivalRate)(nil)
