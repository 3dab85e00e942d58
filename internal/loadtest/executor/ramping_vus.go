package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/ratecheck/internal/loadtest"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// rampInterval is how often the VU count is adjusted.
const rampInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// The target is linearly interpolated inside each stage, starting from 0
// VUs. A VU removed on ramp-down finishes its current iteration and is
// aborted if that takes longer than GracefulRampDown.
//
// Example stages:
//
//	stages:
//	  - duration: 2m
//	    target: 200    # Ramp from 0 to 200 VUs over 2m
//	  - duration: 3m
//	    target: 200    # Hold 200 VUs
//	  - duration: 1m
//	    target: 0      # Ramp down to 0 VUs
type RampingVUs struct {
	base

	targetVUs    atomic.Int32
	currentStage atomic.Int32

	// VUs currently counted towards the target
	vus   []*loadtest.VirtualUser
	vusMu sync.Mutex

	// Ramp-down abort timers
	timers []*time.Timer
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	g := e.begin(ctx, scheduler, metricsEngine)
	defer e.end()

	pace := e.config.Pacing.Pacer()

	var wg sync.WaitGroup
	e.vuController(g, &wg, pace)

	g.wait(&wg, e.config.GracefulStop, metricsEngine)

	e.vusMu.Lock()
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	e.vus = nil
	e.vusMu.Unlock()

	return nil
}

// vuController adjusts VU count according to stages until the run's stop
// context is done.
func (e *RampingVUs) vuController(g *gracefulRun, wg *sync.WaitGroup, pace loadtest.Pacer) {
	ticker := time.NewTicker(rampInterval)
	defer ticker.Stop()

	for {
		targetVUs := e.calculateTargetVUs(time.Since(e.startTime))
		e.targetVUs.Store(int32(targetVUs))
		e.adjustVUs(g, wg, targetVUs, pace)
		e.updatePhase()

		select {
		case <-g.stopCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

// calculateTargetVUs calculates the target VU count at elapsed.
func (e *RampingVUs) calculateTargetVUs(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range e.config.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))

			// Progress within this stage (0.0 to 1.0)
			stageProgress := float64(elapsed-stageStart) / float64(stage.Duration)
			if stageProgress < 0 {
				stageProgress = 0
			}
			if stageProgress > 1 {
				stageProgress = 1
			}

			targetVUs := float64(prevTarget) + float64(stage.Target-prevTarget)*stageProgress
			return int(targetVUs + 0.5) // Round to nearest
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	// Past all stages
	if len(e.config.Stages) > 0 {
		return e.config.Stages[len(e.config.Stages)-1].Target
	}
	return 0
}

// adjustVUs adjusts the VU count to match the target.
func (e *RampingVUs) adjustVUs(g *gracefulRun, wg *sync.WaitGroup, targetVUs int, pace loadtest.Pacer) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	currentVUs := len(e.vus)

	if targetVUs > currentVUs {
		for i := currentVUs; i < targetVUs; i++ {
			vu := e.scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			wg.Add(1)
			go e.runVU(wg, g, vu, pace)
		}
	} else if targetVUs < currentVUs {
		// Stop excess VUs from the end
		for i := currentVUs - 1; i >= targetVUs; i-- {
			vu := e.vus[i]
			vu.RequestStop()
			e.timers = append(e.timers, time.AfterFunc(e.config.GracefulRampDown, vu.Abort))
		}
		e.vus = e.vus[:targetVUs]
	}
}

// updatePhase updates the metrics phase based on current stage.
func (e *RampingVUs) updatePhase() {
	stageIdx := int(e.currentStage.Load())
	if stageIdx >= len(e.config.Stages) {
		return
	}

	stage := e.config.Stages[stageIdx]
	prevTarget := 0
	if stageIdx > 0 {
		prevTarget = e.config.Stages[stageIdx-1].Target
	}

	switch {
	case stage.Target == prevTarget:
		e.metrics.SetPhase(metrics.PhaseSteady)
	case stage.Target > prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampUp)
	default:
		e.metrics.SetPhase(metrics.PhaseRampDown)
	}
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	stats := e.baseStats()

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	stats.TargetVUs = int(e.targetVUs.Load())
	stats.CurrentStage = stageIdx
	stats.CurrentStageName = stageName
	stats.TotalStages = len(e.config.Stages)
	return stats
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
