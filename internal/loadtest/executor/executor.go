// Package executor provides load generation strategies for the rate limiter
// checks.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/ratecheck/internal/loadtest"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// defaultTimeUnit is the arrival-rate period when none is configured.
const defaultTimeUnit = time.Second

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate maintains a fixed iteration rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"
)

// Executor defines the interface for load generation strategies.
//
// Executors control HOW load is generated: by holding a pool of virtual
// users or by controlling iteration rates.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until every VU has stopped.
	// Cancelling ctx ends the run early; in-flight iterations still get
	// the graceful stop period.
	Run(ctx context.Context, scheduler *loadtest.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the run early. In-flight iterations are aborted if ctx is
	// done before they finish.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of the scenario this executor drives
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// VU-based executors
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Arrival-rate executors
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"` // iterations per TimeUnit
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// How long in-flight iterations may run once the duration is over
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// How long a VU removed during ramp-down may finish its iteration
	GracefulRampDown time.Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// Delay before the executor starts, relative to the test start
	StartTime time.Duration `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// Pacing between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls time between iterations.
type PacingConfig struct {
	// Type of pacing: "none", "constant", "random"
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min duration for random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max duration for random pacing
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Pacer returns the scheduler pacer for this configuration.
func (p *PacingConfig) Pacer() loadtest.Pacer {
	if p == nil {
		return nil
	}
	switch p.Type {
	case PacingConstant:
		return loadtest.ConstantPacer(p.Duration)
	case PacingRandom:
		return loadtest.RandomPacer(p.Min, p.Max)
	default:
		return nil
	}
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Iteration stats
	Iterations            int64 `json:"iterations"`
	InterruptedIterations int64 `json:"interruptedIterations"`
	DroppedIterations     int64 `json:"droppedIterations"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	// Rate info (for arrival-rate executors)
	TargetRate float64 `json:"targetRate"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for _, stage := range c.Stages {
			if stage.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
			}
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}

	return nil
}

// TotalDuration calculates the total duration for this executor, not
// counting the graceful stop period.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration

	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// IterationsPerSecond returns the configured rate normalized to seconds.
func (c *Config) IterationsPerSecond() float64 {
	unit := c.TimeUnit
	if unit <= 0 {
		unit = defaultTimeUnit
	}
	return c.Rate / unit.Seconds()
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// gracefulRun holds the two contexts every executor drives its VUs with.
//
// stopCtx ends when the executor's duration elapses (or Stop is called):
// no new iteration starts after that. abortCtx ends GracefulStop later and
// cancels whatever is still in flight.
type gracefulRun struct {
	stopCtx  context.Context
	stop     context.CancelFunc
	abortCtx context.Context
	abort    context.CancelFunc
}

func newGracefulRun(ctx context.Context, duration time.Duration) *gracefulRun {
	g := &gracefulRun{}
	g.stopCtx, g.stop = context.WithTimeout(ctx, duration)
	// Aborting is driven by the grace timer, not by ctx
	g.abortCtx, g.abort = context.WithCancel(context.WithoutCancel(ctx))
	return g
}

// wait blocks until stopCtx is done and wg drains, aborting in-flight
// iterations after gracefulStop.
func (g *gracefulRun) wait(wg *sync.WaitGroup, gracefulStop time.Duration, metricsEngine *metrics.Engine) {
	<-g.stopCtx.Done()
	metricsEngine.SetPhase(metrics.PhaseGracefulStop)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(gracefulStop)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		g.abort()
		<-done
	}
	g.release()
}

func (g *gracefulRun) release() {
	g.stop()
	g.abort()
}

// base carries the state shared by all executors.
type base struct {
	config    *Config
	scheduler *loadtest.VUScheduler
	metrics   *metrics.Engine

	startTime time.Time
	running   atomic.Bool
	activeVUs atomic.Int32

	runMu sync.Mutex
	run   *gracefulRun
	done  chan struct{}

	mu sync.RWMutex
}

// begin records the start of a run and returns its contexts.
func (b *base) begin(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) *gracefulRun {
	g := newGracefulRun(ctx, b.config.TotalDuration())

	b.mu.Lock()
	b.scheduler = scheduler
	b.metrics = metricsEngine
	b.startTime = time.Now()
	b.mu.Unlock()

	b.runMu.Lock()
	b.run = g
	b.done = make(chan struct{})
	b.runMu.Unlock()

	b.running.Store(true)
	return g
}

func (b *base) end() {
	b.running.Store(false)

	b.runMu.Lock()
	close(b.done)
	b.runMu.Unlock()
}

// runVU runs vu through the scheduler and keeps the active VU count.
func (b *base) runVU(wg *sync.WaitGroup, g *gracefulRun, vu *loadtest.VirtualUser, pace loadtest.Pacer) {
	defer wg.Done()

	b.activeVUs.Add(1)
	defer b.activeVUs.Add(-1)

	b.scheduler.RunVU(g.stopCtx, g.abortCtx, vu, pace)
}

// GetProgress returns current progress (0.0 to 1.0).
func (b *base) GetProgress() float64 {
	b.mu.RLock()
	startTime := b.startTime
	b.mu.RUnlock()

	if !b.running.Load() {
		if startTime.IsZero() {
			return 0.0
		}
		return 1.0
	}

	totalDuration := b.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(time.Since(startTime)) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (b *base) GetActiveVUs() int {
	return int(b.activeVUs.Load())
}

// baseStats fills the fields every executor reports.
func (b *base) baseStats() *Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var elapsed time.Duration
	if !b.startTime.IsZero() {
		elapsed = time.Since(b.startTime)
	}

	stats := &Stats{
		StartTime:     b.startTime,
		CurrentTime:   time.Now(),
		Elapsed:       elapsed,
		TotalDuration: b.config.TotalDuration(),
		ActiveVUs:     int(b.activeVUs.Load()),
	}
	if b.scheduler != nil {
		stats.Iterations = b.scheduler.Iterations()
		stats.InterruptedIterations = b.scheduler.InterruptedIterations()
	}
	return stats
}

// Stop ends the run early. VUs finish their current iteration unless ctx
// is done first, in which case the iterations are aborted.
func (b *base) Stop(ctx context.Context) error {
	b.runMu.Lock()
	g, done := b.run, b.done
	b.runMu.Unlock()

	if g == nil {
		return nil
	}
	g.stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.abort()
		<-done
		return ctx.Err()
	}
}
