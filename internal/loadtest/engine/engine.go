// Package engine orchestrates a load test: it builds one executor per
// scenario, runs them, and evaluates thresholds against the final metrics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/ratecheck/internal/loadtest"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/config"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/executor"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/threshold"
)

// ErrThresholdsFailed is returned by Run when the test completed but at
// least one threshold did not hold.
var ErrThresholdsFailed = errors.New("one or more thresholds failed")

// Engine is the main orchestrator for a load test.
//
// Everything that can be wrong with the configuration is detected by
// NewEngine, before any VU is launched.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("smoke.yaml")
//	eng, _ := engine.NewEngine(cfg, engine.WithLogger(logger))
//	result, err := eng.Run(ctx)
//	if errors.Is(err, engine.ErrThresholdsFailed) { ... }
type Engine struct {
	config *config.TestConfig
	logger zerolog.Logger

	// Shared across all scenarios
	metricsEngine *metrics.Engine

	httpConfig loadtest.HTTPClientConfig
	thresholds threshold.Set
	trendStats []metrics.TrendStat

	// Scenario runners, in name order
	scenarios []*ScenarioRunner

	mu        sync.RWMutex
	startTime time.Time
	running   bool
	ran       bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its VUs.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHTTPClientConfig overrides the HTTP client settings derived from the
// test configuration.
func WithHTTPClientConfig(cfg loadtest.HTTPClientConfig) Option {
	return func(e *Engine) {
		e.httpConfig = cfg
	}
}

// ScenarioRunner manages the execution of a single scenario.
type ScenarioRunner struct {
	Name       string
	Config     *config.ScenarioConfig
	ExecConfig *executor.Config
	Executor   executor.Executor
	Scheduler  *loadtest.VUScheduler
	Scenario   *loadtest.Scenario
	Result     *ScenarioResult
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name                  string        `json:"name"`
	Executor              string        `json:"executor"`
	StartTime             time.Time     `json:"startTime"`
	Duration              time.Duration `json:"duration"`
	Iterations            int64         `json:"iterations"`
	InterruptedIterations int64         `json:"interruptedIterations"`
	DroppedIterations     int64         `json:"droppedIterations"`
	MaxVUs                int           `json:"maxVUs"`
	Skipped               bool          `json:"skipped,omitempty"`
}

// TestResult contains the complete test results.
type TestResult struct {
	// Test metadata
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Scenario results
	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Aggregated metrics across all scenarios
	Metrics *metrics.Snapshot `json:"metrics"`

	// Statistics shown for every trend in the summary
	SummaryTrendStats []string            `json:"summaryTrendStats"`
	TrendStats        []metrics.TrendStat `json:"-"`

	// Threshold evaluation
	Passed     bool               `json:"passed"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`

	// Interrupted is set when the run was cut short by its context
	Interrupted bool `json:"interrupted,omitempty"`
}

// NewEngine validates cfg, applies defaults and prepares one executor per
// scenario.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.ApplyDefaults(cfg)

	trendStats, err := metrics.ParseTrendStats(cfg.SummaryTrendStats)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	thresholds, err := threshold.ParseSet(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	httpConfig := loadtest.DefaultHTTPClientConfig()
	httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	httpConfig.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
	httpConfig.InsecureSkipVerify = cfg.Settings.InsecureSkipVerify

	e := &Engine{
		config:        cfg,
		logger:        zerolog.Nop(),
		metricsEngine: metrics.NewEngine(),
		httpConfig:    httpConfig,
		thresholds:    thresholds,
		trendStats:    trendStats,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.initializeScenarios(); err != nil {
		return nil, err
	}

	return e, nil
}

// initializeScenarios creates executors and schedulers for all scenarios.
func (e *Engine) initializeScenarios() error {
	for _, name := range e.config.ScenarioNames() {
		sc := e.config.Scenarios[name]

		scenario, err := e.createScenario(name, sc)
		if err != nil {
			return fmt.Errorf("invalid scenario %s: %w", name, err)
		}

		exec, execConfig, err := executor.CreateExecutorFromScenarioConfig(context.Background(), name, sc)
		if err != nil {
			return fmt.Errorf("failed to create executor for scenario %s: %w", name, err)
		}

		e.scenarios = append(e.scenarios, &ScenarioRunner{
			Name:       name,
			Config:     sc,
			ExecConfig: execConfig,
			Executor:   exec,
			Scheduler:  loadtest.NewVUScheduler(scenario, e.metricsEngine, e.httpConfig, e.logger),
			Scenario:   scenario,
		})
	}

	return nil
}

// createScenario creates a Scenario from the config.
func (e *Engine) createScenario(name string, sc *config.ScenarioConfig) (*loadtest.Scenario, error) {
	scenario := &loadtest.Scenario{
		Name:      name,
		Variables: config.MergeVariables(e.config.Variables),
		Headers:   e.config.Settings.Headers,
		UserAgent: e.config.Settings.UserAgent,
	}

	if e.config.BaseURL != "" {
		scenario.Variables["baseUrl"] = e.config.BaseURL
	}

	for _, req := range sc.Requests {
		reqConfig := &loadtest.RequestConfig{
			Name:    req.Name,
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    req.Body,
		}

		timeout, err := config.ParseDurationString(req.Timeout)
		if err != nil {
			return nil, fmt.Errorf("request %s: invalid timeout: %w", req.Name, err)
		}
		reqConfig.Timeout = timeout

		for _, ext := range req.Extract {
			reqConfig.Extract = append(reqConfig.Extract, loadtest.ExtractConfig{
				Name:   ext.Name,
				Source: ext.Source,
				Path:   ext.Path,
			})
		}

		scenario.Requests = append(scenario.Requests, reqConfig)
	}

	return scenario, nil
}

// Run executes all scenarios and returns the test results.
//
// Scenarios run concurrently unless Options.Sequential is set. Cancelling
// ctx stops every scenario through its graceful stop path; the results
// gathered so far are still evaluated and returned.
//
// The returned error is ErrThresholdsFailed when the run completed but a
// threshold did not hold.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	if e.ran {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}
	e.running = true
	e.ran = true
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.logger.Info().
		Str("name", e.config.Name).
		Int("scenarios", len(e.scenarios)).
		Int("thresholds", len(e.thresholds)).
		Msg("starting load test")

	e.metricsEngine.Start()

	var runErr error
	if e.config.Options != nil && e.config.Options.Sequential {
		runErr = e.runScenariosSequentially(ctx)
	} else {
		runErr = e.runScenariosConcurrently(ctx)
	}

	e.metricsEngine.Stop()
	e.metricsEngine.SetPhase(metrics.PhaseDone)

	for _, runner := range e.scenarios {
		runner.Scheduler.Close()
	}

	finalMetrics := e.metricsEngine.Snapshot()
	thresholdResults, passed := e.thresholds.Evaluate(finalMetrics)

	endTime := time.Now()
	result := &TestResult{
		Name:              e.config.Name,
		Description:       e.config.Description,
		StartTime:         e.startTime,
		EndTime:           endTime,
		Duration:          endTime.Sub(e.startTime),
		Scenarios:         make(map[string]*ScenarioResult, len(e.scenarios)),
		Metrics:           finalMetrics,
		SummaryTrendStats: e.config.SummaryTrendStats,
		TrendStats:        e.trendStats,
		Passed:            passed,
		Thresholds:        thresholdResults,
		Interrupted:       ctx.Err() != nil,
	}
	for _, runner := range e.scenarios {
		if runner.Result != nil {
			result.Scenarios[runner.Name] = runner.Result
		}
	}

	for _, tr := range thresholdResults {
		if !tr.Passed {
			e.logger.Warn().Str("threshold", tr.Selector).Str("expression", tr.Expression).Msg(tr.Message)
		}
	}

	e.logger.Info().
		Bool("passed", passed).
		Int64("requests", finalMetrics.TotalRequests).
		Dur("duration", result.Duration).
		Msg("load test finished")

	if runErr != nil {
		return result, runErr
	}
	if !passed {
		return result, ErrThresholdsFailed
	}
	return result, nil
}

// runScenariosConcurrently runs all scenarios in parallel.
func (e *Engine) runScenariosConcurrently(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, runner := range e.scenarios {
		runner := runner
		g.Go(func() error {
			if err := e.runScenario(gctx, runner); err != nil {
				return fmt.Errorf("scenario %s failed: %w", runner.Name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// runScenariosSequentially runs all scenarios one at a time, in name
// order.
func (e *Engine) runScenariosSequentially(ctx context.Context) error {
	for _, runner := range e.scenarios {
		if ctx.Err() != nil {
			return nil
		}

		if err := e.runScenario(ctx, runner); err != nil {
			return fmt.Errorf("scenario %s failed: %w", runner.Name, err)
		}
	}

	return nil
}

// runScenario runs a single scenario after its start delay.
func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner) error {
	result := &ScenarioResult{
		Name:     runner.Name,
		Executor: string(runner.Executor.Type()),
		MaxVUs:   executor.CalculateMaxVUs(runner.ExecConfig),
	}

	logger := e.logger.With().Str("scenario", runner.Name).Logger()

	if delay := runner.ExecConfig.StartTime; delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Skipped = true
			e.setResult(runner, result)
			logger.Info().Msg("scenario skipped, run cancelled before its start time")
			return nil
		case <-timer.C:
		}
	}

	logger.Info().
		Str("executor", result.Executor).
		Dur("duration", runner.ExecConfig.TotalDuration()).
		Int("maxVUs", result.MaxVUs).
		Msg("scenario started")

	result.StartTime = time.Now()
	err := runner.Executor.Run(ctx, runner.Scheduler, e.metricsEngine)
	result.Duration = time.Since(result.StartTime)

	stats := runner.Executor.GetStats()
	result.Iterations = stats.Iterations
	result.InterruptedIterations = stats.InterruptedIterations
	result.DroppedIterations = stats.DroppedIterations
	e.setResult(runner, result)

	logger.Info().
		Int64("iterations", result.Iterations).
		Int64("interrupted", result.InterruptedIterations).
		Int64("dropped", result.DroppedIterations).
		Dur("took", result.Duration).
		Msg("scenario finished")

	return err
}

func (e *Engine) setResult(runner *ScenarioRunner, result *ScenarioResult) {
	e.mu.Lock()
	runner.Result = result
	e.mu.Unlock()
}

// GetConfig returns the test configuration, with defaults applied.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// Metrics returns the engine's metrics source. It is valid before Run so
// live output and exporters can attach to it.
func (e *Engine) Metrics() *metrics.Engine {
	return e.metricsEngine
}

// GetMetrics returns the current metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	return e.metricsEngine.Snapshot()
}

// Thresholds returns the parsed thresholds.
func (e *Engine) Thresholds() threshold.Set {
	return e.thresholds
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop gracefully stops all running scenarios. In-flight iterations are
// aborted if ctx is done before they finish.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.IsRunning() {
		return nil
	}

	var errs []error
	for _, runner := range e.scenarios {
		if err := runner.Executor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scenario %s: %w", runner.Name, err))
		}
	}

	return errors.Join(errs...)
}

// GetProgress returns the overall test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	if len(e.scenarios) == 0 {
		return 0.0
	}

	var totalProgress float64
	for _, runner := range e.scenarios {
		totalProgress += runner.Executor.GetProgress()
	}

	return totalProgress / float64(len(e.scenarios))
}

// GetScenarioStats returns current stats for all scenarios.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	stats := make(map[string]*executor.Stats, len(e.scenarios))
	for _, runner := range e.scenarios {
		stats[runner.Name] = runner.Executor.GetStats()
	}
	return stats
}

// TotalDuration estimates the wall-clock length of the run, including
// start delays but not graceful stop periods.
func (e *Engine) TotalDuration() time.Duration {
	var total time.Duration
	for _, runner := range e.scenarios {
		d := runner.ExecConfig.TotalDuration()
		if e.config.Options != nil && e.config.Options.Sequential {
			total += runner.ExecConfig.StartTime + d
			continue
		}
		if end := runner.ExecConfig.StartTime + d; end > total {
			total = end
		}
	}
	return total
}
