package executor

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "constant-vus" - Fixed number of VUs for a duration
//   - "ramping-vus" - VU count ramps up/down according to stages
//   - "constant-arrival-rate" - Fixed iteration rate (open model)
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// CreateExecutorFromScenarioConfig creates and initializes an executor from a scenario config.
func CreateExecutorFromScenarioConfig(ctx context.Context, name string, sc *config.ScenarioConfig) (Executor, *Config, error) {
	parsed, err := config.ConvertToExecutorConfig(name, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert scenario config: %w", err)
	}

	execConfig := FromExecutorConfig(parsed)
	exec, err := CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, nil, err
	}

	return exec, execConfig, nil
}

// FromExecutorConfig converts parsed scenario settings to an executor Config.
func FromExecutorConfig(ec *config.ExecutorConfig) *Config {
	cfg := &Config{
		Name:             ec.Name,
		Type:             Type(ec.Type),
		VUs:              ec.VUs,
		Duration:         ec.Duration,
		Rate:             ec.Rate,
		TimeUnit:         ec.TimeUnit,
		PreAllocatedVUs:  ec.PreAllocatedVUs,
		MaxVUs:           ec.MaxVUs,
		GracefulStop:     ec.GracefulStop,
		GracefulRampDown: ec.GracefulRampDown,
		StartTime:        ec.StartTime,
	}

	for _, stage := range ec.Stages {
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: stage.Duration,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	if ec.Pacing != nil {
		cfg.Pacing = &PacingConfig{
			Type:     PacingType(ec.Pacing.Type),
			Duration: ec.Pacing.Duration,
			Min:      ec.Pacing.Min,
			Max:      ec.Pacing.Max,
		}
	}

	return cfg
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(executorType) {
	case TypeConstantVUs, TypeRampingVUs, TypeConstantArrivalRate:
		return true
	default:
		return false
	}
}

// CalculateMaxVUs returns the maximum number of VUs that might be used.
//
// For VU-based executors, this is the VU count or the max stage target.
// For arrival-rate executors, this is MaxVUs.
func CalculateMaxVUs(cfg *Config) int {
	switch cfg.Type {
	case TypeConstantVUs:
		return cfg.VUs
	case TypeRampingVUs:
		maxVUs := 0
		for _, stage := range cfg.Stages {
			if stage.Target > maxVUs {
				maxVUs = stage.Target
			}
		}
		return maxVUs
	case TypeConstantArrivalRate:
		return cfg.MaxVUs
	default:
		return cfg.VUs
	}
}
