package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/executor"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

func TestConstantVUs_Init(t *testing.T) {
	e := executor.NewConstantVUs()

	err := e.Init(context.Background(), &executor.Config{Type: executor.TypeRampingVUs, Stages: []executor.Stage{{Duration: time.Second}}})
	assert.Error(t, err, "Init should reject a foreign executor type")

	err = e.Init(context.Background(), &executor.Config{Type: executor.TypeConstantVUs})
	assert.Error(t, err, "Init should validate the config")

	err = e.Init(context.Background(), &executor.Config{Type: executor.TypeConstantVUs, VUs: 2, Duration: time.Second})
	assert.NoError(t, err)
	assert.Zero(t, e.GetProgress())
}

func TestConstantVUs_Run(t *testing.T) {
	server := newOKServer(t)
	metricsEngine := metrics.NewEngine()
	scheduler := newTestScheduler(t, server.URL, metricsEngine)

	e := executor.NewConstantVUs()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:         executor.TypeConstantVUs,
		VUs:          3,
		Duration:     200 * time.Millisecond,
		GracefulStop: time.Second,
	}))

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), scheduler, metricsEngine))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	snap := metricsEngine.Snapshot()
	assert.Greater(t, snap.Iterations, int64(0))
	assert.Equal(t, snap.Iterations, snap.TotalRequests)
	assert.Zero(t, snap.InterruptedIterations)
	assert.Equal(t, 3, snap.MaxVUs)
	assert.Zero(t, snap.ActiveVUs)

	stats := e.GetStats()
	assert.Equal(t, 3, stats.TargetVUs)
	assert.Equal(t, snap.Iterations, stats.Iterations)
	assert.Zero(t, e.GetActiveVUs())
	assert.Equal(t, 1.0, e.GetProgress())
	assert.Zero(t, scheduler.GetActiveVUCount())
}

func TestConstantVUs_HoldsVUCountDuringRun(t *testing.T) {
	server := newOKServer(t)
	metricsEngine := metrics.NewEngine()
	scheduler := newTestScheduler(t, server.URL, metricsEngine)

	e := executor.NewConstantVUs()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:         executor.TypeConstantVUs,
		VUs:          4,
		Duration:     500 * time.Millisecond,
		GracefulStop: time.Second,
	}))

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- e.Run(context.Background(), scheduler, metricsEngine) }()

	// Skip start-up and shutdown, sample the steady state
	var samples []int
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for time.Since(start) < 400*time.Millisecond {
		<-ticker.C
		if time.Since(start) >= 100*time.Millisecond {
			samples = append(samples, metricsEngine.GetActiveVUs())
		}
	}
	require.NoError(t, <-done)

	require.NotEmpty(t, samples)
	for i, active := range samples {
		assert.Equal(t, 4, active, "sample %d", i)
	}
	assert.Zero(t, metricsEngine.GetActiveVUs())
}

func TestConstantVUs_GracefulStopAbortsIterations(t *testing.T) {
	server := newBlockingServer(t)
	metricsEngine := metrics.NewEngine()
	scheduler := newTestScheduler(t, server.URL, metricsEngine)

	e := executor.NewConstantVUs()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:         executor.TypeConstantVUs,
		VUs:          2,
		Duration:     50 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
	}))

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), scheduler, metricsEngine))
	assert.Less(t, time.Since(start), 3*time.Second)

	snap := metricsEngine.Snapshot()
	assert.Zero(t, snap.Iterations)
	assert.Equal(t, int64(2), snap.InterruptedIterations)
	assert.Equal(t, int64(2), snap.Status(metrics.ClassError).Count)
	assert.Equal(t, metrics.PhaseGracefulStop, metricsEngine.GetPhase())
}

func TestConstantVUs_Stop(t *testing.T) {
	server := newOKServer(t)
	metricsEngine := metrics.NewEngine()
	scheduler := newTestScheduler(t, server.URL, metricsEngine)

	e := executor.NewConstantVUs()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:         executor.TypeConstantVUs,
		VUs:          2,
		Duration:     time.Minute,
		GracefulStop: time.Second,
	}))

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), scheduler, metricsEngine) }()

	time.Sleep(100 * time.Millisecond)
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Greater(t, metricsEngine.Snapshot().Iterations, int64(0))
}

func TestConstantVUs_ContextCancel(t *testing.T) {
	server := newOKServer(t)
	metricsEngine := metrics.NewEngine()
	scheduler := newTestScheduler(t, server.URL, metricsEngine)

	e := executor.NewConstantVUs()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:         executor.TypeConstantVUs,
		VUs:          1,
		Duration:     time.Minute,
		GracefulStop: time.Second,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, e.Run(ctx, scheduler, metricsEngine))
	assert.Less(t, time.Since(start), 3*time.Second)
}
