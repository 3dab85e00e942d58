package loadtest

import (
	"context"
	"crypto/tls"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It provides:
//   - VU pool management (spawning and stopping VUs)
//   - A shared HTTP client
//   - The per-VU iteration loop with graceful stop and abort
//
// The scheduler is used by executors to control VU counts.
type VUScheduler struct {
	scenario *Scenario
	metrics  *metrics.Engine
	logger   zerolog.Logger

	httpClientConfig HTTPClientConfig
	client           *http.Client

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32

	iterations  atomic.Int64
	interrupted atomic.Int64
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(scenario *Scenario, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig, logger zerolog.Logger) *VUScheduler {
	s := &VUScheduler{
		scenario:         scenario,
		metrics:          metricsEngine,
		logger:           logger.With().Str("scenario", scenario.Name).Logger(),
		httpClientConfig: httpConfig,
		vus:              make(map[int]*VirtualUser),
	}
	s.client = s.createHTTPClient()
	return s
}

// createHTTPClient creates an HTTP client with the configured settings.
// Request deadlines come from per-request contexts, not Client.Timeout.
func (s *VUScheduler) createHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        s.httpClientConfig.MaxIdleConns,
		MaxIdleConnsPerHost: s.httpClientConfig.MaxIdleConnsPerHost,
		MaxConnsPerHost:     s.httpClientConfig.MaxConnsPerHost,
		IdleConnTimeout:     s.httpClientConfig.IdleConnTimeout,
		DisableKeepAlives:   s.httpClientConfig.DisableKeepAlives,
	}
	if s.httpClientConfig.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &http.Client{Transport: transport}
}

// Scenario returns the scenario run by this scheduler's VUs.
func (s *VUScheduler) Scenario() *Scenario {
	return s.scenario
}

// SpawnVU creates and registers a new Virtual User. The caller runs it
// with RunVU.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))
	vu := NewVirtualUser(id, s.scenario, s.client, s.metrics, s.logger)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// GetVU returns a VU by ID, or nil if not found.
func (s *VUScheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUCount returns the count of registered, non-stopped VUs.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// StopAllVUs requests all VUs to stop after their current iteration.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// AbortAllVUs cancels the in-flight iteration of every VU.
func (s *VUScheduler) AbortAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.Abort()
	}
}

// Iterations returns the number of iterations completed by this
// scheduler's VUs.
func (s *VUScheduler) Iterations() int64 {
	return s.iterations.Load()
}

// InterruptedIterations returns the number of iterations aborted mid-way.
func (s *VUScheduler) InterruptedIterations() int64 {
	return s.interrupted.Load()
}

// Pacer returns the pause to apply after an iteration. A nil Pacer means
// no pause.
type Pacer func() time.Duration

// ConstantPacer always waits d.
func ConstantPacer(d time.Duration) Pacer {
	if d <= 0 {
		return nil
	}
	return func() time.Duration { return d }
}

// RandomPacer waits a uniformly random duration in [minWait, maxWait).
func RandomPacer(minWait, maxWait time.Duration) Pacer {
	return func() time.Duration {
		diff := maxWait - minWait
		if diff <= 0 {
			return minWait
		}
		return minWait + time.Duration(rand.Int63n(int64(diff)))
	}
}

// RunVU runs iterations on vu until stopCtx is done or the VU is asked to
// stop. It blocks until the VU has stopped and unregisters it.
//
// Two contexts drive the VU:
//   - stopCtx: once done no new iteration starts; the current one finishes.
//   - abortCtx: once done the current iteration is cancelled.
//
// The VU can also be aborted on its own with vu.Abort.
func (s *VUScheduler) RunVU(stopCtx, abortCtx context.Context, vu *VirtualUser, pace Pacer) {
	iterCtx, cancel := context.WithCancel(abortCtx)
	vu.setAbort(cancel)

	s.metrics.AddActiveVUs(1)
	defer func() {
		cancel()
		s.metrics.AddActiveVUs(-1)
		s.Release(vu)
	}()

	for {
		select {
		case <-stopCtx.Done():
			return
		case <-vu.StopRequested():
			return
		default:
		}

		if s.RunOnce(iterCtx, vu) != nil {
			return
		}

		if pace == nil {
			continue
		}
		wait := pace()
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCtx.Done():
			timer.Stop()
			return
		case <-vu.StopRequested():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce runs one iteration on vu and records its outcome: a completed
// iteration, or an interrupted one if ctx was cancelled mid-way.
//
// It returns a non-nil error when the VU should not run again.
func (s *VUScheduler) RunOnce(ctx context.Context, vu *VirtualUser) error {
	err := vu.RunIteration(ctx)
	switch {
	case err == nil:
		s.iterations.Add(1)
		s.metrics.AddIteration()
		return nil
	case errors.Is(err, ErrVUStopped):
		return err
	default:
		s.interrupted.Add(1)
		s.metrics.AddInterruptedIteration()
		s.logger.Debug().Int("vu", vu.ID).Int64("iteration", vu.GetIteration()).Msg("iteration interrupted")
		return err
	}
}

// Release marks a VU stopped and unregisters it.
func (s *VUScheduler) Release(vu *VirtualUser) {
	s.vusMu.Lock()
	delete(s.vus, vu.ID)
	s.vusMu.Unlock()

	vu.MarkStopped()
}

// Close releases idle connections of the shared client.
func (s *VUScheduler) Close() {
	s.client.CloseIdleConnections()
}
