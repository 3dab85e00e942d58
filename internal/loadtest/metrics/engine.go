// Package metrics aggregates request samples into HDR-histogram backed
// trend series, grouped by status class and by request name.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Engine collects samples from all virtual users.
//
// Every sample updates three series: the overall latency series, the
// series of its status class and the series of its request name. Series
// are guarded by a single mutex so a sample is applied to all of them
// atomically; plain counters are lock-free.
//
// Engine is safe for concurrent use.
type Engine struct {
	seriesMu sync.Mutex
	overall  *series
	byStatus map[StatusClass]*series
	byName   map[string]*series

	totalRequests         atomic.Int64
	failedRequests        atomic.Int64
	totalBytes            atomic.Int64
	iterations            atomic.Int64
	droppedIterations     atomic.Int64
	interruptedIterations atomic.Int64

	activeVUs atomic.Int32
	maxVUs    atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	timeMu    sync.RWMutex
	startTime time.Time
	endTime   time.Time

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		overall:      newSeries(config),
		byStatus:     make(map[StatusClass]*series),
		byName:       make(map[string]*series),
		currentPhase: PhaseInit,
		startTime:    time.Now(),
		config:       config,
	}
}

// Record adds one request sample.
func (e *Engine) Record(s Sample) {
	micros := s.Latency.Microseconds()
	if micros < e.config.HistogramMin {
		micros = e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		micros = e.config.HistogramMax
	}
	failed := s.Failed()

	e.seriesMu.Lock()
	e.overall.record(s.Latency, micros, failed)

	byStatus, ok := e.byStatus[s.Class]
	if !ok {
		byStatus = newSeries(e.config)
		e.byStatus[s.Class] = byStatus
	}
	byStatus.record(s.Latency, micros, failed)

	if s.Request != "" {
		byName, ok := e.byName[s.Request]
		if !ok {
			byName = newSeries(e.config)
			e.byName[s.Request] = byName
		}
		byName.record(s.Latency, micros, failed)
	}
	e.seriesMu.Unlock()

	e.totalRequests.Add(1)
	e.totalBytes.Add(s.Bytes)
	if failed {
		e.failedRequests.Add(1)
	}
}

// AddIteration counts a completed iteration.
func (e *Engine) AddIteration() {
	e.iterations.Add(1)
}

// AddDroppedIteration counts an iteration that could not be started
// because no VU was available.
func (e *Engine) AddDroppedIteration() {
	e.droppedIterations.Add(1)
}

// AddInterruptedIteration counts an iteration aborted at the end of a
// graceful stop period.
func (e *Engine) AddInterruptedIteration() {
	e.interruptedIterations.Add(1)
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// AddActiveVUs adjusts the active VU gauge by delta and tracks the peak.
func (e *Engine) AddActiveVUs(delta int) {
	current := e.activeVUs.Add(int32(delta))
	for {
		peak := e.maxVUs.Load()
		if current <= peak || e.maxVUs.CompareAndSwap(peak, current) {
			return
		}
	}
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetMaxVUs returns the highest active VU count observed.
func (e *Engine) GetMaxVUs() int {
	return int(e.maxVUs.Load())
}

// Start resets the clock used for rates. Called when the first scenario
// starts.
func (e *Engine) Start() {
	e.timeMu.Lock()
	e.startTime = time.Now()
	e.endTime = time.Time{}
	e.timeMu.Unlock()
}

// Stop freezes the clock so rates in later snapshots refer to the run
// duration.
func (e *Engine) Stop() {
	e.timeMu.Lock()
	if e.endTime.IsZero() {
		e.endTime = time.Now()
	}
	e.timeMu.Unlock()
}

func (e *Engine) elapsed() (time.Time, time.Duration) {
	e.timeMu.RLock()
	defer e.timeMu.RUnlock()
	if e.endTime.IsZero() {
		return e.startTime, time.Since(e.startTime)
	}
	return e.startTime, e.endTime.Sub(e.startTime)
}

// Snapshot returns a point-in-time copy of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.seriesMu.Lock()
	overall := e.overall.snapshot(e.config)
	byStatus := make(map[StatusClass]*TrendSnapshot, len(e.byStatus))
	for class, s := range e.byStatus {
		byStatus[class] = s.snapshot(e.config)
	}
	byName := make(map[string]*TrendSnapshot, len(e.byName))
	for name, s := range e.byName {
		byName[name] = s.snapshot(e.config)
	}
	e.seriesMu.Unlock()

	start, elapsed := e.elapsed()
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	return &Snapshot{
		TotalRequests:         totalReqs,
		FailedRequests:        failedReqs,
		TotalBytes:            e.totalBytes.Load(),
		Iterations:            e.iterations.Load(),
		DroppedIterations:     e.droppedIterations.Load(),
		InterruptedIterations: e.interruptedIterations.Load(),
		ActiveVUs:             e.GetActiveVUs(),
		MaxVUs:                e.GetMaxVUs(),
		RPS:                   rps,
		ErrorRate:             errorRate,
		CurrentPhase:          e.GetPhase(),
		Elapsed:               elapsed,
		StartTime:             start,
		Timestamp:             time.Now(),
		Latency:               overall,
		ByStatus:              byStatus,
		ByName:                byName,
	}
}

// Snapshot is an immutable view of the engine.
type Snapshot struct {
	TotalRequests         int64         `json:"totalRequests"`
	FailedRequests        int64         `json:"failedRequests"`
	TotalBytes            int64         `json:"totalBytes"`
	Iterations            int64         `json:"iterations"`
	DroppedIterations     int64         `json:"droppedIterations"`
	InterruptedIterations int64         `json:"interruptedIterations"`
	ActiveVUs             int           `json:"activeVUs"`
	MaxVUs                int           `json:"maxVUs"`
	RPS                   float64       `json:"rps"`
	ErrorRate             float64       `json:"errorRate"`
	CurrentPhase          Phase         `json:"currentPhase"`
	Elapsed               time.Duration `json:"elapsed"`
	StartTime             time.Time     `json:"startTime"`
	Timestamp             time.Time     `json:"timestamp"`

	Latency  *TrendSnapshot                 `json:"latency"`
	ByStatus map[StatusClass]*TrendSnapshot `json:"byStatus"`
	ByName   map[string]*TrendSnapshot      `json:"byName"`
}

var emptyTrend = &TrendSnapshot{}

// Status returns the series of a status class. Classes with no samples
// return an empty series whose statistics are all zero.
func (s *Snapshot) Status(class StatusClass) *TrendSnapshot {
	if t, ok := s.ByStatus[class]; ok {
		return t
	}
	return emptyTrend
}

// Request returns the series of a named request, empty if unknown.
func (s *Snapshot) Request(name string) *TrendSnapshot {
	if t, ok := s.ByName[name]; ok {
		return t
	}
	return emptyTrend
}

// StatusClasses returns the observed classes, status codes first in
// numeric order, then transport classes.
func (s *Snapshot) StatusClasses() []StatusClass {
	classes := make([]StatusClass, 0, len(s.ByStatus))
	for class := range s.ByStatus {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		ci, cj := classes[i].Code(), classes[j].Code()
		if ci != 0 && cj != 0 {
			return ci < cj
		}
		if ci != 0 || cj != 0 {
			return ci != 0
		}
		return classes[i] < classes[j]
	})
	return classes
}

// RequestNames returns the observed request names in sorted order.
func (s *Snapshot) RequestNames() []string {
	names := make([]string, 0, len(s.ByName))
	for name := range s.ByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rate returns count per second of elapsed run time.
func (s *Snapshot) Rate(count int64) float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(count) / s.Elapsed.Seconds()
}
