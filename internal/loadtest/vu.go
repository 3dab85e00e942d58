// Package loadtest runs virtual users against a target and records one
// sample per issued request.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/config"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is in the middle of an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrVUStopped is returned by RunIteration when the VU was asked to stop
// before the iteration began.
var ErrVUStopped = errors.New("virtual user is stopping or stopped")

// VirtualUser represents a single simulated client executing iterations.
//
// An iteration issues every request of the scenario in order. A stop
// request only prevents the next iteration; the one in flight runs to
// completion unless the VU is aborted.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	// Scenario defines what requests to execute
	Scenario *Scenario

	// HTTP client for this VU (usually shared)
	HTTPClient *http.Client

	// Metrics engine for recording samples
	Metrics *metrics.Engine

	logger zerolog.Logger

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Closed on RequestStop
	stopCh   chan struct{}
	stopOnce sync.Once

	// Closed when the VU goroutine exits
	doneCh   chan struct{}
	doneOnce sync.Once

	// Cancels the in-flight iteration
	abortMu sync.Mutex
	abort   context.CancelFunc
	aborted atomic.Bool

	iteration atomic.Int64

	// Per-VU variable scope, filled by extract rules
	data   map[string]string
	dataMu sync.RWMutex
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, scenario *Scenario, httpClient *http.Client, metricsEngine *metrics.Engine, logger zerolog.Logger) *VirtualUser {
	return &VirtualUser{
		ID:         id,
		Scenario:   scenario,
		HTTPClient: httpClient,
		Metrics:    metricsEngine,
		logger:     logger.With().Int("vu", id).Logger(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		data:       make(map[string]string),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// RunIteration executes a single iteration of the scenario.
//
// ctx governs in-flight requests: cancelling it aborts the request being
// issued and the rest of the iteration. Every issued request produces
// exactly one sample, including aborted ones.
//
// Returns nil when all requests were issued, ErrVUStopped if the VU was
// already stopping, or ctx.Err() if the iteration was interrupted.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return ErrVUStopped
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	iteration := vu.iteration.Add(1)

	for _, req := range vu.Scenario.Requests {
		if err := ctx.Err(); err != nil {
			return err
		}

		sample := vu.executeRequest(ctx, req, iteration)
		vu.Metrics.Record(sample)
	}

	return ctx.Err()
}

// executeRequest issues a single HTTP request and classifies the outcome.
func (vu *VirtualUser) executeRequest(ctx context.Context, req *RequestConfig, iteration int64) metrics.Sample {
	sample := metrics.Sample{
		Scenario:  vu.Scenario.Name,
		VU:        vu.ID,
		Iteration: iteration,
		Request:   req.Name,
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	sample.Timestamp = startTime

	httpReq, err := vu.buildRequest(reqCtx, req)
	if err != nil {
		sample.Latency = time.Since(startTime)
		sample.Class = metrics.ClassError
		sample.Error = fmt.Sprintf("failed to build request: %v", err)
		return sample
	}

	resp, err := vu.HTTPClient.Do(httpReq)
	if err != nil {
		sample.Latency = time.Since(startTime)
		sample.Class = ClassifyError(err, ctx.Err() != nil)
		sample.Error = err.Error()
		vu.logger.Debug().Err(err).Str("request", req.Name).Str("class", string(sample.Class)).Msg("request failed")
		return sample
	}
	defer resp.Body.Close()

	sample.Status = resp.StatusCode

	var body []byte
	if req.needsBody() {
		body, err = io.ReadAll(resp.Body)
		sample.Bytes = int64(len(body))
	} else {
		sample.Bytes, err = io.Copy(io.Discard, resp.Body)
	}
	sample.Latency = time.Since(startTime)

	if err != nil {
		// The response never completed
		sample.Class = ClassifyError(err, ctx.Err() != nil)
		sample.Error = fmt.Sprintf("failed to read response body: %v", err)
		return sample
	}

	sample.Class = metrics.StatusClassFromCode(resp.StatusCode)

	if len(req.Extract) > 0 {
		vu.extractVariables(req.Extract, resp, body)
	}

	return sample
}

// buildRequest builds an HTTP request from the configuration.
func (vu *VirtualUser) buildRequest(ctx context.Context, req *RequestConfig) (*http.Request, error) {
	url := vu.resolveVariables(req.URL)

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(vu.resolveVariables(req.Body))
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if vu.Scenario.UserAgent != "" {
		httpReq.Header.Set("User-Agent", vu.Scenario.UserAgent)
	}
	for key, value := range vu.Scenario.Headers {
		httpReq.Header.Set(key, vu.resolveVariables(value))
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, vu.resolveVariables(value))
	}

	return httpReq, nil
}

// resolveVariables replaces {{name}} placeholders. VU data shadows
// scenario variables.
func (vu *VirtualUser) resolveVariables(input string) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	return config.ResolveVariables(input, vu.data, vu.Scenario.Variables)
}

// extractVariables extracts values from the response and stores them in VU data.
func (vu *VirtualUser) extractVariables(extracts []ExtractConfig, resp *http.Response, body []byte) {
	for _, extract := range extracts {
		var value string

		switch extract.Source {
		case "header":
			value = resp.Header.Get(extract.Path)
		case "status":
			value = strconv.Itoa(resp.StatusCode)
		case "body":
			value = gjson.GetBytes(body, extract.Path).String()
		}

		if value != "" {
			vu.SetData(extract.Name, value)
		}
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	for {
		current := vu.state.Load()
		if current == int32(VUStateStopping) || current == int32(VUStateStopped) {
			break
		}
		if vu.state.CompareAndSwap(current, int32(VUStateStopping)) {
			break
		}
	}
	vu.stopOnce.Do(func() { close(vu.stopCh) })
}

// StopRequested returns a channel closed once RequestStop was called.
func (vu *VirtualUser) StopRequested() <-chan struct{} {
	return vu.stopCh
}

// setAbort installs the function that cancels this VU's iterations.
func (vu *VirtualUser) setAbort(cancel context.CancelFunc) {
	vu.abortMu.Lock()
	vu.abort = cancel
	vu.abortMu.Unlock()
}

// Abort stops the VU and cancels its in-flight iteration.
func (vu *VirtualUser) Abort() {
	vu.RequestStop()
	vu.aborted.Store(true)

	vu.abortMu.Lock()
	cancel := vu.abort
	vu.abortMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// WasAborted reports whether Abort was called.
func (vu *VirtualUser) WasAborted() bool {
	return vu.aborted.Load()
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed when the VU has fully stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// MarkStopped marks the VU as fully stopped.
// Called by the scheduler when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}

// SetData stores a value in the VU's variable scope.
func (vu *VirtualUser) SetData(key, value string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData retrieves a value from the VU's variable scope.
func (vu *VirtualUser) GetData(key string) (string, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}

// Scenario defines what a VU executes during each iteration.
type Scenario struct {
	// Name of the scenario
	Name string `json:"name" yaml:"name"`

	// Variables available to all requests
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Headers applied to every request before request headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// UserAgent header value
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Requests to execute in order
	Requests []*RequestConfig `json:"requests" yaml:"requests"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// HTTP method
	Method string `json:"method" yaml:"method"`

	// URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout for this request; zero means no per-request deadline
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Variable extraction from response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

func (r *RequestConfig) needsBody() bool {
	for _, e := range r.Extract {
		if e.Source == "body" {
			return true
		}
	}
	return false
}

// ExtractConfig defines how to extract variables from a response.
type ExtractConfig struct {
	// Name of the variable to store
	Name string `json:"name" yaml:"name"`

	// Source: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path: header name, or gjson path for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}
