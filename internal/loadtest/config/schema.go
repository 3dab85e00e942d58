// Package config provides configuration parsing and validation for
// rate-limit verification runs.
package config

// TestConfig is the root configuration for a run.
//
// Example YAML:
//
//	name: "rate limiter smoke"
//	baseUrl: "http://localhost:8080"
//	vus: 5
//	duration: 1m
//	variables:
//	  apiKey: abc123
//	thresholds:
//	  "http_req_duration{status:200}": ["max>=0"]
//	  "http_reqs{status:429}": ["count>0"]
//
// Top-level vus, duration and stages describe the "default" scenario.
// Additional scenarios can be declared under scenarios.
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// BaseURL is the target, available to requests as {{baseUrl}}
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// VUs is the number of virtual users of the default scenario
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration of the default scenario (e.g., "30s", "2m")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages switch the default scenario to ramping-vus
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is how long in-flight iterations may run after the
	// duration has elapsed
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// GracefulRampDown is how long VUs removed by a ramp-down may finish
	// their iteration
	GracefulRampDown string `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// Timeout is the default per-request timeout
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Sleep is a constant pause after each iteration
	Sleep string `json:"sleep,omitempty" yaml:"sleep,omitempty"`

	// Settings contains HTTP client settings shared by all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Requests run by every scenario that does not declare its own
	Requests []RequestConfig `json:"requests,omitempty" yaml:"requests,omitempty"`

	// Scenarios are additional named load profiles
	Scenarios map[string]*ScenarioConfig `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`

	// Thresholds map a metric selector to expressions that must all hold
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// SummaryTrendStats lists the statistics shown for every trend
	SummaryTrendStats []string `json:"summaryTrendStats,omitempty" yaml:"summaryTrendStats,omitempty"`

	// Variables are available to all requests as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Options for run execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains HTTP client settings.
type GlobalSettings struct {
	// MaxConnectionsPerHost limits connections per host (0: unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig defines a single load profile.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy
	// Options: "constant-vus", "ramping-vus", "constant-arrival-rate"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of virtual users (constant-vus) or the starting
	// count (ramping-vus)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long to run (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is iterations per TimeUnit (arrival-rate executors)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// TimeUnit is the period Rate refers to (default 1s)
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs is the initial VU pool (arrival-rate executors)
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs is the largest the VU pool may grow (arrival-rate executors)
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages defines ramping stages (ramping-vus)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Requests overrides the top-level requests
	Requests []RequestConfig `json:"requests,omitempty" yaml:"requests,omitempty"`

	// GracefulStop overrides the top-level gracefulStop
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// GracefulRampDown overrides the top-level gracefulRampDown
	GracefulRampDown string `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// Pacing controls time between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// StartTime delays this scenario relative to the start of the run
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics as the name tag)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout is request-specific timeout (overrides global)
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Extract defines variable extraction from the response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// ExtractConfig defines how to extract a variable from a response.
type ExtractConfig struct {
	// Name of the variable to store
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path is the header name, or a gjson path for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ExecutionOptions controls run behaviour.
type ExecutionOptions struct {
	// Sequential runs scenarios one-by-one instead of in parallel
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}

// Executor names accepted in scenarios.
const (
	ExecutorConstantVUs         = "constant-vus"
	ExecutorRampingVUs          = "ramping-vus"
	ExecutorConstantArrivalRate = "constant-arrival-rate"
)

// DefaultScenarioName names the scenario built from top-level vus,
// duration and stages.
const DefaultScenarioName = "default"

// APIKeyHeader is the header the keyed default request carries.
const APIKeyHeader = "API_KEY"

// DefaultRequests is the request pair run when none is configured: one
// anonymous request and one carrying an API key.
func DefaultRequests() []RequestConfig {
	return []RequestConfig{
		{
			Name:   "anonymous",
			Method: "GET",
			URL:    "{{baseUrl}}",
		},
		{
			Name:    "keyed",
			Method:  "GET",
			URL:     "{{baseUrl}}",
			Headers: map[string]string{APIKeyHeader: "{{apiKey}}"},
		},
	}
}

// DefaultThresholds records a latency trend for each status class the
// limiter is expected to produce. max>=0 always holds, so the run only
// fails on configured thresholds.
func DefaultThresholds() map[string][]string {
	return map[string][]string{
		"http_req_duration{status:200}": {"max>=0"},
		"http_req_duration{status:429}": {"max>=0"},
		"http_req_duration{status:500}": {"max>=0"},
	}
}
