package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultGracefulStop     = 30 * time.Second
	DefaultGracefulRampDown = 30 * time.Second
	DefaultTimeUnit         = time.Second
)

// UserAgent is the default User-Agent header. The CLI sets the version.
var UserAgent = "ratecheck/dev"

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// The document is checked against the configuration schema before it is
// decoded, so unknown keys and mistyped values are reported here.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var doc interface{}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	// Round-trip through JSON so YAML and JSON documents reach the schema
	// validator and the decoder in the same shape.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(normalized, &generic); err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}

	if err := validateDocument(generic); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Bare integers are seconds
	if normalizeDurations(generic) {
		if normalized, err = json.Marshal(generic); err != nil {
			return nil, fmt.Errorf("failed to normalize config: %w", err)
		}
	}

	var config TestConfig
	if err := json.Unmarshal(normalized, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &config, nil
}

// Duration-valued keys per object kind of the configuration document.
var (
	rootDurationKeys     = []string{"duration", "gracefulStop", "gracefulRampDown", "timeout", "sleep"}
	scenarioDurationKeys = []string{"duration", "timeUnit", "gracefulStop", "gracefulRampDown", "startTime"}
	stageDurationKeys    = []string{"duration"}
	requestDurationKeys  = []string{"timeout"}
	pacingDurationKeys   = []string{"duration", "min", "max"}
)

// normalizeDurations rewrites numeric durations of a schema-valid document
// as strings so they decode into the string-typed fields. It reports
// whether anything changed.
func normalizeDurations(doc interface{}) bool {
	root, ok := doc.(map[string]interface{})
	if !ok {
		return false
	}

	changed := stringifyKeys(root, rootDurationKeys)
	changed = normalizeEach(root["stages"], stageDurationKeys) || changed
	changed = normalizeEach(root["requests"], requestDurationKeys) || changed

	scenarios, _ := root["scenarios"].(map[string]interface{})
	for _, raw := range scenarios {
		sc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		changed = stringifyKeys(sc, scenarioDurationKeys) || changed
		changed = normalizeEach(sc["stages"], stageDurationKeys) || changed
		changed = normalizeEach(sc["requests"], requestDurationKeys) || changed
		if pacing, ok := sc["pacing"].(map[string]interface{}); ok {
			changed = stringifyKeys(pacing, pacingDurationKeys) || changed
		}
	}
	return changed
}

func normalizeEach(list interface{}, keys []string) bool {
	items, _ := list.([]interface{})
	changed := false
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			changed = stringifyKeys(obj, keys) || changed
		}
	}
	return changed
}

func stringifyKeys(obj map[string]interface{}, keys []string) bool {
	changed := false
	for _, key := range keys {
		if n, ok := obj[key].(float64); ok {
			obj[key] = strconv.FormatInt(int64(n), 10)
			changed = true
		}
	}
	return changed
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// Returns the parsed duration or an error.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// durationOr parses s, returning fallback when s is empty or invalid.
// Callers validate first.
func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := ParseDurationString(s)
	if err != nil || s == "" {
		return fallback
	}
	return d
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// ResolveVariables replaces {{name}} placeholders using the given maps,
// earlier maps taking precedence. Unresolved placeholders are left as-is.
func ResolveVariables(input string, scopes ...map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return placeholderRe.ReplaceAllStringFunc(input, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		for _, scope := range scopes {
			if v, ok := scope[name]; ok {
				return v
			}
		}
		return match
	})
}

// MergeVariables merges multiple variable maps in order.
// Later maps override earlier ones.
func MergeVariables(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// hasDefaultScenario reports whether top-level load keys are set.
func (c *TestConfig) hasDefaultScenario() bool {
	return c.VUs != 0 || c.Duration != "" || len(c.Stages) > 0
}

// defaultScenario builds the scenario described by top-level vus,
// duration and stages.
func (c *TestConfig) defaultScenario() *ScenarioConfig {
	sc := &ScenarioConfig{
		Executor: ExecutorConstantVUs,
		VUs:      c.VUs,
		Duration: c.Duration,
	}
	if len(c.Stages) > 0 {
		sc.Executor = ExecutorRampingVUs
		sc.Duration = ""
		sc.Stages = append([]StageConfig(nil), c.Stages...)
	}
	return sc
}

// EffectiveScenarios returns every scenario the run will execute,
// including the implicit default scenario. The config is not modified.
func (c *TestConfig) EffectiveScenarios() map[string]*ScenarioConfig {
	scenarios := make(map[string]*ScenarioConfig, len(c.Scenarios)+1)
	for name, sc := range c.Scenarios {
		scenarios[name] = sc
	}
	if c.hasDefaultScenario() {
		if _, exists := scenarios[DefaultScenarioName]; !exists {
			scenarios[DefaultScenarioName] = c.defaultScenario()
		}
	}
	return scenarios
}

// ScenarioNames returns scenario names in sorted order.
func (c *TestConfig) ScenarioNames() []string {
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyDefaults applies default values to a TestConfig.
//
// The implicit default scenario is materialized into Scenarios, every
// scenario inherits top-level requests, stop periods and pacing, and the
// default request pair is used when no request is configured.
func ApplyDefaults(config *TestConfig) {
	if config.Timeout == "" {
		config.Timeout = DefaultTimeout.String()
	}
	if config.GracefulStop == "" {
		config.GracefulStop = DefaultGracefulStop.String()
	}
	if config.GracefulRampDown == "" {
		config.GracefulRampDown = DefaultGracefulRampDown.String()
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = UserAgent
	}
	if len(config.SummaryTrendStats) == 0 {
		config.SummaryTrendStats = append([]string(nil), metrics.DefaultSummaryTrendStats...)
	}
	if len(config.Requests) == 0 {
		config.Requests = DefaultRequests()
	}

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}

	config.Scenarios = config.EffectiveScenarios()

	for name, sc := range config.Scenarios {
		applyScenarioDefaults(name, sc, config)
	}
}

// applyScenarioDefaults applies default values to a scenario.
func applyScenarioDefaults(name string, sc *ScenarioConfig, config *TestConfig) {
	if sc.Executor == "" {
		sc.Executor = ExecutorConstantVUs
	}

	switch sc.Executor {
	case ExecutorConstantArrivalRate:
		if sc.TimeUnit == "" {
			sc.TimeUnit = DefaultTimeUnit.String()
		}
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs * 10
		}
	}

	if sc.GracefulStop == "" {
		sc.GracefulStop = config.GracefulStop
	}
	if sc.GracefulRampDown == "" {
		sc.GracefulRampDown = config.GracefulRampDown
	}
	if sc.Pacing == nil && config.Sleep != "" {
		sc.Pacing = &PacingConfig{Type: "constant", Duration: config.Sleep}
	}

	if len(sc.Requests) == 0 {
		sc.Requests = make([]RequestConfig, len(config.Requests))
		for i, req := range config.Requests {
			sc.Requests[i] = req
			sc.Requests[i].Headers = MergeVariables(req.Headers)
			sc.Requests[i].Extract = append([]ExtractConfig(nil), req.Extract...)
		}
	}

	for i, req := range sc.Requests {
		if req.Name == "" {
			sc.Requests[i].Name = fmt.Sprintf("%s_request_%d", name, i+1)
		}
		if req.Method == "" {
			sc.Requests[i].Method = "GET"
		} else {
			sc.Requests[i].Method = strings.ToUpper(req.Method)
		}
		if req.Timeout == "" {
			sc.Requests[i].Timeout = config.Timeout
		}
	}
}

// ExecutorConfig is the parsed form of a scenario: durations resolved,
// defaults applied.
type ExecutorConfig struct {
	Name             string
	Type             string
	VUs              int
	Duration         time.Duration
	Rate             float64
	TimeUnit         time.Duration
	PreAllocatedVUs  int
	MaxVUs           int
	Stages           []ExecutorStage
	GracefulStop     time.Duration
	GracefulRampDown time.Duration
	StartTime        time.Duration
	Pacing           *ExecutorPacing
}

// ExecutorStage represents a parsed stage configuration.
type ExecutorStage struct {
	Duration time.Duration
	Target   int
	Name     string
}

// ExecutorPacing represents parsed pacing configuration.
type ExecutorPacing struct {
	Type     string
	Duration time.Duration
	Min      time.Duration
	Max      time.Duration
}

// ConvertToExecutorConfig converts a ScenarioConfig to an ExecutorConfig.
func ConvertToExecutorConfig(name string, sc *ScenarioConfig) (*ExecutorConfig, error) {
	config := &ExecutorConfig{
		Name:            name,
		Type:            sc.Executor,
		VUs:             sc.VUs,
		Rate:            sc.Rate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}

	durations := []struct {
		field    string
		raw      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"duration", sc.Duration, 0, &config.Duration},
		{"timeUnit", sc.TimeUnit, DefaultTimeUnit, &config.TimeUnit},
		{"gracefulStop", sc.GracefulStop, DefaultGracefulStop, &config.GracefulStop},
		{"gracefulRampDown", sc.GracefulRampDown, DefaultGracefulRampDown, &config.GracefulRampDown},
		{"startTime", sc.StartTime, 0, &config.StartTime},
	}
	for _, d := range durations {
		if d.raw == "" {
			*d.dst = d.fallback
			continue
		}
		dur, err := ParseDurationString(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.field, err)
		}
		*d.dst = dur
	}

	for _, stage := range sc.Stages {
		stageDur, err := ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stage duration: %w", err)
		}
		config.Stages = append(config.Stages, ExecutorStage{
			Duration: stageDur,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	// For stage-based executors, calculate total duration from stages
	if len(config.Stages) > 0 && config.Duration == 0 {
		for _, stage := range config.Stages {
			config.Duration += stage.Duration
		}
	}

	if sc.Pacing != nil {
		config.Pacing = &ExecutorPacing{
			Type:     sc.Pacing.Type,
			Duration: durationOr(sc.Pacing.Duration, 0),
			Min:      durationOr(sc.Pacing.Min, 0),
			Max:      durationOr(sc.Pacing.Max, 0),
		}
	}

	return config, nil
}
