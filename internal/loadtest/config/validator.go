package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil {
			errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme == "" || u.Host == "" {
			errs.Add("baseUrl", "must be an absolute URL")
		}
	}

	validateDuration("gracefulStop", c.GracefulStop, false, errs)
	validateDuration("gracefulRampDown", c.GracefulRampDown, false, errs)
	validateDuration("timeout", c.Timeout, true, errs)
	validateDuration("sleep", c.Sleep, false, errs)

	if c.VUs < 0 {
		errs.Add("vus", "vus cannot be negative")
	}

	scenarios := c.EffectiveScenarios()
	if len(scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required (set vus and duration, stages, or scenarios)")
	}

	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		validateScenario(name, scenarios[name], errs)
	}

	for i := range c.Requests {
		validateRequest(fmt.Sprintf("requests[%d]", i), &c.Requests[i], errs)
	}
	c.validatePlaceholders(scenarios, errs)

	if _, err := metrics.ParseTrendStats(c.SummaryTrendStats); err != nil {
		errs.Add("summaryTrendStats", err.Error())
	}

	validateThresholds(c.Thresholds, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateDuration checks an optional duration field. With positive set a
// zero value is rejected.
func validateDuration(field, raw string, positive bool, errs *ValidationErrors) {
	if raw == "" {
		return
	}
	d, err := ParseDurationString(raw)
	switch {
	case err != nil:
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
	case d < 0:
		errs.Add(field, "duration cannot be negative")
	case positive && d == 0:
		errs.Add(field, "duration must be greater than 0")
	}
}

// validateRequiredDuration checks a mandatory positive duration.
func validateRequiredDuration(field, raw, executor string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add(field, fmt.Sprintf("duration is required for %s executor", executor))
		return
	}
	validateDuration(field, raw, true, errs)
}

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case ExecutorConstantVUs:
		if sc.VUs <= 0 {
			errs.Add(prefix+".vus", "vus must be greater than 0")
		}
		validateRequiredDuration(prefix+".duration", sc.Duration, sc.Executor, errs)
	case ExecutorRampingVUs:
		if sc.VUs < 0 {
			errs.Add(prefix+".vus", "vus cannot be negative")
		}
		if len(sc.Stages) == 0 {
			errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
		}
	case ExecutorConstantArrivalRate:
		if sc.Rate <= 0 {
			errs.Add(prefix+".rate", "rate must be greater than 0")
		}
		validateRequiredDuration(prefix+".duration", sc.Duration, sc.Executor, errs)
		validateDuration(prefix+".timeUnit", sc.TimeUnit, true, errs)
		if sc.PreAllocatedVUs < 0 {
			errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
		}
		if sc.MaxVUs < 0 {
			errs.Add(prefix+".maxVUs", "maxVUs cannot be negative")
		}
		if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
			errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
		}
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	validateDuration(prefix+".gracefulStop", sc.GracefulStop, false, errs)
	validateDuration(prefix+".gracefulRampDown", sc.GracefulRampDown, false, errs)
	validateDuration(prefix+".startTime", sc.StartTime, false, errs)

	for i := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &sc.Stages[i], errs)
	}

	for i := range sc.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &sc.Requests[i], errs)
	}

	if sc.Pacing != nil {
		validatePacing(prefix+".pacing", sc.Pacing, errs)
	}
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else {
		validateDuration(prefix+".duration", stage.Duration, false, errs)
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

// validateRequest validates a single request configuration.
func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	if req.Method != "" && !validMethods[strings.ToUpper(req.Method)] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		// Placeholders are only known at run time
		urlToCheck := placeholderRe.ReplaceAllString(req.URL, "http://placeholder")
		if _, err := url.Parse(urlToCheck); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	validateDuration(prefix+".timeout", req.Timeout, true, errs)

	for i, extract := range req.Extract {
		field := fmt.Sprintf("%s.extract[%d]", prefix, i)
		if extract.Name == "" {
			errs.Add(field+".name", "name is required")
		}
		switch extract.Source {
		case "status":
		case "header", "body":
			if extract.Path == "" {
				errs.Add(field+".path", fmt.Sprintf("path is required for %s extraction", extract.Source))
			}
		case "":
			errs.Add(field+".source", "source is required")
		default:
			errs.Add(field+".source", fmt.Sprintf("invalid source: %s", extract.Source))
		}
	}
}

// validatePlaceholders rejects request URLs naming a variable that is
// neither configured nor extracted by a request of the same list.
func (c *TestConfig) validatePlaceholders(scenarios map[string]*ScenarioConfig, errs *ValidationErrors) {
	known := make(map[string]bool, len(c.Variables)+1)
	for name := range c.Variables {
		known[name] = true
	}
	if c.BaseURL != "" {
		known["baseUrl"] = true
	}

	inherits := false
	names := make([]string, 0, len(scenarios))
	for name, sc := range scenarios {
		if len(sc.Requests) == 0 {
			inherits = true
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if inherits {
		if len(c.Requests) == 0 {
			if !known["baseUrl"] {
				errs.Add("baseUrl", "baseUrl is required when no requests are configured")
			}
		} else {
			checkPlaceholders("requests", c.Requests, known, errs)
		}
	}
	for _, name := range names {
		checkPlaceholders(fmt.Sprintf("scenarios.%s.requests", name), scenarios[name].Requests, known, errs)
	}
}

func checkPlaceholders(prefix string, reqs []RequestConfig, known map[string]bool, errs *ValidationErrors) {
	extracted := make(map[string]bool)
	for _, req := range reqs {
		for _, ex := range req.Extract {
			extracted[ex.Name] = true
		}
	}

	for i, req := range reqs {
		for _, m := range placeholderRe.FindAllStringSubmatch(req.URL, -1) {
			if name := m[1]; !known[name] && !extracted[name] {
				errs.Add(fmt.Sprintf("%s[%d].url", prefix, i), fmt.Sprintf("unresolved placeholder {{%s}}", name))
			}
		}
	}
}

// validatePacing validates pacing configuration.
func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	switch pacing.Type {
	case "none":
	case "constant":
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		} else {
			validateDuration(prefix+".duration", pacing.Duration, false, errs)
		}

	case "random":
		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		} else {
			validateDuration(prefix+".min", pacing.Min, false, errs)
		}
		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		} else {
			validateDuration(prefix+".max", pacing.Max, false, errs)
		}

		if pacing.Min != "" && pacing.Max != "" {
			minDur, _ := ParseDurationString(pacing.Min)
			maxDur, _ := ParseDurationString(pacing.Max)
			if minDur > maxDur {
				errs.Add(prefix, "min must be less than or equal to max")
			}
		}

	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}
}

// validateThresholds parses every threshold so that a run never starts
// with an expression it cannot evaluate.
func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	selectors := make([]string, 0, len(thresholds))
	for s := range thresholds {
		selectors = append(selectors, s)
	}
	sort.Strings(selectors)

	for _, raw := range selectors {
		field := fmt.Sprintf("thresholds.%s", raw)
		sel, err := threshold.ParseSelector(raw)
		if err != nil {
			errs.Add(field, err.Error())
			continue
		}
		exprs := thresholds[raw]
		if len(exprs) == 0 {
			errs.Add(field, "at least one expression is required")
		}
		for i, expr := range exprs {
			if _, err := threshold.Parse(sel, expr); err != nil {
				errs.Add(fmt.Sprintf("%s[%d]", field, i), err.Error())
			}
		}
	}
}
