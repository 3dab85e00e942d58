package metrics

import (
	"strconv"
	"time"
)

// StatusClass groups samples by outcome: the decimal HTTP status code for
// completed responses, or one of the transport outcomes below.
type StatusClass string

const (
	// ClassError covers transport failures that are not timeouts
	// (connection refused, reset, DNS, aborted requests).
	ClassError StatusClass = "error"

	// ClassTimeout covers requests that hit their deadline.
	ClassTimeout StatusClass = "timeout"
)

// StatusClassFromCode returns the class for an HTTP status code.
func StatusClassFromCode(code int) StatusClass {
	return StatusClass(strconv.Itoa(code))
}

// ParseStatusClass validates a status class name as used in threshold
// selectors: a status code between 100 and 599, "error" or "timeout".
func ParseStatusClass(s string) (StatusClass, bool) {
	switch StatusClass(s) {
	case ClassError, ClassTimeout:
		return StatusClass(s), true
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 599 {
		return "", false
	}
	return StatusClassFromCode(code), true
}

// IsTransport reports whether the class describes a request that never
// produced an HTTP response.
func (c StatusClass) IsTransport() bool {
	return c == ClassError || c == ClassTimeout
}

// Code returns the HTTP status code of the class, or 0 for transport classes.
func (c StatusClass) Code() int {
	code, err := strconv.Atoi(string(c))
	if err != nil {
		return 0
	}
	return code
}

// Sample is the record of one issued request. Exactly one Sample is
// recorded per request, whatever its outcome.
type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Scenario  string        `json:"scenario"`
	VU        int           `json:"vu"`
	Iteration int64         `json:"iteration"`
	Request   string        `json:"request"`
	Status    int           `json:"status"`
	Class     StatusClass   `json:"class"`
	Latency   time.Duration `json:"latency"`
	Bytes     int64         `json:"bytes"`
	Error     string        `json:"error,omitempty"`
}

// Failed reports whether the sample counts towards http_req_failed.
func (s *Sample) Failed() bool {
	return s.Class.IsTransport() || s.Status >= 400
}
