package metrics

import "time"

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the phase before any VU has started.
	PhaseInit Phase = "init"

	// PhaseRampUp is active while the VU target is increasing.
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is active while the VU target is constant.
	PhaseSteady Phase = "steady"

	// PhaseRampDown is active while the VU target is decreasing.
	PhaseRampDown Phase = "ramp-down"

	// PhaseGracefulStop covers the window where no new iterations start
	// but in-flight iterations may still finish.
	PhaseGracefulStop Phase = "graceful-stop"

	// PhaseDone indicates the test has completed.
	PhaseDone Phase = "done"
)

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}
