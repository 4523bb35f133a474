// Package loop implements the convergence controller: an iteration state
// machine that gathers evidence, runs a pre-mortem risk analysis, and either
// remediates the project documents or declares convergence once the failure
// rate drops below target. One controller instance owns one run; instances
// are fully independent and may run concurrently.
package loop

import "time"

// Status is the controller lifecycle state. Transitions:
// running -> {paused, completed, failed}; paused -> {running}.
// completed and failed are terminal.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// State is the controller's externally observable snapshot. The controller
// owns the authoritative copy; GetState hands out deep copies only.
// CurrentIteration counts completed iterations and never exceeds
// MaxIterations.
type State struct {
	ProjectID          string    `json:"project_id"`
	Spec               string    `json:"spec"`
	Plan               string    `json:"plan"`
	CurrentIteration   int       `json:"current_iteration"`
	MaxIterations      int       `json:"max_iterations"`
	TargetFailureRate  float64   `json:"target_failure_rate"`
	Status             Status    `json:"status"`
	FailureRateHistory []float64 `json:"failure_rate_history"`
	StartedAt          time.Time `json:"started_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the controller.
func (s State) Clone() State {
	out := s
	out.FailureRateHistory = make([]float64, len(s.FailureRateHistory))
	copy(out.FailureRateHistory, s.FailureRateHistory)
	return out
}

// Options bounds a controller run. Zero values fall back to the documented
// defaults, so Options{} behaves like DefaultOptions().
type Options struct {
	// MaxIterations caps the loop even without convergence. Default 10.
	MaxIterations int
	// TargetFailureRate is the convergence threshold on the 0-100 failure
	// rate scale. Default 5.
	TargetFailureRate float64
	// EvidenceLimit is the per-source artifact cap per iteration. Default 5.
	EvidenceLimit int
	// CollaboratorTimeout wraps each collaborator call; a timeout counts as
	// a collaborator failure. Zero disables the wrapper.
	CollaboratorTimeout time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxIterations:     10,
		TargetFailureRate: 5,
		EvidenceLimit:     5,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.TargetFailureRate <= 0 {
		o.TargetFailureRate = def.TargetFailureRate
	}
	if o.EvidenceLimit <= 0 {
		o.EvidenceLimit = def.EvidenceLimit
	}
	return o
}
