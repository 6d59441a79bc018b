package plan

import "time"

// StepStatus represents the lifecycle state of a single step.
//
// A step progresses pending -> ready -> running -> completed on the happy
// path. Failures land in failed, from which the replanning layer may reset
// the step to pending (retry) or move it to skipped (the goal remains
// satisfiable without it). Completed steps are immutable.
type StepStatus string

const (
	// StatusPending indicates the step is waiting on its prerequisites.
	StatusPending StepStatus = "pending"

	// StatusReady indicates every prerequisite reached a terminal success
	// state and the step has been selected for dispatch.
	StatusReady StepStatus = "ready"

	// StatusRunning indicates the step's tool invocation is in flight.
	StatusRunning StepStatus = "running"

	// StatusCompleted indicates the invocation succeeded. The step and its
	// output are immutable from this point on.
	StatusCompleted StepStatus = "completed"

	// StatusFailed indicates the invocation failed; error info records why.
	StatusFailed StepStatus = "failed"

	// StatusSkipped indicates the step was never executed and never will be,
	// either because replanning routed around it or because an upstream
	// failure made it unreachable.
	StatusSkipped StepStatus = "skipped"
)

// String returns the string representation of the status.
func (s StepStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// IsTerminalSuccess returns true if the status satisfies prerequisites of
// dependent steps: completed work, or work the plan no longer requires.
func (s StepStatus) IsTerminalSuccess() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// ErrorInfo records why a step failed. Kind carries the stable error
// category (see internal/errors); Message is human-readable detail.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Step is a unit of work delegated to exactly one tool, with its own status
// and I/O payload. Steps are created by planning strategies and owned by the
// scheduler for the duration of execution; only the scheduler transitions
// step status.
type Step struct {
	// ID uniquely identifies this step within its plan. Assigned at
	// creation, never reused, never changed.
	ID string `json:"id"`

	// Description is the human-readable intent. Opaque to the engine.
	Description string `json:"description"`

	// AssignedTool is the registry identifier of the tool that executes
	// this step. May be empty until assignment; dispatching an unassigned
	// step fails with a resolution error.
	AssignedTool string `json:"assigned_tool_id,omitempty"`

	// Prerequisites lists step IDs that must reach a terminal success state
	// before this step may run.
	Prerequisites []string `json:"prerequisites"`

	// Input is the payload handed to the tool. Before dispatch the
	// scheduler folds prerequisite outputs into it.
	Input map[string]any `json:"input_data,omitempty"`

	// Output is the payload returned by the tool on success.
	Output map[string]any `json:"output_data,omitempty"`

	// Status is the current lifecycle state.
	Status StepStatus `json:"status"`

	// Error is populated only when Status is failed.
	Error *ErrorInfo `json:"error_info,omitempty"`

	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count"`

	// StartedAt is when the step first began running.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt is when the step reached its terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewStep creates a pending step with the given identity and wiring.
func NewStep(id, description, toolID string, prerequisites ...string) *Step {
	return &Step{
		ID:            id,
		Description:   description,
		AssignedTool:  toolID,
		Prerequisites: append([]string(nil), prerequisites...),
		Status:        StatusPending,
	}
}

// WithInput sets the step's initial input payload and returns the step.
func (s *Step) WithInput(input map[string]any) *Step {
	s.Input = input
	return s
}

// HasPrerequisites returns true if this step depends on other steps.
func (s *Step) HasPrerequisites() bool {
	return len(s.Prerequisites) > 0
}

// Duration returns how long the step ran, or zero if it never started.
func (s *Step) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	if s.FinishedAt == nil {
		return time.Since(*s.StartedAt)
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	c := *s
	c.Prerequisites = append([]string(nil), s.Prerequisites...)
	c.Input = cloneMap(s.Input)
	c.Output = cloneMap(s.Output)
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
