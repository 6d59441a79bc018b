package event

import "time"

// Event type identifiers, "category.action".
const (
	TypePlanStarted   = "plan.started"
	TypePlanReplanned = "plan.replanned"
	TypePlanFinished  = "plan.finished"
	TypeStepStarted   = "step.started"
	TypeStepCompleted = "step.completed"
	TypeStepFailed    = "step.failed"
	TypeStepSkipped   = "step.skipped"
)

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "step.started", "plan.finished")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Plan Lifecycle Events
// -----------------------------------------------------------------------------

// PlanStartedEvent is emitted when the scheduler begins executing a plan.
type PlanStartedEvent struct {
	baseEvent
	PlanID   string // Unique identifier for the plan
	Goal     string // Objective the plan was generated for
	Strategy string // Planning strategy that produced the plan
	Steps    int    // Number of steps at dispatch time
}

// NewPlanStartedEvent creates a PlanStartedEvent.
func NewPlanStartedEvent(planID, goal, strategy string, steps int) PlanStartedEvent {
	return PlanStartedEvent{
		baseEvent: newBaseEvent(TypePlanStarted),
		PlanID:    planID,
		Goal:      goal,
		Strategy:  strategy,
		Steps:     steps,
	}
}

// PlanReplannedEvent is emitted when a plan revision is applied between
// dispatch rounds.
type PlanReplannedEvent struct {
	baseEvent
	PlanID       string // Plan being revised
	FailedStepID string // Step whose failure triggered the revision
	Round        int    // Replanning round number (1-based)
	Reason       string // Short description of the failure
}

// NewPlanReplannedEvent creates a PlanReplannedEvent.
func NewPlanReplannedEvent(planID, failedStepID string, round int, reason string) PlanReplannedEvent {
	return PlanReplannedEvent{
		baseEvent:    newBaseEvent(TypePlanReplanned),
		PlanID:       planID,
		FailedStepID: failedStepID,
		Round:        round,
		Reason:       reason,
	}
}

// PlanFinishedEvent is emitted once when a plan reaches a terminal status.
type PlanFinishedEvent struct {
	baseEvent
	PlanID   string // Plan that finished
	Status   string // Terminal plan status: completed, failed, or aborted
	Duration time.Duration
}

// NewPlanFinishedEvent creates a PlanFinishedEvent.
func NewPlanFinishedEvent(planID, status string, duration time.Duration) PlanFinishedEvent {
	return PlanFinishedEvent{
		baseEvent: newBaseEvent(TypePlanFinished),
		PlanID:    planID,
		Status:    status,
		Duration:  duration,
	}
}

// -----------------------------------------------------------------------------
// Step Lifecycle Events
// -----------------------------------------------------------------------------

// StepStartedEvent is emitted when a step is dispatched to its tool.
type StepStartedEvent struct {
	baseEvent
	PlanID  string // Owning plan
	StepID  string // Step being dispatched
	ToolID  string // Tool the step is delegated to
	Attempt int    // 1-based attempt number
}

// NewStepStartedEvent creates a StepStartedEvent.
func NewStepStartedEvent(planID, stepID, toolID string, attempt int) StepStartedEvent {
	return StepStartedEvent{
		baseEvent: newBaseEvent(TypeStepStarted),
		PlanID:    planID,
		StepID:    stepID,
		ToolID:    toolID,
		Attempt:   attempt,
	}
}

// StepCompletedEvent is emitted when a step's invocation succeeds.
type StepCompletedEvent struct {
	baseEvent
	PlanID   string
	StepID   string
	ToolID   string
	Duration time.Duration
}

// NewStepCompletedEvent creates a StepCompletedEvent.
func NewStepCompletedEvent(planID, stepID, toolID string, duration time.Duration) StepCompletedEvent {
	return StepCompletedEvent{
		baseEvent: newBaseEvent(TypeStepCompleted),
		PlanID:    planID,
		StepID:    stepID,
		ToolID:    toolID,
		Duration:  duration,
	}
}

// StepFailedEvent is emitted when a step's invocation fails.
type StepFailedEvent struct {
	baseEvent
	PlanID     string
	StepID     string
	ToolID     string
	ErrorKind  string // Stable error category (see internal/errors)
	Error      string // Human-readable failure detail
	RetryCount int    // Failed attempts so far, including this one
}

// NewStepFailedEvent creates a StepFailedEvent.
func NewStepFailedEvent(planID, stepID, toolID, errorKind, errMsg string, retryCount int) StepFailedEvent {
	return StepFailedEvent{
		baseEvent:  newBaseEvent(TypeStepFailed),
		PlanID:     planID,
		StepID:     stepID,
		ToolID:     toolID,
		ErrorKind:  errorKind,
		Error:      errMsg,
		RetryCount: retryCount,
	}
}

// StepSkippedEvent is emitted when a step is marked skipped, either by a
// plan revision or because an upstream failure made it unreachable.
type StepSkippedEvent struct {
	baseEvent
	PlanID string
	StepID string
	Reason string
}

// NewStepSkippedEvent creates a StepSkippedEvent.
func NewStepSkippedEvent(planID, stepID, reason string) StepSkippedEvent {
	return StepSkippedEvent{
		baseEvent: newBaseEvent(TypeStepSkipped),
		PlanID:    planID,
		StepID:    stepID,
		Reason:    reason,
	}
}
