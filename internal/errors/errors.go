// Package errors provides centralized error definitions and error handling
// utilities for the planweave engine. It defines the engine's error taxonomy
// as typed errors with stable kinds, sentinel errors for comparison with
// errors.Is, and classification helpers.
//
// # Error Types
//
// Boundary errors are raised by the tool invoker:
//   - ResolutionError: the tool registry does not know the tool ID
//   - InvocationError: the resolved tool returned an error
//   - TimeoutError: the per-step deadline elapsed before the tool returned
//
// Planning errors are raised by planning strategies and their manager:
//   - PlanningError: no feasible decomposition, or malformed generated plan
//   - ReplanningExhaustedError: no viable revision for a failed step
//   - NoStrategyAvailableError: the selector found no usable strategy
//
// Structural errors are raised by the plan graph and the scheduler:
//   - CycleError: a graph mutation would introduce a dependency cycle
//   - DeadlockError: pending steps remain but none can ever become ready
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewResolutionError("tool-x")
//	err := errors.NewPlanningError("htn", "no method for goal", cause)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrToolNotFound) { ... }
//
//	var cycleErr *errors.CycleError
//	if errors.As(err, &cycleErr) { ... }
//
// Every typed error exposes a Kind() suitable for recording in a step's
// error info, so the scheduler never has to switch on concrete types.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Kind is a stable string identifier for an error category. Kinds are
// recorded in step error info and serialized with plans, so their values
// must not change.
type Kind string

const (
	// KindResolution indicates an unknown tool ID.
	KindResolution Kind = "resolution"
	// KindInvocation indicates a tool call that returned an error.
	KindInvocation Kind = "invocation"
	// KindTimeout indicates a per-step deadline was exceeded.
	KindTimeout Kind = "timeout"
	// KindCanceled indicates an invocation released by plan abort.
	KindCanceled Kind = "canceled"
	// KindPlanning indicates plan generation failed.
	KindPlanning Kind = "planning"
	// KindReplanExhausted indicates no viable plan revision exists.
	KindReplanExhausted Kind = "replan_exhausted"
	// KindDeadlock indicates a stalled plan with no dispatchable steps.
	KindDeadlock Kind = "deadlock"
	// KindCycle indicates a rejected cyclic graph mutation.
	KindCycle Kind = "cycle"
	// KindNoStrategy indicates the selector had no usable strategy.
	KindNoStrategy Kind = "no_strategy"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Tool and invocation sentinel errors
var (
	// ErrToolNotFound indicates that a tool ID could not be resolved.
	ErrToolNotFound = New("tool not found")
	// ErrToolUnassigned indicates a step has no assigned tool.
	ErrToolUnassigned = New("step has no assigned tool")
	// ErrInvocationFailed indicates that a tool call raised an error.
	ErrInvocationFailed = New("tool invocation failed")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
)

// Plan structure sentinel errors
var (
	// ErrDependencyCycle indicates a circular dependency between steps.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrStepNotFound indicates that a step ID is not part of the plan.
	ErrStepNotFound = New("step not found")
	// ErrDuplicateStep indicates a step ID is already taken in the plan.
	ErrDuplicateStep = New("duplicate step id")
	// ErrUnknownPrerequisite indicates a prerequisite references no known step.
	ErrUnknownPrerequisite = New("unknown prerequisite")
	// ErrCompletedImmutable indicates an attempted mutation of a completed step.
	ErrCompletedImmutable = New("completed step is immutable")
	// ErrDeadlock indicates pending steps remain but none can become ready.
	ErrDeadlock = New("plan deadlocked")
)

// Planning sentinel errors
var (
	// ErrNoDecomposition indicates no feasible decomposition for a goal.
	ErrNoDecomposition = New("no feasible decomposition")
	// ErrMalformedPlan indicates generated plan output could not be parsed.
	ErrMalformedPlan = New("malformed plan output")
	// ErrReplanExhausted indicates the replanning budget ran out.
	ErrReplanExhausted = New("replanning exhausted")
	// ErrNoStrategy indicates no planning strategy can serve a goal.
	ErrNoStrategy = New("no planning strategy available")
)

// -----------------------------------------------------------------------------
// Severity
// -----------------------------------------------------------------------------

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo Severity = iota
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// EngineError is the interface implemented by all planweave error types.
// It extends the standard error interface with classification methods.
type EngineError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Kind returns the stable category identifier for this error.
	Kind() Kind

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry with the same tool and input.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	kind      Kind
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Kind returns the error category.
func (e *baseError) Kind() Kind {
	return e.kind
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// -----------------------------------------------------------------------------
// Invoker Errors
// -----------------------------------------------------------------------------

// ResolutionError indicates that a tool ID is not known to the registry.
type ResolutionError struct {
	baseError
	ToolID string
}

// NewResolutionError creates a ResolutionError for the given tool ID.
func NewResolutionError(toolID string) *ResolutionError {
	return &ResolutionError{
		baseError: baseError{
			kind:     KindResolution,
			message:  fmt.Sprintf("cannot resolve tool %q", toolID),
			cause:    ErrToolNotFound,
			severity: SeverityError,
		},
		ToolID: toolID,
	}
}

// NewUnassignedToolError reports a resolution attempt for a step that
// carries no tool ID at all. The plan is malformed at that step, so the
// error is not retryable.
func NewUnassignedToolError() *ResolutionError {
	return &ResolutionError{
		baseError: baseError{
			kind:     KindResolution,
			message:  "no tool assigned",
			cause:    ErrToolUnassigned,
			severity: SeverityError,
		},
	}
}

// InvocationError indicates that a resolved tool returned an error.
type InvocationError struct {
	baseError
	ToolID string
}

// NewInvocationError wraps a tool call failure.
func NewInvocationError(toolID string, cause error) *InvocationError {
	return &InvocationError{
		baseError: baseError{
			kind:      KindInvocation,
			message:   fmt.Sprintf("tool %q invocation failed", toolID),
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
		ToolID: toolID,
	}
}

// Is reports whether target matches this error or its cause. InvocationError
// additionally matches the ErrInvocationFailed sentinel.
func (e *InvocationError) Is(target error) bool {
	if target == ErrInvocationFailed {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError indicates that the per-step deadline elapsed.
type TimeoutError struct {
	baseError
	ToolID  string
	Timeout time.Duration
}

// NewTimeoutError creates a TimeoutError for a tool call that exceeded its
// deadline.
func NewTimeoutError(toolID string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			kind:      KindTimeout,
			message:   fmt.Sprintf("tool %q timed out after %s", toolID, timeout),
			cause:     ErrTimeout,
			severity:  SeverityWarning,
			retryable: true,
		},
		ToolID:  toolID,
		Timeout: timeout,
	}
}

// CanceledError indicates an invocation released by plan abort.
type CanceledError struct {
	baseError
	ToolID string
}

// NewCanceledError creates a CanceledError for an aborted invocation.
func NewCanceledError(toolID string) *CanceledError {
	return &CanceledError{
		baseError: baseError{
			kind:     KindCanceled,
			message:  fmt.Sprintf("tool %q invocation canceled", toolID),
			cause:    ErrCanceled,
			severity: SeverityInfo,
		},
		ToolID: toolID,
	}
}

// -----------------------------------------------------------------------------
// Planning Errors
// -----------------------------------------------------------------------------

// PlanningError indicates that a strategy could not produce a valid plan,
// either because no feasible decomposition exists or because generated
// output was malformed. No partial plan accompanies this error.
type PlanningError struct {
	baseError
	Strategy string
	Reason   string
}

// NewPlanningError creates a PlanningError for the named strategy.
func NewPlanningError(strategy, reason string, cause error) *PlanningError {
	if cause == nil {
		cause = ErrNoDecomposition
	}
	return &PlanningError{
		baseError: baseError{
			kind:     KindPlanning,
			message:  fmt.Sprintf("%s planning failed: %s", strategy, reason),
			cause:    cause,
			severity: SeverityError,
		},
		Strategy: strategy,
		Reason:   reason,
	}
}

// ReplanningExhaustedError indicates that no viable revision exists for a
// failed step, or that the configured replanning budget ran out.
type ReplanningExhaustedError struct {
	baseError
	PlanID string
	StepID string
	Rounds int
}

// NewReplanningExhaustedError creates a ReplanningExhaustedError.
func NewReplanningExhaustedError(planID, stepID string, rounds int) *ReplanningExhaustedError {
	return &ReplanningExhaustedError{
		baseError: baseError{
			kind:     KindReplanExhausted,
			message:  fmt.Sprintf("replanning exhausted for plan %s after %d rounds (step %s)", planID, rounds, stepID),
			cause:    ErrReplanExhausted,
			severity: SeverityError,
		},
		PlanID: planID,
		StepID: stepID,
		Rounds: rounds,
	}
}

// NoStrategyAvailableError indicates that the strategy selector could not
// produce a usable strategy for a goal. It is never silently defaulted.
type NoStrategyAvailableError struct {
	baseError
	Goal string
}

// NewNoStrategyAvailableError creates a NoStrategyAvailableError.
func NewNoStrategyAvailableError(goal string) *NoStrategyAvailableError {
	return &NoStrategyAvailableError{
		baseError: baseError{
			kind:     KindNoStrategy,
			message:  fmt.Sprintf("no planning strategy available for goal %q", goal),
			cause:    ErrNoStrategy,
			severity: SeverityError,
		},
		Goal: goal,
	}
}

// -----------------------------------------------------------------------------
// Structural Errors
// -----------------------------------------------------------------------------

// CycleError indicates that a graph mutation would introduce a dependency
// cycle. The mutation is rejected before application and the plan is
// unchanged.
type CycleError struct {
	baseError
	Path []string
}

// NewCycleError creates a CycleError carrying the step IDs forming the cycle.
func NewCycleError(path []string) *CycleError {
	return &CycleError{
		baseError: baseError{
			kind:     KindCycle,
			message:  fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> ")),
			cause:    ErrDependencyCycle,
			severity: SeverityError,
		},
		Path: path,
	}
}

// DeadlockError indicates that pending steps remain but none are ready and
// none are running, so the plan can never make progress.
type DeadlockError struct {
	baseError
	PlanID  string
	Pending []string
}

// NewDeadlockError creates a DeadlockError listing the stuck step IDs.
func NewDeadlockError(planID string, pending []string) *DeadlockError {
	return &DeadlockError{
		baseError: baseError{
			kind:     KindDeadlock,
			message:  fmt.Sprintf("plan %s deadlocked with %d undispatchable steps", planID, len(pending)),
			cause:    ErrDeadlock,
			severity: SeverityCritical,
		},
		PlanID:  planID,
		Pending: pending,
	}
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// KindOf returns the Kind of err if it is an EngineError, or KindInvocation
// as the generic fallback for foreign errors surfaced by tool calls.
func KindOf(err error) Kind {
	var ee EngineError
	if errors.As(err, &ee) {
		return ee.Kind()
	}
	return KindInvocation
}

// IsRetryable reports whether err is transient and the same invocation may
// succeed if repeated.
func IsRetryable(err error) bool {
	var ee EngineError
	if errors.As(err, &ee) {
		return ee.IsRetryable()
	}
	return false
}

// IsFatal reports whether err is a structural error that must immediately
// terminate planning or execution rather than flow through replanning.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindCycle, KindPlanning, KindNoStrategy:
		return true
	default:
		return false
	}
}
