// Package event provides a pub-sub event bus for decoupled observation of
// plan execution in planweave.
//
// The scheduler and replanning layer publish events as execution
// progresses; the CLI, loggers, and tests subscribe without the engine
// knowing who is listening.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Plan Lifecycle:
//   - [PlanStartedEvent]: Emitted when the scheduler begins executing a plan
//   - [PlanReplannedEvent]: Emitted when a plan revision is applied
//   - [PlanFinishedEvent]: Emitted when a plan reaches a terminal status
//
// Step Lifecycle:
//   - [StepStartedEvent]: Emitted when a step is dispatched to its tool
//   - [StepCompletedEvent]: Emitted when a step's invocation succeeds
//   - [StepFailedEvent]: Emitted when a step's invocation fails
//   - [StepSkippedEvent]: Emitted when a step is skipped
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Multiple goroutines can publish
// and subscribe concurrently. Handlers are called synchronously and protected
// against panics - a panicking handler will not prevent other handlers from
// being called.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	// Subscribe to specific event types
//	bus.Subscribe(event.TypeStepCompleted, func(e event.Event) {
//	    done := e.(event.StepCompletedEvent)
//	    log.Printf("step %s completed", done.StepID)
//	})
//
//	// Subscribe to all events (useful for logging)
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("event: %s at %v", e.EventType(), e.Timestamp())
//	})
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - plan.started, plan.replanned, plan.finished
//   - step.started, step.completed, step.failed, step.skipped
package event
