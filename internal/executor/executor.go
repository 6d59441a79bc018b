// Package executor schedules plan steps across a bounded pool of
// concurrent tool invocations.
//
// The executor is a single-writer loop: worker goroutines only invoke
// tools and report results over a channel; every plan mutation happens on
// the loop goroutine. Between dispatch rounds the loop hands step
// failures to a replanner, which may retry the step, swap in a revised
// plan, or declare recovery exhausted.
package executor

import (
	"context"
	"time"

	"github.com/planweave/planweave/internal/errors"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/plan"
)

// Replanner decides what happens after a step failure. It returns the
// plan to continue with and whether execution should proceed.
type Replanner interface {
	OnStepFailure(ctx context.Context, p *plan.Plan, failedStepID string) (*plan.Plan, bool, error)
}

// Invoker dispatches a single tool call.
type Invoker interface {
	Invoke(ctx context.Context, toolID string, input map[string]any, timeout time.Duration) (map[string]any, error)
}

// Config bounds a single plan execution.
type Config struct {
	// MaxParallel caps concurrently running steps. Values below 1 are
	// treated as 1.
	MaxParallel int

	// StepTimeout is the per-step deadline passed to the invoker. 0 means
	// no deadline beyond the run context.
	StepTimeout time.Duration
}

// Executor runs plans to a terminal status.
type Executor struct {
	invoker Invoker
	replan  Replanner
	cfg     Config
	bus     *event.Bus
	logger  *logging.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithBus publishes lifecycle events to the given bus.
func WithBus(bus *event.Bus) Option {
	return func(e *Executor) { e.bus = bus }
}

// WithLogger sets the executor's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithReplanner sets the failure handler. Without one, the first final
// step failure ends recovery immediately.
func WithReplanner(r Replanner) Option {
	return func(e *Executor) { e.replan = r }
}

// New creates an Executor.
func New(invoker Invoker, cfg Config, opts ...Option) *Executor {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	e := &Executor{invoker: invoker, cfg: cfg, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stepResult is a worker's report back to the loop goroutine.
type stepResult struct {
	stepID string
	toolID string
	output map[string]any
	err    error
}

// Execute runs the plan until every step is terminal, recovery is
// exhausted, or ctx is canceled. The plan passed in is mutated; the
// returned plan is the one that finished, which differs from the input
// when a revision was applied. Completed step outputs are preserved
// across revisions.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) (*plan.Plan, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	if err := p.SetStatus(plan.PlanRunning); err != nil {
		return p, err
	}

	log := e.logger.WithPlan(p.ID())
	started := time.Now()
	e.publish(event.NewPlanStartedEvent(p.ID(), p.Goal(), p.Strategy(), p.Len()))
	log.Info("plan started", "goal", p.Goal(), "strategy", p.Strategy(), "steps", p.Len())

	// Buffered to MaxParallel so workers never block on send, even when
	// the loop returns early on cancellation.
	results := make(chan stepResult, e.cfg.MaxParallel)
	inflight := 0
	var firstErr error

	for {
		// Dispatch everything ready, in ascending step ID order, up to the
		// parallelism cap.
		for _, s := range p.ReadySteps() {
			if inflight >= e.cfg.MaxParallel {
				break
			}
			if err := e.dispatch(ctx, p, s, results); err != nil {
				return p, e.finish(p, started, err)
			}
			inflight++
		}

		if inflight == 0 {
			if pending := p.Pending(); len(pending) > 0 && firstErr == nil {
				// Nothing runs, nothing can become ready: the graph is stuck.
				firstErr = errors.NewDeadlockError(p.ID(), pending)
				log.Error("plan deadlocked", "pending", pending)
			}
			return p, e.finish(p, started, firstErr)
		}

		select {
		case <-ctx.Done():
			return p, e.abort(p, started, ctx.Err())

		case res := <-results:
			inflight--
			next, err := e.applyResult(ctx, p, res)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			p = next
			log = e.logger.WithPlan(p.ID())
		}
	}
}

// dispatch folds prerequisite outputs into the step's input, marks it
// running, and hands the invocation to a worker goroutine.
func (e *Executor) dispatch(ctx context.Context, p *plan.Plan, s *plan.Step, results chan<- stepResult) error {
	s.Input = foldInputs(p, s)
	if err := p.MarkReady(s.ID); err != nil {
		return err
	}
	if err := p.MarkRunning(s.ID); err != nil {
		return err
	}

	e.publish(event.NewStepStartedEvent(p.ID(), s.ID, s.AssignedTool, s.RetryCount+1))
	e.logger.WithPlan(p.ID()).WithStep(s.ID).Debug("step dispatched",
		"tool_id", s.AssignedTool, "attempt", s.RetryCount+1)

	stepID, toolID, input := s.ID, s.AssignedTool, s.Input
	go func() {
		output, err := e.invoker.Invoke(ctx, toolID, input, e.cfg.StepTimeout)
		results <- stepResult{stepID: stepID, toolID: toolID, output: output, err: err}
	}()
	return nil
}

// applyResult records one worker result on the plan. On failure it runs
// the replanner and may return a revised plan to continue with.
func (e *Executor) applyResult(ctx context.Context, p *plan.Plan, res stepResult) (*plan.Plan, error) {
	log := e.logger.WithPlan(p.ID()).WithStep(res.stepID)

	if res.err == nil {
		if err := p.MarkCompleted(res.stepID, res.output); err != nil {
			return p, err
		}
		s, _ := p.Step(res.stepID)
		e.publish(event.NewStepCompletedEvent(p.ID(), res.stepID, res.toolID, s.Duration()))
		log.Info("step completed", "tool_id", res.toolID, "duration", s.Duration())
		return p, nil
	}

	info := plan.ErrorInfo{Kind: errors.KindOf(res.err).String(), Message: res.err.Error()}
	if err := p.MarkFailed(res.stepID, info); err != nil {
		return p, err
	}
	s, _ := p.Step(res.stepID)
	e.publish(event.NewStepFailedEvent(p.ID(), res.stepID, res.toolID, info.Kind, info.Message, s.RetryCount))
	log.Warn("step failed", "tool_id", res.toolID, "error_kind", info.Kind, "error", info.Message)

	if e.replan == nil {
		p.SkipDescendants(res.stepID, "upstream step "+res.stepID+" failed")
		return p, res.err
	}

	next, proceed, err := e.replan.OnStepFailure(ctx, p, res.stepID)
	if next == nil {
		next = p
	}
	if !proceed {
		return next, err
	}
	return next, nil
}

// foldInputs merges the outputs of completed prerequisites into the
// step's input. The step's own input keys win on conflict; prerequisites
// are folded in declaration order, later ones overriding earlier ones.
func foldInputs(p *plan.Plan, s *plan.Step) map[string]any {
	merged := make(map[string]any)
	for _, pre := range s.Prerequisites {
		dep, ok := p.Step(pre)
		if !ok || dep.Status != plan.StatusCompleted {
			continue
		}
		for k, v := range dep.Output {
			merged[k] = v
		}
	}
	for k, v := range s.Input {
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// finish settles the plan's terminal status and emits the closing event.
func (e *Executor) finish(p *plan.Plan, started time.Time, firstErr error) error {
	status := plan.PlanCompleted
	if firstErr != nil || p.HasFailed() || !p.AllSucceeded() {
		status = plan.PlanFailed
	}
	if err := p.SetStatus(status); err != nil {
		p.ForceFailed()
		status = plan.PlanFailed
	}

	e.publish(event.NewPlanFinishedEvent(p.ID(), status.String(), time.Since(started)))
	e.logger.WithPlan(p.ID()).Info("plan finished", "status", status, "duration", time.Since(started))

	if firstErr == nil && status == plan.PlanFailed {
		if info := p.LastError(); info != nil {
			firstErr = errors.New(info.Message)
		} else {
			firstErr = errors.New("plan failed")
		}
	}
	return firstErr
}

// abort marks every running step canceled and the plan aborted. Worker
// goroutines drain into the buffered results channel and exit on their
// own once the run context is canceled.
func (e *Executor) abort(p *plan.Plan, started time.Time, cause error) error {
	for _, s := range p.Running() {
		info := plan.ErrorInfo{Kind: errors.KindCanceled.String(), Message: "invocation canceled"}
		if err := p.MarkFailed(s.ID, info); err != nil {
			continue
		}
		e.publish(event.NewStepFailedEvent(p.ID(), s.ID, s.AssignedTool, info.Kind, info.Message, s.RetryCount))
	}
	if err := p.SetStatus(plan.PlanAborted); err != nil {
		p.ForceFailed()
	}

	e.publish(event.NewPlanFinishedEvent(p.ID(), p.Status().String(), time.Since(started)))
	e.logger.WithPlan(p.ID()).Warn("plan aborted", "cause", cause)
	return cause
}

func (e *Executor) publish(ev event.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
