// Package invoker executes single tool calls on behalf of the scheduler.
// It resolves tool IDs against a registry, enforces per-call deadlines, and
// maps every failure mode onto the engine's error taxonomy. The invoker
// never touches plan or step state; recording outcomes is the scheduler's
// job.
package invoker

import (
	"context"
	"time"

	"github.com/planweave/planweave/internal/errors"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/tool"
)

// Resolver maps tool IDs to tools. *tool.Registry satisfies this.
type Resolver interface {
	Resolve(id string) (tool.Tool, error)
}

// Invoker executes tool calls with deadline enforcement. Safe for
// concurrent use; the scheduler shares one Invoker across its workers.
type Invoker struct {
	resolver       Resolver
	defaultTimeout time.Duration
	logger         *logging.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithDefaultTimeout sets the deadline applied to calls that do not carry
// their own. Zero disables the default deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(inv *Invoker) { inv.defaultTimeout = d }
}

// WithLogger sets the logger used for per-call tracing.
func WithLogger(logger *logging.Logger) Option {
	return func(inv *Invoker) { inv.logger = logger }
}

// New creates an Invoker backed by the given resolver.
func New(resolver Resolver, opts ...Option) *Invoker {
	inv := &Invoker{
		resolver: resolver,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

type callResult struct {
	output map[string]any
	err    error
}

// Invoke resolves toolID and calls the tool with input, enforcing the
// given timeout (0 falls back to the invoker default; both 0 means no
// deadline). Failures are classified:
//
//   - unknown tool ID: *errors.ResolutionError, before any call is made
//   - deadline elapsed: *errors.TimeoutError
//   - ctx canceled: *errors.CanceledError
//   - tool returned an error: *errors.InvocationError wrapping it
//
// A tool that ignores cancellation leaks its goroutine until it returns;
// Invoke itself always honors the deadline.
func (inv *Invoker) Invoke(ctx context.Context, toolID string, input map[string]any, timeout time.Duration) (map[string]any, error) {
	t, err := inv.resolver.Resolve(toolID)
	if err != nil {
		inv.logger.Warn("tool resolution failed", "tool_id", toolID, "error", err)
		return nil, err
	}

	if timeout <= 0 {
		timeout = inv.defaultTimeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := inv.logger.With("tool_id", toolID)
	log.Debug("tool invocation started")
	start := time.Now()

	done := make(chan callResult, 1)
	go func() {
		output, callErr := t.Invoke(callCtx, input)
		done <- callResult{output: output, err: callErr}
	}()

	select {
	case res := <-done:
		elapsed := time.Since(start)
		if res.err != nil {
			classified := inv.classify(ctx, callCtx, toolID, timeout, res.err)
			log.Warn("tool invocation failed", "duration", elapsed, "error", classified)
			return nil, classified
		}
		log.Debug("tool invocation completed", "duration", elapsed)
		return res.output, nil

	case <-callCtx.Done():
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			log.Info("tool invocation canceled", "duration", elapsed)
			return nil, errors.NewCanceledError(toolID)
		}
		log.Warn("tool invocation timed out", "duration", elapsed, "timeout", timeout)
		return nil, errors.NewTimeoutError(toolID, timeout)
	}
}

// classify maps a tool-returned error onto the taxonomy. Tools that
// surface the context error themselves get the same classification as
// tools the invoker abandoned.
func (inv *Invoker) classify(ctx, callCtx context.Context, toolID string, timeout time.Duration, err error) error {
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return errors.NewCanceledError(toolID)
	case errors.Is(err, context.DeadlineExceeded) && callCtx.Err() != nil:
		return errors.NewTimeoutError(toolID, timeout)
	default:
		return errors.NewInvocationError(toolID, err)
	}
}
