// Package orchestrator ties the planning and execution layers together:
// it selects a strategy for a goal, generates the plan, runs it through
// the bounded-parallel executor with replanning enabled, and records the
// outcome in run memory.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/executor"
	"github.com/planweave/planweave/internal/invoker"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/memory"
	"github.com/planweave/planweave/internal/plan"
	"github.com/planweave/planweave/internal/planner"
	"github.com/planweave/planweave/internal/tool"
)

// Orchestrator runs goals end to end. It is safe to reuse across runs;
// each run gets its own replan manager so round budgets never leak
// between goals.
type Orchestrator struct {
	selector *planner.Selector
	registry *tool.Registry
	store    memory.Store
	history  memory.History
	bus      *event.Bus
	logger   *logging.Logger

	execCfg   executor.Config
	replanCfg planner.ReplanConfig
}

// Options configures an Orchestrator.
type Options struct {
	// Selector chooses the planning strategy per goal. Required.
	Selector *planner.Selector

	// Registry resolves tool IDs for the invoker. Required.
	Registry *tool.Registry

	// Store receives per-plan records under "plan:<id>". Optional.
	Store memory.Store

	// History receives one run record per execution. Optional.
	History memory.History

	// Bus receives plan and step lifecycle events. Optional.
	Bus *event.Bus

	// Logger defaults to a no-op logger.
	Logger *logging.Logger

	// Executor bounds parallelism and per-step deadlines. Zero values fall
	// back to configuration defaults.
	Executor config.ExecutorConfig

	// Replan bounds recovery. Used as given: MaxRounds 0 disables plan
	// revision.
	Replan config.ReplanConfig
}

// New creates an Orchestrator from options.
func New(opts Options) (*Orchestrator, error) {
	if opts.Selector == nil {
		return nil, fmt.Errorf("orchestrator: selector is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("orchestrator: tool registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	defaults := config.Default()
	if opts.Executor.MaxParallel == 0 {
		opts.Executor.MaxParallel = defaults.Executor.MaxParallel
	}
	if opts.Executor.StepTimeoutSeconds == 0 {
		opts.Executor.StepTimeoutSeconds = defaults.Executor.StepTimeoutSeconds
	}

	return &Orchestrator{
		selector: opts.Selector,
		registry: opts.Registry,
		store:    opts.Store,
		history:  opts.History,
		bus:      opts.Bus,
		logger:   logger,
		execCfg: executor.Config{
			MaxParallel: opts.Executor.MaxParallel,
			StepTimeout: opts.Executor.StepTimeout(),
		},
		replanCfg: planner.ReplanConfig{
			MaxRounds:       opts.Replan.MaxRounds,
			RetryBudget:     opts.Executor.RetryBudget,
			SkipUnreachable: opts.Replan.SkipUnreachable,
		},
	}, nil
}

// Run plans and executes one goal. The returned plan is terminal; it is
// returned even when execution failed, so callers can inspect step-level
// outcomes. The run is recorded in history regardless of outcome.
func (o *Orchestrator) Run(ctx context.Context, goal string, state planner.State) (*plan.Plan, error) {
	strategy, err := o.selector.Select(goal)
	if err != nil {
		return nil, err
	}
	log := o.logger.WithStrategy(strategy.Name())
	log.Info("planning goal", "goal", goal)

	p, err := strategy.GeneratePlan(ctx, goal, state)
	if err != nil {
		return nil, err
	}

	manager := planner.NewReplanManager(strategy, state, o.replanCfg, o.bus, o.logger)
	exec := executor.New(invoker.New(o.registry, invoker.WithLogger(o.logger)), o.execCfg,
		executor.WithBus(o.bus),
		executor.WithLogger(o.logger),
		executor.WithReplanner(manager),
	)

	p, execErr := exec.Execute(ctx, p)
	if err := o.record(ctx, p); err != nil {
		log.Warn("failed to record run", "plan_id", p.ID(), "error", err)
	}
	return p, execErr
}

// record persists the finished plan to the key/value store and the run
// history. Persistence failures never mask the execution result.
func (o *Orchestrator) record(ctx context.Context, p *plan.Plan) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	if o.store != nil {
		if err := o.store.Write(ctx, "plan:"+p.ID(), string(data)); err != nil {
			return fmt.Errorf("store plan: %w", err)
		}
	}
	if o.history != nil {
		rec := memory.RunRecord{
			PlanID:    p.ID(),
			Goal:      p.Goal(),
			Strategy:  p.Strategy(),
			Status:    p.Status().String(),
			PlanJSON:  string(data),
			CreatedAt: time.Now().UTC(),
		}
		if err := o.history.SaveRun(ctx, rec); err != nil {
			return fmt.Errorf("save run record: %w", err)
		}
	}
	return nil
}
