// Package planner turns goals into executable plans. Two strategies are
// provided: hierarchical task network (HTN) decomposition driven by a YAML
// domain definition, and generative planning backed by a reasoning
// provider. A selector picks the strategy for a goal, and a replanning
// manager revises plans when steps fail, within a bounded budget.
package planner

import (
	"context"
	"fmt"

	"github.com/planweave/planweave/internal/plan"
)

// State is the world state planning runs against: opaque facts keyed by
// name. The engine never interprets it; strategies and method
// preconditions do.
type State map[string]any

// Strategy is a planning strategy: it generates plans for goals and
// revises them when a step fails.
type Strategy interface {
	// Name identifies the strategy in plan metadata and logs.
	Name() string

	// CanPlan reports whether this strategy can serve the goal at all.
	// The selector uses it; a true result does not guarantee GeneratePlan
	// will succeed.
	CanPlan(goal string) bool

	// GeneratePlan produces a complete plan for the goal, or a
	// *errors.PlanningError when no feasible decomposition exists. A failed
	// generation never returns a partial plan.
	GeneratePlan(ctx context.Context, goal string, state State) (*plan.Plan, error)

	// AdjustPlan revises a snapshot of a plan around the failed step:
	// typically by adding a substitute step and repointing the failed
	// step's dependents at it. The failed step keeps its failed status and
	// error info. Completed steps must be preserved exactly. When no viable
	// revision exists the strategy returns a *errors.ReplanningExhaustedError.
	AdjustPlan(ctx context.Context, snapshot *plan.Plan, failedStepID string, state State) (*plan.Plan, error)
}

// altStepID derives the ID for a substitute step, keeping the lineage
// visible: s02 -> s02-alt1 -> s02-alt2.
func altStepID(base string, n int) string {
	return fmt.Sprintf("%s-alt%d", base, n)
}
