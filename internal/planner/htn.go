package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/planweave/planweave/internal/errors"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/plan"
	"github.com/planweave/planweave/internal/tool"
)

// maxDecompositionDepth bounds method expansion so a recursive domain
// definition fails planning instead of hanging.
const maxDecompositionDepth = 32

// HTN plans by hierarchical task network decomposition: the goal maps to a
// root task, compound tasks expand through their first applicable method,
// and operators become steps chained in decomposition order.
type HTN struct {
	domain   *Domain
	registry *tool.Registry
	logger   *logging.Logger
}

// NewHTN creates an HTN strategy over the given domain and tool registry.
func NewHTN(domain *Domain, registry *tool.Registry, logger *logging.Logger) *HTN {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &HTN{domain: domain, registry: registry, logger: logger.WithStrategy("htn")}
}

// Name returns "htn".
func (h *HTN) Name() string { return "htn" }

// CanPlan reports whether the domain covers the goal.
func (h *HTN) CanPlan(goal string) bool {
	_, ok := h.domain.RootTask(goal)
	return ok
}

// GeneratePlan decomposes the goal into a sequential plan of operator
// steps. Steps are chained in decomposition order: each depends on the
// previous one. Optional operators with no matching tool are dropped;
// required ones fail planning.
func (h *HTN) GeneratePlan(ctx context.Context, goal string, state State) (*plan.Plan, error) {
	root, ok := h.domain.RootTask(goal)
	if !ok {
		return nil, errors.NewPlanningError("htn", fmt.Sprintf("domain has no decomposition for goal %q", goal), nil)
	}

	p := plan.New(goal, "htn")
	b := &htnBuilder{htn: h, state: state, plan: p}
	if err := b.expand(ctx, root, 0); err != nil {
		return nil, err
	}
	if p.Len() == 0 {
		return nil, errors.NewPlanningError("htn", fmt.Sprintf("decomposition of %q produced no steps", goal), nil)
	}

	h.logger.Debug("plan generated", "goal", goal, "root_task", root, "steps", p.Len())
	return p, nil
}

// htnBuilder carries the mutable state of one decomposition.
type htnBuilder struct {
	htn    *HTN
	state  State
	plan   *plan.Plan
	seq    int
	prevID string
}

// expand walks the task network depth-first, left to right.
func (b *htnBuilder) expand(ctx context.Context, task string, depth int) error {
	if err := ctx.Err(); err != nil {
		return errors.NewPlanningError("htn", "planning canceled", err)
	}
	if depth > maxDecompositionDepth {
		return errors.NewPlanningError("htn", fmt.Sprintf("decomposition depth exceeded at task %q", task), nil)
	}

	if methods, ok := b.htn.domain.Methods[task]; ok {
		method := b.applicableMethod(methods)
		if method == nil {
			return errors.NewPlanningError("htn", fmt.Sprintf("no applicable method for task %q", task), nil)
		}
		for _, sub := range method.Subtasks {
			if err := b.expand(ctx, sub, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	op, ok := b.htn.domain.Operators[task]
	if !ok {
		return errors.NewPlanningError("htn", fmt.Sprintf("unknown task %q", task), nil)
	}
	return b.emit(task, op)
}

// applicableMethod returns the first method whose precondition holds.
func (b *htnBuilder) applicableMethod(methods []Method) *Method {
	for i := range methods {
		if methods[i].Requires == "" || truthy(b.state[methods[i].Requires]) {
			return &methods[i]
		}
	}
	return nil
}

// emit appends an operator step chained after the previously emitted one.
func (b *htnBuilder) emit(task string, op Operator) error {
	candidates := b.htn.registry.WithCapability(op.Capability)
	if len(candidates) == 0 {
		if op.Optional {
			b.htn.logger.Debug("optional operator dropped", "task", task, "capability", op.Capability)
			return nil
		}
		return errors.NewPlanningError("htn", fmt.Sprintf("no tool provides capability %q required by task %q", op.Capability, task), nil)
	}

	b.seq++
	id := fmt.Sprintf("s%02d", b.seq)
	desc := op.Description
	if desc == "" {
		desc = task
	}

	var prereqs []string
	if b.prevID != "" {
		prereqs = []string{b.prevID}
	}
	step := plan.NewStep(id, desc, candidates[0].ID, prereqs...)
	if err := b.plan.AddStep(step); err != nil {
		return errors.NewPlanningError("htn", fmt.Sprintf("cannot add step for task %q", task), err)
	}
	b.prevID = id
	return nil
}

// truthy interprets a state value as a precondition result.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

var altSuffix = regexp.MustCompile(`-alt\d+$`)

// altBase strips any substitution suffix, so revisions of revisions stay
// rooted at the original step ID.
func altBase(stepID string) string {
	return altSuffix.ReplaceAllString(stepID, "")
}

// AdjustPlan substitutes the failed step with an untried tool offering the
// same capability. The substitute inherits the failed step's description,
// input, and prerequisites; dependents are repointed at it; the failed
// step keeps its failed status. With no untried alternative the strategy
// reports replanning exhausted.
func (h *HTN) AdjustPlan(_ context.Context, snapshot *plan.Plan, failedStepID string, _ State) (*plan.Plan, error) {
	failed, ok := snapshot.Step(failedStepID)
	if !ok {
		return nil, fmt.Errorf("adjust: step %q: %w", failedStepID, errors.ErrStepNotFound)
	}

	base := altBase(failedStepID)
	tried := make(map[string]bool)
	alts := 0
	for _, s := range snapshot.Steps() {
		if s.ID == base || strings.HasPrefix(s.ID, base+"-alt") {
			tried[s.AssignedTool] = true
			if s.ID != base {
				alts++
			}
		}
	}

	substitute := h.findAlternative(failed.AssignedTool, tried)
	if substitute == "" {
		h.logger.Debug("no untried tool for failed step", "step_id", failedStepID, "tool_id", failed.AssignedTool)
		return nil, errors.NewReplanningExhaustedError(snapshot.ID(), failedStepID, alts)
	}

	sub := plan.NewStep(altStepID(base, alts+1), failed.Description, substitute, failed.Prerequisites...)
	sub.Input = failed.Clone().Input
	if err := snapshot.AddStep(sub); err != nil {
		return nil, errors.NewPlanningError("htn", "cannot add substitute step", err)
	}
	if err := snapshot.RepointPrerequisites(failedStepID, sub.ID); err != nil {
		return nil, err
	}

	h.logger.Info("substituted failed step", "step_id", failedStepID, "substitute_id", sub.ID, "tool_id", substitute)
	return snapshot, nil
}

// findAlternative returns an untried tool sharing a capability with the
// failed tool, preferring lower tool IDs for determinism.
func (h *HTN) findAlternative(failedTool string, tried map[string]bool) string {
	t, err := h.registry.Resolve(failedTool)
	if err != nil {
		return ""
	}
	for _, cap := range t.Spec().Capabilities {
		for _, spec := range h.registry.WithCapability(cap) {
			if !tried[spec.ID] {
				return spec.ID
			}
		}
	}
	return ""
}
