package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/planweave/planweave/internal/errors"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/memory"
	"github.com/planweave/planweave/internal/plan"
	"github.com/planweave/planweave/internal/provider"
	"github.com/planweave/planweave/internal/tool"
)

// Generative plans by prompting a reasoning provider and parsing the
// structured plan it returns. The provider's output is never trusted:
// plans are validated for unknown tools, unknown prerequisites, and cycles
// before they reach the scheduler.
type Generative struct {
	provider provider.Provider
	registry *tool.Registry
	memory   memory.Store
	history  memory.History
	logger   *logging.Logger
}

// NewGenerative creates a generative strategy. memory and history may be
// nil; when present, facts stored under "goal:<goal>" and the outcomes of
// recent runs of the same goal are fed into the prompt.
func NewGenerative(p provider.Provider, registry *tool.Registry, mem memory.Store, history memory.History, logger *logging.Logger) *Generative {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Generative{provider: p, registry: registry, memory: mem, history: history, logger: logger.WithStrategy("generative")}
}

// Name returns "generative".
func (g *Generative) Name() string { return "generative" }

// CanPlan reports whether a provider is configured. The generative
// strategy accepts any goal text.
func (g *Generative) CanPlan(string) bool { return g.provider != nil }

const generateSystemPrompt = `You are a planning engine. Decompose the goal into a dependency-ordered
set of steps, each delegated to exactly one of the available tools.

Respond with JSON wrapped in <plan></plan> tags:

<plan>
{"steps": [
  {"id": "s01", "description": "...", "tool": "<tool id>", "prerequisites": [], "input": {}}
]}
</plan>

Rules:
- use only the listed tool IDs
- prerequisites reference step IDs defined in the same plan
- the dependency graph must be acyclic
- every step the goal needs must be present; nothing else`

const adjustSystemPrompt = `You are a planning engine revising a plan after a step failed. Either
substitute the failed step with a single replacement step using a
different tool, or decline if no viable substitution exists.

Respond with JSON wrapped in <replan></replan> tags, one of:

<replan>
{"replace": {"step_id": "<failed step id>", "with": {"id": "...", "description": "...", "tool": "...", "input": {}}}}
</replan>

<replan>
{"decline": true, "reason": "..."}
</replan>`

// stepDoc is the wire form of a step in provider output.
type stepDoc struct {
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	Tool          string         `json:"tool"`
	Prerequisites []string       `json:"prerequisites"`
	Input         map[string]any `json:"input,omitempty"`
}

// GeneratePlan prompts the provider for a plan and validates it.
func (g *Generative) GeneratePlan(ctx context.Context, goal string, state State) (*plan.Plan, error) {
	prompt := g.buildGeneratePrompt(ctx, goal, state)

	output, err := g.provider.Generate(ctx, generateSystemPrompt, prompt)
	if err != nil {
		return nil, errors.NewPlanningError("generative", "provider call failed", err)
	}

	docs, err := extractPlanDocs(output)
	if err != nil {
		return nil, errors.NewPlanningError("generative", "unparseable plan output", err)
	}

	p, err := g.buildPlan(goal, docs)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("plan generated", "goal", goal, "steps", p.Len())
	return p, nil
}

func (g *Generative) buildGeneratePrompt(ctx context.Context, goal string, state State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", goal)

	if len(state) > 0 {
		if data, err := json.Marshal(state); err == nil {
			fmt.Fprintf(&sb, "\nWorld state:\n%s\n", data)
		}
	}
	if g.memory != nil {
		if fact, ok, err := g.memory.Read(ctx, "goal:"+goal); err == nil && ok {
			fmt.Fprintf(&sb, "\nRelevant memory:\n%s\n", fact)
		}
	}
	g.writeHistory(ctx, &sb, goal)

	sb.WriteString("\nAvailable tools:\n")
	for _, spec := range g.registry.Specs() {
		fmt.Fprintf(&sb, "- %s: %s", spec.ID, spec.Description)
		if len(spec.Capabilities) > 0 {
			fmt.Fprintf(&sb, " (capabilities: %s)", strings.Join(spec.Capabilities, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// historyPromptLimit caps how many past runs of the goal are surfaced to
// the provider.
const historyPromptLimit = 3

// writeHistory appends the outcomes of recent runs of the same goal, so
// the provider can avoid repeating a decomposition that already failed.
func (g *Generative) writeHistory(ctx context.Context, sb *strings.Builder, goal string) {
	if g.history == nil {
		return
	}
	runs, err := g.history.RunsForGoal(ctx, goal, historyPromptLimit)
	if err != nil || len(runs) == 0 {
		return
	}

	sb.WriteString("\nPrevious runs of this goal, newest first:\n")
	for _, r := range runs {
		fmt.Fprintf(sb, "- %s via %s", r.Status, r.Strategy)
		if failed := failedSteps(r.PlanJSON); failed != "" {
			fmt.Fprintf(sb, " (failed: %s)", failed)
		}
		sb.WriteString("\n")
	}
}

// failedSteps summarizes the failed steps of a recorded plan document.
func failedSteps(planJSON string) string {
	var p plan.Plan
	if err := json.Unmarshal([]byte(planJSON), &p); err != nil {
		return ""
	}
	var parts []string
	for _, s := range p.Steps() {
		if s.Status != plan.StatusFailed {
			continue
		}
		part := fmt.Sprintf("%s via %s", s.ID, s.AssignedTool)
		if s.Error != nil {
			part += fmt.Sprintf(" [%s]", s.Error.Kind)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

var planTagRe = regexp.MustCompile(`(?s)<plan>\s*(.*?)\s*</plan>`)

// extractPlanDocs pulls the <plan> block out of provider output and
// decodes its steps.
func extractPlanDocs(output string) ([]stepDoc, error) {
	matches := planTagRe.FindStringSubmatch(output)
	if len(matches) < 2 {
		return nil, fmt.Errorf("no plan found in output (expected <plan>JSON</plan>): %w", errors.ErrMalformedPlan)
	}

	var doc struct {
		Steps []stepDoc `json:"steps"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(matches[1])), &doc); err != nil {
		return nil, fmt.Errorf("parse plan JSON: %v: %w", err, errors.ErrMalformedPlan)
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("plan contains no steps: %w", errors.ErrMalformedPlan)
	}
	return doc.Steps, nil
}

// buildPlan assembles and validates a plan from step documents. Documents
// may arrive in any order; insertion is deferred until each step's
// prerequisites exist.
func (g *Generative) buildPlan(goal string, docs []stepDoc) (*plan.Plan, error) {
	ids := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d.ID == "" || d.Tool == "" {
			return nil, errors.NewPlanningError("generative", fmt.Sprintf("step %q missing id or tool", d.ID), errors.ErrMalformedPlan)
		}
		if ids[d.ID] {
			return nil, errors.NewPlanningError("generative", fmt.Sprintf("duplicate step id %q", d.ID), errors.ErrDuplicateStep)
		}
		ids[d.ID] = true
		if _, err := g.registry.Resolve(d.Tool); err != nil {
			return nil, errors.NewPlanningError("generative", fmt.Sprintf("step %q uses unknown tool %q", d.ID, d.Tool), err)
		}
		for _, pre := range d.Prerequisites {
			if pre == d.ID {
				return nil, errors.NewPlanningError("generative", fmt.Sprintf("step %q depends on itself", d.ID), errors.ErrDependencyCycle)
			}
		}
	}

	p := plan.New(goal, "generative")
	remaining := docs
	for len(remaining) > 0 {
		var deferred []stepDoc
		progress := false
		for _, d := range remaining {
			ready := true
			for _, pre := range d.Prerequisites {
				if !ids[pre] {
					return nil, errors.NewPlanningError("generative", fmt.Sprintf("step %q references unknown prerequisite %q", d.ID, pre), errors.ErrUnknownPrerequisite)
				}
				if _, inserted := p.Step(pre); !inserted {
					ready = false
					break
				}
			}
			if !ready {
				deferred = append(deferred, d)
				continue
			}
			step := plan.NewStep(d.ID, d.Description, d.Tool, d.Prerequisites...).WithInput(d.Input)
			if err := p.AddStep(step); err != nil {
				return nil, errors.NewPlanningError("generative", fmt.Sprintf("cannot add step %q", d.ID), err)
			}
			progress = true
		}
		if !progress {
			var stuck []string
			for _, d := range deferred {
				stuck = append(stuck, d.ID)
			}
			return nil, errors.NewPlanningError("generative", fmt.Sprintf("dependency cycle among steps %s", strings.Join(stuck, ", ")), errors.ErrDependencyCycle)
		}
		remaining = deferred
	}
	return p, nil
}

var replanTagRe = regexp.MustCompile(`(?s)<replan>\s*(.*?)\s*</replan>`)

// AdjustPlan asks the provider for a substitution around the failed step.
// A decline, or output the engine cannot validate into a safe revision,
// reports replanning exhausted.
func (g *Generative) AdjustPlan(ctx context.Context, snapshot *plan.Plan, failedStepID string, _ State) (*plan.Plan, error) {
	failed, ok := snapshot.Step(failedStepID)
	if !ok {
		return nil, fmt.Errorf("adjust: step %q: %w", failedStepID, errors.ErrStepNotFound)
	}

	prompt := g.buildAdjustPrompt(ctx, snapshot, failed)
	output, err := g.provider.Generate(ctx, adjustSystemPrompt, prompt)
	if err != nil {
		return nil, errors.NewPlanningError("generative", "provider call failed", err)
	}

	matches := replanTagRe.FindStringSubmatch(output)
	if len(matches) < 2 {
		return nil, errors.NewPlanningError("generative", "no replan block in output", errors.ErrMalformedPlan)
	}

	var doc struct {
		Replace *struct {
			StepID string  `json:"step_id"`
			With   stepDoc `json:"with"`
		} `json:"replace"`
		Decline bool   `json:"decline"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(matches[1])), &doc); err != nil {
		return nil, errors.NewPlanningError("generative", "parse replan JSON", errors.ErrMalformedPlan)
	}

	if doc.Decline || doc.Replace == nil {
		g.logger.Info("provider declined to revise plan", "step_id", failedStepID, "reason", doc.Reason)
		return nil, errors.NewReplanningExhaustedError(snapshot.ID(), failedStepID, 0)
	}
	if doc.Replace.StepID != failedStepID {
		return nil, errors.NewPlanningError("generative", fmt.Sprintf("revision targets %q, expected %q", doc.Replace.StepID, failedStepID), errors.ErrMalformedPlan)
	}

	with := doc.Replace.With
	if with.Tool == "" || with.Tool == failed.AssignedTool {
		return nil, errors.NewReplanningExhaustedError(snapshot.ID(), failedStepID, 0)
	}
	if _, err := g.registry.Resolve(with.Tool); err != nil {
		return nil, errors.NewPlanningError("generative", fmt.Sprintf("revision uses unknown tool %q", with.Tool), err)
	}

	base := altBase(failedStepID)
	alts := 0
	for _, s := range snapshot.Steps() {
		if strings.HasPrefix(s.ID, base+"-alt") {
			alts++
		}
	}
	id := with.ID
	if id == "" {
		id = altStepID(base, alts+1)
	}
	if _, exists := snapshot.Step(id); exists {
		id = altStepID(base, alts+1)
	}

	desc := with.Description
	if desc == "" {
		desc = failed.Description
	}
	input := with.Input
	if input == nil {
		input = failed.Clone().Input
	}

	sub := plan.NewStep(id, desc, with.Tool, failed.Prerequisites...).WithInput(input)
	if err := snapshot.AddStep(sub); err != nil {
		return nil, errors.NewPlanningError("generative", "cannot add substitute step", err)
	}
	if err := snapshot.RepointPrerequisites(failedStepID, sub.ID); err != nil {
		return nil, err
	}

	g.logger.Info("substituted failed step", "step_id", failedStepID, "substitute_id", sub.ID, "tool_id", with.Tool)
	return snapshot, nil
}

func (g *Generative) buildAdjustPrompt(ctx context.Context, snapshot *plan.Plan, failed *plan.Step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", snapshot.Goal())

	if data, err := json.Marshal(snapshot); err == nil {
		fmt.Fprintf(&sb, "\nCurrent plan:\n%s\n", data)
	}
	g.writeHistory(ctx, &sb, snapshot.Goal())

	fmt.Fprintf(&sb, "\nFailed step: %s (tool %s)\n", failed.ID, failed.AssignedTool)
	if failed.Error != nil {
		fmt.Fprintf(&sb, "Failure: [%s] %s\n", failed.Error.Kind, failed.Error.Message)
	}

	sb.WriteString("\nAvailable tools:\n")
	for _, spec := range g.registry.Specs() {
		fmt.Fprintf(&sb, "- %s: %s\n", spec.ID, spec.Description)
	}
	return sb.String()
}
