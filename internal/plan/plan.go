// Package plan defines the plan/step data model for the planweave engine:
// a directed acyclic graph of steps with per-step status tracking, strict
// state-machine transitions, and cycle-safe mutation.
//
// A Plan is created by a planning strategy, owned exclusively by the
// scheduler while it executes, and handed back to the caller once terminal.
// The Plan itself performs no locking; the scheduler serializes all
// mutations (single-writer discipline).
package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/planweave/planweave/internal/errors"
)

// PlanStatus represents the lifecycle state of a plan.
type PlanStatus string

const (
	// PlanPending indicates the plan has been built but not yet dispatched.
	PlanPending PlanStatus = "pending"

	// PlanRunning indicates execution is in progress. A plan never returns
	// to pending once running.
	PlanRunning PlanStatus = "running"

	// PlanCompleted indicates every step is completed or skipped.
	PlanCompleted PlanStatus = "completed"

	// PlanFailed indicates at least one step failed and no further
	// replanning attempt is available.
	PlanFailed PlanStatus = "failed"

	// PlanAborted indicates execution was canceled before completion.
	PlanAborted PlanStatus = "aborted"
)

// String returns the string representation of the status.
func (s PlanStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanAborted
}

// Metadata carries descriptive information about a plan.
type Metadata struct {
	// Goal is the original objective this plan was generated for.
	Goal string `json:"goal"`

	// Strategy names the planning strategy that produced the plan.
	Strategy string `json:"strategy"`

	// CreatedAt is when the plan was generated.
	CreatedAt time.Time `json:"created_at"`

	// Annotations holds free-form key/value notes (replan reasons,
	// provenance, selector hints).
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Plan is a DAG of steps with plan-level status. The step map preserves
// insertion order so that scheduling tie-breaks are deterministic and
// serialization is reproducible.
type Plan struct {
	id     string
	meta   Metadata
	steps  map[string]*Step
	order  []string
	status PlanStatus
}

// New creates an empty pending plan for the given goal and strategy.
func New(goal, strategy string) *Plan {
	return &Plan{
		id: uuid.NewString(),
		meta: Metadata{
			Goal:        goal,
			Strategy:    strategy,
			CreatedAt:   time.Now().UTC(),
			Annotations: make(map[string]string),
		},
		steps:  make(map[string]*Step),
		status: PlanPending,
	}
}

// ID returns the plan's unique identifier.
func (p *Plan) ID() string { return p.id }

// Goal returns the objective the plan was generated for.
func (p *Plan) Goal() string { return p.meta.Goal }

// Strategy returns the name of the strategy that produced the plan.
func (p *Plan) Strategy() string { return p.meta.Strategy }

// Status returns the plan's current lifecycle state.
func (p *Plan) Status() PlanStatus { return p.status }

// Metadata returns a copy of the plan's metadata.
func (p *Plan) Metadata() Metadata {
	m := p.meta
	m.Annotations = make(map[string]string, len(p.meta.Annotations))
	for k, v := range p.meta.Annotations {
		m.Annotations[k] = v
	}
	return m
}

// Annotate records a free-form key/value note on the plan.
func (p *Plan) Annotate(key, value string) {
	if p.meta.Annotations == nil {
		p.meta.Annotations = make(map[string]string)
	}
	p.meta.Annotations[key] = value
}

// Annotation returns the annotation for key, if present.
func (p *Plan) Annotation(key string) (string, bool) {
	v, ok := p.meta.Annotations[key]
	return v, ok
}

// Len returns the number of steps in the plan.
func (p *Plan) Len() int { return len(p.order) }

// Step returns the step with the given ID, if present.
func (p *Plan) Step(id string) (*Step, bool) {
	s, ok := p.steps[id]
	return s, ok
}

// Steps returns all steps in insertion order.
func (p *Plan) Steps() []*Step {
	out := make([]*Step, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.steps[id])
	}
	return out
}

// AddStep inserts a step into the plan. The step ID must be unique and
// non-empty, and every prerequisite must reference an existing step. A new
// step cannot close a cycle (nothing depends on it yet), so only
// self-reference is possible and is rejected.
func (p *Plan) AddStep(s *Step) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("add step: %w", errors.ErrStepNotFound)
	}
	if _, exists := p.steps[s.ID]; exists {
		return fmt.Errorf("add step %q: %w", s.ID, errors.ErrDuplicateStep)
	}
	for _, pre := range s.Prerequisites {
		if pre == s.ID {
			return errors.NewCycleError([]string{s.ID, s.ID})
		}
		if _, ok := p.steps[pre]; !ok {
			return fmt.Errorf("add step %q: prerequisite %q: %w", s.ID, pre, errors.ErrUnknownPrerequisite)
		}
	}
	p.steps[s.ID] = s
	p.order = append(p.order, s.ID)
	return nil
}

// ReadySteps returns the pending steps whose prerequisites have all reached
// a terminal success state, sorted by ascending step ID. This ordering is
// the deterministic tie-break used when the worker limit forces the
// scheduler to choose a subset.
func (p *Plan) ReadySteps() []*Step {
	var ready []*Step
	for _, id := range p.order {
		s := p.steps[id]
		if s.Status != StatusPending {
			continue
		}
		ok := true
		for _, pre := range s.Prerequisites {
			dep, exists := p.steps[pre]
			if !exists || !dep.Status.IsTerminalSuccess() {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// CountByStatus returns the number of steps in each status.
func (p *Plan) CountByStatus() map[StepStatus]int {
	counts := make(map[StepStatus]int)
	for _, id := range p.order {
		counts[p.steps[id].Status]++
	}
	return counts
}

// Running returns the steps currently in the running state, in insertion
// order.
func (p *Plan) Running() []*Step {
	var out []*Step
	for _, id := range p.order {
		if p.steps[id].Status == StatusRunning {
			out = append(out, p.steps[id])
		}
	}
	return out
}

// Pending returns the IDs of steps still pending, in insertion order.
func (p *Plan) Pending() []string {
	var out []string
	for _, id := range p.order {
		if p.steps[id].Status == StatusPending {
			out = append(out, id)
		}
	}
	return out
}

// AllTerminal reports whether every step has reached a terminal state.
func (p *Plan) AllTerminal() bool {
	for _, id := range p.order {
		if !p.steps[id].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AllSucceeded reports whether every step is completed or skipped.
func (p *Plan) AllSucceeded() bool {
	for _, id := range p.order {
		if !p.steps[id].Status.IsTerminalSuccess() {
			return false
		}
	}
	return len(p.order) > 0
}

// HasFailed reports whether any step is in the failed state.
func (p *Plan) HasFailed() bool {
	for _, id := range p.order {
		if p.steps[id].Status == StatusFailed {
			return true
		}
	}
	return false
}

// LastError returns the error info of the most recently failed step, if any.
func (p *Plan) LastError() *ErrorInfo {
	var last *ErrorInfo
	var lastAt time.Time
	for _, id := range p.order {
		s := p.steps[id]
		if s.Status != StatusFailed || s.Error == nil {
			continue
		}
		if s.FinishedAt == nil {
			if last == nil {
				last = s.Error
			}
			continue
		}
		if s.FinishedAt.After(lastAt) {
			last = s.Error
			lastAt = *s.FinishedAt
		}
	}
	return last
}

// -----------------------------------------------------------------------------
// Step State Machine
// -----------------------------------------------------------------------------

// stepTransitions defines the legal step status transitions. Completed is
// absorbing: results are never overwritten.
var stepTransitions = map[StepStatus][]StepStatus{
	StatusPending: {StatusReady, StatusSkipped},
	StatusReady:   {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed},
	StatusFailed:  {StatusPending, StatusSkipped},
}

func (p *Plan) transition(id string, to StepStatus) (*Step, error) {
	s, ok := p.steps[id]
	if !ok {
		return nil, fmt.Errorf("step %q: %w", id, errors.ErrStepNotFound)
	}
	if s.Status == StatusCompleted {
		return nil, fmt.Errorf("step %q: %w", id, errors.ErrCompletedImmutable)
	}
	for _, allowed := range stepTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			return s, nil
		}
	}
	return nil, fmt.Errorf("step %q: illegal transition %s -> %s", id, s.Status, to)
}

// MarkReady transitions a pending step to ready ahead of dispatch.
func (p *Plan) MarkReady(id string) error {
	_, err := p.transition(id, StatusReady)
	return err
}

// MarkRunning transitions a ready step to running and records the start
// time of its first attempt.
func (p *Plan) MarkRunning(id string) error {
	s, err := p.transition(id, StatusRunning)
	if err != nil {
		return err
	}
	if s.StartedAt == nil {
		now := time.Now().UTC()
		s.StartedAt = &now
	}
	return nil
}

// MarkCompleted transitions a running step to completed and stores its
// output. The step is immutable afterwards.
func (p *Plan) MarkCompleted(id string, output map[string]any) error {
	s, err := p.transition(id, StatusCompleted)
	if err != nil {
		return err
	}
	s.Output = output
	s.Error = nil
	now := time.Now().UTC()
	s.FinishedAt = &now
	return nil
}

// MarkFailed transitions a running step to failed, stores its error info,
// and increments the retry counter.
func (p *Plan) MarkFailed(id string, info ErrorInfo) error {
	s, err := p.transition(id, StatusFailed)
	if err != nil {
		return err
	}
	s.Error = &info
	s.RetryCount++
	now := time.Now().UTC()
	s.FinishedAt = &now
	return nil
}

// MarkSkipped transitions a pending or failed step to skipped, recording
// the reason as output so the decision survives serialization.
func (p *Plan) MarkSkipped(id, reason string) error {
	s, err := p.transition(id, StatusSkipped)
	if err != nil {
		return err
	}
	if reason != "" {
		s.Output = map[string]any{"skip_reason": reason}
	}
	now := time.Now().UTC()
	s.FinishedAt = &now
	return nil
}

// ResetForRetry returns a failed step to pending so the scheduler will
// dispatch it again. The last error and retry count are preserved.
func (p *Plan) ResetForRetry(id string) error {
	s, err := p.transition(id, StatusPending)
	if err != nil {
		return err
	}
	s.FinishedAt = nil
	return nil
}

// -----------------------------------------------------------------------------
// Plan State Machine
// -----------------------------------------------------------------------------

var planTransitions = map[PlanStatus][]PlanStatus{
	PlanPending: {PlanRunning},
	PlanRunning: {PlanCompleted, PlanFailed, PlanAborted},
}

// SetStatus transitions the plan's status, rejecting illegal moves (in
// particular, a plan never returns to pending and never leaves a terminal
// state).
func (p *Plan) SetStatus(to PlanStatus) error {
	if p.status == to {
		return nil
	}
	for _, allowed := range planTransitions[p.status] {
		if allowed == to {
			p.status = to
			return nil
		}
	}
	return fmt.Errorf("plan %s: illegal transition %s -> %s", p.id, p.status, to)
}

// ForceFailed marks the plan failed regardless of its current non-terminal
// state. Used when the replanning budget is exhausted.
func (p *Plan) ForceFailed() {
	if !p.status.IsTerminal() {
		p.status = PlanFailed
	}
}

// -----------------------------------------------------------------------------
// Structural Mutation (replanning support)
// -----------------------------------------------------------------------------

// RepointPrerequisites replaces references to step `from` with `to` in the
// prerequisites of every non-terminal step. The mutation is validated for
// acyclicity first; on violation nothing changes and a CycleError is
// returned.
func (p *Plan) RepointPrerequisites(from, to string) error {
	if _, ok := p.steps[from]; !ok {
		return fmt.Errorf("repoint %q: %w", from, errors.ErrStepNotFound)
	}
	if _, ok := p.steps[to]; !ok {
		return fmt.Errorf("repoint to %q: %w", to, errors.ErrStepNotFound)
	}

	// Trial run on a projection of the prerequisite relation.
	prereqs := func(id string) []string {
		s := p.steps[id]
		if s.Status.IsTerminal() && s.Status != StatusFailed {
			return s.Prerequisites
		}
		out := make([]string, len(s.Prerequisites))
		for i, pre := range s.Prerequisites {
			if pre == from {
				pre = to
			}
			out[i] = pre
		}
		return out
	}
	if cycle := detectCycle(p.order, prereqs); cycle != nil {
		return errors.NewCycleError(cycle)
	}

	for _, id := range p.order {
		s := p.steps[id]
		if s.Status.IsTerminal() && s.Status != StatusFailed {
			continue
		}
		for i, pre := range s.Prerequisites {
			if pre == from {
				s.Prerequisites[i] = to
			}
		}
	}
	return nil
}

// SkipDescendants marks every pending step that transitively depends on
// root as skipped. Used when a failure becomes final and the downstream
// work is unreachable.
func (p *Plan) SkipDescendants(root, reason string) []string {
	dependents := make(map[string][]string)
	for _, id := range p.order {
		for _, pre := range p.steps[id].Prerequisites {
			dependents[pre] = append(dependents[pre], id)
		}
	}

	var skipped []string
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[cur] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			queue = append(queue, dep)
			if p.steps[dep].Status == StatusPending {
				if err := p.MarkSkipped(dep, reason); err == nil {
					skipped = append(skipped, dep)
				}
			}
		}
	}
	return skipped
}

// Validate checks the plan's structural invariants: at least one step,
// every prerequisite references a known step, and the prerequisite
// relation is acyclic. A plan with no steps has nothing to execute and
// is rejected rather than reported as trivially complete.
func (p *Plan) Validate() error {
	if len(p.order) == 0 {
		return fmt.Errorf("plan has no steps: %w", errors.ErrMalformedPlan)
	}
	for _, id := range p.order {
		for _, pre := range p.steps[id].Prerequisites {
			if _, ok := p.steps[pre]; !ok {
				return fmt.Errorf("step %q: prerequisite %q: %w", id, pre, errors.ErrUnknownPrerequisite)
			}
		}
	}
	if cycle := p.DetectCycle(); cycle != nil {
		return errors.NewCycleError(cycle)
	}
	return nil
}

// Clone returns a deep copy of the plan. Used by the replanning layer so
// strategies adjust a point-in-time snapshot rather than the live graph.
func (p *Plan) Clone() *Plan {
	c := &Plan{
		id:     p.id,
		meta:   p.Metadata(),
		steps:  make(map[string]*Step, len(p.steps)),
		order:  append([]string(nil), p.order...),
		status: p.status,
	}
	for id, s := range p.steps {
		c.steps[id] = s.Clone()
	}
	return c
}

// ValidateRevision checks that a revised plan is an acceptable replacement
// for the current one: same identity, structurally valid, every completed
// step preserved exactly, and every running step still present and running.
func ValidateRevision(current, revised *Plan) error {
	if revised == nil {
		return fmt.Errorf("revision: %w", errors.ErrMalformedPlan)
	}
	if revised.id != current.id {
		return fmt.Errorf("revision changed plan identity: %w", errors.ErrMalformedPlan)
	}
	if err := revised.Validate(); err != nil {
		return err
	}
	for _, id := range current.order {
		cur := current.steps[id]
		switch cur.Status {
		case StatusCompleted:
			rev, ok := revised.steps[id]
			if !ok || rev.Status != StatusCompleted {
				return fmt.Errorf("revision altered completed step %q: %w", id, errors.ErrCompletedImmutable)
			}
		case StatusRunning, StatusReady:
			rev, ok := revised.steps[id]
			if !ok || rev.Status != cur.Status {
				return fmt.Errorf("revision altered in-flight step %q: %w", id, errors.ErrMalformedPlan)
			}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Serialization
// -----------------------------------------------------------------------------

type planJSON struct {
	ID       string     `json:"id"`
	Metadata Metadata   `json:"metadata"`
	Status   PlanStatus `json:"status"`
	Steps    []*Step    `json:"steps"`
}

// MarshalJSON serializes the plan with steps in insertion order and all
// status values as string enums.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planJSON{
		ID:       p.id,
		Metadata: p.meta,
		Status:   p.status,
		Steps:    p.Steps(),
	})
}

// UnmarshalJSON restores a plan from its serialized form.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var raw planJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.id = raw.ID
	p.meta = raw.Metadata
	p.status = raw.Status
	p.steps = make(map[string]*Step, len(raw.Steps))
	p.order = p.order[:0]
	for _, s := range raw.Steps {
		if s == nil || s.ID == "" {
			return fmt.Errorf("step document without id: %w", errors.ErrMalformedPlan)
		}
		if _, exists := p.steps[s.ID]; exists {
			return fmt.Errorf("step %q: %w", s.ID, errors.ErrDuplicateStep)
		}
		p.steps[s.ID] = s
		p.order = append(p.order, s.ID)
	}
	return p.Validate()
}
