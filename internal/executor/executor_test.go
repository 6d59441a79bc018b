package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/internal/errors"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/invoker"
	"github.com/planweave/planweave/internal/plan"
	"github.com/planweave/planweave/internal/planner"
	"github.com/planweave/planweave/internal/tool"
)

// recordingInvoker scripts per-tool behavior and records invocations.
type recordingInvoker struct {
	mu      sync.Mutex
	calls   map[string]int // keyed by tool ID
	inputs  map[string][]map[string]any
	started []string
	behave  map[string]func(input map[string]any) (map[string]any, error)
}

func newRecordingInvoker() *recordingInvoker {
	return &recordingInvoker{
		calls:  make(map[string]int),
		inputs: make(map[string][]map[string]any),
		behave: make(map[string]func(map[string]any) (map[string]any, error)),
	}
}

func (r *recordingInvoker) on(toolID string, fn func(map[string]any) (map[string]any, error)) {
	r.behave[toolID] = fn
}

func (r *recordingInvoker) Invoke(ctx context.Context, toolID string, input map[string]any, _ time.Duration) (map[string]any, error) {
	r.mu.Lock()
	r.calls[toolID]++
	r.inputs[toolID] = append(r.inputs[toolID], input)
	r.started = append(r.started, toolID)
	fn := r.behave[toolID]
	r.mu.Unlock()

	if ctx.Err() != nil {
		return nil, errors.NewCanceledError(toolID)
	}
	if fn == nil {
		return map[string]any{"tool": toolID}, nil
	}
	return fn(input)
}

func (r *recordingInvoker) callCount(toolID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[toolID]
}

func (r *recordingInvoker) startedTools() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

// diamondPlan builds a -> (b, c) -> d, one step per tool of the same name.
func diamondPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p := plan.New("diamond", "test")
	require.NoError(t, p.AddStep(plan.NewStep("a", "root", "a")))
	require.NoError(t, p.AddStep(plan.NewStep("b", "left", "b", "a")))
	require.NoError(t, p.AddStep(plan.NewStep("c", "right", "c", "a")))
	require.NoError(t, p.AddStep(plan.NewStep("d", "join", "d", "b", "c")))
	return p
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func TestExecute_DiamondRespectsDependencies(t *testing.T) {
	inv := newRecordingInvoker()
	e := New(inv, Config{MaxParallel: 4})

	p, err := e.Execute(context.Background(), diamondPlan(t))
	require.NoError(t, err)
	assert.Equal(t, plan.PlanCompleted, p.Status())

	order := inv.startedTools()
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[3])
	assert.Less(t, indexOf(order, "b"), indexOf(order, "d"))
	assert.Less(t, indexOf(order, "c"), indexOf(order, "d"))

	for _, s := range p.Steps() {
		assert.Equal(t, plan.StatusCompleted, s.Status, s.ID)
	}
}

func TestExecute_RejectsEmptyPlan(t *testing.T) {
	e := New(newRecordingInvoker(), Config{MaxParallel: 1})
	p := plan.New("empty", "test")

	got, err := e.Execute(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedPlan)
	assert.Equal(t, plan.PlanPending, got.Status(), "a stepless plan never starts")
}

func TestExecute_EachStepRunsOnce(t *testing.T) {
	inv := newRecordingInvoker()
	e := New(inv, Config{MaxParallel: 2})

	_, err := e.Execute(context.Background(), diamondPlan(t))
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, 1, inv.callCount(id), id)
	}
}

func TestExecute_ParallelismCapAndTieBreak(t *testing.T) {
	release := make(chan struct{})
	inv := newRecordingInvoker()
	block := func(input map[string]any) (map[string]any, error) {
		<-release
		return nil, nil
	}
	inv.on("t1", block)
	inv.on("t2", block)
	inv.on("t3", block)

	p := plan.New("fanout", "test")
	require.NoError(t, p.AddStep(plan.NewStep("s1", "", "t1")))
	require.NoError(t, p.AddStep(plan.NewStep("s2", "", "t2")))
	require.NoError(t, p.AddStep(plan.NewStep("s3", "", "t3")))

	e := New(inv, Config{MaxParallel: 2})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Execute(context.Background(), p)
		assert.NoError(t, err)
	}()

	// Two slots fill with the lowest step IDs; the third waits.
	require.Eventually(t, func() bool {
		return len(inv.startedTools()) == 2
	}, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"t1", "t2"}, inv.startedTools())
	assert.Zero(t, inv.callCount("t3"))

	close(release)
	<-done
	assert.Equal(t, 1, inv.callCount("t3"))
}

func TestExecute_FoldsPrerequisiteOutputs(t *testing.T) {
	inv := newRecordingInvoker()
	inv.on("fetch", func(map[string]any) (map[string]any, error) {
		return map[string]any{"content": "the page body"}, nil
	})
	inv.on("summarize", func(input map[string]any) (map[string]any, error) {
		return map[string]any{"summary": "short"}, nil
	})

	p := plan.New("summarize the page", "test")
	require.NoError(t, p.AddStep(plan.NewStep("s01", "fetch", "fetch")))
	s2 := plan.NewStep("s02", "summarize", "summarize", "s01").
		WithInput(map[string]any{"style": "bullet"})
	require.NoError(t, p.AddStep(s2))

	e := New(inv, Config{MaxParallel: 1})
	p, err := e.Execute(context.Background(), p)
	require.NoError(t, err)

	got := inv.inputs["summarize"][0]
	assert.Equal(t, "the page body", got["content"], "upstream output flows in")
	assert.Equal(t, "bullet", got["style"], "explicit input keys are kept")

	s, _ := p.Step("s02")
	assert.Equal(t, map[string]any{"summary": "short"}, s.Output)
}

func TestExecute_ExplicitInputWinsOverUpstream(t *testing.T) {
	inv := newRecordingInvoker()
	inv.on("fetch", func(map[string]any) (map[string]any, error) {
		return map[string]any{"content": "upstream"}, nil
	})

	p := plan.New("g", "test")
	require.NoError(t, p.AddStep(plan.NewStep("s01", "", "fetch")))
	s2 := plan.NewStep("s02", "", "summarize", "s01").
		WithInput(map[string]any{"content": "pinned"})
	require.NoError(t, p.AddStep(s2))

	e := New(inv, Config{MaxParallel: 1})
	_, err := e.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "pinned", inv.inputs["summarize"][0]["content"])
}

func TestExecute_FailureWithoutReplannerSkipsDownstream(t *testing.T) {
	inv := newRecordingInvoker()
	inv.on("b", func(map[string]any) (map[string]any, error) {
		return nil, errors.NewInvocationError("b", errors.New("boom"))
	})

	e := New(inv, Config{MaxParallel: 2})
	p, err := e.Execute(context.Background(), diamondPlan(t))
	require.Error(t, err)
	assert.Equal(t, plan.PlanFailed, p.Status())

	b, _ := p.Step("b")
	assert.Equal(t, plan.StatusFailed, b.Status)
	d, _ := p.Step("d")
	assert.Equal(t, plan.StatusSkipped, d.Status)

	// The independent branch still runs to completion.
	c, _ := p.Step("c")
	assert.Equal(t, plan.StatusCompleted, c.Status)
	assert.Equal(t, 1, inv.callCount("c"))
	assert.Zero(t, inv.callCount("d"))
}

// stuckReplanner reports proceed without making any step runnable again.
type stuckReplanner struct{}

func (stuckReplanner) OnStepFailure(_ context.Context, p *plan.Plan, _ string) (*plan.Plan, bool, error) {
	return p, true, nil
}

func TestExecute_DeadlockDetected(t *testing.T) {
	inv := newRecordingInvoker()
	inv.on("a", func(map[string]any) (map[string]any, error) {
		return nil, errors.NewInvocationError("a", errors.New("boom"))
	})

	e := New(inv, Config{MaxParallel: 2}, WithReplanner(stuckReplanner{}))
	p, err := e.Execute(context.Background(), diamondPlan(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDeadlock)
	assert.Equal(t, plan.PlanFailed, p.Status())

	var dl *errors.DeadlockError
	require.ErrorAs(t, err, &dl)
	assert.ElementsMatch(t, []string{"b", "c", "d"}, dl.Pending)
}

func TestExecute_Cancellation(t *testing.T) {
	started := make(chan struct{})
	inv := newRecordingInvoker()
	inv.on("a", func(map[string]any) (map[string]any, error) {
		close(started)
		select {} // never returns; the loop must not wait on it
	})

	ctx, cancel := context.WithCancel(context.Background())
	e := New(inv, Config{MaxParallel: 1})

	errc := make(chan error, 1)
	var final *plan.Plan
	go func() {
		p, err := e.Execute(ctx, diamondPlan(t))
		final = p
		errc <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("executor did not stop on cancellation")
	}

	assert.Equal(t, plan.PlanAborted, final.Status())
	a, _ := final.Step("a")
	assert.Equal(t, plan.StatusFailed, a.Status)
	require.NotNil(t, a.Error)
	assert.Equal(t, "canceled", a.Error.Kind)
}

func TestExecute_EventSequence(t *testing.T) {
	bus := event.NewBus()
	var types []string
	bus.SubscribeAll(func(e event.Event) { types = append(types, e.EventType()) })

	inv := newRecordingInvoker()
	e := New(inv, Config{MaxParallel: 1}, WithBus(bus))

	p := plan.New("g", "test")
	require.NoError(t, p.AddStep(plan.NewStep("s01", "", "a")))

	_, err := e.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{
		event.TypePlanStarted,
		event.TypeStepStarted,
		event.TypeStepCompleted,
		event.TypePlanFinished,
	}, types)
}

// ----- End-to-end runs through the real invoker and replan manager -----

func e2eRegistry(t *testing.T, fetchErr error) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.New("fetch", "fetch", "fetch a page", []string{"http"},
		func(_ context.Context, input map[string]any) (map[string]any, error) {
			if fetchErr != nil {
				return nil, fetchErr
			}
			return map[string]any{"content": "fetched"}, nil
		})))
	require.NoError(t, r.Register(tool.New("fetch-alt", "fetch-alt", "fetch via mirror", []string{"http"},
		func(_ context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"content": "mirrored"}, nil
		})))
	require.NoError(t, r.Register(tool.New("summarize", "summarize", "summarize text", []string{"text"},
		func(_ context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"summary": input["content"]}, nil
		})))
	return r
}

const e2eDomain = `
goals:
  "research a topic": research
methods:
  research:
    - subtasks: [fetch, digest]
operators:
  fetch:
    capability: http
    description: fetch source material
  digest:
    capability: text
    description: summarize gathered material
`

func e2eStrategy(t *testing.T, r *tool.Registry) *planner.HTN {
	t.Helper()
	d, err := planner.ParseDomain([]byte(e2eDomain))
	require.NoError(t, err)
	return planner.NewHTN(d, r, nil)
}

func TestExecute_EndToEnd_Success(t *testing.T) {
	r := e2eRegistry(t, nil)
	h := e2eStrategy(t, r)

	p, err := h.GeneratePlan(context.Background(), "research a topic", nil)
	require.NoError(t, err)

	m := planner.NewReplanManager(h, nil, planner.ReplanConfig{MaxRounds: 3, RetryBudget: 1, SkipUnreachable: true}, nil, nil)
	e := New(invoker.New(r), Config{MaxParallel: 2}, WithReplanner(m))

	p, err = e.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanCompleted, p.Status())

	s2, _ := p.Step("s02")
	assert.Equal(t, map[string]any{"summary": "fetched"}, s2.Output)
}

func TestExecute_EndToEnd_ToolSubstitution(t *testing.T) {
	r := e2eRegistry(t, errors.New("connection refused"))
	h := e2eStrategy(t, r)

	p, err := h.GeneratePlan(context.Background(), "research a topic", nil)
	require.NoError(t, err)

	m := planner.NewReplanManager(h, nil, planner.ReplanConfig{MaxRounds: 3, RetryBudget: 0, SkipUnreachable: true}, nil, nil)
	e := New(invoker.New(r), Config{MaxParallel: 2}, WithReplanner(m))

	p, err = e.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanCompleted, p.Status())

	// The failed fetch stays on the record; its substitute carried the run.
	s1, _ := p.Step("s01")
	assert.Equal(t, plan.StatusFailed, s1.Status)
	alt, ok := p.Step("s01-alt1")
	require.True(t, ok)
	assert.Equal(t, "fetch-alt", alt.AssignedTool)
	assert.Equal(t, plan.StatusCompleted, alt.Status)

	s2, _ := p.Step("s02")
	assert.Equal(t, map[string]any{"summary": "mirrored"}, s2.Output)
}

func TestExecute_EndToEnd_RetryThenSucceed(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.New("flaky", "flaky", "fails once", []string{"http"},
		func(_ context.Context, _ map[string]any) (map[string]any, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return nil, errors.New("transient")
			}
			return map[string]any{"ok": true}, nil
		})))

	p := plan.New("g", "test")
	require.NoError(t, p.AddStep(plan.NewStep("s01", "", "flaky")))

	m := planner.NewReplanManager(nil, nil, planner.ReplanConfig{MaxRounds: 0, RetryBudget: 1}, nil, nil)
	e := New(invoker.New(r), Config{MaxParallel: 1}, WithReplanner(m))

	p, err := e.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanCompleted, p.Status())
	assert.Equal(t, 2, attempts)

	s, _ := p.Step("s01")
	assert.Equal(t, 1, s.RetryCount)
}

func TestExecute_EndToEnd_ReplanExhausted(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.New("fetch", "fetch", "always down", []string{"http"},
		func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("connection refused")
		})))
	require.NoError(t, r.Register(tool.New("summarize", "summarize", "summarize text", []string{"text"},
		func(_ context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"summary": input["content"]}, nil
		})))
	h := e2eStrategy(t, r)

	p, err := h.GeneratePlan(context.Background(), "research a topic", nil)
	require.NoError(t, err)

	m := planner.NewReplanManager(h, nil, planner.ReplanConfig{MaxRounds: 3, RetryBudget: 0, SkipUnreachable: true}, nil, nil)
	e := New(invoker.New(r), Config{MaxParallel: 2}, WithReplanner(m))

	p, err = e.Execute(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrReplanExhausted)
	assert.Equal(t, plan.PlanFailed, p.Status())

	s2, _ := p.Step("s02")
	assert.Equal(t, plan.StatusSkipped, s2.Status)
}
