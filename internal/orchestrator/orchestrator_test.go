package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/errors"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/memory"
	"github.com/planweave/planweave/internal/plan"
	"github.com/planweave/planweave/internal/planner"
	"github.com/planweave/planweave/internal/tool"
)

const researchDomain = `
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

func testRegistry(t *testing.T, fetchFails bool) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.New("fetch", "fetch", "fetch a page", []string{"http"},
		func(_ context.Context, _ map[string]any) (map[string]any, error) {
			if fetchFails {
				return nil, errors.New("connection refused")
			}
			return map[string]any{"content": "fetched"}, nil
		})))
	require.NoError(t, r.Register(tool.New("summarize", "summarize", "summarize text", []string{"text"},
		func(_ context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"summary": input["content"]}, nil
		})))
	return r
}

func testOrchestrator(t *testing.T, r *tool.Registry, mem *memory.InMemory, bus *event.Bus) *Orchestrator {
	t.Helper()
	d, err := planner.ParseDomain([]byte(researchDomain))
	require.NoError(t, err)
	htn := planner.NewHTN(d, r, nil)

	o, err := New(Options{
		Selector: planner.NewSelector(nil, htn),
		Registry: r,
		Store:    mem,
		History:  mem,
		Bus:      bus,
		Executor: config.ExecutorConfig{MaxParallel: 2, RetryBudget: 0},
		Replan:   config.ReplanConfig{MaxRounds: 3, SkipUnreachable: true},
	})
	require.NoError(t, err)
	return o
}

func TestRun_Success(t *testing.T) {
	mem := memory.NewInMemory()
	o := testOrchestrator(t, testRegistry(t, false), mem, nil)

	p, err := o.Run(context.Background(), "research a topic", nil)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanCompleted, p.Status())

	s2, _ := p.Step("s02")
	assert.Equal(t, map[string]any{"summary": "fetched"}, s2.Output)
}

func TestRun_RecordsOutcome(t *testing.T) {
	mem := memory.NewInMemory()
	o := testOrchestrator(t, testRegistry(t, false), mem, nil)

	p, err := o.Run(context.Background(), "research a topic", nil)
	require.NoError(t, err)

	// The finished plan is stored under its ID...
	raw, ok, err := mem.Read(context.Background(), "plan:"+p.ID())
	require.NoError(t, err)
	require.True(t, ok)
	var stored plan.Plan
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, p.ID(), stored.ID())
	assert.Equal(t, plan.PlanCompleted, stored.Status())

	// ...and the run history gets one record.
	runs, err := mem.RunsForGoal(context.Background(), "research a topic", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, p.ID(), runs[0].PlanID)
	assert.Equal(t, "htn", runs[0].Strategy)
	assert.Equal(t, "completed", runs[0].Status)
}

func TestRun_FailureStillRecorded(t *testing.T) {
	// fetch always fails and no alternative http tool exists, so the run
	// fails; the record and terminal plan must still come back.
	mem := memory.NewInMemory()
	o := testOrchestrator(t, testRegistry(t, true), mem, nil)

	p, err := o.Run(context.Background(), "research a topic", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrReplanExhausted)
	require.NotNil(t, p)
	assert.Equal(t, plan.PlanFailed, p.Status())

	s2, _ := p.Step("s02")
	assert.Equal(t, plan.StatusSkipped, s2.Status)

	runs, err := mem.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
}

func TestRun_NoStrategy(t *testing.T) {
	mem := memory.NewInMemory()
	o := testOrchestrator(t, testRegistry(t, false), mem, nil)

	_, err := o.Run(context.Background(), "paint the house", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoStrategy)

	runs, err := mem.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "nothing to record when planning never happened")
}

func TestRun_PublishesLifecycleEvents(t *testing.T) {
	bus := event.NewBus()
	var types []string
	bus.SubscribeAll(func(e event.Event) { types = append(types, e.EventType()) })

	o := testOrchestrator(t, testRegistry(t, false), memory.NewInMemory(), bus)
	_, err := o.Run(context.Background(), "research a topic", nil)
	require.NoError(t, err)

	assert.Equal(t, event.TypePlanStarted, types[0])
	assert.Equal(t, event.TypePlanFinished, types[len(types)-1])
	assert.Contains(t, types, event.TypeStepStarted)
	assert.Contains(t, types, event.TypeStepCompleted)
}

func TestRun_FreshReplanBudgetPerRun(t *testing.T) {
	// Two failing runs in a row: the second must get its own revision
	// rounds instead of inheriting an exhausted budget.
	mem := memory.NewInMemory()
	o := testOrchestrator(t, testRegistry(t, true), mem, nil)

	_, err := o.Run(context.Background(), "research a topic", nil)
	require.Error(t, err)

	_, err = o.Run(context.Background(), "research a topic", nil)
	require.Error(t, err)

	runs, err := mem.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestNew_RequiredOptions(t *testing.T) {
	_, err := New(Options{Registry: tool.NewRegistry()})
	assert.Error(t, err)

	_, err = New(Options{Selector: planner.NewSelector(nil)})
	assert.Error(t, err)
}
