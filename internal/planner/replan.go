package planner

import (
	"context"
	"strconv"

	"github.com/planweave/planweave/internal/errors"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/plan"
)

// ReplanConfig bounds the recovery work done for one plan.
type ReplanConfig struct {
	// MaxRounds is the maximum number of plan revisions per run. 0 disables
	// revision; retries still apply.
	MaxRounds int

	// RetryBudget is how many times a failed step is re-dispatched with the
	// same tool before a revision is attempted.
	RetryBudget int

	// SkipUnreachable marks downstream pending steps skipped once a failure
	// becomes final.
	SkipUnreachable bool
}

// ReplanManager decides what happens after a step failure: retry the step,
// revise the plan through the strategy, or give up. One manager serves one
// plan execution; it is driven synchronously by the scheduler between
// dispatch rounds and therefore needs no locking.
type ReplanManager struct {
	strategy Strategy
	state    State
	cfg      ReplanConfig
	bus      *event.Bus
	logger   *logging.Logger
	rounds   int
}

// NewReplanManager creates a manager that revises plans through the given
// strategy.
func NewReplanManager(strategy Strategy, state State, cfg ReplanConfig, bus *event.Bus, logger *logging.Logger) *ReplanManager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ReplanManager{strategy: strategy, state: state, cfg: cfg, bus: bus, logger: logger}
}

// Rounds returns how many revisions have been applied so far.
func (m *ReplanManager) Rounds() int { return m.rounds }

// OnStepFailure is called by the scheduler after recording a step failure,
// between dispatch rounds. It returns the plan to continue with and
// whether execution should proceed.
//
// Recovery order:
//  1. While the step's failure count is within the retry budget, the step
//     is reset to pending and re-dispatched with the same tool.
//  2. While revision rounds remain, the strategy adjusts a snapshot of the
//     plan; the validated revision replaces the live plan.
//  3. Otherwise recovery is exhausted: downstream pending steps are
//     skipped (when configured) and a *errors.ReplanningExhaustedError is
//     returned. The plan keeps every completed step's output.
func (m *ReplanManager) OnStepFailure(ctx context.Context, p *plan.Plan, failedStepID string) (*plan.Plan, bool, error) {
	failed, ok := p.Step(failedStepID)
	if !ok {
		return p, false, errors.New("failed step not found: " + failedStepID)
	}
	log := m.logger.WithPlan(p.ID()).WithStep(failedStepID)

	// Same-tool retry first: transient failures should not burn revision
	// rounds.
	if failed.RetryCount <= m.cfg.RetryBudget && retryableKind(failed.Error) {
		if err := p.ResetForRetry(failedStepID); err != nil {
			return p, false, err
		}
		log.Info("retrying failed step", "attempt", failed.RetryCount+1)
		return p, true, nil
	}

	for m.rounds < m.cfg.MaxRounds {
		m.rounds++
		log.Info("revising plan", "round", m.rounds)

		revised, err := m.strategy.AdjustPlan(ctx, p.Clone(), failedStepID, m.state)
		if err != nil {
			if errors.Is(err, errors.ErrReplanExhausted) {
				break
			}
			// Strategy-level failures (malformed output, provider errors)
			// consume the round but do not end recovery.
			log.Warn("plan revision failed", "round", m.rounds, "error", err)
			continue
		}
		if err := plan.ValidateRevision(p, revised); err != nil {
			log.Warn("plan revision rejected", "round", m.rounds, "error", err)
			continue
		}

		reason := ""
		if failed.Error != nil {
			reason = failed.Error.Message
		}
		if m.bus != nil {
			m.bus.Publish(event.NewPlanReplannedEvent(p.ID(), failedStepID, m.rounds, reason))
		}
		revised.Annotate("replan_rounds", strconv.Itoa(m.rounds))
		return revised, true, nil
	}

	// Recovery exhausted.
	exhausted := errors.NewReplanningExhaustedError(p.ID(), failedStepID, m.rounds)
	if m.cfg.SkipUnreachable {
		for _, id := range p.SkipDescendants(failedStepID, "upstream step "+failedStepID+" failed") {
			if m.bus != nil {
				m.bus.Publish(event.NewStepSkippedEvent(p.ID(), id, "upstream failure"))
			}
		}
	}
	log.Warn("recovery exhausted", "rounds", m.rounds)
	return p, false, exhausted
}

// retryableKind reports whether the recorded failure is worth re-running
// with the same tool. Resolution failures are deterministic; invocation
// and timeout failures may be transient.
func retryableKind(info *plan.ErrorInfo) bool {
	if info == nil {
		return true
	}
	switch errors.Kind(info.Kind) {
	case errors.KindInvocation, errors.KindTimeout:
		return true
	default:
		return false
	}
}
