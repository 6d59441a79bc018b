package planner

import (
	"github.com/planweave/planweave/internal/errors"
	"github.com/planweave/planweave/internal/logging"
)

// Selector picks the planning strategy for a goal. Strategies are
// consulted in registration order; domain-driven strategies should come
// before the generative fallback. Selection never silently defaults: a
// goal no strategy can serve is an error.
type Selector struct {
	strategies []Strategy
	logger     *logging.Logger
}

// NewSelector creates a selector over the given strategies, consulted in
// order.
func NewSelector(logger *logging.Logger, strategies ...Strategy) *Selector {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Selector{strategies: strategies, logger: logger}
}

// Select returns the first strategy that can plan the goal, or a
// *errors.NoStrategyAvailableError.
func (s *Selector) Select(goal string) (Strategy, error) {
	for _, strategy := range s.strategies {
		if strategy.CanPlan(goal) {
			s.logger.Debug("strategy selected", "strategy", strategy.Name(), "goal", goal)
			return strategy, nil
		}
	}
	return nil, errors.NewNoStrategyAvailableError(goal)
}

// Strategies returns the registered strategies in consultation order.
func (s *Selector) Strategies() []Strategy {
	return append([]Strategy(nil), s.strategies...)
}
