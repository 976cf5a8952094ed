// Package routing picks the agent that should receive an incoming chat. It
// performs no I/O: the same candidates and criteria always produce the same
// result, whatever order the candidates arrive in.
package routing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

var (
	// ErrNoCandidates means the caller supplied no candidates at all
	ErrNoCandidates = errors.New("no candidates supplied")

	// ErrNoEligibleCommercial means every candidate was filtered out
	ErrNoEligibleCommercial = errors.New("no eligible commercial")

	// ErrUnknownStrategy means the criteria named a strategy with no implementation
	ErrUnknownStrategy = errors.New("unknown assignment strategy")
)

// RoutingStrategy orders eligible candidates; the first in order wins
type RoutingStrategy interface {
	// Less reports whether a should be preferred over b
	Less(a, b types.CommercialInfo) bool
}

// WorkloadBalanced prefers the lowest utilization, then higher priority,
// then the most recently active agent, then the smallest id
type WorkloadBalanced struct{}

func (WorkloadBalanced) Less(a, b types.CommercialInfo) bool {
	if c := compareUtilization(a, b); c != 0 {
		return c < 0
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if c := compareActivity(a, b); c != 0 {
		return c > 0
	}
	return a.ID < b.ID
}

// LongestIdleFirst prefers the agent whose last activity is oldest.
// Agents with no recorded activity count as idle the longest.
type LongestIdleFirst struct{}

func (LongestIdleFirst) Less(a, b types.CommercialInfo) bool {
	if c := compareActivity(a, b); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// HighestPriority prefers higher priority, then falls back to WorkloadBalanced
type HighestPriority struct{}

func (HighestPriority) Less(a, b types.CommercialInfo) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return WorkloadBalanced{}.Less(a, b)
}

// Selector maps assignment strategies to their implementations
type Selector struct {
	strategies map[types.AssignmentStrategy]RoutingStrategy
}

// NewSelector returns a selector with the built-in strategies registered
func NewSelector() *Selector {
	return &Selector{
		strategies: map[types.AssignmentStrategy]RoutingStrategy{
			types.StrategyWorkloadBalanced: WorkloadBalanced{},
			types.StrategyRoundRobin:       LongestIdleFirst{},
			types.StrategyPriority:         HighestPriority{},
		},
	}
}

// Register installs or replaces the implementation for a strategy
func (s *Selector) Register(name types.AssignmentStrategy, strategy RoutingStrategy) {
	s.strategies[name] = strategy
}

// Select filters candidates to those online, skilled and under capacity, and
// returns the best one according to the criteria's strategy.
func (s *Selector) Select(candidates []types.CommercialInfo, criteria types.AssignmentCriteria) (types.AssignmentResult, error) {
	name := criteria.Strategy
	if name == "" {
		name = types.StrategyWorkloadBalanced
	}
	strategy, ok := s.strategies[name]
	if !ok {
		return types.AssignmentResult{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	if len(candidates) == 0 {
		return types.AssignmentResult{}, ErrNoCandidates
	}

	eligible := Eligible(candidates, criteria.RequiredSkills)
	if len(eligible) == 0 {
		return types.AssignmentResult{}, fmt.Errorf("%w: %d candidates filtered out", ErrNoEligibleCommercial, len(candidates))
	}

	best := eligible[0]
	for _, c := range eligible[1:] {
		if strategy.Less(c, best) {
			best = c
		}
	}

	return types.AssignmentResult{
		CommercialID: best.ID,
		Strategy:     name,
		Score:        Utilization(best),
	}, nil
}

// Eligible returns the candidates that are online, have every required skill
// and are below capacity
func Eligible(candidates []types.CommercialInfo, required []types.Skill) []types.CommercialInfo {
	eligible := make([]types.CommercialInfo, 0, len(candidates))
	for _, c := range candidates {
		if !c.IsOnline || !c.HasSkills(required) || c.AtCapacity() {
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible
}

// Rank returns eligible candidates ordered best first
func (s *Selector) Rank(candidates []types.CommercialInfo, criteria types.AssignmentCriteria) ([]types.CommercialInfo, error) {
	name := criteria.Strategy
	if name == "" {
		name = types.StrategyWorkloadBalanced
	}
	strategy, ok := s.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	ranked := Eligible(candidates, criteria.RequiredSkills)
	sort.SliceStable(ranked, func(i, j int) bool { return strategy.Less(ranked[i], ranked[j]) })
	return ranked, nil
}

// Utilization is currentChats / max(maxChats, 1)
func Utilization(c types.CommercialInfo) float64 {
	return float64(c.CurrentChats) / float64(capacity(c))
}

func capacity(c types.CommercialInfo) int {
	if c.MaxChats < 1 {
		return 1
	}
	return c.MaxChats
}

// compareUtilization compares the ratios exactly by cross-multiplying
func compareUtilization(a, b types.CommercialInfo) int {
	left := int64(a.CurrentChats) * int64(capacity(b))
	right := int64(b.CurrentChats) * int64(capacity(a))
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	}
	return 0
}

// compareActivity orders by last activity; a missing timestamp is the oldest
func compareActivity(a, b types.CommercialInfo) int {
	at, bt := activity(a), activity(b)
	switch {
	case at.Before(bt):
		return -1
	case at.After(bt):
		return 1
	}
	return 0
}

func activity(c types.CommercialInfo) time.Time {
	if c.LastActivity == nil {
		return time.Time{}
	}
	return *c.LastActivity
}
