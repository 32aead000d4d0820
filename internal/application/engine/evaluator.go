package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
)

// MetricReader is the part of PassAccessor a strategy may use.
type MetricReader interface {
	Number(ctx context.Context, name achievement.MetricName) (float64, error)
	Set(ctx context.Context, name achievement.MetricName) ([]string, error)
}

// Input is everything a strategy decides on. It carries no ledger handle:
// strategies decide, the orchestrator applies.
type Input struct {
	Definition achievement.Definition
	Event      achievement.EvaluationContext
	Metrics    MetricReader
	Progress   achievement.ProgressEntry
}

// Outcome is the decision for one definition. NewProgress is nil when
// progress did not change.
type Outcome struct {
	Unlocked    bool
	NewProgress *achievement.Progress
}

// Strategy evaluates one evaluation type.
type Strategy interface {
	Evaluate(ctx context.Context, in Input) (Outcome, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, in Input) (Outcome, error)

// Evaluate calls f.
func (f StrategyFunc) Evaluate(ctx context.Context, in Input) (Outcome, error) {
	return f(ctx, in)
}

// Registry maps evaluation types to strategies. Adding a type is one
// Register call.
type Registry struct {
	strategies map[achievement.EvaluationType]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[achievement.EvaluationType]Strategy)}
}

// DefaultRegistry returns a registry with every built-in type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(achievement.TypeThresholdReached, threshold(func(v, t float64) bool { return v >= t }))
	r.Register(achievement.TypeThresholdBelow, threshold(func(v, t float64) bool { return v < t }))
	r.Register(achievement.TypeThresholdAtOrBelow, threshold(func(v, t float64) bool { return v <= t }))
	r.Register(achievement.TypeThresholdExact, threshold(func(v, t float64) bool { return v == t }))
	r.Register(achievement.TypeBooleanFlagOnce, StrategyFunc(flagOnce))
	r.Register(achievement.TypeCumulativeCounter, StrategyFunc(cumulativeCounter))
	r.Register(achievement.TypeCumulativeAmount, StrategyFunc(cumulativeAmount))
	r.Register(achievement.TypeSetCollection, StrategyFunc(setCollection))
	r.Register(achievement.TypeCompoundSetMembership, StrategyFunc(compoundMembership))
	return r
}

// Register binds t to s, replacing any previous binding.
func (r *Registry) Register(t achievement.EvaluationType, s Strategy) {
	r.strategies[t] = s
}

// Types lists the registered types, sorted.
func (r *Registry) Types() []achievement.EvaluationType {
	types := make([]achievement.EvaluationType, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Evaluate dispatches on the definition's type.
func (r *Registry) Evaluate(ctx context.Context, in Input) (Outcome, error) {
	s, ok := r.strategies[in.Definition.Type]
	if !ok {
		return Outcome{}, shared.NewDomainError("achievement", "Evaluate", shared.ErrUnknownEvaluationType,
			fmt.Sprintf("definition %q has unknown evaluation type %q", in.Definition.Key, in.Definition.Type))
	}
	return s.Evaluate(ctx, in)
}
