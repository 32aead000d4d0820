package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

// threshold compares a value against the numeric target with cmp. A value
// supplied under context_key takes precedence over the metric.
func threshold(cmp func(value, target float64) bool) Strategy {
	return StrategyFunc(func(ctx context.Context, in Input) (Outcome, error) {
		d := in.Definition
		if !d.Target.HasValue {
			return Outcome{}, d.Invalid("numeric target required")
		}

		value, ok := 0.0, false
		if d.ContextKey != "" {
			value, ok = in.Event.Number(d.ContextKey)
		}
		if !ok {
			if d.Metric == "" {
				// Context-only threshold with nothing supplied this time.
				return Outcome{}, nil
			}
			v, err := in.Metrics.Number(ctx, d.Metric)
			if err != nil {
				return Outcome{}, err
			}
			value = v
		}

		return Outcome{Unlocked: cmp(value, d.Target.Value)}, nil
	})
}

func flagOnce(_ context.Context, in Input) (Outcome, error) {
	d := in.Definition
	if d.ContextKey == "" || !d.Target.Flag {
		return Outcome{}, d.Invalid("context_key and target: true required")
	}
	return Outcome{Unlocked: in.Event.Truthy(d.ContextKey)}, nil
}

func cumulativeCounter(_ context.Context, in Input) (Outcome, error) {
	d := in.Definition
	if d.ContextKey == "" || !d.Target.HasValue {
		return Outcome{}, d.Invalid("context_key and numeric target required")
	}
	if !in.Event.Truthy(d.ContextKey) {
		return Outcome{}, nil
	}

	delta := 1.0
	if d.DeltaKey != "" {
		if v, ok := in.Event.Number(d.DeltaKey); ok {
			delta = v
		}
	}
	if delta <= 0 || math.IsNaN(delta) {
		return Outcome{}, nil
	}
	// Counts are whole; fractional quantities belong to cumulative_amount.
	if delta != math.Trunc(delta) || delta > 1<<53 {
		return Outcome{}, fmt.Errorf("definition %q: counter delta %v under %q is not a whole count", d.Key, delta, d.DeltaKey)
	}

	next := in.Progress.Progress.Clone()
	next.Count += int64(delta)

	if float64(next.Count) >= d.Target.Value {
		return Outcome{Unlocked: true, NewProgress: &next}, nil
	}
	return Outcome{NewProgress: &next}, nil
}

// cumulativeAmount sums the delta_key quantity of every qualifying event
// into Progress.Amount without rounding.
func cumulativeAmount(_ context.Context, in Input) (Outcome, error) {
	d := in.Definition
	if d.ContextKey == "" || d.DeltaKey == "" || !d.Target.HasValue {
		return Outcome{}, d.Invalid("context_key, delta_key and numeric target required")
	}
	if !in.Event.Truthy(d.ContextKey) {
		return Outcome{}, nil
	}

	amount, ok := in.Event.Number(d.DeltaKey)
	if !ok || amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Outcome{}, nil
	}

	// Summed in decimal so 0.1 + 0.2 reaches a target of 0.3.
	sum := decimal.NewFromFloat(in.Progress.Progress.Amount).Add(decimal.NewFromFloat(amount))

	next := in.Progress.Progress.Clone()
	next.Amount = sum.InexactFloat64()
	return Outcome{Unlocked: next.Amount >= d.Target.Value, NewProgress: &next}, nil
}

// collect unions the stored keys with whatever the event and the metric
// contribute this pass.
func collect(ctx context.Context, in Input) ([]string, error) {
	d := in.Definition
	sources := [][]string{in.Progress.Progress.Keys}

	if d.ContextKey != "" {
		if keys, ok := in.Event.Strings(d.ContextKey); ok {
			sources = append(sources, keys)
		}
	}
	if d.Metric != "" {
		set, err := in.Metrics.Set(ctx, d.Metric)
		if err != nil {
			return nil, err
		}
		sources = append(sources, set)
	}
	return achievement.UnionKeys(sources...), nil
}

func changed(prev achievement.Progress, keys []string) *achievement.Progress {
	next := prev.Clone()
	next.Keys = keys
	if next.Equal(prev) {
		return nil
	}
	return &next
}

func setCollection(ctx context.Context, in Input) (Outcome, error) {
	d := in.Definition
	if !d.Target.HasValue {
		return Outcome{}, d.Invalid("numeric target required")
	}
	if d.Metric == "" && d.ContextKey == "" {
		return Outcome{}, d.Invalid("metric or context_key required")
	}

	keys, err := collect(ctx, in)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Unlocked:    float64(len(keys)) >= d.Target.Value,
		NewProgress: changed(in.Progress.Progress, keys),
	}, nil
}

func compoundMembership(ctx context.Context, in Input) (Outcome, error) {
	d := in.Definition
	if len(d.Target.Keys) == 0 {
		return Outcome{}, d.Invalid("target keys required")
	}
	if d.Metric == "" && d.ContextKey == "" {
		return Outcome{}, d.Invalid("metric or context_key required")
	}

	all, err := collect(ctx, in)
	if err != nil {
		return Outcome{}, err
	}

	// Only required tags are worth remembering.
	have := achievement.Progress{Keys: all}
	var kept []string
	missing := 0
	for _, k := range d.Target.Keys {
		if have.Has(k) {
			kept = append(kept, k)
		} else {
			missing++
		}
	}

	return Outcome{
		Unlocked:    missing == 0,
		NewProgress: changed(in.Progress.Progress, achievement.NormalizeKeys(kept)),
	}, nil
}
