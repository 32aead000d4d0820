// Package engine evaluates the achievement catalog after game actions:
// a pass-scoped state accessor, a registry of evaluation strategies, the
// orchestrator that applies their outcomes to the ledger, and the notifier.
package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
)

// FetchFunc runs the single state query behind a metric.
type FetchFunc func(ctx context.Context, userID, chatID int64) (achievement.MetricValue, error)

// DerivedFunc computes a metric from other metrics of the same pass.
type DerivedFunc func(ctx context.Context, a *PassAccessor) (achievement.MetricValue, error)

// MetricSource maps metric names to how they are computed. It holds no
// values; caching lives in PassAccessor.
type MetricSource struct {
	fetchers map[achievement.MetricName]FetchFunc
	derived  map[achievement.MetricName]DerivedFunc
}

// NewMetricSource returns an empty registry.
func NewMetricSource() *MetricSource {
	return &MetricSource{
		fetchers: make(map[achievement.MetricName]FetchFunc),
		derived:  make(map[achievement.MetricName]DerivedFunc),
	}
}

// Register binds a metric to a state query.
func (s *MetricSource) Register(name achievement.MetricName, fn FetchFunc) *MetricSource {
	s.fetchers[name] = fn
	return s
}

// RegisterDerived binds a metric to a function of other metrics.
func (s *MetricSource) RegisterDerived(name achievement.MetricName, fn DerivedFunc) *MetricSource {
	s.derived[name] = fn
	return s
}

// Has reports whether name is known.
func (s *MetricSource) Has(name achievement.MetricName) bool {
	_, ok := s.fetchers[name]
	if !ok {
		_, ok = s.derived[name]
	}
	return ok
}

type cachedMetric struct {
	value achievement.MetricValue
	err   error
}

// PassAccessor is the per-pass memoized view of user state. Each metric is
// computed at most once per pass; failures are memoized too so every rule
// depending on a broken metric fails the same way without re-querying.
type PassAccessor struct {
	source *MetricSource
	userID int64
	chatID int64

	mu      sync.Mutex
	cache   map[achievement.MetricName]cachedMetric
	fetches int

	group singleflight.Group
}

// NewPassAccessor creates an empty cache bound to one user and chat.
func NewPassAccessor(source *MetricSource, userID, chatID int64) *PassAccessor {
	return &PassAccessor{
		source: source,
		userID: userID,
		chatID: chatID,
		cache:  make(map[achievement.MetricName]cachedMetric),
	}
}

// Get returns the metric value, computing it on first use.
func (a *PassAccessor) Get(ctx context.Context, name achievement.MetricName) (achievement.MetricValue, error) {
	a.mu.Lock()
	if c, ok := a.cache[name]; ok {
		a.mu.Unlock()
		return c.value, c.err
	}
	a.mu.Unlock()

	v, _, _ := a.group.Do(string(name), func() (any, error) {
		a.mu.Lock()
		if c, ok := a.cache[name]; ok {
			a.mu.Unlock()
			return c, nil
		}
		a.mu.Unlock()

		value, err := a.compute(ctx, name)
		c := cachedMetric{value: value, err: err}

		a.mu.Lock()
		a.cache[name] = c
		a.mu.Unlock()
		return c, nil
	})

	c := v.(cachedMetric)
	return c.value, c.err
}

func (a *PassAccessor) compute(ctx context.Context, name achievement.MetricName) (achievement.MetricValue, error) {
	if fn, ok := a.source.fetchers[name]; ok {
		a.mu.Lock()
		a.fetches++
		a.mu.Unlock()

		v, err := fn(ctx, a.userID, a.chatID)
		if err != nil {
			return achievement.MetricValue{}, shared.WrapError("achievement", "Metric", shared.ErrMetricFetch, string(name), err)
		}
		return v, nil
	}
	if fn, ok := a.source.derived[name]; ok {
		return fn(ctx, a)
	}
	return achievement.MetricValue{}, shared.NewDomainError("achievement", "Metric", shared.ErrInvalidDefinition,
		fmt.Sprintf("unknown metric %q", name))
}

// Number returns a scalar metric. Set metrics yield their cardinality.
func (a *PassAccessor) Number(ctx context.Context, name achievement.MetricName) (float64, error) {
	v, err := a.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	if v.Kind == achievement.KindSet {
		return float64(len(v.Set)), nil
	}
	return v.Number, nil
}

// Set returns a set metric.
func (a *PassAccessor) Set(ctx context.Context, name achievement.MetricName) ([]string, error) {
	v, err := a.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if v.Kind != achievement.KindSet {
		return nil, shared.NewDomainError("achievement", "Metric", shared.ErrInvalidDefinition,
			fmt.Sprintf("metric %q is a %s, not a set", name, v.Kind))
	}
	return v.Set, nil
}

// Fetches returns how many underlying state queries this pass issued.
func (a *PassAccessor) Fetches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}
