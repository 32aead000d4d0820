package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

var errStoreDown = errors.New("store unavailable")

// stubMetrics serves fixed values and counts fetches per metric.
type stubMetrics struct {
	values map[achievement.MetricName]achievement.MetricValue
	errs   map[achievement.MetricName]error
	calls  sync.Map
	total  atomic.Int64
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{
		values: make(map[achievement.MetricName]achievement.MetricValue),
		errs:   make(map[achievement.MetricName]error),
	}
}

func (s *stubMetrics) number(name achievement.MetricName, v float64) *stubMetrics {
	s.values[name] = achievement.NumberValue(v)
	return s
}

func (s *stubMetrics) set(name achievement.MetricName, keys ...string) *stubMetrics {
	s.values[name] = achievement.SetValue(keys)
	return s
}

func (s *stubMetrics) fail(name achievement.MetricName, err error) *stubMetrics {
	s.errs[name] = err
	return s
}

func (s *stubMetrics) callsFor(name achievement.MetricName) int64 {
	v, ok := s.calls.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func (s *stubMetrics) source() *MetricSource {
	src := NewMetricSource()
	register := func(name achievement.MetricName) {
		src.Register(name, func(_ context.Context, _, _ int64) (achievement.MetricValue, error) {
			c, _ := s.calls.LoadOrStore(name, new(atomic.Int64))
			c.(*atomic.Int64).Add(1)
			s.total.Add(1)
			if err := s.errs[name]; err != nil {
				return achievement.MetricValue{}, err
			}
			return s.values[name], nil
		})
	}
	for name := range s.values {
		register(name)
	}
	for name := range s.errs {
		if _, ok := s.values[name]; !ok {
			register(name)
		}
	}
	return src
}

// recordingAnnouncer remembers every announcement.
type recordingAnnouncer struct {
	mu    sync.Mutex
	items []Announcement
}

func (r *recordingAnnouncer) Announce(_ context.Context, a Announcement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, a)
}

func (r *recordingAnnouncer) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.items {
		out = append(out, a.Record.Key)
	}
	return out
}

type sequentialIDs struct {
	n atomic.Int64
}

func (s *sequentialIDs) NewID() string {
	return fmt.Sprintf("id-%d", s.n.Add(1))
}
