// Package messaging fans achievement audit entries out to their sinks.
// Entries are produced once per confirmed unlock and delivered to every
// configured destination: the durable store, the Redis feed and the log.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
)

var (
	// ErrSinkClosed is returned by Record after Close.
	ErrSinkClosed = errors.New("audit sink closed")

	// ErrQueueFull is returned when the async buffer has no room.
	ErrQueueFull = errors.New("audit queue full")
)

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

// FanOut records every entry in all of its sinks. A failing sink does not
// stop the others; their errors are joined.
type FanOut []achievement.AuditSink

// NewFanOut drops nil sinks.
func NewFanOut(sinks ...achievement.AuditSink) FanOut {
	out := make(FanOut, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Record implements achievement.AuditSink.
func (f FanOut) Record(ctx context.Context, entry achievement.AuditEntry) error {
	var errs []error
	for i, s := range f {
		if err := s.Record(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG SINK
// ══════════════════════════════════════════════════════════════════════════════

// LogSink writes each entry as one structured log line.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink on log.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSink{log: log.With(logger.Component("audit"))}
}

// Record implements achievement.AuditSink.
func (s *LogSink) Record(_ context.Context, e achievement.AuditEntry) error {
	fields := []logger.Field{
		logger.String("audit_id", e.ID),
		logger.PassID(e.PassID),
		logger.UserID(e.UserID),
		logger.ChatID(e.ChatID),
		logger.AchievementKey(e.Key),
		logger.String("name", e.Name),
		logger.Time("unlocked_at", e.UnlockedAt),
		logger.Bool("delivered", e.Delivered),
	}
	if e.Error != "" {
		fields = append(fields, logger.String("delivery_error", e.Error))
	}
	s.log.Info("achievement unlocked", fields...)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ASYNC SINK
// ══════════════════════════════════════════════════════════════════════════════

// AsyncConfig configures an AsyncSink.
type AsyncConfig struct {
	// BufferSize is how many entries may wait for a worker.
	BufferSize int

	// Workers is the number of concurrent writers.
	Workers int

	// WriteTimeout bounds one write to the wrapped sink.
	WriteTimeout time.Duration
}

// DefaultAsyncConfig returns sensible defaults.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		BufferSize:   256,
		Workers:      2,
		WriteTimeout: 5 * time.Second,
	}
}

// AsyncStats counts what an AsyncSink did.
type AsyncStats struct {
	Recorded int64
	Failed   int64
	Dropped  int64
}

// AsyncSink hands entries to a worker pool so a slow store never holds up
// the pass that produced them. Close drains what is already queued.
type AsyncSink struct {
	next achievement.AuditSink
	cfg  AsyncConfig
	log  *logger.Logger

	queue chan achievement.AuditEntry
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	recorded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// NewAsyncSink starts the workers.
func NewAsyncSink(next achievement.AuditSink, cfg AsyncConfig, log *logger.Logger) *AsyncSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultAsyncConfig().BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultAsyncConfig().Workers
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &AsyncSink{
		next:  next,
		cfg:   cfg,
		log:   log.With(logger.Component("audit_async")),
		queue: make(chan achievement.AuditEntry, cfg.BufferSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Record enqueues the entry without waiting for the write.
func (s *AsyncSink) Record(_ context.Context, entry achievement.AuditEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- entry:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *AsyncSink) worker() {
	defer s.wg.Done()
	for entry := range s.queue {
		s.write(entry)
	}
}

func (s *AsyncSink) write(entry achievement.AuditEntry) {
	ctx := context.Background()
	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}

	if err := s.next.Record(ctx, entry); err != nil {
		s.failed.Add(1)
		s.log.Warn("audit write failed",
			logger.UserID(entry.UserID),
			logger.AchievementKey(entry.Key),
			logger.Err(err),
		)
		return
	}
	s.recorded.Add(1)
}

// Close stops accepting entries and waits for the queue to drain.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Stats returns a snapshot of the counters.
func (s *AsyncSink) Stats() AsyncStats {
	return AsyncStats{
		Recorded: s.recorded.Load(),
		Failed:   s.failed.Load(),
		Dropped:  s.dropped.Load(),
	}
}
