package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
	"github.com/lyutobor/OneuiBot-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION PASS
// Init → Loaded → Evaluating(i) → Done
//
// One pass per triggering action. The ledger is read once, metrics are
// memoized for the pass, every definition is decided by its strategy and
// the decision is applied here. A failing definition is logged and skipped;
// nothing escapes Run.
// ══════════════════════════════════════════════════════════════════════════════

// PassState is the position of a pass in its state machine.
type PassState string

const (
	StateInit       PassState = "init"
	StateLoaded     PassState = "loaded"
	StateEvaluating PassState = "evaluating"
	StateDone       PassState = "done"
)

// PassStep names the operation a rule failed in.
type PassStep string

const (
	StepLoad     PassStep = "load_ledger"
	StepEvaluate PassStep = "evaluate"
	StepUnlock   PassStep = "try_unlock"
	StepProgress PassStep = "update_progress"
)

// PassError is a failure of one step of a pass.
type PassError struct {
	Step   PassStep
	UserID int64
	Key    string
	Err    error
}

func (e *PassError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("achievements: user %d: %s: %v", e.UserID, e.Step, e.Err)
	}
	return fmt.Sprintf("achievements: user %d: %s %q: %v", e.UserID, e.Step, e.Key, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }

// Report summarises one pass. Keys are listed in catalog order.
type Report struct {
	PassID string
	UserID int64
	ChatID int64
	State  PassState

	Evaluated       int
	Skipped         int
	Unlocked        []string
	Duplicates      []string
	ProgressUpdated []string
	Conflicts       []string
	Failed          map[string]error
	LoadError       error
	MetricFetches   int

	StartedAt time.Time
	Duration  time.Duration
}

// HasUnlocks reports whether the pass granted anything.
func (r *Report) HasUnlocks() bool {
	return len(r.Unlocked) > 0
}

// Engine wires the catalog, strategies, state and ledger together.
type Engine struct {
	catalog   *achievement.Catalog
	registry  *Registry
	metrics   *MetricSource
	ledger    achievement.Ledger
	announcer Announcer
	log       *logger.Logger
	clock     timeutil.Clock
	tracer    trace.Tracer
	ids       IDGenerator

	passTimeout time.Duration
	gate        func(userID int64) bool

	// mu orders inflight.Add against Drain.
	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the built-in strategy registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithAnnouncer sets who is told about confirmed unlocks.
func WithAnnouncer(a Announcer) Option {
	return func(e *Engine) { e.announcer = a }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock sets the clock used for unlock timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTracer sets the tracer. The global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithIDGenerator sets the pass ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithPassTimeout bounds background passes. Zero means no bound.
func WithPassTimeout(d time.Duration) Option {
	return func(e *Engine) { e.passTimeout = d }
}

// WithGate limits background passes to users gate admits.
func WithGate(gate func(userID int64) bool) Option {
	return func(e *Engine) { e.gate = gate }
}

// New creates an engine.
func New(catalog *achievement.Catalog, metrics *MetricSource, ledger achievement.Ledger, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		registry: DefaultRegistry(),
		metrics:  metrics,
		ledger:   ledger,
		log:      logger.Nop(),
		clock:    timeutil.SystemClock{},
		ids:      UUIDGenerator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/lyutobor/OneuiBot-sub000/internal/application/engine")
	}
	e.log = e.log.With(logger.Component("achievements"))
	return e
}

// Catalog returns the catalog the engine evaluates.
func (e *Engine) Catalog() *achievement.Catalog { return e.catalog }

// Registry returns the strategy registry.
func (e *Engine) Registry() *Registry { return e.registry }

type ruleResult int

const (
	resultNone ruleResult = iota
	resultUnlocked
	resultDuplicate
	resultProgress
	resultConflict
)

// Run performs one synchronous pass. It never fails; problems are logged
// and reported.
func (e *Engine) Run(ctx context.Context, userID, chatID int64, event achievement.EvaluationContext) *Report {
	report := &Report{
		PassID:    e.ids.NewID(),
		UserID:    userID,
		ChatID:    chatID,
		State:     StateInit,
		Failed:    make(map[string]error),
		StartedAt: e.clock.Now(),
	}
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "achievements.pass", trace.WithAttributes(
		attribute.String("pass.id", report.PassID),
		attribute.Int64("user.id", userID),
		attribute.Int64("chat.id", chatID),
	))
	defer span.End()

	log := e.log.With(logger.PassID(report.PassID), logger.UserID(userID), logger.ChatID(chatID))

	defer func() {
		report.State = StateDone
		report.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("pass.evaluated", report.Evaluated),
			attribute.Int("pass.unlocked", len(report.Unlocked)),
			attribute.Int("pass.failed", len(report.Failed)),
		)
		log.Debug("achievement pass finished",
			logger.Int("evaluated", report.Evaluated),
			logger.Strings("unlocked", report.Unlocked),
			logger.Strings("progress", report.ProgressUpdated),
			logger.Int("failed", len(report.Failed)),
			logger.Int("metric_fetches", report.MetricFetches),
			logger.Latency(report.Duration),
		)
	}()

	snapshot, err := e.ledger.ListUnlockedAndProgress(ctx, userID)
	if err != nil {
		report.LoadError = &PassError{Step: StepLoad, UserID: userID, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger load failed")
		log.Error("achievement pass aborted: ledger unavailable", logger.Err(err))
		return report
	}
	if snapshot == nil {
		snapshot = achievement.NewSnapshot()
	}
	if event == nil {
		event = achievement.EvaluationContext{}
	}

	report.State = StateLoaded
	accessor := NewPassAccessor(e.metrics, userID, chatID)
	defer func() { report.MetricFetches = accessor.Fetches() }()

	e.catalog.ForEach(func(i int, d achievement.Definition) bool {
		if snapshot.IsUnlocked(d.Key) {
			report.Skipped++
			return true
		}
		report.State = StateEvaluating
		report.Evaluated++

		res, err := e.evaluateOne(ctx, report, chatID, d, event, accessor, snapshot.ProgressFor(d.Key))
		if err != nil {
			report.Failed[d.Key] = err
			span.AddEvent("rule.failed", trace.WithAttributes(
				attribute.String("achievement.key", d.Key),
				attribute.String("error", err.Error()),
			))
			log.Error("achievement rule failed",
				logger.AchievementKey(d.Key),
				logger.EvaluationType(string(d.Type)),
				logger.Int("index", i),
				logger.Err(err),
			)
			return true
		}

		switch res {
		case resultUnlocked:
			report.Unlocked = append(report.Unlocked, d.Key)
		case resultDuplicate:
			report.Duplicates = append(report.Duplicates, d.Key)
		case resultProgress:
			report.ProgressUpdated = append(report.ProgressUpdated, d.Key)
		case resultConflict:
			report.Conflicts = append(report.Conflicts, d.Key)
		}
		return true
	})

	return report
}

// evaluateOne decides and applies one definition. Panics are converted to
// errors so the pass can continue.
func (e *Engine) evaluateOne(
	ctx context.Context,
	report *Report,
	chatID int64,
	d achievement.Definition,
	event achievement.EvaluationContext,
	metrics *PassAccessor,
	entry achievement.ProgressEntry,
) (res ruleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Debug("rule panic stack", logger.AchievementKey(d.Key), logger.String("stack", string(debug.Stack())))
			err = &PassError{
				Step:   StepEvaluate,
				UserID: report.UserID,
				Key:    d.Key,
				Err:    shared.NewDomainError("achievement", "Evaluate", shared.ErrRulePanic, fmt.Sprint(r)),
			}
		}
	}()

	out, err := e.registry.Evaluate(ctx, Input{
		Definition: d,
		Event:      event,
		Metrics:    metrics,
		Progress:   entry,
	})
	if err != nil {
		return resultNone, &PassError{Step: StepEvaluate, UserID: report.UserID, Key: d.Key, Err: err}
	}

	if out.Unlocked {
		rec := achievement.UnlockRecord{
			UserID:     report.UserID,
			Key:        d.Key,
			UnlockedAt: e.clock.Now(),
			Progress:   out.NewProgress,
		}
		inserted, err := e.ledger.TryUnlock(ctx, rec)
		if err != nil {
			return resultNone, &PassError{Step: StepUnlock, UserID: report.UserID, Key: d.Key,
				Err: shared.WrapError("achievement", "TryUnlock", shared.ErrLedgerWrite, d.Key, err)}
		}
		if !inserted {
			return resultDuplicate, nil
		}
		e.announce(ctx, Announcement{
			PassID:     report.PassID,
			ChatID:     chatID,
			Definition: d,
			Record:     rec,
		})
		return resultUnlocked, nil
	}

	if out.NewProgress == nil || out.NewProgress.Equal(entry.Progress) {
		return resultNone, nil
	}

	written, err := e.ledger.UpdateProgress(ctx, report.UserID, d.Key, *out.NewProgress, entry.Revision)
	if err != nil {
		return resultNone, &PassError{Step: StepProgress, UserID: report.UserID, Key: d.Key,
			Err: shared.WrapError("achievement", "UpdateProgress", shared.ErrLedgerWrite, d.Key, err)}
	}
	if !written {
		return resultConflict, nil
	}
	return resultProgress, nil
}

// announce runs after the unlock is durable, so even a panic here must not
// turn the rule into a failure.
func (e *Engine) announce(ctx context.Context, a Announcement) {
	if e.announcer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("achievement announcer panicked",
				logger.PassID(a.PassID),
				logger.UserID(a.Record.UserID),
				logger.AchievementKey(a.Record.Key),
				logger.Any("panic", r),
			)
		}
	}()
	e.announcer.Announce(ctx, a)
}
