// Package jobs contains the scheduled jobs of the worker process.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lyutobor/OneuiBot-sub000/internal/application/engine"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
	"github.com/lyutobor/OneuiBot-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RE-EVALUATION SWEEP
// Catches unlocks whose metric changed without a triggering action, e.g. a
// streak kept alive by the daily bonus or income accrued by a business.
// ══════════════════════════════════════════════════════════════════════════════

// ActiveUserLister lists recently active users.
type ActiveUserLister interface {
	ActiveUsers(ctx context.Context, since time.Time, limit int) ([]int64, error)
}

// PassRunner runs one synchronous evaluation pass.
type PassRunner interface {
	Run(ctx context.Context, userID, chatID int64, event achievement.EvaluationContext) *engine.Report
}

// ReevaluateConfig contains configuration for the sweep.
type ReevaluateConfig struct {
	// Window is how far back a user must have been active.
	Window time.Duration

	// Limit caps the users processed per run.
	Limit int

	// Concurrency is the number of passes run at once.
	Concurrency int

	// Timeout bounds the whole sweep.
	Timeout time.Duration
}

// DefaultReevaluateConfig returns sensible defaults.
func DefaultReevaluateConfig() ReevaluateConfig {
	return ReevaluateConfig{
		Window:      48 * time.Hour,
		Limit:       5000,
		Concurrency: 4,
		Timeout:     10 * time.Minute,
	}
}

// ReevaluateStats describes one sweep.
type ReevaluateStats struct {
	Users       int
	Passes      int64
	Unlocked    int64
	FailedRules int64
	Aborted     int64
	Duration    time.Duration
}

// ReevaluateJob runs a context-free pass for every recently active user.
// Such a pass can only unlock metric-driven achievements, and each unlock
// is announced in the user's private chat.
type ReevaluateJob struct {
	users  ActiveUserLister
	runner PassRunner
	clock  timeutil.Clock
	log    *logger.Logger
	config ReevaluateConfig

	lastStats atomic.Pointer[ReevaluateStats]
}

// NewReevaluateJob creates the sweep job.
func NewReevaluateJob(users ActiveUserLister, runner PassRunner, clock timeutil.Clock, log *logger.Logger, cfg ReevaluateConfig) *ReevaluateJob {
	def := DefaultReevaluateConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReevaluateJob{
		users:  users,
		runner: runner,
		clock:  clock,
		log:    log.With(logger.Component("reevaluate_job")),
		config: cfg,
	}
}

// Name implements scheduler.Job.
func (j *ReevaluateJob) Name() string { return "achievements_reevaluate" }

// Description implements scheduler.Job.
func (j *ReevaluateJob) Description() string {
	return "Re-evaluates metric-driven achievements for recently active users"
}

// Run implements scheduler.Job.
func (j *ReevaluateJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	since := j.clock.Now().Add(-j.config.Window)

	users, err := j.users.ActiveUsers(ctx, since, j.config.Limit)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}

	stats := &ReevaluateStats{Users: len(users)}
	var passes, unlocked, failed, aborted atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(j.config.Concurrency)

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// In a private chat the chat ID is the user ID.
			report := j.runner.Run(ctx, userID, userID, nil)
			passes.Add(1)
			unlocked.Add(int64(len(report.Unlocked)))
			failed.Add(int64(len(report.Failed)))
			if report.LoadError != nil {
				aborted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Passes = passes.Load()
	stats.Unlocked = unlocked.Load()
	stats.FailedRules = failed.Load()
	stats.Aborted = aborted.Load()
	stats.Duration = time.Since(start)
	j.lastStats.Store(stats)

	j.log.Info("achievement sweep finished",
		logger.Int("users", stats.Users),
		logger.Int64("passes", stats.Passes),
		logger.Int64("unlocked", stats.Unlocked),
		logger.Int64("failed_rules", stats.FailedRules),
		logger.Int64("aborted", stats.Aborted),
		logger.Latency(stats.Duration),
	)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sweep interrupted after %d of %d users: %w", stats.Passes, stats.Users, err)
	}
	return nil
}

// LastStats returns the stats of the most recent run, or nil.
func (j *ReevaluateJob) LastStats() *ReevaluateStats {
	return j.lastStats.Load()
}
