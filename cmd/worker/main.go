// Package main is the background worker of OneuiBot achievements.
//
// It runs the re-evaluation sweep on a cron schedule so achievements that
// depend only on stored state (streaks, balances, business income) unlock
// even when the user never performs a qualifying action.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyutobor/OneuiBot-sub000/config"
	"github.com/lyutobor/OneuiBot-sub000/internal/app"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/scheduler"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/scheduler/jobs"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Scheduler.Enabled {
		return errors.New("scheduler is disabled (SCHEDULER_ENABLED=false), nothing to run")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE, DELIVERY AND ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, app.Options{Role: "worker", Notify: true})
	if err != nil {
		return err
	}
	log := a.Log

	// The sweep lists active users from the game database.
	if a.States == nil {
		_ = a.Close(context.Background())
		return errors.New("the re-evaluation sweep needs the game database (DATABASE_URL)")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER & JOBS
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Location:       cfg.App.Location,
		MaxHistorySize: scheduler.DefaultConfig().MaxHistorySize,
	}, log)

	if cfg.Features.IsEnabled(config.FeatureSweep, nil) {
		sweep := jobs.NewReevaluateJob(a.States, a.Engine, nil, log, jobs.ReevaluateConfig{
			Window:      cfg.Scheduler.SweepWindow,
			Limit:       cfg.Scheduler.SweepLimit,
			Concurrency: cfg.Scheduler.SweepConcurrency,
			Timeout:     cfg.Scheduler.JobTimeout,
		})
		if err := sched.Register(sweep, cfg.Scheduler.SweepSchedule); err != nil {
			_ = a.Close(context.Background())
			return fmt.Errorf("register %s: %w", sweep.Name(), err)
		}
	} else {
		log.Warn("achievement sweep feature is off, the worker idles")
	}

	if err := sched.Start(ctx); err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("start scheduler: %w", err)
	}

	for _, job := range sched.ListJobs() {
		log.Info("job scheduled",
			logger.String("job", job.Name),
			logger.String("schedule", job.Schedule),
			logger.Time("next_run", job.NextRun),
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. WAIT FOR SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("shutdown signal received")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("scheduler did not stop cleanly", logger.Err(err))
	}
	for _, r := range sched.History(5) {
		log.Info("recent job run",
			logger.String("job", r.JobName),
			logger.Bool("success", r.Success),
			logger.Duration("duration", r.Duration),
		)
	}

	if err := a.Close(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", logger.Err(err))
	}
	log.Info("worker stopped")
	return nil
}
