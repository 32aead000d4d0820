// Package main is the achievement service of OneuiBot.
//
// Game handlers in other processes trigger evaluation passes through the
// operator HTTP API; unlocks are recorded in the ledger, announced in the
// chat through the Telegram Bot API and written to the audit trail.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyutobor/OneuiBot-sub000/config"
	"github.com/lyutobor/OneuiBot-sub000/internal/app"
	httpserver "github.com/lyutobor/OneuiBot-sub000/internal/interface/http"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE, DELIVERY AND ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, app.Options{Role: "bot", Notify: true})
	if err != nil {
		return err
	}
	log := a.Log

	log.Info("starting OneuiBot achievement service",
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpserver.Dependencies{
		Engine:        a.Engine,
		Ledger:        a.Ledger,
		Audit:         a.Audit,
		Features:      cfg.Features,
		HealthChecker: a.Health,
		Logger:        log,
	}
	if a.Feed != nil {
		deps.Feed = a.Feed
	}

	server := httpserver.NewServer(httpserver.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  httpserver.DefaultConfig().IdleTimeout,
		APIKey:       cfg.HTTP.APIKey,
		Version:      cfg.App.Version,
	}, deps)

	if cfg.HTTP.APIKey == "" {
		log.Warn("HTTP_API_KEY is empty, the evaluate endpoint rejects every request")
	}

	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. WAIT FOR SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = err
			log.Error("http server stopped", logger.Err(err))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Err(err))
	}

	stats := a.AuditQueueStats()
	if err := a.Close(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", logger.Err(err))
	}
	log.Info("achievement service stopped",
		logger.Int64("audit_recorded", stats.Recorded),
		logger.Int64("audit_dropped", stats.Dropped),
	)

	return runErr
}
