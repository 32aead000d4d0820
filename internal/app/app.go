// Package app wires configuration, storage, delivery and the achievement
// engine into one process. The bot, the worker and the admin CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyutobor/OneuiBot-sub000/config"
	"github.com/lyutobor/OneuiBot-sub000/internal/application/engine"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/catalog"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/external/telegram"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/messaging"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/observability"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/persistence/memory"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/persistence/postgres"
	redisstore "github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/persistence/redis"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/persistence/sqlite"
	"github.com/lyutobor/OneuiBot-sub000/internal/interface/http/handlers"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
)

// AuditStore is a durable audit sink that can also be listed.
type AuditStore interface {
	achievement.AuditSink
	ListAudit(ctx context.Context, userID int64, limit int) ([]achievement.AuditEntry, error)
}

// Options select what a process needs.
type Options struct {
	// Role names the process in logs and traces: bot, worker, cli.
	Role string

	// Notify connects Telegram so unlocks are announced.
	Notify bool

	// Quiet drops info logs (admin CLI).
	Quiet bool
}

// App holds every wired component. Fields a configuration does not enable
// stay nil.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Catalog *achievement.Catalog

	Postgres *postgres.Connection
	SQLite   *sqlite.Store
	Redis    *goredis.Client

	Ledger   achievement.Ledger
	Audit    AuditStore
	Feed     *redisstore.AuditFeed
	States   *postgres.StateRepository
	Telegram *telegram.Client

	Engine *engine.Engine
	Health *handlers.CompositeHealthChecker

	auditQueue *messaging.AsyncSink
	closers    []func(context.Context) error
}

// New builds the App. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if opts.Role == "" {
		opts.Role = "bot"
	}

	a := &App{
		Config: cfg,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	a.Log = newLogger(cfg, opts)

	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// Tracing
	// ─────────────────────────────────────────────────────────────────────────
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.App.Name + "-" + opts.Role,
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		Exporter:    cfg.Observability.TracingExporter,
		Endpoint:    cfg.Observability.TracingEndpoint,
		Insecure:    cfg.Observability.TracingInsecure,
		Headers:     observability.ParseHeaders(cfg.Observability.TracingHeaders),
		SampleRatio: cfg.Observability.TracingSampleRatio,
	}, a.Log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(shutdownTracing)

	// ─────────────────────────────────────────────────────────────────────────
	// Catalog
	// ─────────────────────────────────────────────────────────────────────────
	a.Catalog, err = catalog.LoadPathOrDefault(cfg.Achievements.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	for _, issue := range a.Catalog.Lint(engine.DefaultRegistry().Types()) {
		a.Log.Warn("catalog entry will be skipped",
			logger.AchievementKey(issue.Key),
			logger.String("problem", issue.Message),
		)
	}
	a.Log.Info("achievement catalog loaded",
		logger.Int("definitions", a.Catalog.Len()),
		logger.String("source", catalogSource(cfg.Achievements.CatalogPath)),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// Storage
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	a.openFeed(ctx)

	metrics := engine.NewMetricSource()
	if a.Postgres != nil {
		a.States = postgres.NewStateRepository(a.Postgres)
		metrics = engine.StandardMetrics(a.States, nil, cfg.App.Location)
	} else {
		a.Log.Warn("no game database configured, metric-based achievements only see the event context")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Delivery
	// ─────────────────────────────────────────────────────────────────────────
	notify := opts.Notify && cfg.Features.IsEnabled(config.FeatureNotifications, nil)
	if notify {
		a.Telegram, err = telegram.NewClient(telegram.Config{
			Token:       cfg.Telegram.Token,
			APIEndpoint: cfg.Telegram.APIEndpoint,
			Timeout:     cfg.Telegram.RequestTimeout,
			Debug:       cfg.Telegram.Debug,
		}, a.Log)
		if err != nil {
			return nil, fmt.Errorf("connect telegram: %w", err)
		}
		a.Health.AddOptionalCheck("telegram", a.Telegram.Ping)
	}

	var sender engine.Sender
	if a.Telegram != nil {
		sender = a.Telegram
	}
	notifier := engine.NewNotifier(sender, a.auditSink(), engine.UUIDGenerator{}, a.Log, engine.NotifierConfig{
		Enabled:     notify,
		SendTimeout: cfg.Achievements.SendTimeout,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Engine
	// ─────────────────────────────────────────────────────────────────────────
	// The gate reads the live flags so operator rollout changes apply to the
	// next trigger.
	flags := cfg.Features
	a.Engine = engine.New(a.Catalog, metrics, a.Ledger,
		engine.WithAnnouncer(notifier),
		engine.WithLogger(a.Log),
		engine.WithPassTimeout(cfg.Achievements.PassTimeout),
		engine.WithGate(func(userID int64) bool {
			return flags.EnabledFor(config.FeatureAchievements, userID)
		}),
	)

	a.Log.Info("achievement engine ready",
		logger.String("ledger", cfg.Achievements.LedgerBackend),
		logger.Bool("notifications", notify),
		logger.Bool("audit_feed", a.Feed != nil),
	)
	return a, nil
}

func newLogger(cfg *config.Config, opts Options) *logger.Logger {
	lo := logger.DefaultOptions()
	lo.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	lo.Format = cfg.Observability.LogFormat
	if opts.Quiet {
		lo.Output = os.Stderr
		lo.Level = logger.LevelWarn
	}
	return logger.New(lo).With(
		logger.String("service", cfg.App.Name),
		logger.String("role", opts.Role),
		logger.String("env", string(cfg.App.Environment)),
	)
}

func catalogSource(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config

	// The game database is needed for state metrics even when the ledger
	// lives elsewhere.
	if cfg.Database.URL != "" {
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		pgCfg.MinConns = int32(cfg.Database.MinConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.Postgres = conn
		a.onClose(func(context.Context) error { conn.Close(); return nil })
		a.Health.AddCheck("postgres", conn.Ping)

		if cfg.Database.AutoMigrate && cfg.Achievements.LedgerBackend == config.LedgerPostgres {
			n, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if n > 0 {
				a.Log.Info("database migrations applied", logger.Int("count", n))
			}
		}
	}

	openSQLite := cfg.Achievements.LedgerBackend == config.LedgerSQLite ||
		cfg.Features.IsEnabled(config.FeatureSQLiteAudit, nil)
	if openSQLite {
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", cfg.SQLite.Path, err)
		}
		a.SQLite = store
		a.onClose(func(context.Context) error { return store.Close() })
		a.Health.AddCheck("sqlite", store.Ping)
	}

	switch cfg.Achievements.LedgerBackend {
	case config.LedgerPostgres:
		if a.Postgres == nil {
			return errors.New("postgres ledger selected but DATABASE_URL is empty")
		}
		a.Ledger = postgres.NewLedgerRepository(a.Postgres)
		a.Audit = postgres.NewAuditRepository(a.Postgres)
	case config.LedgerSQLite:
		a.Ledger = a.SQLite
		a.Audit = a.SQLite
	case config.LedgerMemory:
		a.Ledger = memory.NewLedger()
		a.Audit = memory.NewAuditLog()
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Achievements.LedgerBackend)
	}
	return nil
}

// openFeed connects Redis. The feed is optional, so failures only warn.
func (a *App) openFeed(ctx context.Context) {
	cfg := a.Config
	if cfg.Redis.Disabled || !cfg.Features.IsEnabled(config.FeatureAuditFeed, nil) {
		return
	}

	rc := redisstore.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout

	client, err := redisstore.NewClient(rc)
	if err != nil {
		a.Log.Warn("redis unavailable, audit feed disabled",
			logger.String("addr", rc.Addr()),
			logger.Err(err),
		)
		return
	}
	a.Redis = client
	a.onClose(func(context.Context) error { return client.Close() })

	a.Feed = redisstore.NewAuditFeed(client, cfg.Redis.RecentLimit)
	a.Health.AddOptionalCheck("redis", a.Feed.Ping)
}

// auditSink builds log + queued(durable store, SQLite mirror, Redis feed).
func (a *App) auditSink() achievement.AuditSink {
	durable := []achievement.AuditSink{a.Audit}
	if a.SQLite != nil && a.Config.Achievements.LedgerBackend != config.LedgerSQLite {
		durable = append(durable, a.SQLite)
	}
	if a.Feed != nil {
		durable = append(durable, a.Feed)
	}

	a.auditQueue = messaging.NewAsyncSink(messaging.NewFanOut(durable...), messaging.AsyncConfig{
		BufferSize:   a.Config.Achievements.AuditBuffer,
		Workers:      a.Config.Achievements.AuditWorkers,
		WriteTimeout: messaging.DefaultAsyncConfig().WriteTimeout,
	}, a.Log)

	return messaging.NewFanOut(messaging.NewLogSink(a.Log), a.auditQueue)
}

// AuditQueueStats reports the background audit writer counters.
func (a *App) AuditQueueStats() messaging.AsyncStats {
	if a.auditQueue == nil {
		return messaging.AsyncStats{}
	}
	return a.auditQueue.Stats()
}

// ══════════════════════════════════════════════════════════════════════════════
// SHUTDOWN
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close waits for in-flight passes, drains the audit queue and releases
// connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.Engine != nil {
		if err := a.Engine.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for passes: %w", err))
		}
	}
	if a.auditQueue != nil {
		if err := a.auditQueue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("drain audit queue: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.Log != nil {
		_ = a.Log.Sync()
	}
	return errors.Join(errs...)
}
