package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyutobor/OneuiBot-sub000/config"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/persistence/memory"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/persistence/sqlite"
)

func loadConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("FEATURE_ACHIEVEMENTS_NOTIFICATIONS", "false")
	t.Setenv("LOG_LEVEL", "error")
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryBackend(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"ACHIEVEMENTS_LEDGER": "memory"})

	a, err := New(context.Background(), cfg, Options{Role: "test"})
	require.NoError(t, err)

	assert.IsType(t, &memory.Ledger{}, a.Ledger)
	assert.Nil(t, a.Postgres)
	assert.Nil(t, a.Feed)
	assert.Nil(t, a.Telegram)
	assert.Positive(t, a.Catalog.Len())

	rep := a.Engine.Run(context.Background(), 1, 1, map[string]any{})
	assert.Nil(t, rep.LoadError)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestNew_SQLiteBackendAuditsUnlocks(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	cfg := loadConfig(t, map[string]string{
		"ACHIEVEMENTS_LEDGER": "sqlite",
		"SQLITE_PATH":         dbPath,
	})

	a, err := New(context.Background(), cfg, Options{Role: "test"})
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, a.Ledger)

	var flagKey, contextKey string
	for _, d := range a.Catalog.All() {
		if d.Type == "boolean_flag_once" {
			flagKey, contextKey = d.Key, d.ContextKey
			break
		}
	}
	require.NotEmpty(t, flagKey, "embedded catalog has a one-shot achievement")

	rep := a.Engine.Run(context.Background(), 5, 5, map[string]any{contextKey: true})
	assert.Contains(t, rep.Unlocked, flagKey)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	// The queue is drained on Close, so the entry is on disk.
	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.ListAudit(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, flagKey, entries[0].Key)
	assert.False(t, entries[0].Delivered)
}

func TestNew_PostgresLedgerNeedsURL(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"ACHIEVEMENTS_LEDGER": "memory"})
	cfg.Achievements.LedgerBackend = config.LedgerPostgres

	_, err := New(context.Background(), cfg, Options{Role: "test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
