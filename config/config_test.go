package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("ACHIEVEMENTS_LEDGER", "memory")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
}

func TestLoad_Defaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, LedgerMemory, cfg.Achievements.LedgerBackend)
	assert.Equal(t, 30*time.Second, cfg.Achievements.PassTimeout)
	assert.Equal(t, "*/30 * * * *", cfg.Scheduler.SweepSchedule)
	assert.Equal(t, 48*time.Hour, cfg.Scheduler.SweepWindow)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 100, cfg.Redis.RecentLimit)
	assert.Equal(t, 0.1, cfg.Observability.TracingSampleRatio)
	assert.True(t, cfg.IsDevelopment())
	assert.NotNil(t, cfg.App.Location)
	assert.True(t, cfg.Features.IsEnabled(FeatureAchievements, nil))
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	baseEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SCHEDULER_SWEEP_LIMIT=77\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SCHEDULER_SWEEP_LIMIT") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.Scheduler.SweepLimit)
}

func TestLoad_DatabaseURLFromParts(t *testing.T) {
	baseEnv(t)
	t.Setenv("ACHIEVEMENTS_LEDGER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "bot")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://bot:pw@db:5432/oneui?sslmode=disable", cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"postgres without url", map[string]string{"ACHIEVEMENTS_LEDGER": "postgres"}, "DATABASE_URL"},
		{"unknown backend", map[string]string{"ACHIEVEMENTS_LEDGER": "mongo"}, "ACHIEVEMENTS_LEDGER"},
		{"memory in production", map[string]string{"APP_ENV": "production", "HTTP_API_KEY": "k"}, "memory ledger"},
		{"token needed for notifications", map[string]string{"TELEGRAM_BOT_TOKEN": ""}, "TELEGRAM_BOT_TOKEN"},
		{"production api key", map[string]string{"APP_ENV": "production", "ACHIEVEMENTS_LEDGER": "sqlite"}, "HTTP_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "none.env"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_NotificationsOffNeedsNoToken(t *testing.T) {
	baseEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("FEATURE_ACHIEVEMENTS_NOTIFICATIONS", "false")

	_, err := Load(filepath.Join(t.TempDir(), "none.env"))
	assert.NoError(t, err)
}
