package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

// connect opens TEST_DATABASE_URL or skips.
func connect(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := NewConnection(ctx, Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	return conn
}

func freshUser(t *testing.T, conn *Connection) int64 {
	t.Helper()
	id := time.Now().UnixNano()
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `DELETE FROM user_achievements WHERE user_id = $1`, id)
	})
	return id
}

func TestLedgerRepository_TryUnlockOnce(t *testing.T) {
	conn := connect(t)
	repo := NewLedgerRepository(conn)
	ctx := context.Background()
	user := freshUser(t, conn)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.TryUnlock(ctx, achievement.UnlockRecord{UserID: user, Key: "first_phone", UnlockedAt: time.Now().UTC()})
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	s, err := repo.ListUnlockedAndProgress(ctx, user)
	require.NoError(t, err)
	assert.True(t, s.IsUnlocked("first_phone"))
}

func TestLedgerRepository_ProgressThenUnlock(t *testing.T) {
	conn := connect(t)
	repo := NewLedgerRepository(conn)
	ctx := context.Background()
	user := freshUser(t, conn)

	ok, err := repo.UpdateProgress(ctx, user, "repairs_5", achievement.Progress{Count: 1}, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateProgress(ctx, user, "repairs_5", achievement.Progress{Count: 1}, 0)
	require.NoError(t, err)
	assert.False(t, ok, "second insert based on absent row must lose")

	s, err := repo.ListUnlockedAndProgress(ctx, user)
	require.NoError(t, err)
	entry := s.ProgressFor("repairs_5")
	assert.Equal(t, int64(1), entry.Progress.Count)

	ok, err = repo.UpdateProgress(ctx, user, "repairs_5", achievement.Progress{Count: 2}, entry.Revision)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TryUnlock(ctx, achievement.UnlockRecord{UserID: user, Key: "repairs_5", UnlockedAt: time.Now().UTC(), Progress: &achievement.Progress{Count: 5}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateProgress(ctx, user, "repairs_5", achievement.Progress{Count: 9}, entry.Revision+2)
	require.NoError(t, err)
	assert.False(t, ok, "unlocked rows are terminal")

	s, err = repo.ListUnlockedAndProgress(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.Unlocked["repairs_5"].Progress.Count)
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"

	assert.Contains(t, cfg.DSN(), "host=localhost port=5432 dbname=oneui")
	assert.Equal(t, "postgres://u@h/db", Config{URL: "postgres://u@h/db"}.DSN())
}

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}
