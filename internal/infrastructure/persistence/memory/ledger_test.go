package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

func TestLedger_TryUnlockIsInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	rec := achievement.UnlockRecord{UserID: 1, Key: "oneui_10", UnlockedAt: time.Now()}

	ok, err := l.TryUnlock(ctx, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryUnlock(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok)

	s, err := l.ListUnlockedAndProgress(ctx, 1)
	require.NoError(t, err)
	assert.True(t, s.IsUnlocked("oneui_10"))
}

func TestLedger_ConcurrentTryUnlockHasOneWinner(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	var wg sync.WaitGroup
	wins := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.TryUnlock(ctx, achievement.UnlockRecord{UserID: 7, Key: "k", UnlockedAt: time.Now()})
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for ok := range wins {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, l.UnlockCount(7))
}

func TestLedger_UpdateProgressRevisionGuard(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	ok, err := l.UpdateProgress(ctx, 1, "counter", achievement.Progress{Count: 1}, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second writer that also read "absent" loses.
	ok, err = l.UpdateProgress(ctx, 1, "counter", achievement.Progress{Count: 1}, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	s, _ := l.ListUnlockedAndProgress(ctx, 1)
	entry := s.ProgressFor("counter")
	assert.Equal(t, int64(1), entry.Revision)

	ok, err = l.UpdateProgress(ctx, 1, "counter", achievement.Progress{Count: 2}, entry.Revision)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedger_UnlockIsTerminal(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	_, err := l.UpdateProgress(ctx, 1, "set", achievement.Progress{Keys: []string{"a"}}, 0)
	require.NoError(t, err)

	ok, err := l.TryUnlock(ctx, achievement.UnlockRecord{
		UserID: 1, Key: "set", UnlockedAt: time.Now(),
		Progress: &achievement.Progress{Keys: []string{"a", "b"}},
	})
	require.NoError(t, err)
	assert.True(t, ok, "progress-only row must transition to unlocked")

	ok, err = l.UpdateProgress(ctx, 1, "set", achievement.Progress{Keys: []string{"z"}}, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	s, _ := l.ListUnlockedAndProgress(ctx, 1)
	assert.Empty(t, s.Progress)
	assert.Equal(t, []string{"a", "b"}, s.Unlocked["set"].Progress.Keys)
}

func TestLedger_IsolatesUsers(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	_, _ = l.TryUnlock(ctx, achievement.UnlockRecord{UserID: 1, Key: "k", UnlockedAt: time.Now()})

	s, err := l.ListUnlockedAndProgress(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, s.Unlocked)
}
