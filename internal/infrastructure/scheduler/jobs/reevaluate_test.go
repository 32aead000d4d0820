package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyutobor/OneuiBot-sub000/internal/application/engine"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/pkg/timeutil"
)

type fakeUsers struct {
	ids   []int64
	err   error
	since time.Time
	limit int
}

func (f *fakeUsers) ActiveUsers(_ context.Context, since time.Time, limit int) ([]int64, error) {
	f.since, f.limit = since, limit
	return f.ids, f.err
}

type fakeRunner struct {
	mu    sync.Mutex
	calls [][2]int64
	fn    func(userID int64) *engine.Report
}

func (f *fakeRunner) Run(_ context.Context, userID, chatID int64, event achievement.EvaluationContext) *engine.Report {
	f.mu.Lock()
	f.calls = append(f.calls, [2]int64{userID, chatID})
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(userID)
	}
	return &engine.Report{UserID: userID, Failed: map[string]error{}}
}

func TestReevaluateJob_RunsEveryActiveUser(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	users := &fakeUsers{ids: []int64{3, 1, 2}}
	runner := &fakeRunner{fn: func(userID int64) *engine.Report {
		r := &engine.Report{UserID: userID, Failed: map[string]error{}}
		switch userID {
		case 1:
			r.Unlocked = []string{"streak_7", "oneui_10"}
		case 2:
			r.Failed["bank_1m"] = errors.New("boom")
		case 3:
			r.LoadError = errors.New("ledger down")
		}
		return r
	}}

	job := NewReevaluateJob(users, runner, timeutil.NewFixedClock(now), nil, ReevaluateConfig{
		Window:      24 * time.Hour,
		Limit:       10,
		Concurrency: 2,
	})
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, now.Add(-24*time.Hour), users.since)
	assert.Equal(t, 10, users.limit)

	sort.Slice(runner.calls, func(i, j int) bool { return runner.calls[i][0] < runner.calls[j][0] })
	assert.Equal(t, [][2]int64{{1, 1}, {2, 2}, {3, 3}}, runner.calls)

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Users)
	assert.Equal(t, int64(3), stats.Passes)
	assert.Equal(t, int64(2), stats.Unlocked)
	assert.Equal(t, int64(1), stats.FailedRules)
	assert.Equal(t, int64(1), stats.Aborted)
}

func TestReevaluateJob_ListFailure(t *testing.T) {
	job := NewReevaluateJob(&fakeUsers{err: errors.New("db down")}, &fakeRunner{}, nil, nil, ReevaluateConfig{})
	err := job.Run(context.Background())
	assert.ErrorContains(t, err, "db down")
	assert.Nil(t, job.LastStats())
}

func TestReevaluateJob_CancelledContext(t *testing.T) {
	runner := &fakeRunner{}
	job := NewReevaluateJob(&fakeUsers{ids: []int64{1, 2, 3}}, runner, nil, nil, ReevaluateConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.calls)
}

func TestReevaluateJob_Defaults(t *testing.T) {
	job := NewReevaluateJob(&fakeUsers{}, &fakeRunner{}, nil, nil, ReevaluateConfig{})
	assert.Equal(t, DefaultReevaluateConfig().Window, job.config.Window)
	assert.Equal(t, DefaultReevaluateConfig().Concurrency, job.config.Concurrency)
	assert.Equal(t, "achievements_reevaluate", job.Name())
}
