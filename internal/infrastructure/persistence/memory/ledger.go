// Package memory provides process-local implementations of the achievement
// ledger and audit sink for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/pkg/timeutil"
)

type pairKey struct {
	userID int64
	key    string
}

type row struct {
	progress   achievement.Progress
	revision   int64
	updatedAt  time.Time
	unlockedAt *time.Time
}

// Ledger is a mutex-guarded achievement.Ledger. Every method is atomic with
// respect to the others, which is all the contract asks of a store.
type Ledger struct {
	mu    sync.Mutex
	rows  map[pairKey]*row
	clock timeutil.Clock

	unlockCalls   int
	progressCalls int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		rows:  make(map[pairKey]*row),
		clock: timeutil.SystemClock{},
	}
}

// WithClock sets the clock used for progress timestamps.
func (l *Ledger) WithClock(c timeutil.Clock) *Ledger {
	l.clock = c
	return l
}

// ListUnlockedAndProgress implements achievement.Ledger.
func (l *Ledger) ListUnlockedAndProgress(_ context.Context, userID int64) (*achievement.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := achievement.NewSnapshot()
	for k, r := range l.rows {
		if k.userID != userID {
			continue
		}
		if r.unlockedAt != nil {
			p := r.progress.Clone()
			s.Unlocked[k.key] = achievement.UnlockRecord{
				UserID:     userID,
				Key:        k.key,
				UnlockedAt: *r.unlockedAt,
				Progress:   &p,
			}
			continue
		}
		s.Progress[k.key] = achievement.ProgressEntry{
			Progress:  r.progress.Clone(),
			Revision:  r.revision,
			UpdatedAt: r.updatedAt,
		}
	}
	return s, nil
}

// TryUnlock implements achievement.Ledger.
func (l *Ledger) TryUnlock(_ context.Context, rec achievement.UnlockRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlockCalls++

	k := pairKey{rec.UserID, rec.Key}
	r, ok := l.rows[k]
	if ok && r.unlockedAt != nil {
		return false, nil
	}
	if !ok {
		r = &row{}
		l.rows[k] = r
	}

	at := rec.UnlockedAt
	r.unlockedAt = &at
	if rec.Progress != nil {
		r.progress = rec.Progress.Clone()
	}
	r.revision++
	r.updatedAt = at
	return true, nil
}

// UpdateProgress implements achievement.Ledger.
func (l *Ledger) UpdateProgress(_ context.Context, userID int64, key string, p achievement.Progress, basedOn int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progressCalls++

	k := pairKey{userID, key}
	r, ok := l.rows[k]
	switch {
	case !ok && basedOn != 0:
		return false, nil
	case ok && (r.unlockedAt != nil || r.revision != basedOn):
		return false, nil
	case !ok:
		r = &row{}
		l.rows[k] = r
	}

	r.progress = p.Clone()
	r.revision++
	r.updatedAt = l.clock.Now()
	return true, nil
}

// Writes returns how many TryUnlock and UpdateProgress calls were made.
func (l *Ledger) Writes() (unlocks, progress int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unlockCalls, l.progressCalls
}

// UnlockCount returns how many pairs of userID are unlocked.
func (l *Ledger) UnlockCount(userID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, r := range l.rows {
		if k.userID == userID && r.unlockedAt != nil {
			n++
		}
	}
	return n
}

var _ achievement.Ledger = (*Ledger)(nil)
