package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
)

// LedgerRepository implements achievement.Ledger over user_achievements.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// ListUnlockedAndProgress reads every row of a user in one query.
func (r *LedgerRepository) ListUnlockedAndProgress(ctx context.Context, userID int64) (*achievement.Snapshot, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT achievement_key, progress, revision, unlocked_at, updated_at
		FROM user_achievements
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, shared.WrapError("postgres", "ListUnlockedAndProgress", shared.ErrServiceUnavailable, "query ledger", err)
	}
	defer rows.Close()

	s := achievement.NewSnapshot()
	for rows.Next() {
		var (
			key        string
			raw        []byte
			revision   int64
			unlockedAt *time.Time
			updatedAt  time.Time
		)
		if err := rows.Scan(&key, &raw, &revision, &unlockedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}

		p, err := achievement.UnmarshalProgress(raw)
		if err != nil {
			return nil, fmt.Errorf("ledger row %s: %w", key, err)
		}

		if unlockedAt != nil {
			s.Unlocked[key] = achievement.UnlockRecord{UserID: userID, Key: key, UnlockedAt: *unlockedAt, Progress: &p}
			continue
		}
		s.Progress[key] = achievement.ProgressEntry{Progress: p, Revision: revision, UpdatedAt: updatedAt}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return s, nil
}

// TryUnlock inserts the unlocked row, or flips a progress-only row. The
// WHERE clause on the conflict branch makes an existing unlock a no-op, so
// RowsAffected is 1 only for the caller that performed the transition.
func (r *LedgerRepository) TryUnlock(ctx context.Context, rec achievement.UnlockRecord) (bool, error) {
	var progress achievement.Progress
	if rec.Progress != nil {
		progress = *rec.Progress
	}
	raw, err := achievement.MarshalProgress(progress)
	if err != nil {
		return false, err
	}

	tag, err := r.conn.Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_key, progress, revision, unlocked_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $4)
		ON CONFLICT (user_id, achievement_key) DO UPDATE
		SET progress = CASE WHEN $5 THEN EXCLUDED.progress ELSE user_achievements.progress END,
		    revision = user_achievements.revision + 1,
		    unlocked_at = EXCLUDED.unlocked_at,
		    updated_at = EXCLUDED.updated_at
		WHERE user_achievements.unlocked_at IS NULL
	`, rec.UserID, rec.Key, raw, rec.UnlockedAt, rec.Progress != nil)
	if err != nil {
		return false, shared.WrapError("postgres", "TryUnlock", shared.ErrLedgerWrite, rec.Key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateProgress writes progress for a not-yet-unlocked pair. basedOn 0
// inserts and loses to any existing row; otherwise the stored revision must
// still equal basedOn.
func (r *LedgerRepository) UpdateProgress(ctx context.Context, userID int64, key string, p achievement.Progress, basedOn int64) (bool, error) {
	raw, err := achievement.MarshalProgress(p)
	if err != nil {
		return false, err
	}

	var query string
	args := []any{userID, key, raw}
	if basedOn == 0 {
		query = `
			INSERT INTO user_achievements (user_id, achievement_key, progress, revision)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (user_id, achievement_key) DO NOTHING
		`
	} else {
		query = `
			UPDATE user_achievements
			SET progress = $3, revision = revision + 1, updated_at = NOW()
			WHERE user_id = $1 AND achievement_key = $2
			  AND unlocked_at IS NULL AND revision = $4
		`
		args = append(args, basedOn)
	}

	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return false, shared.WrapError("postgres", "UpdateProgress", shared.ErrLedgerWrite, key, err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ achievement.Ledger = (*LedgerRepository)(nil)
