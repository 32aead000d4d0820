package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lyutobor/OneuiBot-sub000/internal/application/engine"
)

// StateRepository is the read-only view of game state the achievement
// metrics are computed from. Every method issues exactly one query.
// Currency columns are NUMERIC and go through decimal before reaching the
// float comparison the engine does.
type StateRepository struct {
	conn *Connection
}

// NewStateRepository creates a new StateRepository.
func NewStateRepository(conn *Connection) *StateRepository {
	return &StateRepository{conn: conn}
}

func (r *StateRepository) decimal(ctx context.Context, query string, userID int64) (decimal.Decimal, error) {
	var raw *string
	err := r.conn.QueryRow(ctx, query, userID).Scan(&raw)
	if IsNoRows(err) || (err == nil && raw == nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", *raw, err)
	}
	return d, nil
}

func (r *StateRepository) number(ctx context.Context, query string, userID int64) (float64, error) {
	d, err := r.decimal(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// OneUIVersion returns the user's progression level.
func (r *StateRepository) OneUIVersion(ctx context.Context, userID int64) (float64, error) {
	return r.number(ctx, `SELECT oneui_version::text FROM users WHERE user_id = $1`, userID)
}

// Balance returns the wallet balance.
func (r *StateRepository) Balance(ctx context.Context, userID int64) (float64, error) {
	return r.number(ctx, `SELECT balance::text FROM users WHERE user_id = $1`, userID)
}

// BankBalance returns the bank deposit.
func (r *StateRepository) BankBalance(ctx context.Context, userID int64) (float64, error) {
	return r.number(ctx, `SELECT balance::text FROM bank_accounts WHERE user_id = $1`, userID)
}

// DailyStreak returns the stored streak; validity is decided by the caller.
func (r *StateRepository) DailyStreak(ctx context.Context, userID int64) (engine.Streak, error) {
	var (
		s    engine.Streak
		last *time.Time
	)
	err := r.conn.QueryRow(ctx, `SELECT streak, last_claimed_at FROM daily_bonus WHERE user_id = $1`, userID).
		Scan(&s.Length, &last)
	if IsNoRows(err) {
		return engine.Streak{}, nil
	}
	if err != nil {
		return engine.Streak{}, err
	}
	if last != nil {
		s.LastActivity = *last
	}
	return s, nil
}

// PhoneModels lists distinct models the user owns now, or ever owned.
func (r *StateRepository) PhoneModels(ctx context.Context, userID int64, activeOnly bool) ([]string, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT DISTINCT model
		FROM user_phones
		WHERE user_id = $1 AND ($2 = FALSE OR disposed_at IS NULL)
	`, userID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// BusinessCount returns how many businesses the user holds.
func (r *StateRepository) BusinessCount(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM user_businesses WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// BusinessIncomeTotal sums lifetime income across all holdings.
func (r *StateRepository) BusinessIncomeTotal(ctx context.Context, userID int64) (float64, error) {
	return r.number(ctx, `SELECT COALESCE(SUM(income_total), 0)::text FROM user_businesses WHERE user_id = $1`, userID)
}

// FamilySize returns the member count of the user's family. With leaderOnly
// set, a user who does not lead their family gets 0.
func (r *StateRepository) FamilySize(ctx context.Context, userID int64, leaderOnly bool) (int64, error) {
	var n int64
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(all_members.user_id)
		FROM family_members me
		JOIN families f ON f.id = me.family_id
		JOIN family_members all_members ON all_members.family_id = f.id
		WHERE me.user_id = $1 AND ($2 = FALSE OR f.leader_id = $1)
	`, userID, leaderOnly).Scan(&n)
	return n, err
}

// ActiveUsers lists users active since the given time, for the sweep job.
func (r *StateRepository) ActiveUsers(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id FROM users
		WHERE last_active_at >= $1
		ORDER BY last_active_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ engine.StateReader = (*StateRepository)(nil)
