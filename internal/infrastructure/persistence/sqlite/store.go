// Package sqlite is a single-file achievement ledger for local runs, the
// admin CLI and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
	"github.com/lyutobor/OneuiBot-sub000/pkg/timeutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_achievements (
    user_id INTEGER NOT NULL,
    achievement_key TEXT NOT NULL,
    progress TEXT NOT NULL DEFAULT '{}',
    revision INTEGER NOT NULL DEFAULT 1,
    unlocked_at TEXT,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (user_id, achievement_key)
);
CREATE TABLE IF NOT EXISTS achievement_audit (
    id TEXT PRIMARY KEY,
    pass_id TEXT,
    user_id INTEGER NOT NULL,
    chat_id INTEGER NOT NULL,
    achievement_key TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    unlocked_at TEXT NOT NULL,
    delivered INTEGER NOT NULL DEFAULT 0,
    error TEXT
);
`

// Store is a SQLite-backed achievement.Ledger and achievement.AuditSink.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open connects to the database at dsn, applies pragmas and creates the
// schema.
func Open(dsn string) (*Store, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps insert-if-absent atomic without relying on busy retries.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, clock: timeutil.SystemClock{}}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ListUnlockedAndProgress implements achievement.Ledger.
func (s *Store) ListUnlockedAndProgress(ctx context.Context, userID int64) (*achievement.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT achievement_key, progress, revision, unlocked_at, updated_at
		FROM user_achievements WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, shared.WrapError("sqlite", "ListUnlockedAndProgress", shared.ErrServiceUnavailable, "query ledger", err)
	}
	defer rows.Close()

	snap := achievement.NewSnapshot()
	for rows.Next() {
		var (
			key, raw, updated string
			revision          int64
			unlocked          sql.NullString
		)
		if err := rows.Scan(&key, &raw, &revision, &unlocked, &updated); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		p, err := achievement.UnmarshalProgress([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("ledger row %s: %w", key, err)
		}
		updatedAt, _ := parseTime(updated)

		if unlocked.Valid {
			at, err := parseTime(unlocked.String)
			if err != nil {
				return nil, fmt.Errorf("ledger row %s: unlocked_at: %w", key, err)
			}
			snap.Unlocked[key] = achievement.UnlockRecord{UserID: userID, Key: key, UnlockedAt: at, Progress: &p}
			continue
		}
		snap.Progress[key] = achievement.ProgressEntry{Progress: p, Revision: revision, UpdatedAt: updatedAt}
	}
	return snap, rows.Err()
}

// TryUnlock implements achievement.Ledger.
func (s *Store) TryUnlock(ctx context.Context, rec achievement.UnlockRecord) (bool, error) {
	var p achievement.Progress
	if rec.Progress != nil {
		p = *rec.Progress
	}
	raw, err := achievement.MarshalProgress(p)
	if err != nil {
		return false, err
	}
	at := formatTime(rec.UnlockedAt)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_achievements (user_id, achievement_key, progress, revision, unlocked_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (user_id, achievement_key) DO UPDATE
		SET progress = CASE WHEN ? THEN excluded.progress ELSE user_achievements.progress END,
		    revision = user_achievements.revision + 1,
		    unlocked_at = excluded.unlocked_at,
		    updated_at = excluded.updated_at
		WHERE user_achievements.unlocked_at IS NULL
	`, rec.UserID, rec.Key, string(raw), at, at, rec.Progress != nil)
	if err != nil {
		return false, shared.WrapError("sqlite", "TryUnlock", shared.ErrLedgerWrite, rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, shared.WrapError("sqlite", "TryUnlock", shared.ErrLedgerWrite, rec.Key, err)
	}
	return n == 1, nil
}

// UpdateProgress implements achievement.Ledger.
func (s *Store) UpdateProgress(ctx context.Context, userID int64, key string, p achievement.Progress, basedOn int64) (bool, error) {
	raw, err := achievement.MarshalProgress(p)
	if err != nil {
		return false, err
	}
	now := formatTime(s.clock.Now())

	var res sql.Result
	if basedOn == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO user_achievements (user_id, achievement_key, progress, revision, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (user_id, achievement_key) DO NOTHING
		`, userID, key, string(raw), now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE user_achievements
			SET progress = ?, revision = revision + 1, updated_at = ?
			WHERE user_id = ? AND achievement_key = ? AND unlocked_at IS NULL AND revision = ?
		`, string(raw), now, userID, key, basedOn)
	}
	if err != nil {
		return false, shared.WrapError("sqlite", "UpdateProgress", shared.ErrLedgerWrite, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, shared.WrapError("sqlite", "UpdateProgress", shared.ErrLedgerWrite, key, err)
	}
	return n == 1, nil
}

// Record implements achievement.AuditSink.
func (s *Store) Record(ctx context.Context, e achievement.AuditEntry) error {
	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO achievement_audit (id, pass_id, user_id, chat_id, achievement_key, name, unlocked_at, delivered, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.PassID, e.UserID, e.ChatID, e.Key, e.Name, formatTime(e.UnlockedAt), e.Delivered, errText)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the latest audit entries of a user, newest first.
func (s *Store) ListAudit(ctx context.Context, userID int64, limit int) ([]achievement.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(pass_id, ''), user_id, chat_id, achievement_key, name, unlocked_at, delivered, COALESCE(error, '')
		FROM achievement_audit WHERE user_id = ?
		ORDER BY unlocked_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []achievement.AuditEntry
	for rows.Next() {
		var (
			e  achievement.AuditEntry
			at string
		)
		if err := rows.Scan(&e.ID, &e.PassID, &e.UserID, &e.ChatID, &e.Key, &e.Name, &at, &e.Delivered, &e.Error); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.UnlockedAt, _ = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

var (
	_ achievement.Ledger    = (*Store)(nil)
	_ achievement.AuditSink = (*Store)(nil)
)
