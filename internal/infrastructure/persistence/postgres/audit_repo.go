package postgres

import (
	"context"
	"fmt"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

// AuditRepository stores audit entries in achievement_audit.
type AuditRepository struct {
	conn *Connection
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(conn *Connection) *AuditRepository {
	return &AuditRepository{conn: conn}
}

// Record implements achievement.AuditSink.
func (r *AuditRepository) Record(ctx context.Context, e achievement.AuditEntry) error {
	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO achievement_audit (id, pass_id, user_id, chat_id, achievement_key, name, unlocked_at, delivered, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.PassID, e.UserID, e.ChatID, e.Key, e.Name, e.UnlockedAt, e.Delivered, errText)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the latest audit entries of a user, newest first.
func (r *AuditRepository) ListAudit(ctx context.Context, userID int64, limit int) ([]achievement.AuditEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id::text, COALESCE(pass_id, ''), user_id, chat_id, achievement_key, name, unlocked_at, delivered, COALESCE(error, '')
		FROM achievement_audit
		WHERE user_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []achievement.AuditEntry
	for rows.Next() {
		var e achievement.AuditEntry
		if err := rows.Scan(&e.ID, &e.PassID, &e.UserID, &e.ChatID, &e.Key, &e.Name, &e.UnlockedAt, &e.Delivered, &e.Error); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ achievement.AuditSink = (*AuditRepository)(nil)
