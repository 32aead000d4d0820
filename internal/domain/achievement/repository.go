package achievement

import (
	"context"
	"time"
)

// Ledger persists which achievements each user unlocked plus progress of
// multi-step ones. Writes are always scoped to one (user, key) pair.
type Ledger interface {
	// ListUnlockedAndProgress reads everything stored for a user.
	ListUnlockedAndProgress(ctx context.Context, userID int64) (*Snapshot, error)

	// TryUnlock inserts the unlock if no unlocked row exists for
	// (rec.UserID, rec.Key). A progress-only row transitions to unlocked.
	// Returns true only for the call that performed the transition; an
	// already unlocked pair yields (false, nil).
	TryUnlock(ctx context.Context, rec UnlockRecord) (bool, error)

	// UpdateProgress upserts progress for a not-yet-unlocked pair. basedOn
	// is the revision the caller read (0 when no row existed). The write is
	// skipped, returning false, when the row is unlocked or its revision
	// moved on.
	UpdateProgress(ctx context.Context, userID int64, key string, p Progress, basedOn int64) (bool, error)
}

// AuditEntry is the operator-facing record of one confirmed unlock.
type AuditEntry struct {
	ID         string    `json:"id"`
	PassID     string    `json:"pass_id,omitempty"`
	UserID     int64     `json:"user_id"`
	ChatID     int64     `json:"chat_id"`
	Key        string    `json:"achievement_key"`
	Name       string    `json:"name"`
	UnlockedAt time.Time `json:"unlocked_at"`
	Delivered  bool      `json:"delivered"`
	Error      string    `json:"error,omitempty"`
}

// AuditSink receives audit entries.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}
