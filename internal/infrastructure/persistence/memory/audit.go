package memory

import (
	"context"
	"sync"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

// AuditLog keeps audit entries in memory in arrival order.
type AuditLog struct {
	mu      sync.Mutex
	entries []achievement.AuditEntry
}

// NewAuditLog creates an empty log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Record implements achievement.AuditSink.
func (a *AuditLog) Record(_ context.Context, e achievement.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

// Entries returns a copy of what was recorded.
func (a *AuditLog) Entries() []achievement.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]achievement.AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// ListAudit returns up to limit entries of userID, newest first.
func (a *AuditLog) ListAudit(_ context.Context, userID int64, limit int) ([]achievement.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []achievement.AuditEntry
	for i := len(a.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if a.entries[i].UserID == userID {
			out = append(out, a.entries[i])
		}
	}
	return out, nil
}

var _ achievement.AuditSink = (*AuditLog)(nil)
