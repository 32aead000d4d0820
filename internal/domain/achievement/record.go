package achievement

import (
	"time"
)

// UnlockRecord is the terminal ledger row of a (user, achievement) pair.
type UnlockRecord struct {
	UserID     int64
	Key        string
	UnlockedAt time.Time
	Progress   *Progress
}

// Snapshot is what one orchestrator pass reads from the ledger up front.
type Snapshot struct {
	Unlocked map[string]UnlockRecord
	Progress map[string]ProgressEntry
}

// NewSnapshot returns an empty snapshot with initialised maps.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Unlocked: make(map[string]UnlockRecord),
		Progress: make(map[string]ProgressEntry),
	}
}

// IsUnlocked reports whether key is already granted.
func (s *Snapshot) IsUnlocked(key string) bool {
	_, ok := s.Unlocked[key]
	return ok
}

// ProgressFor returns the stored progress for key, or a zero entry.
func (s *Snapshot) ProgressFor(key string) ProgressEntry {
	return s.Progress[key]
}

// UnlockedKeys lists granted keys in the order given by the catalog.
func (s *Snapshot) UnlockedKeys(c *Catalog) []string {
	var keys []string
	c.ForEach(func(_ int, d Definition) bool {
		if s.IsUnlocked(d.Key) {
			keys = append(keys, d.Key)
		}
		return true
	})
	return keys
}
