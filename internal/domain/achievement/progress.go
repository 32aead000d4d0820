package achievement

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Progress is the intermediate state of a multi-step achievement.
// Stored as JSON: {"count": N} for counters, {"keys": [...]} for sets.
type Progress struct {
	Count  int64    `json:"count,omitempty"`
	Keys   []string `json:"keys,omitempty"`
	Amount float64  `json:"amount,omitempty"`
}

// IsZero reports whether p carries nothing.
func (p Progress) IsZero() bool {
	return p.Count == 0 && len(p.Keys) == 0 && p.Amount == 0
}

// Equal compares two payloads. Keys are compared as normalized sets.
func (p Progress) Equal(o Progress) bool {
	return p.Count == o.Count &&
		p.Amount == o.Amount &&
		slices.Equal(NormalizeKeys(p.Keys), NormalizeKeys(o.Keys))
}

// Clone returns a deep copy.
func (p Progress) Clone() Progress {
	c := p
	if p.Keys != nil {
		c.Keys = append([]string(nil), p.Keys...)
	}
	return c
}

// Has reports whether key is in the accumulated set.
func (p Progress) Has(key string) bool {
	_, found := slices.BinarySearch(NormalizeKeys(p.Keys), key)
	return found
}

// MarshalProgress encodes p for storage.
func MarshalProgress(p Progress) ([]byte, error) {
	p.Keys = NormalizeKeys(p.Keys)
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal progress: %w", err)
	}
	return data, nil
}

// UnmarshalProgress decodes a stored payload. Empty input yields a zero value.
func UnmarshalProgress(data []byte) (Progress, error) {
	var p Progress
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	p.Keys = NormalizeKeys(p.Keys)
	return p, nil
}

// NormalizeKeys trims, drops empties, dedupes and sorts. Returns nil for an
// empty result.
func NormalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// UnionKeys merges key sets into one normalized set.
func UnionKeys(sets ...[]string) []string {
	var all []string
	for _, s := range sets {
		all = append(all, s...)
	}
	return NormalizeKeys(all)
}

// ProgressEntry is a progress-tracked (not yet unlocked) ledger row.
type ProgressEntry struct {
	Progress Progress
	// Revision increases on every accepted write; 0 means no row.
	Revision  int64
	UpdatedAt time.Time
}
