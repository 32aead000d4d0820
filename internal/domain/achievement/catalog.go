package achievement

import (
	"fmt"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
)

// Catalog is the read-only, insertion-ordered set of definitions.
// Safe for concurrent use because nothing mutates it after NewCatalog.
type Catalog struct {
	defs  []Definition
	index map[string]int
}

// NewCatalog validates keys and builds the catalog in the given order.
// Unknown evaluation types are accepted here; they fail per rule.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		defs:  make([]Definition, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if _, dup := c.index[d.Key]; dup {
			return nil, shared.NewDomainError("catalog", "Load", shared.ErrAlreadyExists,
				fmt.Sprintf("duplicate achievement key %q", d.Key))
		}
		d.Target.Keys = NormalizeKeys(d.Target.Keys)
		c.index[d.Key] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// MustCatalog is NewCatalog that panics; for tests and static tables.
func MustCatalog(defs ...Definition) *Catalog {
	c, err := NewCatalog(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of definitions.
func (c *Catalog) Len() int { return len(c.defs) }

// All returns a copy of the definitions in catalog order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// ForEach visits definitions in catalog order until fn returns false.
func (c *Catalog) ForEach(fn func(i int, d Definition) bool) {
	for i, d := range c.defs {
		if !fn(i, d) {
			return
		}
	}
}

// Get looks a definition up by key.
func (c *Catalog) Get(key string) (Definition, bool) {
	i, ok := c.index[key]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Keys returns all keys in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.defs))
	for i, d := range c.defs {
		keys[i] = d.Key
	}
	return keys
}

// LintIssue is a problem found by Lint.
type LintIssue struct {
	Key     string
	Message string
}

// Lint reports entries whose evaluation type is not in known and entries
// missing the fields their type depends on.
func (c *Catalog) Lint(known []EvaluationType) []LintIssue {
	knownSet := make(map[EvaluationType]struct{}, len(known))
	for _, t := range known {
		knownSet[t] = struct{}{}
	}

	var issues []LintIssue
	for _, d := range c.defs {
		if _, ok := knownSet[d.Type]; !ok {
			issues = append(issues, LintIssue{Key: d.Key, Message: fmt.Sprintf("unknown evaluation type %q", d.Type)})
			continue
		}
		if msg := shapeProblem(d); msg != "" {
			issues = append(issues, LintIssue{Key: d.Key, Message: msg})
		}
	}
	return issues
}

func shapeProblem(d Definition) string {
	switch d.Type {
	case TypeThresholdReached, TypeThresholdBelow, TypeThresholdAtOrBelow, TypeThresholdExact:
		if !d.Target.HasValue {
			return "threshold needs a numeric target"
		}
		if d.Metric == "" && d.ContextKey == "" {
			return "threshold needs a metric or a context_key"
		}
	case TypeBooleanFlagOnce:
		if d.ContextKey == "" {
			return "flag needs a context_key"
		}
		if !d.Target.Flag {
			return "flag needs target: true"
		}
	case TypeCumulativeCounter:
		if d.ContextKey == "" || !d.Target.HasValue {
			return "counter needs a context_key and a numeric target"
		}
	case TypeCumulativeAmount:
		if d.ContextKey == "" || d.DeltaKey == "" || !d.Target.HasValue {
			return "amount needs a context_key, a delta_key and a numeric target"
		}
	case TypeSetCollection:
		if !d.Target.HasValue {
			return "set collection needs a numeric target"
		}
		if d.Metric == "" && d.ContextKey == "" {
			return "set collection needs a metric or a context_key"
		}
	case TypeCompoundSetMembership:
		if len(d.Target.Keys) == 0 {
			return "compound membership needs target keys"
		}
		if d.Metric == "" && d.ContextKey == "" {
			return "compound membership needs a metric or a context_key"
		}
	}
	return ""
}
