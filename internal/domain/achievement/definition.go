// Package achievement holds the achievement domain: immutable definitions,
// the ordered catalog, progress payloads, unlock records and the contracts
// of the ledger and audit sinks.
package achievement

import (
	"fmt"
	"strings"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
)

// EvaluationType selects the predicate and accumulation strategy of a definition.
type EvaluationType string

const (
	TypeThresholdReached      EvaluationType = "threshold_reached"
	TypeThresholdBelow        EvaluationType = "threshold_below"
	TypeThresholdAtOrBelow    EvaluationType = "threshold_at_or_below"
	TypeThresholdExact        EvaluationType = "threshold_exact"
	TypeBooleanFlagOnce       EvaluationType = "boolean_flag_once"
	TypeCumulativeCounter     EvaluationType = "cumulative_counter"
	TypeCumulativeAmount      EvaluationType = "cumulative_amount"
	TypeSetCollection         EvaluationType = "set_collection"
	TypeCompoundSetMembership EvaluationType = "compound_set_membership"
)

// BuiltinTypes lists every evaluation type the engine ships a strategy for.
func BuiltinTypes() []EvaluationType {
	return []EvaluationType{
		TypeThresholdReached,
		TypeThresholdBelow,
		TypeThresholdAtOrBelow,
		TypeThresholdExact,
		TypeBooleanFlagOnce,
		TypeCumulativeCounter,
		TypeCumulativeAmount,
		TypeSetCollection,
		TypeCompoundSetMembership,
	}
}

// Target is the goal of a definition. Its meaningful part depends on the
// evaluation type: a number for thresholds, counters and set cardinality,
// a flag sentinel for one-shot events, a key set for compound membership.
type Target struct {
	Value    float64
	HasValue bool
	Flag     bool
	Keys     []string
}

// NumberTarget builds a scalar target.
func NumberTarget(v float64) Target {
	return Target{Value: v, HasValue: true}
}

// FlagTarget builds a boolean sentinel target.
func FlagTarget() Target {
	return Target{Flag: true}
}

// KeysTarget builds a required-set target.
func KeysTarget(keys ...string) Target {
	return Target{Keys: NormalizeKeys(keys)}
}

// Display is the user-facing metadata. The engine never interprets it.
type Display struct {
	Name        string
	Description string
	Icon        string
}

// Definition is one catalog entry.
type Definition struct {
	Key  string
	Type EvaluationType

	// Metric names the state metric read through the accessor.
	Metric MetricName

	// ContextKey names the event-context field the strategy reads: the
	// fresh value for thresholds, the flag for one-shot events, the event
	// marker for counters, the sub-key for set collection.
	ContextKey string

	// DeltaKey names the context field carrying a counter increment or,
	// for cumulative amounts, the quantity added.
	DeltaKey string

	Target  Target
	Display Display
}

// Validate checks the type-independent invariants. Type-specific shape is
// checked by the strategy at evaluation time so a single broken entry
// cannot block catalog loading.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Key) == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrEmptyValue, "definition key is empty")
	}
	if strings.TrimSpace(string(d.Type)) == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidDefinition,
			fmt.Sprintf("definition %q has no evaluation type", d.Key))
	}
	return nil
}

// Invalid builds the error a strategy returns when d lacks something its
// type needs.
func (d Definition) Invalid(reason string) error {
	return shared.NewDomainError("achievement", "Evaluate", shared.ErrInvalidDefinition,
		fmt.Sprintf("definition %q (%s): %s", d.Key, d.Type, reason))
}
