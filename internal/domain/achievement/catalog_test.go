package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
)

func sampleDefs() []Definition {
	return []Definition{
		{Key: "oneui_10", Type: TypeThresholdReached, Metric: MetricOneUIVersion, Target: NumberTarget(10)},
		{Key: "first_phone", Type: TypeBooleanFlagOnce, ContextKey: "phone_purchased", Target: FlagTarget()},
		{Key: "collector", Type: TypeSetCollection, ContextKey: "phone_model", Target: NumberTarget(3)},
	}
}

func TestNewCatalog_PreservesOrder(t *testing.T) {
	c, err := NewCatalog(sampleDefs()...)
	require.NoError(t, err)

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"oneui_10", "first_phone", "collector"}, c.Keys())

	var visited []string
	c.ForEach(func(i int, d Definition) bool {
		visited = append(visited, d.Key)
		return i < 1
	})
	assert.Equal(t, []string{"oneui_10", "first_phone"}, visited)
}

func TestNewCatalog_RejectsDuplicateKeys(t *testing.T) {
	defs := append(sampleDefs(), Definition{Key: "oneui_10", Type: TypeThresholdReached})

	_, err := NewCatalog(defs...)

	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
}

func TestNewCatalog_RejectsEmptyKey(t *testing.T) {
	_, err := NewCatalog(Definition{Type: TypeBooleanFlagOnce})

	assert.ErrorIs(t, err, shared.ErrEmptyValue)
}

func TestNewCatalog_AcceptsUnknownType(t *testing.T) {
	c, err := NewCatalog(Definition{Key: "Z", Type: "teleport_count"})
	require.NoError(t, err)

	d, ok := c.Get("Z")
	require.True(t, ok)
	assert.Equal(t, EvaluationType("teleport_count"), d.Type)
}

func TestCatalog_AllReturnsCopy(t *testing.T) {
	c := MustCatalog(sampleDefs()...)

	all := c.All()
	all[0].Key = "mutated"

	d, ok := c.Get("oneui_10")
	assert.True(t, ok)
	assert.Equal(t, "oneui_10", d.Key)
}

func TestCatalog_Lint(t *testing.T) {
	c := MustCatalog(
		Definition{Key: "ok", Type: TypeThresholdReached, Metric: MetricBalance, Target: NumberTarget(1)},
		Definition{Key: "Z", Type: "mystery"},
		Definition{Key: "no_target", Type: TypeThresholdBelow, Metric: MetricOneUIVersion},
		Definition{Key: "no_keys", Type: TypeCompoundSetMembership, ContextKey: "crafted"},
		Definition{Key: "flag_off", Type: TypeBooleanFlagOnce, ContextKey: "phone_sold"},
	)

	issues := c.Lint(BuiltinTypes())

	require.Len(t, issues, 4)
	assert.Equal(t, "Z", issues[0].Key)
	assert.Contains(t, issues[0].Message, "unknown evaluation type")
	assert.Equal(t, "no_target", issues[1].Key)
	assert.Equal(t, "no_keys", issues[2].Key)
	assert.Equal(t, "flag_off", issues[3].Key)
	assert.Equal(t, "flag needs target: true", issues[3].Message)
}

func TestSnapshot_UnlockedKeysInCatalogOrder(t *testing.T) {
	c := MustCatalog(sampleDefs()...)
	s := NewSnapshot()
	s.Unlocked["collector"] = UnlockRecord{Key: "collector"}
	s.Unlocked["oneui_10"] = UnlockRecord{Key: "oneui_10"}

	assert.Equal(t, []string{"oneui_10", "collector"}, s.UnlockedKeys(c))
	assert.True(t, s.IsUnlocked("collector"))
	assert.Zero(t, s.ProgressFor("first_phone").Revision)
}
