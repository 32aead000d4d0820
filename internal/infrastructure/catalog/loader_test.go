package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
)

func TestLoadDefault(t *testing.T) {
	c, err := LoadDefault()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, c.Len(), 30)
	assert.Equal(t, "oneui_2", c.Keys()[0])
	assert.Empty(t, c.Lint(achievement.BuiltinTypes()), "shipped catalog must be clean")

	kit, ok := c.Get("full_kit")
	require.True(t, ok)
	assert.Equal(t, []string{"case", "charger", "screen_protector"}, kit.Target.Keys)

	flag, ok := c.Get("first_phone")
	require.True(t, ok)
	assert.True(t, flag.Target.Flag)

	neg, ok := c.Get("oneui_negative")
	require.True(t, ok)
	assert.Equal(t, achievement.TypeThresholdBelow, neg.Type)
	assert.True(t, neg.Target.HasValue)
	assert.Zero(t, neg.Target.Value)
}

func TestParse_TargetShapes(t *testing.T) {
	c, err := Parse([]byte(`
achievements:
  - {key: a, type: threshold_reached, metric: balance, target: 9.9}
  - {key: b, type: boolean_flag_once, context_key: x, target: true}
  - {key: c, type: compound_set_membership, context_key: y, target: [b, a, a]}
  - {key: d, type: teleport_count}
`))
	require.NoError(t, err)

	a, _ := c.Get("a")
	assert.Equal(t, 9.9, a.Target.Value)
	cc, _ := c.Get("c")
	assert.Equal(t, []string{"a", "b"}, cc.Target.Keys)
	d, _ := c.Get("d")
	assert.Equal(t, achievement.EvaluationType("teleport_count"), d.Type)
}

func TestParse_FlagTargetFalseIsLinted(t *testing.T) {
	c, err := Parse([]byte(`
achievements:
  - {key: off, type: boolean_flag_once, context_key: x, target: false}
`))
	require.NoError(t, err)

	d, _ := c.Get("off")
	assert.False(t, d.Target.Flag)
	issues := c.Lint(achievement.BuiltinTypes())
	require.Len(t, issues, 1)
	assert.Equal(t, "off", issues[0].Key)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", "   "},
		{"bad target", "achievements:\n  - {key: a, type: threshold_reached, target: lots}\n"},
		{"unknown field", "achievements:\n  - {key: a, type: threshold_reached, treshold: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_DuplicateKey(t *testing.T) {
	_, err := Parse([]byte("achievements:\n  - {key: a, type: x}\n  - {key: a, type: y}\n"))

	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("achievements:\n  - {key: a, type: boolean_flag_once, context_key: z, target: true}\n"), 0o600))

	c, err := LoadPathOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, c.Keys())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
