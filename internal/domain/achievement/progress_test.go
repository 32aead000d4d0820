package achievement

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, []string{"a25", "s24"}, NormalizeKeys([]string{" s24", "a25", "s24", ""}))
	assert.Nil(t, NormalizeKeys([]string{"", "  "}))
	assert.Nil(t, NormalizeKeys(nil))
}

func TestUnionKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, UnionKeys([]string{"b", "a"}, []string{"c", "a"}, nil))
}

func TestProgress_EqualIgnoresKeyOrder(t *testing.T) {
	a := Progress{Keys: []string{"x", "y"}}
	b := Progress{Keys: []string{"y", "x", "x"}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Progress{Keys: []string{"x"}}))
	assert.False(t, Progress{Count: 1}.Equal(Progress{Count: 2}))
}

func TestProgress_MarshalRoundTrip(t *testing.T) {
	data, err := MarshalProgress(Progress{Keys: []string{"s24", "a25"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":["a25","s24"]}`, string(data))

	p, err := UnmarshalProgress([]byte(`{"count":4}`))
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.Count)

	empty, err := UnmarshalProgress(nil)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestProgress_CloneIsDeep(t *testing.T) {
	p := Progress{Keys: []string{"a"}}
	c := p.Clone()
	c.Keys[0] = "b"

	assert.Equal(t, "a", p.Keys[0])
	assert.True(t, p.Has("a"))
}

func TestEvaluationContext_LenientGetters(t *testing.T) {
	ctx := EvaluationContext{
		"flag_bool":   true,
		"flag_str":    "yes",
		"flag_num":    1,
		"new_version": json.Number("10.0"),
		"amount":      "250.5",
		"model":       "galaxy_s24",
		"tags":        []any{"phone", 3, "case"},
	}

	assert.True(t, ctx.Truthy("flag_bool"))
	assert.True(t, ctx.Truthy("flag_str"))
	assert.True(t, ctx.Truthy("flag_num"))
	assert.False(t, ctx.Truthy("missing"))

	v, ok := ctx.Number("new_version")
	assert.True(t, ok)
	assert.Equal(t, 10.0, v)

	v, ok = ctx.Number("amount")
	assert.True(t, ok)
	assert.Equal(t, 250.5, v)

	_, ok = ctx.Number("model")
	assert.False(t, ok)

	s, ok := ctx.String("model")
	assert.True(t, ok)
	assert.Equal(t, "galaxy_s24", s)

	tags, ok := ctx.Strings("tags")
	assert.True(t, ok)
	assert.Equal(t, []string{"phone", "case"}, tags)

	single, ok := ctx.Strings("model")
	assert.True(t, ok)
	assert.Equal(t, []string{"galaxy_s24"}, single)
}

func TestEvaluationContext_StringsConvertsListItems(t *testing.T) {
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"models": ["s24", 7, 12.5]}`), &decoded))
	ctx := EvaluationContext(decoded)

	models, ok := ctx.Strings("models")
	require.True(t, ok)
	assert.Equal(t, []string{"s24", "7", "12.5"}, models)

	mixed := EvaluationContext{"ids": []any{int64(3), json.Number("4"), 5}}
	ids, ok := mixed.Strings("ids")
	require.True(t, ok)
	assert.Equal(t, []string{"3", "4", "5"}, ids)
}
