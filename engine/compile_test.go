package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileBuildsPredicates(t *testing.T) {
	filters := []*Filter{
		{Name: "a", Rules: []Rule{{"from": StringList{"x"}, "subject": StringList{"y", "z"}}}},
		{Name: "b", Rules: []Rule{{"@tags": StringList{"new"}}, {"@path": StringList{"spam"}}}},
	}
	require.NoError(t, Compile(filters))

	for _, f := range filters {
		require.NotNil(t, f.pred)
		assert.Equal(t, predOr, f.pred.kind)
		assert.Len(t, f.pred.children, len(f.Rules))
	}
	// One leaf per (selector, pattern) pair.
	assert.Len(t, filters[0].pred.children[0].children, 3)
}

func TestCompileFailsFastOnBadPattern(t *testing.T) {
	filters := []*Filter{
		{Name: "fine", Rules: []Rule{{"from": StringList{"ok"}}}},
		{Name: "broken", Rules: []Rule{{"subject": StringList{"(unclosed"}}}},
	}
	err := Compile(filters)
	require.Error(t, err)

	var patErr *PatternError
	require.ErrorAs(t, err, &patErr)
	assert.Equal(t, "broken", patErr.Filter)
	assert.Equal(t, "subject", patErr.Field)
	assert.Equal(t, "(unclosed", patErr.Pattern)
	assert.Nil(t, filters[1].pred)
}

func TestCompileRejectsInvalidDefinitions(t *testing.T) {
	err := Compile([]*Filter{{Name: "bad", Rules: []Rule{{"@bogus": StringList{"x"}}}}})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "bad", cfgErr.Filter)
}

func TestMatchRequiresCompile(t *testing.T) {
	f := &Filter{Name: "raw", Rules: []Rule{{"from": StringList{"x"}}}}
	v := NewView(newFakeMessage("m1", nil), nil)
	_, err := f.Match(v)
	assert.ErrorIs(t, err, ErrNotCompiled)
}
