package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zeusync/treesync/internal/core/tree"
)

func TestDefaultParams(t *testing.T) {
	q := DefaultParams()

	assert.True(t, q.LoadsAllData())
	assert.True(t, q.IsDefault())
	assert.Equal(t, tree.PriorityIndex, q.Index())
	assert.Equal(t, DefaultIdentifier, q.Identifier())
	assert.IsType(t, &Indexed{}, q.NodeFilter())
}

func TestOrderedParamsLoadAllData(t *testing.T) {
	q := DefaultParams().OrderByValue()

	assert.True(t, q.LoadsAllData())
	assert.False(t, q.IsDefault())
	assert.Equal(t, `{"i":".value"}`, q.Identifier())
	assert.IsType(t, &Indexed{}, q.NodeFilter())
}

func TestParamsIdentifier(t *testing.T) {
	tests := []struct {
		params QueryParams
		want   string
	}{
		{DefaultParams().OrderByKey().LimitToFirst(2), `{"i":".key","l":2,"vf":"l"}`},
		{DefaultParams().LimitToLast(3), `{"l":3,"vf":"r"}`},
		{DefaultParams().OrderByChild("age").StartAt(18), `{"i":"/age","sp":18}`},
		{DefaultParams().OrderByValue().EqualTo("x", "k"), `{"en":"k","ep":"x","i":".value","sn":"k","sp":"x"}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.params.Identifier())
	}

	a := DefaultParams().OrderByChild("score").LimitToLast(5)
	b := DefaultParams().OrderByChild("score").LimitToLast(5)
	assert.Equal(t, a.Identifier(), b.Identifier())
}

func TestParamsAreCopies(t *testing.T) {
	base := DefaultParams().OrderByKey()
	limited := base.LimitToFirst(1)

	assert.False(t, base.HasLimit())
	assert.True(t, limited.HasLimit())
	assert.True(t, limited.HasAnchoredLimit())
	assert.True(t, limited.IsViewFromLeft())
	assert.False(t, base.LimitToLast(1).IsViewFromLeft())
}

func TestStartAfterUsesSuccessor(t *testing.T) {
	byKey := DefaultParams().OrderByKey().StartAfter("b")
	assert.True(t, byKey.HasStartAfter())
	assert.Equal(t, "b-", byKey.startPost().Name)

	byValue := DefaultParams().OrderByValue().StartAfter(1, "k")
	assert.Equal(t, "k-", byValue.startPost().Name)

	endBefore := DefaultParams().OrderByValue().EndBefore(1)
	assert.True(t, endBefore.HasEndBefore())
	assert.Equal(t, tree.MinName, endBefore.endPost().Name)
}

func TestInvalidParamsPanic(t *testing.T) {
	assert.Panics(t, func() { DefaultParams().LimitToFirst(0) })
	assert.Panics(t, func() { DefaultParams().OrderByChild("/") })
	assert.Panics(t, func() { DefaultParams().StartAt(map[string]any{"a": 1}) })
}

func TestQueryKey(t *testing.T) {
	q := NewQuery(tree.ParsePath("/users"), DefaultParams().OrderByKey())

	assert.Equal(t, `/users${"i":".key"}`, q.Key())
	assert.Equal(t, "/users$default", q.Default().Key())
}
