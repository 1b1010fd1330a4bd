package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/core/tree"
)

func leaf(v any) tree.Node { return tree.NewLeaf(v, nil) }

func node(v any) tree.Node { return tree.NodeFromValue(v) }

func TestEmptyWrite(t *testing.T) {
	w := EmptyWrite()

	assert.True(t, w.IsEmpty())
	assert.Nil(t, w.RootWrite())
	assert.Nil(t, w.CompleteNode(p("a")))
	assert.Empty(t, w.CompleteChildren())

	base := node(map[string]any{"a": 1})
	assert.True(t, w.Apply(base).Equal(base))
}

func TestCompoundWriteRootWrite(t *testing.T) {
	w := EmptyWrite().AddWrite(tree.EmptyPath(), leaf("root"))

	require.NotNil(t, w.RootWrite())
	assert.Equal(t, "root", w.RootWrite().Value())
	assert.True(t, w.HasCompleteWrite(p("a/b")))
	assert.True(t, w.CompleteNode(p("a/b")).IsEmpty())
}

func TestCompoundWriteDeeperWriteFoldsIntoShallower(t *testing.T) {
	w := EmptyWrite().
		AddWrite(p("a"), leaf(1)).
		AddWrite(p("a/b"), leaf(2))

	got := w.CompleteNode(p("a"))
	require.NotNil(t, got)
	assert.Equal(t, map[string]any{"b": float64(2)}, got.Value())
	assert.Equal(t, float64(2), w.CompleteNode(p("a/b")).Value())
}

func TestCompoundWriteShallowerWriteShadowsDeeper(t *testing.T) {
	w := EmptyWrite().
		AddWrite(p("a/b"), leaf(2)).
		AddWrite(p("a"), leaf(1))

	assert.Equal(t, float64(1), w.CompleteNode(p("a")).Value())
	assert.True(t, w.CompleteNode(p("a/b")).IsEmpty())
}

func TestCompoundWriteAddWrites(t *testing.T) {
	w := EmptyWrite().AddWrites(p("x"), map[string]tree.Node{
		"a":   leaf(1),
		"b/c": leaf(2),
	})

	assert.Equal(t, float64(1), w.CompleteNode(p("x/a")).Value())
	assert.Equal(t, float64(2), w.CompleteNode(p("x/b/c")).Value())
	assert.Nil(t, w.CompleteNode(p("x/b")))
	assert.False(t, w.HasCompleteWrite(p("x")))
}

func TestCompoundWriteRemoveWrite(t *testing.T) {
	w := EmptyWrite().
		AddWrite(p("a/b"), leaf(1)).
		AddWrite(p("a/c"), leaf(2)).
		RemoveWrite(p("a/b"))

	assert.Nil(t, w.CompleteNode(p("a/b")))
	assert.NotNil(t, w.CompleteNode(p("a/c")))

	// Removing beneath a write does not touch the write above it.
	shallow := EmptyWrite().AddWrite(p("a"), node(map[string]any{"b": 1})).RemoveWrite(p("a/b"))
	assert.Equal(t, map[string]any{"b": float64(1)}, shallow.CompleteNode(p("a")).Value())

	assert.True(t, w.RemoveWrite(tree.EmptyPath()).IsEmpty())
}

func TestCompoundWriteCompleteChildren(t *testing.T) {
	w := EmptyWrite().
		AddWrite(p("a"), leaf(1)).
		AddWrite(p("b/c"), leaf(2))

	children := w.CompleteChildren()
	require.Len(t, children, 1)
	assert.Equal(t, "a", children[0].Name)

	root := EmptyWrite().AddWrite(tree.EmptyPath(), node(map[string]any{"x": 1, "y": 2}))
	assert.Len(t, root.CompleteChildren(), 2)
}

func TestCompoundWriteChildCompoundWrite(t *testing.T) {
	w := EmptyWrite().
		AddWrite(p("a"), node(map[string]any{"b": map[string]any{"c": 1}})).
		AddWrite(p("x/y"), leaf(2))

	shadowed := w.ChildCompoundWrite(p("a/b"))
	require.NotNil(t, shadowed.RootWrite())
	assert.Equal(t, map[string]any{"c": float64(1)}, shadowed.RootWrite().Value())

	sub := w.ChildCompoundWrite(p("x"))
	assert.Nil(t, sub.RootWrite())
	assert.Equal(t, float64(2), sub.CompleteNode(p("y")).Value())

	assert.True(t, w.ChildCompoundWrite(p("nothing")).IsEmpty())
}

func TestCompoundWriteApply(t *testing.T) {
	base := node(map[string]any{"a": 1, "b": map[string]any{"c": 2, "d": 3}})
	w := EmptyWrite().
		AddWrite(p("a"), tree.Empty).
		AddWrite(p("b/c"), leaf(20)).
		AddWrite(p("e"), leaf("new"))

	got := w.Apply(base)

	assert.Equal(t, map[string]any{
		"b": map[string]any{"c": float64(20), "d": float64(3)},
		"e": "new",
	}, got.Value())
}

func TestCompoundWriteApplyPriority(t *testing.T) {
	w := EmptyWrite().
		AddWrite(p("a/.priority"), leaf(5)).
		AddWrite(p("b/.priority"), leaf(6))
	base := node(map[string]any{"a": map[string]any{"x": 1}})

	got := w.Apply(base)

	assert.Equal(t, float64(5), got.ImmediateChild("a").Priority().Value())
	assert.False(t, got.HasChild("b"))
}

func TestCompoundWriteReplacementWinsWholesale(t *testing.T) {
	t.Run("leaf over container", func(t *testing.T) {
		w := EmptyWrite().AddWrite(p("a"), leaf("x"))
		got := w.Apply(node(map[string]any{"a": map[string]any{"b": 1, "c": 2}}))
		assert.Equal(t, map[string]any{"a": "x"}, got.Value())
	})

	t.Run("container over leaf", func(t *testing.T) {
		w := EmptyWrite().AddWrite(p("a"), node(map[string]any{"b": 1}))
		got := w.Apply(node(map[string]any{"a": "x"}))
		assert.Equal(t, map[string]any{"a": map[string]any{"b": float64(1)}}, got.Value())
	})

	t.Run("partial write into leaf", func(t *testing.T) {
		w := EmptyWrite().AddWrite(p("a/b"), leaf(1))
		got := w.Apply(node(map[string]any{"a": "x"}))
		assert.Equal(t, map[string]any{"a": map[string]any{"b": float64(1)}}, got.Value())
	})
}
