package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/core/tree"
)

func p(s string) tree.Path { return tree.ParsePath(s) }

func TestImmutableTreeSetGet(t *testing.T) {
	base := NewImmutableTree[int]()
	t1 := base.Set(p("a/b"), 1).Set(p("a"), 2)

	v, ok := t1.Get(p("a/b"))
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = t1.Get(p("a"))
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = t1.Get(p("a/c"))
	assert.False(t, ok)
	assert.True(t, base.IsEmpty())
}

func TestImmutableTreeRemovePrunes(t *testing.T) {
	tr := NewImmutableTree[string]().Set(p("a/b/c"), "x")

	removed := tr.Remove(p("a/b/c"))
	assert.True(t, removed.IsEmpty())

	kept := tr.Set(p("a"), "y").Remove(p("a/b/c"))
	assert.False(t, kept.IsEmpty())
	assert.False(t, kept.Child("a").HasChildren())

	assert.Same(t, tr, tr.Remove(p("missing")))
}

func TestImmutableTreeFindRootMost(t *testing.T) {
	tr := NewImmutableTree[int]().Set(p("a"), 1).Set(p("a/b/c"), 3)

	at, v, ok := tr.FindRootMostValueAndPath(p("a/b/c/d"))
	require.True(t, ok)
	assert.Equal(t, "/a", at.String())
	assert.Equal(t, 1, v)

	at, v, ok = tr.FindRootMostMatching(p("a/b/c"), func(v int) bool { return v > 1 })
	require.True(t, ok)
	assert.Equal(t, "/a/b/c", at.String())
	assert.Equal(t, 3, v)

	v, ok = tr.LeafMostValue(p("a/b/c/d"))
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, _, ok = tr.FindRootMostValueAndPath(p("x"))
	assert.False(t, ok)
}

func TestImmutableTreeForEachOrder(t *testing.T) {
	tr := ImmutableTreeFromMap(map[string]int{
		"":    0,
		"b":   2,
		"a":   1,
		"a/x": 3,
		"10":  4,
		"9":   5,
	})

	var visited []string
	tr.ForEach(func(path tree.Path, _ int) {
		visited = append(visited, path.String())
	})
	assert.Equal(t, []string{"/9", "/10", "/a/x", "/a", "/b", "/"}, visited)

	var onPath []string
	tr.ForEachOnPath(p("a/x/y"), func(path tree.Path, _ int) {
		onPath = append(onPath, path.String())
	})
	assert.Equal(t, []string{"/", "/a", "/a/x"}, onPath)
}

func TestImmutableTreeSetTreeAndSubtree(t *testing.T) {
	sub := NewImmutableTree[int]().Set(p("x"), 1)
	tr := NewImmutableTree[int]().Set(p("a/y"), 2).SetTree(p("a"), sub)

	_, ok := tr.Get(p("a/y"))
	assert.False(t, ok)
	v, ok := tr.Subtree(p("a")).Get(p("x"))
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, tr.SetTree(p("a"), NewImmutableTree[int]()).IsEmpty())
}

func TestFold(t *testing.T) {
	tr := ImmutableTreeFromMap(map[string]int{"a": 1, "a/b": 2, "c": 3})

	sum := Fold(tr, func(_ tree.Path, v int, _ bool, children map[string]int) int {
		for _, c := range children {
			v += c
		}
		return v
	})
	assert.Equal(t, 6, sum)
}
