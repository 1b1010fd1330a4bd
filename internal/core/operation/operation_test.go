package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/core/overlay"
	"github.com/zeusync/treesync/internal/core/tree"
)

func p(s string) tree.Path { return tree.ParsePath(s) }

func TestSources(t *testing.T) {
	assert.True(t, User().FromUser)
	assert.False(t, User().FromServer)
	assert.True(t, Server().FromServer)
	assert.False(t, Server().Tagged)

	tagged := ServerTagged("/a$q")
	assert.True(t, tagged.FromServer)
	assert.True(t, tagged.Tagged)
	assert.Equal(t, "/a$q", tagged.QueryID)
	assert.Equal(t, "server:/a$q", tagged.String())
}

func TestOverwriteForChild(t *testing.T) {
	snap := tree.NodeFromValue(map[string]any{"a": 1, "b": 2})

	root := NewOverwrite(Server(), tree.EmptyPath(), snap)
	child := root.ForChild("a")
	require.NotNil(t, child)
	assert.True(t, child.Path().IsEmpty())
	assert.Equal(t, float64(1), child.(*Overwrite).Snap.Value())

	deep := NewOverwrite(User(), p("/a/b"), snap)
	next := deep.ForChild("a")
	require.NotNil(t, next)
	assert.Equal(t, "/b", next.Path().String())
	assert.Same(t, snap, next.(*Overwrite).Snap)
	assert.Equal(t, User(), next.Source())

	assert.Nil(t, deep.ForChild("z"))
}

func TestMergeForChild(t *testing.T) {
	m := NewMergeFromMap(Server(), tree.EmptyPath(), map[string]tree.Node{
		"a":   tree.NewLeaf(1, nil),
		"b/c": tree.NewLeaf(2, nil),
	})

	direct := m.ForChild("a")
	require.NotNil(t, direct)
	assert.Equal(t, KindOverwrite, direct.Kind())
	assert.Equal(t, float64(1), direct.(*Overwrite).Snap.Value())

	nested := m.ForChild("b")
	require.NotNil(t, nested)
	assert.Equal(t, KindMerge, nested.Kind())
	v, ok := nested.(*Merge).Children.Get(p("c"))
	require.True(t, ok)
	assert.Equal(t, float64(2), v.Value())

	assert.Nil(t, m.ForChild("x"))

	deep := NewMergeFromMap(Server(), p("/x/y"), map[string]tree.Node{"a": tree.NewLeaf(1, nil)})
	assert.Equal(t, "/y", deep.ForChild("x").Path().String())
	assert.Nil(t, deep.ForChild("a"))
}

func TestAckUserWriteForChild(t *testing.T) {
	affected := overlay.NewImmutableTree[bool]().Set(p("a"), true).Set(p("b/c"), true)
	ack := NewAckUserWrite(tree.EmptyPath(), affected, true)

	assert.Equal(t, User(), ack.Source())

	a := ack.ForChild("a")
	require.NotNil(t, a)
	assert.True(t, a.(*AckUserWrite).AffectedTree.HasValue())
	assert.True(t, a.(*AckUserWrite).Revert)

	// Below an affected root, every child is affected.
	assert.Same(t, a, a.ForChild("anything"))

	b := ack.ForChild("b")
	require.NotNil(t, b)
	assert.False(t, b.(*AckUserWrite).AffectedTree.HasValue())

	assert.Nil(t, ack.ForChild("z"))

	deep := NewAckUserWrite(p("/q/r"), affected, false)
	assert.Equal(t, "/r", deep.ForChild("q").Path().String())
	assert.Nil(t, deep.ForChild("r"))
}

func TestAckUserWriteOverlappingPathsPanics(t *testing.T) {
	affected := overlay.NewImmutableTreeWithValue(true).Set(p("a"), true)
	ack := NewAckUserWrite(tree.EmptyPath(), affected, false)

	assert.PanicsWithError(t, "affected tree should not have overlapping affected paths: at /", func() {
		ack.ForChild("a")
	})
}

func TestListenCompleteForChild(t *testing.T) {
	lc := NewListenComplete(ServerTagged("q"), p("/a"))

	child := lc.ForChild("a")
	require.NotNil(t, child)
	assert.True(t, child.Path().IsEmpty())
	assert.Equal(t, "q", child.Source().QueryID)

	assert.NotNil(t, child.ForChild("anything"))
	assert.Nil(t, lc.ForChild("b"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "overwrite", KindOverwrite.String())
	assert.Equal(t, "listen_complete", KindListenComplete.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
