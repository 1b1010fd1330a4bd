package filter

import (
	"github.com/zeusync/treesync/internal/core/tree"
)

// Ranged keeps the children between a start and an end post.
type Ranged struct {
	indexed        *Indexed
	index          tree.Index
	startPost      tree.NamedNode
	endPost        tree.NamedNode
	startInclusive bool
	endInclusive   bool
}

var _ NodeFilter = (*Ranged)(nil)

func NewRanged(params QueryParams) *Ranged {
	index := params.Index()
	return &Ranged{
		indexed:        NewIndexed(index),
		index:          index,
		startPost:      params.startPost(),
		endPost:        params.endPost(),
		startInclusive: !params.startAfterSet,
		endInclusive:   !params.endBeforeSet,
	}
}

func (f *Ranged) StartPost() tree.NamedNode { return f.startPost }
func (f *Ranged) EndPost() tree.NamedNode   { return f.endPost }

func (f *Ranged) withinStart(n tree.NamedNode) bool {
	c := f.index.Compare(f.startPost, n)
	if f.startInclusive {
		return c <= 0
	}
	return c < 0
}

func (f *Ranged) withinEnd(n tree.NamedNode) bool {
	c := f.index.Compare(n, f.endPost)
	if f.endInclusive {
		return c <= 0
	}
	return c < 0
}

// Matches reports whether n falls inside the range.
func (f *Ranged) Matches(n tree.NamedNode) bool {
	return f.withinStart(n) && f.withinEnd(n)
}

func (f *Ranged) UpdateChild(snap tree.Node, key string, newChild tree.Node, affectedPath tree.Path, source CompleteChildSource, tracker ChangeTracker) tree.Node {
	if !f.Matches(tree.NamedNode{Name: key, Node: newChild}) {
		newChild = tree.Empty
	}
	return f.indexed.UpdateChild(snap, key, newChild, affectedPath, source, tracker)
}

func (f *Ranged) UpdateFullNode(oldSnap, newSnap tree.Node, tracker ChangeTracker) tree.Node {
	if newSnap.IsLeaf() {
		newSnap = tree.Empty
	}
	// Queries never expose a priority on their root.
	filtered := newSnap.WithIndex(f.index).UpdatePriority(tree.Empty)
	newSnap.ForEachChild(tree.PriorityIndex, func(key string, child tree.Node) bool {
		if !f.Matches(tree.NamedNode{Name: key, Node: child}) {
			filtered = filtered.UpdateImmediateChild(key, tree.Empty)
		}
		return false
	})
	return f.indexed.UpdateFullNode(oldSnap, filtered, tracker)
}

func (f *Ranged) UpdatePriority(oldSnap, _ tree.Node) tree.Node { return oldSnap }

func (f *Ranged) FiltersNodes() bool        { return true }
func (f *Ranged) IndexedFilter() NodeFilter { return f.indexed }
func (f *Ranged) Index() tree.Index         { return f.index }
