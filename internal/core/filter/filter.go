package filter

import (
	"github.com/zeusync/treesync/internal/core/change"
	"github.com/zeusync/treesync/internal/core/tree"
)

// ChangeTracker receives the child changes a filter decides are visible.
// Filters accept a nil tracker when the caller does not need changes.
type ChangeTracker interface {
	TrackChildChange(c change.Change)
}

// CompleteChildSource answers questions about children a filter does not
// hold itself, e.g. the next item to admit into a limited window.
type CompleteChildSource interface {
	// CompleteChild returns the full value of a child, or nil if unknown.
	CompleteChild(name string) tree.Node
	// ChildAfterChild returns the child ordered right after child under index
	// (before it when reverse is set).
	ChildAfterChild(index tree.Index, child tree.NamedNode, reverse bool) (tree.NamedNode, bool)
}

// NodeFilter decides which children of a location a query can observe and
// reports the resulting child changes.
type NodeFilter interface {
	// UpdateChild replaces one child of snap. affectedPath is the part of the
	// child that actually changed.
	UpdateChild(snap tree.Node, key string, newChild tree.Node, affectedPath tree.Path, source CompleteChildSource, tracker ChangeTracker) tree.Node
	UpdateFullNode(oldSnap, newSnap tree.Node, tracker ChangeTracker) tree.Node
	UpdatePriority(oldSnap, priority tree.Node) tree.Node
	// FiltersNodes reports whether the filter ever drops children.
	FiltersNodes() bool
	// IndexedFilter returns a filter with the same ordering that keeps every
	// child.
	IndexedFilter() NodeFilter
	Index() tree.Index
}

func track(tracker ChangeTracker, c change.Change) {
	if tracker != nil {
		tracker.TrackChildChange(c)
	}
}

// NoCompleteChildSource knows nothing about any child.
type NoCompleteChildSource struct{}

func (NoCompleteChildSource) CompleteChild(string) tree.Node { return nil }

func (NoCompleteChildSource) ChildAfterChild(tree.Index, tree.NamedNode, bool) (tree.NamedNode, bool) {
	return tree.NamedNode{}, false
}
