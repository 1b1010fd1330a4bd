package filter

import (
	"github.com/zeusync/treesync/internal/core/change"
	"github.com/zeusync/treesync/internal/core/tree"
)

// Indexed keeps every child and only orders them.
type Indexed struct {
	index tree.Index
}

var _ NodeFilter = (*Indexed)(nil)

func NewIndexed(index tree.Index) *Indexed {
	return &Indexed{index: index}
}

func (f *Indexed) UpdateChild(snap tree.Node, key string, newChild tree.Node, affectedPath tree.Path, _ CompleteChildSource, tracker ChangeTracker) tree.Node {
	oldChild := snap.ImmediateChild(key)
	// A child entering or leaving through a removal looks unchanged at
	// affectedPath, so emptiness has to match too.
	if oldChild.Child(affectedPath).Equal(newChild.Child(affectedPath)) && oldChild.IsEmpty() == newChild.IsEmpty() {
		return snap
	}

	switch {
	case newChild.IsEmpty():
		if snap.HasChild(key) {
			track(tracker, change.NewChildRemoved(key, oldChild))
		}
	case oldChild.IsEmpty():
		track(tracker, change.NewChildAdded(key, newChild))
	default:
		track(tracker, change.NewChildChanged(key, newChild, oldChild))
	}

	if snap.IsLeaf() && newChild.IsEmpty() {
		return snap
	}
	return snap.UpdateImmediateChild(key, newChild).WithIndex(f.index)
}

func (f *Indexed) UpdateFullNode(oldSnap, newSnap tree.Node, tracker ChangeTracker) tree.Node {
	if tracker != nil {
		oldSnap.ForEachChild(tree.PriorityIndex, func(key string, child tree.Node) bool {
			if !newSnap.HasChild(key) {
				tracker.TrackChildChange(change.NewChildRemoved(key, child))
			}
			return false
		})
		newSnap.ForEachChild(tree.PriorityIndex, func(key string, child tree.Node) bool {
			if !oldSnap.HasChild(key) {
				tracker.TrackChildChange(change.NewChildAdded(key, child))
				return false
			}
			if old := oldSnap.ImmediateChild(key); !old.Equal(child) {
				tracker.TrackChildChange(change.NewChildChanged(key, child, old))
			}
			return false
		})
	}
	return newSnap.WithIndex(f.index)
}

func (f *Indexed) UpdatePriority(oldSnap, priority tree.Node) tree.Node {
	if oldSnap.IsEmpty() {
		return tree.Empty
	}
	return oldSnap.UpdatePriority(priority)
}

func (f *Indexed) FiltersNodes() bool        { return false }
func (f *Indexed) IndexedFilter() NodeFilter { return f }
func (f *Indexed) Index() tree.Index         { return f.index }
