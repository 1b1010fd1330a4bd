package filter

import (
	"github.com/zeusync/treesync/internal/core/change"
	"github.com/zeusync/treesync/internal/core/tree"
)

// Limited keeps at most limit children of a range, counted from the start
// (limit to first) or from the end (limit to last).
type Limited struct {
	ranged  *Ranged
	index   tree.Index
	limit   int
	reverse bool
}

var _ NodeFilter = (*Limited)(nil)

func NewLimited(params QueryParams) *Limited {
	return &Limited{
		ranged:  NewRanged(params),
		index:   params.Index(),
		limit:   params.Limit(),
		reverse: !params.IsViewFromLeft(),
	}
}

func (f *Limited) UpdateChild(snap tree.Node, key string, newChild tree.Node, affectedPath tree.Path, source CompleteChildSource, tracker ChangeTracker) tree.Node {
	if !f.ranged.Matches(tree.NamedNode{Name: key, Node: newChild}) {
		newChild = tree.Empty
	}
	switch {
	case snap.ImmediateChild(key).Equal(newChild):
		return snap
	case snap.NumChildren() < f.limit:
		return f.ranged.IndexedFilter().UpdateChild(snap, key, newChild, affectedPath, source, tracker)
	}
	return f.fullLimitUpdateChild(snap, key, newChild, source, tracker)
}

func (f *Limited) UpdateFullNode(oldSnap, newSnap tree.Node, tracker ChangeTracker) tree.Node {
	var filtered tree.Node
	switch {
	case newSnap.IsLeaf() || newSnap.IsEmpty():
		filtered = tree.Empty.WithIndex(f.index)
	case f.limit*2 < newSnap.NumChildren() && newSnap.IsIndexed(f.index):
		// Far more children than the window: build it up from scratch.
		filtered = tree.Empty.WithIndex(f.index)
		count := 0
		visit := func(n tree.NamedNode) bool {
			if count >= f.limit {
				return false
			}
			if !f.withinDirectionalStart(n) {
				return true
			}
			if !f.withinDirectionalEnd(n) {
				return false
			}
			filtered = filtered.UpdateImmediateChild(n.Name, n.Node)
			count++
			return true
		}
		if f.reverse {
			newSnap.DescendFrom(f.ranged.EndPost(), f.index, visit)
		} else {
			newSnap.AscendFrom(f.ranged.StartPost(), f.index, visit)
		}
	default:
		// Delete the surplus from the snapshot instead.
		filtered = newSnap.WithIndex(f.index).UpdatePriority(tree.Empty)
		var ordered []tree.NamedNode
		filtered.ForEachChild(f.index, func(name string, child tree.Node) bool {
			ordered = append(ordered, tree.NamedNode{Name: name, Node: child})
			return false
		})
		count := 0
		for i := range ordered {
			n := ordered[i]
			if f.reverse {
				n = ordered[len(ordered)-1-i]
			}
			if count < f.limit && f.withinDirectionalStart(n) && f.withinDirectionalEnd(n) {
				count++
				continue
			}
			filtered = filtered.UpdateImmediateChild(n.Name, tree.Empty)
		}
	}
	return f.ranged.IndexedFilter().UpdateFullNode(oldSnap, filtered, tracker)
}

func (f *Limited) withinDirectionalStart(n tree.NamedNode) bool {
	if f.reverse {
		return f.ranged.withinEnd(n)
	}
	return f.ranged.withinStart(n)
}

func (f *Limited) withinDirectionalEnd(n tree.NamedNode) bool {
	if f.reverse {
		return f.ranged.withinStart(n)
	}
	return f.ranged.withinEnd(n)
}

func (f *Limited) compare(a, b tree.NamedNode) int {
	if f.reverse {
		return f.index.Compare(b, a)
	}
	return f.index.Compare(a, b)
}

// fullLimitUpdateChild handles an update to a window that is already full.
// Evicting a child re-admits the next one from source; admitting a child
// evicts the window boundary.
func (f *Limited) fullLimitUpdateChild(snap tree.Node, key string, newChild tree.Node, source CompleteChildSource, tracker ChangeTracker) tree.Node {
	if f.limit <= 0 {
		return snap
	}
	named := tree.NamedNode{Name: key, Node: newChild}
	var (
		boundary tree.NamedNode
		ok       bool
	)
	if f.reverse {
		boundary, ok = snap.FirstChild(f.index)
	} else {
		boundary, ok = snap.LastChild(f.index)
	}
	if !ok {
		return snap
	}
	inRange := f.ranged.Matches(named)

	if snap.HasChild(key) {
		oldChild := snap.ImmediateChild(key)
		next, hasNext := source.ChildAfterChild(f.index, boundary, f.reverse)
		// A child may already be updated in the write tree but not yet in
		// this window; skip anything the window already holds.
		for hasNext && (next.Name == key || snap.HasChild(next.Name)) {
			next, hasNext = source.ChildAfterChild(f.index, next, f.reverse)
		}
		compareNext := 1
		if hasNext {
			compareNext = f.compare(next, named)
		}
		if inRange && !newChild.IsEmpty() && compareNext >= 0 {
			track(tracker, change.NewChildChanged(key, newChild, oldChild))
			return snap.UpdateImmediateChild(key, newChild)
		}
		track(tracker, change.NewChildRemoved(key, oldChild))
		evicted := snap.UpdateImmediateChild(key, tree.Empty)
		if hasNext && f.ranged.Matches(next) {
			track(tracker, change.NewChildAdded(next.Name, next.Node))
			return evicted.UpdateImmediateChild(next.Name, next.Node)
		}
		return evicted
	}

	if newChild.IsEmpty() || !inRange {
		return snap
	}
	if f.compare(boundary, named) >= 0 {
		track(tracker, change.NewChildRemoved(boundary.Name, boundary.Node))
		track(tracker, change.NewChildAdded(key, newChild))
		return snap.UpdateImmediateChild(key, newChild).UpdateImmediateChild(boundary.Name, tree.Empty)
	}
	return snap
}

func (f *Limited) UpdatePriority(oldSnap, _ tree.Node) tree.Node { return oldSnap }

func (f *Limited) FiltersNodes() bool        { return true }
func (f *Limited) IndexedFilter() NodeFilter { return f.ranged.IndexedFilter() }
func (f *Limited) Index() tree.Index         { return f.index }
