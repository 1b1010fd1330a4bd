package overlay

import (
	"sort"

	"github.com/zeusync/treesync/internal/core/tree"
)

// CompoundWrite layers full-node replacements at arbitrary paths. A write
// at a shallower path swallows every write beneath it; a write beneath an
// existing write is folded into that write's value. CompoundWrite values
// are immutable.
type CompoundWrite struct {
	writes *ImmutableTree[tree.Node]
}

var emptyWrite = &CompoundWrite{writes: NewImmutableTree[tree.Node]()}

// EmptyWrite returns the overlay with no writes.
func EmptyWrite() *CompoundWrite { return emptyWrite }

func newCompoundWrite(writes *ImmutableTree[tree.Node]) *CompoundWrite {
	if writes.IsEmpty() {
		return emptyWrite
	}
	return &CompoundWrite{writes: writes}
}

func (w *CompoundWrite) IsEmpty() bool { return w.writes.IsEmpty() }

// AddWrite replaces the subtree at path with node.
func (w *CompoundWrite) AddWrite(path tree.Path, node tree.Node) *CompoundWrite {
	if path.IsEmpty() {
		return newCompoundWrite(NewImmutableTreeWithValue(node))
	}
	if rootMost, value, ok := w.writes.FindRootMostValueAndPath(path); ok {
		rel := tree.Relative(rootMost, path)
		return newCompoundWrite(w.writes.Set(rootMost, value.UpdateChild(rel, node)))
	}
	return newCompoundWrite(w.writes.SetTree(path, NewImmutableTreeWithValue(node)))
}

// AddWrites adds one write per entry, each relative to path. Keys may be
// slash separated paths.
func (w *CompoundWrite) AddWrites(path tree.Path, updates map[string]tree.Node) *CompoundWrite {
	next := w
	for _, key := range sortedKeys(updates) {
		next = next.AddWrite(path.ChildPath(tree.ParsePath(key)), updates[key])
	}
	return next
}

// RemoveWrite drops the write at path and every write beneath it. Writes
// above path are left alone.
func (w *CompoundWrite) RemoveWrite(path tree.Path) *CompoundWrite {
	if path.IsEmpty() {
		return emptyWrite
	}
	return newCompoundWrite(w.writes.SetTree(path, NewImmutableTree[tree.Node]()))
}

// HasCompleteWrite reports whether path is fully replaced.
func (w *CompoundWrite) HasCompleteWrite(path tree.Path) bool {
	return w.CompleteNode(path) != nil
}

// RootWrite returns the write at the root, or nil.
func (w *CompoundWrite) RootWrite() tree.Node {
	v, _ := w.writes.Value()
	return v
}

// CompleteNode returns the value path is replaced with, or nil when no
// write covers path.
func (w *CompoundWrite) CompleteNode(path tree.Path) tree.Node {
	rootMost, value, ok := w.writes.FindRootMostValueAndPath(path)
	if !ok {
		return nil
	}
	return value.Child(tree.Relative(rootMost, path))
}

// CompleteChildren returns the direct children that are fully replaced.
func (w *CompoundWrite) CompleteChildren() []tree.NamedNode {
	var children []tree.NamedNode
	if root, ok := w.writes.Value(); ok {
		if !root.IsLeaf() {
			root.ForEachChild(tree.PriorityIndex, func(name string, child tree.Node) bool {
				children = append(children, tree.NamedNode{Name: name, Node: child})
				return false
			})
		}
		return children
	}
	w.writes.ForEachChild(func(name string, value tree.Node) {
		children = append(children, tree.NamedNode{Name: name, Node: value})
	})
	return children
}

// ChildCompoundWrite returns the overlay as seen from path.
func (w *CompoundWrite) ChildCompoundWrite(path tree.Path) *CompoundWrite {
	if path.IsEmpty() {
		return w
	}
	if shadowing := w.CompleteNode(path); shadowing != nil {
		return newCompoundWrite(NewImmutableTreeWithValue(shadowing))
	}
	return newCompoundWrite(w.writes.Subtree(path))
}

// Apply layers every write on top of node.
func (w *CompoundWrite) Apply(node tree.Node) tree.Node {
	return applySubtreeWrite(tree.EmptyPath(), w.writes, node)
}

func applySubtreeWrite(rel tree.Path, writes *ImmutableTree[tree.Node], node tree.Node) tree.Node {
	if v, ok := writes.Value(); ok {
		return node.UpdateChild(rel, v)
	}
	var priorityWrite tree.Node
	writes.Children(func(name string, child *ImmutableTree[tree.Node]) bool {
		if name == tree.PriorityKey {
			v, ok := child.Value()
			if !ok {
				panic(ErrPriorityWriteNotLeaf)
			}
			priorityWrite = v
			return true
		}
		node = applySubtreeWrite(rel.Child(name), child, node)
		return true
	})
	if priorityWrite != nil && !node.Child(rel).IsEmpty() {
		node = node.UpdateChild(rel.Child(tree.PriorityKey), priorityWrite)
	}
	return node
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return tree.NameCompare(keys[i], keys[j]) < 0 })
	return keys
}
