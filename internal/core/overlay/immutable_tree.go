package overlay

import (
	"github.com/google/btree"

	"github.com/zeusync/treesync/internal/core/tree"
)

const btreeDegree = 8

// ImmutableTree is a persistent path-prefix tree: every node may hold a
// value and any number of named subtrees. All updates return a new tree
// that shares untouched subtrees with the receiver. A nil *ImmutableTree
// behaves as the empty tree.
type ImmutableTree[T any] struct {
	value    T
	hasValue bool
	children *btree.BTreeG[entry[T]]
}

type entry[T any] struct {
	name string
	tree *ImmutableTree[T]
}

func entryLess[T any](a, b entry[T]) bool { return tree.NameCompare(a.name, b.name) < 0 }

// NewImmutableTree returns an empty tree.
func NewImmutableTree[T any]() *ImmutableTree[T] {
	return &ImmutableTree[T]{}
}

// NewImmutableTreeWithValue returns a tree holding value at its root.
func NewImmutableTreeWithValue[T any](value T) *ImmutableTree[T] {
	return &ImmutableTree[T]{value: value, hasValue: true}
}

// ImmutableTreeFromMap sets each entry of m. Keys may be slash separated
// paths.
func ImmutableTreeFromMap[T any](m map[string]T) *ImmutableTree[T] {
	t := NewImmutableTree[T]()
	for _, k := range sortedKeys(m) {
		t = t.Set(tree.ParsePath(k), m[k])
	}
	return t
}

func (t *ImmutableTree[T]) Value() (T, bool) {
	if t == nil {
		var zero T
		return zero, false
	}
	return t.value, t.hasValue
}

func (t *ImmutableTree[T]) HasValue() bool { return t != nil && t.hasValue }

func (t *ImmutableTree[T]) childCount() int {
	if t == nil || t.children == nil {
		return 0
	}
	return t.children.Len()
}

func (t *ImmutableTree[T]) HasChildren() bool { return t.childCount() > 0 }

func (t *ImmutableTree[T]) IsEmpty() bool {
	return !t.HasValue() && t.childCount() == 0
}

func (t *ImmutableTree[T]) child(name string) *ImmutableTree[T] {
	if t.childCount() == 0 {
		return nil
	}
	e, ok := t.children.Get(entry[T]{name: name})
	if !ok {
		return nil
	}
	return e.tree
}

// Child returns the named subtree, or an empty tree.
func (t *ImmutableTree[T]) Child(name string) *ImmutableTree[T] {
	if c := t.child(name); c != nil {
		return c
	}
	return NewImmutableTree[T]()
}

// Children visits direct subtrees in key order until fn returns false.
func (t *ImmutableTree[T]) Children(fn func(name string, child *ImmutableTree[T]) bool) {
	if t.childCount() == 0 {
		return
	}
	t.children.Ascend(func(e entry[T]) bool { return fn(e.name, e.tree) })
}

func (t *ImmutableTree[T]) withChild(name string, child *ImmutableTree[T]) *ImmutableTree[T] {
	var children *btree.BTreeG[entry[T]]
	if t.childCount() > 0 {
		children = t.children.Clone()
	} else {
		children = btree.NewG(btreeDegree, entryLess[T])
	}
	if child.IsEmpty() {
		children.Delete(entry[T]{name: name})
	} else {
		children.ReplaceOrInsert(entry[T]{name: name, tree: child})
	}
	next := &ImmutableTree[T]{children: children}
	if t != nil {
		next.value, next.hasValue = t.value, t.hasValue
	}
	return next
}

// FindRootMostMatching returns the shallowest value along path satisfying
// predicate, and the path at which it was found.
func (t *ImmutableTree[T]) FindRootMostMatching(path tree.Path, predicate func(T) bool) (tree.Path, T, bool) {
	if t.HasValue() && predicate(t.value) {
		return tree.EmptyPath(), t.value, true
	}
	if path.IsEmpty() {
		var zero T
		return tree.EmptyPath(), zero, false
	}
	front := path.Front()
	if c := t.child(front); c != nil {
		if rel, v, ok := c.FindRootMostMatching(path.PopFront(), predicate); ok {
			return tree.NewPath(front).ChildPath(rel), v, true
		}
	}
	var zero T
	return tree.EmptyPath(), zero, false
}

// FindRootMostValueAndPath returns the shallowest value along path.
func (t *ImmutableTree[T]) FindRootMostValueAndPath(path tree.Path) (tree.Path, T, bool) {
	return t.FindRootMostMatching(path, func(T) bool { return true })
}

// LeafMostValue returns the deepest value along path.
func (t *ImmutableTree[T]) LeafMostValue(path tree.Path) (T, bool) {
	var (
		found T
		ok    bool
	)
	t.ForEachOnPath(path, func(_ tree.Path, v T) {
		found, ok = v, true
	})
	return found, ok
}

// Subtree returns the tree rooted at path, or an empty tree.
func (t *ImmutableTree[T]) Subtree(path tree.Path) *ImmutableTree[T] {
	if path.IsEmpty() {
		if t == nil {
			return NewImmutableTree[T]()
		}
		return t
	}
	c := t.child(path.Front())
	if c == nil {
		return NewImmutableTree[T]()
	}
	return c.Subtree(path.PopFront())
}

// Set stores value at path.
func (t *ImmutableTree[T]) Set(path tree.Path, value T) *ImmutableTree[T] {
	if path.IsEmpty() {
		next := &ImmutableTree[T]{value: value, hasValue: true}
		if t != nil {
			next.children = t.children
		}
		return next
	}
	front := path.Front()
	return t.withChild(front, t.child(front).Set(path.PopFront(), value))
}

// Remove clears the value at path, pruning subtrees left empty.
func (t *ImmutableTree[T]) Remove(path tree.Path) *ImmutableTree[T] {
	if path.IsEmpty() {
		if t.childCount() == 0 {
			return NewImmutableTree[T]()
		}
		return &ImmutableTree[T]{children: t.children}
	}
	front := path.Front()
	c := t.child(front)
	if c == nil {
		return t
	}
	next := t.withChild(front, c.Remove(path.PopFront()))
	if next.IsEmpty() {
		return NewImmutableTree[T]()
	}
	return next
}

// Get returns the value stored exactly at path.
func (t *ImmutableTree[T]) Get(path tree.Path) (T, bool) {
	if path.IsEmpty() {
		return t.Value()
	}
	c := t.child(path.Front())
	if c == nil {
		var zero T
		return zero, false
	}
	return c.Get(path.PopFront())
}

// SetTree replaces the subtree at path.
func (t *ImmutableTree[T]) SetTree(path tree.Path, subtree *ImmutableTree[T]) *ImmutableTree[T] {
	if path.IsEmpty() {
		if subtree == nil {
			return NewImmutableTree[T]()
		}
		return subtree
	}
	front := path.Front()
	return t.withChild(front, t.child(front).SetTree(path.PopFront(), subtree))
}

// ForEachOnPath calls fn for every value from the root down to path.
func (t *ImmutableTree[T]) ForEachOnPath(path tree.Path, fn func(pathSoFar tree.Path, value T)) {
	t.forEachOnPath(path, tree.EmptyPath(), fn)
}

func (t *ImmutableTree[T]) forEachOnPath(path, pathSoFar tree.Path, fn func(tree.Path, T)) {
	if t.HasValue() {
		fn(pathSoFar, t.value)
	}
	if path.IsEmpty() {
		return
	}
	front := path.Front()
	if c := t.child(front); c != nil {
		c.forEachOnPath(path.PopFront(), pathSoFar.Child(front), fn)
	}
}

// FindOnPath returns the first value from the root down to path for which
// fn reports true.
func (t *ImmutableTree[T]) FindOnPath(path tree.Path, fn func(pathSoFar tree.Path, value T) bool) (T, bool) {
	return t.findOnPath(path, tree.EmptyPath(), fn)
}

func (t *ImmutableTree[T]) findOnPath(path, pathSoFar tree.Path, fn func(tree.Path, T) bool) (T, bool) {
	if t.HasValue() && fn(pathSoFar, t.value) {
		return t.value, true
	}
	if !path.IsEmpty() {
		front := path.Front()
		if c := t.child(front); c != nil {
			return c.findOnPath(path.PopFront(), pathSoFar.Child(front), fn)
		}
	}
	var zero T
	return zero, false
}

// ForEach visits every value, children before their parent, siblings in key
// order.
func (t *ImmutableTree[T]) ForEach(fn func(path tree.Path, value T)) {
	t.forEach(tree.EmptyPath(), fn)
}

func (t *ImmutableTree[T]) forEach(path tree.Path, fn func(tree.Path, T)) {
	t.Children(func(name string, c *ImmutableTree[T]) bool {
		c.forEach(path.Child(name), fn)
		return true
	})
	if t.HasValue() {
		fn(path, t.value)
	}
}

// ForEachChild visits the direct children that hold a value.
func (t *ImmutableTree[T]) ForEachChild(fn func(name string, value T)) {
	t.Children(func(name string, c *ImmutableTree[T]) bool {
		if c.HasValue() {
			fn(name, c.value)
		}
		return true
	})
}

// Fold reduces the tree bottom up. fn receives the relative path, the value
// held there (if any) and the folded results of each child.
func Fold[T, R any](t *ImmutableTree[T], fn func(path tree.Path, value T, hasValue bool, children map[string]R) R) R {
	return fold(t, tree.EmptyPath(), fn)
}

func fold[T, R any](t *ImmutableTree[T], path tree.Path, fn func(tree.Path, T, bool, map[string]R) R) R {
	children := make(map[string]R, t.childCount())
	t.Children(func(name string, c *ImmutableTree[T]) bool {
		children[name] = fold(c, path.Child(name), fn)
		return true
	})
	v, ok := t.Value()
	return fn(path, v, ok, children)
}
