package tree

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// PriorityKey addresses the priority of a node as if it were a child.
	PriorityKey = ".priority"

	MinName = "[MIN_NAME]"
	MaxName = "[MAX_NAME]"
)

// Node is an immutable tree value: either a leaf carrying a scalar or a
// container of named children. Every node carries a priority which is
// itself a leaf or Empty.
//
// Methods never mutate the receiver; updates return a new node sharing
// unchanged structure with the old one.
type Node interface {
	IsLeaf() bool
	IsEmpty() bool

	// Value exports the node as plain Go data without priorities: nil for
	// Empty, the scalar for leaves and map[string]any for containers.
	Value() any

	Priority() Node
	UpdatePriority(priority Node) Node

	ImmediateChild(name string) Node
	Child(path Path) Node
	HasChild(name string) bool
	NumChildren() int

	UpdateImmediateChild(name string, child Node) Node
	UpdateChild(path Path, child Node) Node

	// ForEachChild visits children in index order until fn returns true.
	// It reports whether iteration was stopped early.
	ForEachChild(index Index, fn func(name string, child Node) bool) bool
	WithIndex(index Index) Node
	IsIndexed(index Index) bool

	FirstChild(index Index) (NamedNode, bool)
	LastChild(index Index) (NamedNode, bool)
	// PredecessorChildName returns the name of the child sorted just before
	// the given child under index.
	PredecessorChildName(name string, child Node, index Index) (string, bool)
	// AscendFrom visits children >= post in index order until fn returns false.
	AscendFrom(post NamedNode, index Index, fn func(NamedNode) bool)
	// DescendFrom visits children <= post in reverse index order until fn returns false.
	DescendFrom(post NamedNode, index Index, fn func(NamedNode) bool)

	Hash() uint64
	Equal(other Node) bool
}

// NamedNode pairs a child with its key.
type NamedNode struct {
	Name string
	Node Node
}

func (n NamedNode) Equal(other NamedNode) bool {
	return n.Name == other.Name && nodesEqual(n.Node, other.Node)
}

func nodesEqual(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

var integerKey = regexp.MustCompile(`^-?(0*)\d{1,10}$`)

func parseIntKey(s string) (int64, bool) {
	if !integerKey.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < -2147483648 || v > 2147483647 {
		return 0, false
	}
	return v, true
}

// NameCompare orders child keys: MinName first, MaxName last, 32-bit integer
// keys numerically before all other keys, everything else lexically.
func NameCompare(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == MinName || b == MaxName:
		return -1
	case b == MinName || a == MaxName:
		return 1
	}
	ai, aInt := parseIntKey(a)
	bi, bInt := parseIntKey(b)
	switch {
	case aInt && bInt:
		if ai == bi {
			return len(a) - len(b)
		}
		if ai < bi {
			return -1
		}
		return 1
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return strings.Compare(a, b)
}

// CompareNodes orders nodes by value: Empty first, then leaves (booleans,
// numbers, strings), then non-empty containers.
func CompareNodes(a, b Node) int {
	aMax, bMax := a == maxNode, b == maxNode
	switch {
	case aMax && bMax:
		return 0
	case aMax:
		return 1
	case bMax:
		return -1
	}
	if a.IsEmpty() {
		if b.IsEmpty() {
			return 0
		}
		return -1
	}
	if b.IsEmpty() {
		return 1
	}
	aLeaf, aok := a.(*LeafNode)
	bLeaf, bok := b.(*LeafNode)
	switch {
	case aok && bok:
		return compareLeaves(aLeaf, bLeaf)
	case aok:
		return -1
	case bok:
		return 1
	}
	return 0
}
