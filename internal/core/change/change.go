package change

import (
	"fmt"

	"github.com/zeusync/treesync/internal/core/tree"
)

// Kind is the type of a change. The declaration order is the order in which
// changes of one operation are delivered.
type Kind uint8

const (
	ChildRemoved Kind = iota
	ChildAdded
	ChildMoved
	ChildChanged
	Value
)

// Kinds lists every kind in delivery order.
var Kinds = []Kind{ChildRemoved, ChildAdded, ChildMoved, ChildChanged, Value}

func (k Kind) String() string {
	switch k {
	case Value:
		return "value"
	case ChildAdded:
		return "child_added"
	case ChildRemoved:
		return "child_removed"
	case ChildChanged:
		return "child_changed"
	case ChildMoved:
		return "child_moved"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Change describes one observable difference between two event caches.
// Snapshot is the new value, except for ChildRemoved where it is the value
// that was removed. OldSnapshot is only set for ChildChanged.
type Change struct {
	Kind        Kind
	Snapshot    tree.Node
	ChildName   string
	OldSnapshot tree.Node
	// PrevName is the key of the sibling ordered just before ChildName in the
	// new event cache, or "" when the child comes first.
	PrevName string
}

func NewValue(snap tree.Node) Change {
	return Change{Kind: Value, Snapshot: snap}
}

func NewChildAdded(name string, snap tree.Node) Change {
	return Change{Kind: ChildAdded, Snapshot: snap, ChildName: name}
}

func NewChildRemoved(name string, snap tree.Node) Change {
	return Change{Kind: ChildRemoved, Snapshot: snap, ChildName: name}
}

func NewChildChanged(name string, newSnap, oldSnap tree.Node) Change {
	return Change{Kind: ChildChanged, Snapshot: newSnap, ChildName: name, OldSnapshot: oldSnap}
}

func NewChildMoved(name string, snap tree.Node) Change {
	return Change{Kind: ChildMoved, Snapshot: snap, ChildName: name}
}

func (c Change) String() string {
	if c.Kind == Value {
		return fmt.Sprintf("%s(%v)", c.Kind, c.Snapshot)
	}
	return fmt.Sprintf("%s(%s=%v)", c.Kind, c.ChildName, c.Snapshot)
}
