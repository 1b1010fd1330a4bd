package change

import (
	"fmt"
	"slices"

	"github.com/zeusync/treesync/internal/core/tree"
)

// Accumulator collects child changes for a single operation and collapses
// repeated changes to the same child into one.
type Accumulator struct {
	changes map[string]Change
	order   []string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{changes: make(map[string]Change)}
}

// TrackChildChange records c, combining it with an earlier change to the
// same child. Illegal sequences such as two adds in a row panic.
func (a *Accumulator) TrackChildChange(c Change) {
	switch {
	case c.Kind != ChildAdded && c.Kind != ChildRemoved && c.Kind != ChildChanged:
		panic(fmt.Errorf("%w: only child changes can be tracked, got %s", ErrIllegalChange, c.Kind))
	case c.ChildName == tree.PriorityKey:
		panic(fmt.Errorf("%w: changes to %s are not tracked", ErrIllegalChange, tree.PriorityKey))
	}

	old, ok := a.changes[c.ChildName]
	if !ok {
		a.changes[c.ChildName] = c
		a.order = append(a.order, c.ChildName)
		return
	}

	name := c.ChildName
	switch {
	case c.Kind == ChildAdded && old.Kind == ChildRemoved:
		a.changes[name] = NewChildChanged(name, c.Snapshot, old.Snapshot)
	case c.Kind == ChildRemoved && old.Kind == ChildAdded:
		delete(a.changes, name)
		a.order = slices.DeleteFunc(a.order, func(k string) bool { return k == name })
	case c.Kind == ChildRemoved && old.Kind == ChildChanged:
		a.changes[name] = NewChildRemoved(name, old.OldSnapshot)
	case c.Kind == ChildChanged && old.Kind == ChildAdded:
		a.changes[name] = NewChildAdded(name, c.Snapshot)
	case c.Kind == ChildChanged && old.Kind == ChildChanged:
		a.changes[name] = NewChildChanged(name, c.Snapshot, old.OldSnapshot)
	default:
		panic(fmt.Errorf("%w: %s occurred after %s", ErrIllegalChange, c, old))
	}
}

// Changes returns the collapsed changes in the order their children were
// first touched.
func (a *Accumulator) Changes() []Change {
	out := make([]Change, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.changes[name])
	}
	return out
}

func (a *Accumulator) Len() int { return len(a.order) }
