package view

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/zeusync/treesync/internal/core/change"
	"github.com/zeusync/treesync/internal/core/tree"
)

// Event is a change delivered to one registration. Path is the location the
// snapshot describes. Cancel events carry Err and nothing else.
type Event struct {
	Kind         change.Kind
	Path         tree.Path
	Snapshot     tree.Node
	PrevName     string
	Registration string
	Err          error
}

func (e Event) IsCancel() bool { return e.Err != nil }

func (e Event) String() string {
	if e.IsCancel() {
		return fmt.Sprintf("cancel %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Path, e.Snapshot)
}

// Registration is one listener on a view. It receives events for the change
// kinds it was created with.
type Registration struct {
	id    string
	kinds []change.Kind
}

// NewRegistration listens for kinds, or for value changes when none are
// given.
func NewRegistration(kinds ...change.Kind) *Registration {
	if len(kinds) == 0 {
		kinds = []change.Kind{change.Value}
	}
	return &Registration{id: uuid.NewString(), kinds: slices.Clone(kinds)}
}

// NewChildRegistration listens for every child change kind.
func NewChildRegistration() *Registration {
	return NewRegistration(change.ChildAdded, change.ChildRemoved, change.ChildChanged, change.ChildMoved)
}

func (r *Registration) ID() string { return r.id }

func (r *Registration) RespondsTo(kind change.Kind) bool {
	return slices.Contains(r.kinds, kind)
}

// Matches reports whether other is the same listener.
func (r *Registration) Matches(other *Registration) bool {
	return other != nil && r.id == other.id
}

// CreateEvent turns a change observed at queryPath into an event.
func (r *Registration) CreateEvent(c change.Change, queryPath tree.Path) Event {
	path := queryPath
	if c.Kind != change.Value {
		path = queryPath.Child(c.ChildName)
	}
	return Event{
		Kind:         c.Kind,
		Path:         path,
		Snapshot:     c.Snapshot,
		PrevName:     c.PrevName,
		Registration: r.id,
	}
}

func (r *Registration) CreateCancelEvent(err error, path tree.Path) Event {
	return Event{Path: path, Registration: r.id, Err: err}
}
