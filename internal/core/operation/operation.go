package operation

import (
	"fmt"

	"github.com/zeusync/treesync/internal/core/overlay"
	"github.com/zeusync/treesync/internal/core/tree"
)

type Kind uint8

const (
	KindOverwrite Kind = iota
	KindMerge
	KindAckUserWrite
	KindListenComplete
)

func (k Kind) String() string {
	switch k {
	case KindOverwrite:
		return "overwrite"
	case KindMerge:
		return "merge"
	case KindAckUserWrite:
		return "ack_user_write"
	case KindListenComplete:
		return "listen_complete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Source says where an operation came from. Tagged server operations are
// addressed to a single query.
type Source struct {
	FromUser   bool
	FromServer bool
	QueryID    string
	Tagged     bool
}

func User() Source   { return Source{FromUser: true} }
func Server() Source { return Source{FromServer: true} }

// ServerTagged is a server source for the query identified by queryID.
func ServerTagged(queryID string) Source {
	return Source{FromServer: true, QueryID: queryID, Tagged: true}
}

func (s Source) String() string {
	switch {
	case s.FromUser:
		return "user"
	case s.Tagged:
		return "server:" + s.QueryID
	default:
		return "server"
	}
}

// Operation is one change applied to the sync tree. Implementations are
// Overwrite, Merge, AckUserWrite and ListenComplete.
type Operation interface {
	Kind() Kind
	Source() Source
	Path() tree.Path
	// ForChild returns the operation as seen by the named child of Path's
	// root, or nil when the child is unaffected.
	ForChild(name string) Operation
}

var (
	_ Operation = (*Overwrite)(nil)
	_ Operation = (*Merge)(nil)
	_ Operation = (*AckUserWrite)(nil)
	_ Operation = (*ListenComplete)(nil)
)

// Overwrite replaces the data at Path with Snap.
type Overwrite struct {
	source Source
	path   tree.Path
	Snap   tree.Node
}

func NewOverwrite(source Source, path tree.Path, snap tree.Node) *Overwrite {
	return &Overwrite{source: source, path: path, Snap: snap}
}

func (o *Overwrite) Kind() Kind      { return KindOverwrite }
func (o *Overwrite) Source() Source  { return o.source }
func (o *Overwrite) Path() tree.Path { return o.path }

func (o *Overwrite) ForChild(name string) Operation {
	if o.path.IsEmpty() {
		return NewOverwrite(o.source, tree.EmptyPath(), o.Snap.ImmediateChild(name))
	}
	if o.path.Front() != name {
		return nil
	}
	return NewOverwrite(o.source, o.path.PopFront(), o.Snap)
}

func (o *Overwrite) String() string {
	return fmt.Sprintf("Overwrite{path=%s, source=%s, snap=%v}", o.path, o.source, o.Snap)
}

// Merge replaces each path stored in Children, relative to Path.
type Merge struct {
	source   Source
	path     tree.Path
	Children *overlay.ImmutableTree[tree.Node]
}

func NewMerge(source Source, path tree.Path, children *overlay.ImmutableTree[tree.Node]) *Merge {
	return &Merge{source: source, path: path, Children: children}
}

// NewMergeFromMap builds a merge whose keys may be slash separated paths.
func NewMergeFromMap(source Source, path tree.Path, children map[string]tree.Node) *Merge {
	return NewMerge(source, path, overlay.ImmutableTreeFromMap(children))
}

func (m *Merge) Kind() Kind      { return KindMerge }
func (m *Merge) Source() Source  { return m.source }
func (m *Merge) Path() tree.Path { return m.path }

func (m *Merge) ForChild(name string) Operation {
	if !m.path.IsEmpty() {
		if m.path.Front() != name {
			return nil
		}
		return NewMerge(m.source, m.path.PopFront(), m.Children)
	}
	child := m.Children.Subtree(tree.NewPath(name))
	if child.IsEmpty() {
		return nil
	}
	if v, ok := child.Value(); ok {
		// A direct child write replaces the whole child.
		return NewOverwrite(m.source, tree.EmptyPath(), v)
	}
	return NewMerge(m.source, tree.EmptyPath(), child)
}

func (m *Merge) String() string {
	return fmt.Sprintf("Merge{path=%s, source=%s}", m.path, m.source)
}

// AckUserWrite confirms or reverts a user write. AffectedTree marks every
// path the write touched, relative to Path.
type AckUserWrite struct {
	path         tree.Path
	AffectedTree *overlay.ImmutableTree[bool]
	Revert       bool
}

func NewAckUserWrite(path tree.Path, affected *overlay.ImmutableTree[bool], revert bool) *AckUserWrite {
	return &AckUserWrite{path: path, AffectedTree: affected, Revert: revert}
}

func (a *AckUserWrite) Kind() Kind      { return KindAckUserWrite }
func (a *AckUserWrite) Source() Source  { return User() }
func (a *AckUserWrite) Path() tree.Path { return a.path }

func (a *AckUserWrite) ForChild(name string) Operation {
	switch {
	case !a.path.IsEmpty():
		if a.path.Front() != name {
			return nil
		}
		return NewAckUserWrite(a.path.PopFront(), a.AffectedTree, a.Revert)
	case a.AffectedTree.HasValue():
		if a.AffectedTree.HasChildren() {
			panic(fmt.Errorf("%w: at %s", ErrOverlappingAffectedPaths, a.path))
		}
		// Everything below an affected root is affected too.
		return a
	}
	child := a.AffectedTree.Subtree(tree.NewPath(name))
	if child.IsEmpty() {
		return nil
	}
	return NewAckUserWrite(tree.EmptyPath(), child, a.Revert)
}

func (a *AckUserWrite) String() string {
	return fmt.Sprintf("AckUserWrite{path=%s, revert=%t}", a.path, a.Revert)
}

// ListenComplete signals that the server has sent everything at Path.
type ListenComplete struct {
	source Source
	path   tree.Path
}

func NewListenComplete(source Source, path tree.Path) *ListenComplete {
	return &ListenComplete{source: source, path: path}
}

func (l *ListenComplete) Kind() Kind      { return KindListenComplete }
func (l *ListenComplete) Source() Source  { return l.source }
func (l *ListenComplete) Path() tree.Path { return l.path }

func (l *ListenComplete) ForChild(name string) Operation {
	if l.path.IsEmpty() {
		return NewListenComplete(l.source, tree.EmptyPath())
	}
	if l.path.Front() != name {
		return nil
	}
	return NewListenComplete(l.source, l.path.PopFront())
}

func (l *ListenComplete) String() string {
	return fmt.Sprintf("ListenComplete{path=%s, source=%s}", l.path, l.source)
}
