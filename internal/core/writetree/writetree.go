package writetree

import (
	"fmt"
	"slices"

	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/overlay"
	"github.com/zeusync/treesync/internal/core/tree"
)

// CompleteChildCache is the part of a server cache CalcCompleteChild needs.
type CompleteChildCache interface {
	Node() tree.Node
	IsCompleteForChild(name string) bool
}

// WriteTree keeps every pending user write in id order together with the
// overlay built from the visible ones, and answers what the client believes
// the data looks like at any path given what the server has sent so far.
//
// A nil tree.Node result means "unknown", which is distinct from tree.Empty.
// WriteTree is not safe for concurrent use.
type WriteTree struct {
	visible     *overlay.CompoundWrite
	writes      []Record
	lastWriteID int64
	logger      log.Log
}

type Option func(*WriteTree)

// WithLogger sets the logger used for contract violations and rebuild
// decisions.
func WithLogger(logger log.Log) Option {
	return func(w *WriteTree) { w.logger = logger }
}

func New(opts ...Option) *WriteTree {
	w := &WriteTree{
		visible:     overlay.EmptyWrite(),
		lastWriteID: -1,
		logger:      log.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WriteTree) LastWriteID() int64 { return w.lastWriteID }

// Len returns the number of pending writes.
func (w *WriteTree) Len() int { return len(w.writes) }

// Visible returns the current overlay of visible writes.
func (w *WriteTree) Visible() *overlay.CompoundWrite { return w.visible }

func (w *WriteTree) fatal(err error, msg string, fields ...log.Field) {
	w.logger.Error(msg, append(fields, log.Error(err))...)
	panic(err)
}

func (w *WriteTree) checkOrder(id int64) {
	if id <= w.lastWriteID {
		w.fatal(fmt.Errorf("%w: got %d after %d", ErrWriteOutOfOrder, id, w.lastWriteID),
			"Stacking an older write on top of newer ones",
			log.Int64("write_id", id),
			log.Int64("last_write_id", w.lastWriteID),
		)
	}
}

// AddOverwrite records a full replacement of path with snap.
func (w *WriteTree) AddOverwrite(path tree.Path, snap tree.Node, id int64, visible bool) {
	w.checkOrder(id)
	if snap == nil {
		snap = tree.Empty
	}
	w.writes = append(w.writes, Record{ID: id, Path: path, Snap: snap, Visible: visible})
	if visible {
		w.visible = w.visible.AddWrite(path, snap)
	}
	w.lastWriteID = id
}

// AddMerge records a replacement of each named child of path. Merges are
// always visible.
func (w *WriteTree) AddMerge(path tree.Path, children map[string]tree.Node, id int64) {
	w.checkOrder(id)
	copied := make(map[string]tree.Node, len(children))
	for name, child := range children {
		if child == nil {
			child = tree.Empty
		}
		copied[name] = child
	}
	w.writes = append(w.writes, Record{ID: id, Path: path, Children: copied, Visible: true})
	w.visible = w.visible.AddWrites(path, copied)
	w.lastWriteID = id
}

// Write returns the pending record with the given id.
func (w *WriteTree) Write(id int64) (Record, bool) {
	for _, r := range w.writes {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// RemoveWrite drops a pending write and reports whether views need to be
// recomputed. It returns false when the write was hidden or fully shadowed
// by a later write.
func (w *WriteTree) RemoveWrite(id int64) bool {
	idx := slices.IndexFunc(w.writes, func(r Record) bool { return r.ID == id })
	if idx < 0 {
		w.fatal(fmt.Errorf("%w: %d", ErrUnknownWrite, id),
			"RemoveWrite called with nonexistent write id",
			log.Int64("write_id", id),
		)
	}
	removed := w.writes[idx]
	w.writes = slices.Delete(w.writes, idx, idx+1)

	wasVisible := removed.Visible
	overlaps := false
	for i := len(w.writes) - 1; wasVisible && i >= 0; i-- {
		current := w.writes[i]
		if !current.Visible {
			continue
		}
		if i >= idx && current.containsPath(removed.Path) {
			wasVisible = false
		} else if current.overlaps(removed.Path) {
			overlaps = true
		}
	}

	switch {
	case !wasVisible:
		w.logger.Debug("Removed write had no visible effect", log.Int64("write_id", id))
		return false
	case overlaps:
		w.logger.Debug("Rebuilding overlay after overlapping write removal",
			log.Int64("write_id", id),
			log.Int("pending", len(w.writes)),
		)
		w.resetTree()
		return true
	}

	if !removed.IsMerge() {
		w.visible = w.visible.RemoveWrite(removed.Path)
	} else {
		for name := range removed.Children {
			w.visible = w.visible.RemoveWrite(removed.Path.ChildPath(tree.ParsePath(name)))
		}
	}
	return true
}

func (w *WriteTree) resetTree() {
	w.visible = w.layerTree(func(r Record) bool { return r.Visible }, tree.EmptyPath())
	if len(w.writes) > 0 {
		w.lastWriteID = w.writes[len(w.writes)-1].ID
	} else {
		w.lastWriteID = -1
	}
}

// layerTree builds the overlay rooted at root from every record accepted
// by filter, in id order.
func (w *WriteTree) layerTree(filter func(Record) bool, root tree.Path) *overlay.CompoundWrite {
	cw := overlay.EmptyWrite()
	for _, r := range w.writes {
		if !filter(r) {
			continue
		}
		switch {
		case r.Snap != nil:
			cw = layerWrite(cw, root, r.Path, r.Snap)
		case r.Children != nil:
			if root.Contains(r.Path) {
				cw = cw.AddWrites(tree.Relative(root, r.Path), r.Children)
				continue
			}
			// Keys may be multi-segment paths, so each child is layered
			// as an overwrite at its full location.
			for _, name := range sortedNames(r.Children) {
				cw = layerWrite(cw, root, r.Path.ChildPath(tree.ParsePath(name)), r.Children[name])
			}
		default:
			w.fatal(fmt.Errorf("%w: %d", ErrMalformedRecord, r.ID),
				"Write record should have a snapshot or children",
				log.Int64("write_id", r.ID),
			)
		}
	}
	return cw
}

// layerWrite adds an overwrite of snap at path to cw, scoped to root.
func layerWrite(cw *overlay.CompoundWrite, root, path tree.Path, snap tree.Node) *overlay.CompoundWrite {
	switch {
	case root.Contains(path):
		return cw.AddWrite(tree.Relative(root, path), snap)
	case path.Contains(root):
		return cw.AddWrite(tree.EmptyPath(), snap.Child(tree.Relative(path, root)))
	}
	return cw
}

func sortedNames(children map[string]tree.Node) []string {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	slices.SortFunc(names, tree.NameCompare)
	return names
}

// CompleteWriteData returns the overlay's full replacement at path, or nil.
func (w *WriteTree) CompleteWriteData(path tree.Path) tree.Node {
	return w.visible.CompleteNode(path)
}

// ShadowingWrite returns the write that makes server data at path
// irrelevant, or nil.
func (w *WriteTree) ShadowingWrite(path tree.Path) tree.Node {
	return w.visible.CompleteNode(path)
}

// CalcCompleteEventCache layers pending writes at treePath on top of the
// server cache. serverCache may be nil when unknown; the result is nil when
// it cannot be determined. Writes listed in excludeIDs are ignored and hidden
// writes are included when includeHidden is set.
func (w *WriteTree) CalcCompleteEventCache(treePath tree.Path, serverCache tree.Node, excludeIDs []int64, includeHidden bool) tree.Node {
	if len(excludeIDs) == 0 && !includeHidden {
		if shadowing := w.visible.CompleteNode(treePath); shadowing != nil {
			return shadowing
		}
		sub := w.visible.ChildCompoundWrite(treePath)
		switch {
		case sub.IsEmpty():
			return serverCache
		case serverCache == nil && !sub.HasCompleteWrite(tree.EmptyPath()):
			return nil
		}
		return sub.Apply(orEmpty(serverCache))
	}

	merge := w.visible.ChildCompoundWrite(treePath)
	if !includeHidden && merge.IsEmpty() {
		return serverCache
	}
	if !includeHidden && serverCache == nil && !merge.HasCompleteWrite(tree.EmptyPath()) {
		return nil
	}
	filter := func(r Record) bool {
		return (r.Visible || includeHidden) &&
			!slices.Contains(excludeIDs, r.ID) &&
			r.overlaps(treePath)
	}
	return w.layerTree(filter, treePath).Apply(orEmpty(serverCache))
}

// CalcCompleteEventChildren returns the children at treePath with pending
// writes applied. serverChildren may be nil, in which case only children
// the overlay fully resolves are returned.
func (w *WriteTree) CalcCompleteEventChildren(treePath tree.Path, serverChildren tree.Node) tree.Node {
	complete := tree.Empty
	if top := w.visible.CompleteNode(treePath); top != nil {
		if !top.IsLeaf() {
			top.ForEachChild(tree.PriorityIndex, func(name string, child tree.Node) bool {
				complete = complete.UpdateImmediateChild(name, child)
				return false
			})
		}
		return complete
	}

	merge := w.visible.ChildCompoundWrite(treePath)
	if serverChildren != nil {
		serverChildren.ForEachChild(tree.PriorityIndex, func(name string, child tree.Node) bool {
			applied := merge.ChildCompoundWrite(tree.NewPath(name)).Apply(child)
			complete = complete.UpdateImmediateChild(name, applied)
			return false
		})
	}
	for _, nn := range merge.CompleteChildren() {
		complete = complete.UpdateImmediateChild(nn.Name, nn.Node)
	}
	return complete
}

// CalcEventCacheAfterServerOverwrite returns the new event data at
// treePath/childPath after the server overwrote it, or nil when a pending
// write still shadows it.
func (w *WriteTree) CalcEventCacheAfterServerOverwrite(treePath, childPath tree.Path, eventSnap, serverSnap tree.Node) tree.Node {
	if eventSnap == nil && serverSnap == nil {
		w.fatal(ErrNoBaseSnapshot, "Cannot recompute event cache without a base snapshot",
			log.Stringer("path", treePath.ChildPath(childPath)),
		)
	}
	path := treePath.ChildPath(childPath)
	if w.visible.HasCompleteWrite(path) {
		return nil
	}
	serverChild := orEmpty(serverSnap).Child(childPath)
	childMerge := w.visible.ChildCompoundWrite(path)
	if childMerge.IsEmpty() {
		return serverChild
	}
	return childMerge.Apply(serverChild)
}

// CalcCompleteChild returns the complete value of treePath/name, or nil
// when neither the overlay nor the server cache can say.
func (w *WriteTree) CalcCompleteChild(treePath tree.Path, name string, server CompleteChildCache) tree.Node {
	path := treePath.Child(name)
	if shadowing := w.visible.CompleteNode(path); shadowing != nil {
		return shadowing
	}
	if !server.IsCompleteForChild(name) {
		return nil
	}
	return w.visible.ChildCompoundWrite(path).Apply(server.Node().ImmediateChild(name))
}

// CalcIndexedSlice returns up to count children of treePath strictly past
// post under index, walking backwards when reverse is set. It is used to
// refill a limited window.
func (w *WriteTree) CalcIndexedSlice(treePath tree.Path, serverData tree.Node, post tree.NamedNode, count int, reverse bool, index tree.Index) []tree.NamedNode {
	merge := w.visible.ChildCompoundWrite(treePath)
	var toIterate tree.Node
	if shadowing := merge.CompleteNode(tree.EmptyPath()); shadowing != nil {
		toIterate = shadowing
	} else if serverData != nil {
		toIterate = merge.Apply(serverData)
	} else {
		return nil
	}

	toIterate = toIterate.WithIndex(index)
	if toIterate.IsEmpty() || toIterate.IsLeaf() || count <= 0 {
		return nil
	}
	var nodes []tree.NamedNode
	visit := func(nn tree.NamedNode) bool {
		if index.Compare(nn, post) != 0 {
			nodes = append(nodes, nn)
		}
		return len(nodes) < count
	}
	if reverse {
		toIterate.DescendFrom(post, index, visit)
	} else {
		toIterate.AscendFrom(post, index, visit)
	}
	return nodes
}

// ChildWrites returns a view of the tree scoped to path.
func (w *WriteTree) ChildWrites(path tree.Path) *Ref {
	return &Ref{path: path, tree: w}
}

func orEmpty(n tree.Node) tree.Node {
	if n == nil {
		return tree.Empty
	}
	return n
}
