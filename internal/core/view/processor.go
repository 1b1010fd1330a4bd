package view

import (
	"fmt"
	"slices"

	"github.com/zeusync/treesync/internal/core/change"
	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/operation"
	"github.com/zeusync/treesync/internal/core/overlay"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/writetree"
)

type settings struct {
	logger log.Log
}

type Option func(*settings)

// WithLogger sets the logger used by processors and views.
func WithLogger(logger log.Log) Option {
	return func(s *settings) { s.logger = logger }
}

func newSettings(opts []Option) settings {
	s := settings{logger: log.Nop()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Result is the outcome of applying one operation to a view cache. Changes
// are already in delivery order.
type Result struct {
	ViewCache ViewCache
	Changes   []change.Change
}

// Processor applies operations to the ViewCache of one query.
type Processor struct {
	filter filter.NodeFilter
	logger log.Log
}

func NewProcessor(f filter.NodeFilter, opts ...Option) *Processor {
	s := newSettings(opts)
	return &Processor{filter: f, logger: s.logger}
}

func (p *Processor) Filter() filter.NodeFilter { return p.filter }

func (p *Processor) fatal(err error, msg string, fields ...log.Field) {
	p.logger.Error(msg, append(fields, log.Error(err))...)
	panic(err)
}

// ApplyOperation computes the new view cache after op and the changes a
// user of the view observes. writes is scoped to the view's location and
// completeCache, when not nil, is complete server data for that location
// known from elsewhere in the tree.
func (p *Processor) ApplyOperation(old ViewCache, op operation.Operation, writes *writetree.Ref, completeCache tree.Node) Result {
	acc := change.NewAccumulator()
	var next ViewCache

	switch o := op.(type) {
	case *operation.Overwrite:
		src := p.checkSource(o)
		if src.FromUser {
			next = p.applyUserOverwrite(old, o.Path(), o.Snap, writes, completeCache, acc)
		} else {
			// Tagged data is always filtered. Untagged data below the root keeps
			// an already filtered cache filtered; at the root it may unfilter it.
			filterServerNode := src.Tagged || (old.ServerCache.IsFiltered() && !o.Path().IsEmpty())
			next = p.applyServerOverwrite(old, o.Path(), o.Snap, writes, completeCache, filterServerNode, acc)
		}
	case *operation.Merge:
		src := p.checkSource(o)
		if src.FromUser {
			next = p.applyUserMerge(old, o.Path(), o.Children, writes, completeCache, acc)
		} else {
			filterServerNode := src.Tagged || old.ServerCache.IsFiltered()
			next = p.applyServerMerge(old, o.Path(), o.Children, writes, completeCache, filterServerNode, acc)
		}
	case *operation.AckUserWrite:
		if o.Revert {
			next = p.revertUserWrite(old, o.Path(), writes, completeCache, acc)
		} else {
			next = p.ackUserWrite(old, o.Path(), o.AffectedTree, writes, completeCache, acc)
		}
	case *operation.ListenComplete:
		next = p.listenComplete(old, o.Path(), writes, acc)
	default:
		p.fatal(fmt.Errorf("%w: %T", ErrUnknownOperation, op), "Cannot apply operation")
	}

	changes := maybeAddValueEvent(old, next, acc.Changes())
	return Result{ViewCache: next, Changes: p.order(changes, next.EventCache.Node())}
}

func (p *Processor) checkSource(op operation.Operation) operation.Source {
	src := op.Source()
	if !src.FromUser && !src.FromServer {
		p.fatal(fmt.Errorf("%w: %s", ErrUnknownSource, op.Kind()), "Cannot apply operation",
			log.Stringer("path", op.Path()),
		)
	}
	return src
}

// maybeAddValueEvent appends a value change when the event snapshot is
// complete and something observable about it changed.
func maybeAddValueEvent(old, next ViewCache, changes []change.Change) []change.Change {
	eventSnap := next.EventCache
	if !eventSnap.IsFullyInitialized() {
		return changes
	}
	node := eventSnap.Node()
	if len(changes) > 0 || !old.EventCache.IsFullyInitialized() {
		return append(changes, change.NewValue(node))
	}
	oldComplete := old.CompleteEventSnap()
	isLeafOrEmpty := node.IsLeaf() || node.IsEmpty()
	if (isLeafOrEmpty && !node.Equal(oldComplete)) || !node.Priority().Equal(oldComplete.Priority()) {
		return append(changes, change.NewValue(node))
	}
	return changes
}

// order puts changes into delivery order: removed, added, moved, changed,
// then value. Within a kind children follow the view's index. A changed
// child whose indexed value changed is also reported as moved. Added,
// moved and changed entries get the name of their predecessor in eventSnap.
func (p *Processor) order(changes []change.Change, eventSnap tree.Node) []change.Change {
	index := p.filter.Index()
	var moves []change.Change
	for _, c := range changes {
		if c.Kind == change.ChildChanged && index.IndexedValueChanged(c.OldSnapshot, c.Snapshot) {
			moves = append(moves, change.NewChildMoved(c.ChildName, c.Snapshot))
		}
	}

	out := make([]change.Change, 0, len(changes)+len(moves))
	for _, kind := range change.Kinds {
		src := changes
		if kind == change.ChildMoved {
			src = moves
		}
		var group []change.Change
		for _, c := range src {
			if c.Kind == kind {
				group = append(group, c)
			}
		}
		if kind != change.Value {
			slices.SortStableFunc(group, func(a, b change.Change) int {
				return index.Compare(
					tree.NamedNode{Name: a.ChildName, Node: a.Snapshot},
					tree.NamedNode{Name: b.ChildName, Node: b.Snapshot},
				)
			})
		}
		for _, c := range group {
			switch c.Kind {
			case change.ChildAdded, change.ChildMoved, change.ChildChanged:
				if prev, ok := eventSnap.PredecessorChildName(c.ChildName, c.Snapshot, index); ok {
					c.PrevName = prev
				}
			}
			out = append(out, c)
		}
	}
	return out
}

func (p *Processor) eventCacheAfterServerEvent(vc ViewCache, changePath tree.Path, writes *writetree.Ref, source filter.CompleteChildSource, acc *change.Accumulator) ViewCache {
	oldEventSnap := vc.EventCache
	if writes.ShadowingWrite(changePath) != nil {
		return vc
	}

	var newEventCache tree.Node
	switch {
	case changePath.IsEmpty():
		if !vc.ServerCache.IsFullyInitialized() {
			p.fatal(ErrIncompleteServerCache, "Server event at the view root needs complete server data")
		}
		if vc.ServerCache.IsFiltered() {
			// Deep writes cannot be trusted to be complete over filtered
			// server data, so only complete children get writes applied.
			serverChildren := vc.CompleteServerSnap()
			if serverChildren.IsLeaf() {
				serverChildren = tree.Empty
			}
			complete := writes.CalcCompleteEventChildren(serverChildren)
			newEventCache = p.filter.UpdateFullNode(oldEventSnap.Node(), complete, acc)
		} else {
			complete := writes.CalcCompleteEventCache(vc.CompleteServerSnap(), nil, false)
			newEventCache = p.filter.UpdateFullNode(oldEventSnap.Node(), complete, acc)
		}

	case changePath.Front() == tree.PriorityKey:
		if changePath.Len() != 1 {
			p.fatal(fmt.Errorf("%w: %s", ErrInvalidPriorityPath, changePath), "Cannot apply server event")
		}
		oldEventNode := oldEventSnap.Node()
		updated := writes.CalcEventCacheAfterServerOverwrite(changePath, oldEventNode, vc.ServerCache.Node())
		if updated != nil {
			newEventCache = p.filter.UpdatePriority(oldEventNode, updated)
		} else {
			newEventCache = oldEventNode
		}

	default:
		childKey := changePath.Front()
		childChangePath := changePath.PopFront()
		var newEventChild tree.Node
		if oldEventSnap.IsCompleteForChild(childKey) {
			oldChild := oldEventSnap.Node().ImmediateChild(childKey)
			update := writes.CalcEventCacheAfterServerOverwrite(changePath, oldEventSnap.Node(), vc.ServerCache.Node())
			if update != nil {
				newEventChild = oldChild.UpdateChild(childChangePath, update)
			} else {
				newEventChild = oldChild
			}
		} else {
			newEventChild = writes.CalcCompleteChild(childKey, vc.ServerCache)
		}
		if newEventChild != nil {
			newEventCache = p.filter.UpdateChild(oldEventSnap.Node(), childKey, newEventChild, childChangePath, source, acc)
		} else {
			newEventCache = oldEventSnap.Node()
		}
	}

	return vc.UpdateEventSnap(newEventCache, oldEventSnap.IsFullyInitialized() || changePath.IsEmpty(), p.filter.FiltersNodes())
}

func (p *Processor) applyServerOverwrite(old ViewCache, changePath tree.Path, changedSnap tree.Node, writes *writetree.Ref, completeCache tree.Node, filterServerNode bool, acc *change.Accumulator) ViewCache {
	oldServerSnap := old.ServerCache
	serverFilter := p.filter
	if !filterServerNode {
		serverFilter = p.filter.IndexedFilter()
	}

	var newServerCache tree.Node
	switch {
	case changePath.IsEmpty():
		newServerCache = serverFilter.UpdateFullNode(oldServerSnap.Node(), changedSnap, nil)
	case serverFilter.FiltersNodes() && !oldServerSnap.IsFiltered():
		// The cache has never been filtered: filter it as a whole now.
		newServerNode := oldServerSnap.Node().UpdateChild(changePath, changedSnap)
		newServerCache = serverFilter.UpdateFullNode(oldServerSnap.Node(), newServerNode, nil)
	default:
		childKey := changePath.Front()
		if !oldServerSnap.IsCompleteForPath(changePath) && changePath.Len() > 1 {
			// Deep data for a child this view does not hold belongs to
			// another listener.
			return old
		}
		childChangePath := changePath.PopFront()
		newChildNode := oldServerSnap.Node().ImmediateChild(childKey).UpdateChild(childChangePath, changedSnap)
		if childKey == tree.PriorityKey {
			newServerCache = serverFilter.UpdatePriority(oldServerSnap.Node(), newChildNode)
		} else {
			newServerCache = serverFilter.UpdateChild(oldServerSnap.Node(), childKey, newChildNode, childChangePath, filter.NoCompleteChildSource{}, nil)
		}
	}

	next := old.UpdateServerSnap(newServerCache, oldServerSnap.IsFullyInitialized() || changePath.IsEmpty(), serverFilter.FiltersNodes())
	source := newWriteTreeSource(writes, next, completeCache)
	return p.eventCacheAfterServerEvent(next, changePath, writes, source, acc)
}

func (p *Processor) applyUserOverwrite(old ViewCache, changePath tree.Path, changedSnap tree.Node, writes *writetree.Ref, completeCache tree.Node, acc *change.Accumulator) ViewCache {
	oldEventSnap := old.EventCache
	source := newWriteTreeSource(writes, old, completeCache)

	if changePath.IsEmpty() {
		newEventCache := p.filter.UpdateFullNode(oldEventSnap.Node(), changedSnap, acc)
		return old.UpdateEventSnap(newEventCache, true, p.filter.FiltersNodes())
	}

	childKey := changePath.Front()
	if childKey == tree.PriorityKey {
		newEventCache := p.filter.UpdatePriority(oldEventSnap.Node(), changedSnap)
		return old.UpdateEventSnap(newEventCache, oldEventSnap.IsFullyInitialized(), oldEventSnap.IsFiltered())
	}

	childChangePath := changePath.PopFront()
	oldChild := oldEventSnap.Node().ImmediateChild(childKey)
	var newChild tree.Node
	if childChangePath.IsEmpty() {
		newChild = changedSnap
	} else {
		childNode := source.CompleteChild(childKey)
		switch {
		case childNode == nil:
			newChild = tree.Empty
		case childChangePath.Back() == tree.PriorityKey && childNode.Child(childChangePath.Parent()).IsEmpty():
			// A priority on a missing node arrives with the server's data.
			newChild = childNode
		default:
			newChild = childNode.UpdateChild(childChangePath, changedSnap)
		}
	}

	if oldChild.Equal(newChild) {
		return old
	}
	newEventSnap := p.filter.UpdateChild(oldEventSnap.Node(), childKey, newChild, childChangePath, source, acc)
	return old.UpdateEventSnap(newEventSnap, oldEventSnap.IsFullyInitialized(), p.filter.FiltersNodes())
}

// applyUserMerge applies the children the event cache already holds
// first, so a limited window evicts before it admits.
func (p *Processor) applyUserMerge(vc ViewCache, path tree.Path, changed *overlay.ImmutableTree[tree.Node], writes *writetree.Ref, completeCache tree.Node, acc *change.Accumulator) ViewCache {
	cur := vc
	for _, visible := range []bool{true, false} {
		changed.ForEach(func(rel tree.Path, child tree.Node) {
			writePath := path.ChildPath(rel)
			if vc.EventCache.IsCompleteForChild(writePath.Front()) == visible {
				cur = p.applyUserOverwrite(cur, writePath, child, writes, completeCache, acc)
			}
		})
	}
	return cur
}

func applyMerge(node tree.Node, merge *overlay.ImmutableTree[tree.Node]) tree.Node {
	merge.ForEach(func(rel tree.Path, child tree.Node) {
		node = node.UpdateChild(rel, child)
	})
	return node
}

func (p *Processor) applyServerMerge(vc ViewCache, path tree.Path, changed *overlay.ImmutableTree[tree.Node], writes *writetree.Ref, completeCache tree.Node, filterServerNode bool, acc *change.Accumulator) ViewCache {
	// Without any server data the merge was meant for an earlier listen at
	// this location; the complete data will follow.
	if vc.ServerCache.Node().IsEmpty() && !vc.ServerCache.IsFullyInitialized() {
		return vc
	}

	mergeTree := changed
	if !path.IsEmpty() {
		mergeTree = overlay.NewImmutableTree[tree.Node]().SetTree(path, changed)
	}
	serverNode := vc.ServerCache.Node()
	cur := vc

	// Children already in the cache go first, as for user merges.
	mergeTree.Children(func(childKey string, childTree *overlay.ImmutableTree[tree.Node]) bool {
		if serverNode.HasChild(childKey) {
			newChild := applyMerge(serverNode.ImmediateChild(childKey), childTree)
			cur = p.applyServerOverwrite(cur, tree.NewPath(childKey), newChild, writes, completeCache, filterServerNode, acc)
		}
		return true
	})
	mergeTree.Children(func(childKey string, childTree *overlay.ImmutableTree[tree.Node]) bool {
		// A deep merge into a child we know nothing about cannot be applied.
		unknownDeepMerge := !vc.ServerCache.IsCompleteForChild(childKey) && !childTree.HasValue()
		if !serverNode.HasChild(childKey) && !unknownDeepMerge {
			newChild := applyMerge(serverNode.ImmediateChild(childKey), childTree)
			cur = p.applyServerOverwrite(cur, tree.NewPath(childKey), newChild, writes, completeCache, filterServerNode, acc)
		}
		return true
	})
	return cur
}

// ackUserWrite re-applies the server data under the acknowledged write now
// that the write no longer shadows it.
func (p *Processor) ackUserWrite(vc ViewCache, ackPath tree.Path, affected *overlay.ImmutableTree[bool], writes *writetree.Ref, completeCache tree.Node, acc *change.Accumulator) ViewCache {
	if writes.ShadowingWrite(ackPath) != nil {
		return vc
	}

	filterServerNode := vc.ServerCache.IsFiltered()
	serverCache := vc.ServerCache

	if affected.HasValue() {
		switch {
		case (ackPath.IsEmpty() && serverCache.IsFullyInitialized()) || serverCache.IsCompleteForPath(ackPath):
			return p.applyServerOverwrite(vc, ackPath, serverCache.Node().Child(ackPath), writes, completeCache, filterServerNode, acc)
		case ackPath.IsEmpty():
			// Acked at the root without full data: replay what we have.
			changed := overlay.NewImmutableTree[tree.Node]()
			serverCache.Node().ForEachChild(tree.KeyIndex, func(name string, child tree.Node) bool {
				changed = changed.Set(tree.NewPath(name), child)
				return false
			})
			return p.applyServerMerge(vc, ackPath, changed, writes, completeCache, filterServerNode, acc)
		default:
			return vc
		}
	}

	changed := overlay.NewImmutableTree[tree.Node]()
	affected.ForEach(func(mergePath tree.Path, _ bool) {
		serverCachePath := ackPath.ChildPath(mergePath)
		if serverCache.IsCompleteForPath(serverCachePath) {
			changed = changed.Set(mergePath, serverCache.Node().Child(serverCachePath))
		}
	})
	return p.applyServerMerge(vc, ackPath, changed, writes, completeCache, filterServerNode, acc)
}

func (p *Processor) listenComplete(vc ViewCache, path tree.Path, writes *writetree.Ref, acc *change.Accumulator) ViewCache {
	server := vc.ServerCache
	next := vc.UpdateServerSnap(server.Node(), server.IsFullyInitialized() || path.IsEmpty(), server.IsFiltered())
	return p.eventCacheAfterServerEvent(next, path, writes, filter.NoCompleteChildSource{}, acc)
}

// revertUserWrite recomputes the event cache at path from server data and
// the writes that remain.
func (p *Processor) revertUserWrite(vc ViewCache, path tree.Path, writes *writetree.Ref, completeCache tree.Node, acc *change.Accumulator) ViewCache {
	if writes.ShadowingWrite(path) != nil {
		return vc
	}

	source := newWriteTreeSource(writes, vc, completeCache)
	oldEventCache := vc.EventCache.Node()
	var newEventCache tree.Node

	if path.IsEmpty() || path.Front() == tree.PriorityKey {
		var newNode tree.Node
		if vc.ServerCache.IsFullyInitialized() {
			newNode = writes.CalcCompleteEventCache(vc.CompleteServerSnap(), nil, false)
		} else {
			newNode = writes.CalcCompleteEventChildren(vc.ServerCache.Node())
		}
		newEventCache = p.filter.UpdateFullNode(oldEventCache, newNode, acc)
	} else {
		childKey := path.Front()
		newChild := writes.CalcCompleteChild(childKey, vc.ServerCache)
		if newChild == nil && vc.ServerCache.IsCompleteForChild(childKey) {
			newChild = oldEventCache.ImmediateChild(childKey)
		}
		switch {
		case newChild != nil:
			newEventCache = p.filter.UpdateChild(oldEventCache, childKey, newChild, path.PopFront(), source, acc)
		case vc.EventCache.Node().HasChild(childKey):
			// Nothing complete is left for the child: drop it.
			newEventCache = p.filter.UpdateChild(oldEventCache, childKey, tree.Empty, path.PopFront(), source, acc)
		default:
			newEventCache = oldEventCache
		}
		if newEventCache.IsEmpty() && vc.ServerCache.IsFullyInitialized() {
			// Every child write may be gone and the location a leaf again.
			complete := writes.CalcCompleteEventCache(vc.CompleteServerSnap(), nil, false)
			if complete.IsLeaf() {
				newEventCache = p.filter.UpdateFullNode(newEventCache, complete, acc)
			}
		}
	}

	complete := vc.ServerCache.IsFullyInitialized() || writes.ShadowingWrite(tree.EmptyPath()) != nil
	return vc.UpdateEventSnap(newEventCache, complete, p.filter.FiltersNodes())
}
