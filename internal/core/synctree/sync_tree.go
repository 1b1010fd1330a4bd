package synctree

import (
	"crypto/rand"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/operation"
	"github.com/zeusync/treesync/internal/core/overlay"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/view"
	"github.com/zeusync/treesync/internal/core/writetree"
)

// SyncTree routes user writes, server data and listen changes to the views
// of every query being listened to. It owns the pending writes and a sync
// point per listened path, and asks a ListenProvider to open the remote
// listens those queries need.
//
// A listen on a query that loads all data at a path covers every query at
// or below it, so only the root-most such listen is kept open remotely.
//
// SyncTree is not safe for concurrent use.
type SyncTree struct {
	provider ListenProvider
	writes   *writetree.WriteTree
	points   *overlay.ImmutableTree[*SyncPoint]

	tagToQuery map[Tag]filter.Query
	queryToTag map[string]Tag
	tags       *TagGenerator

	nextWriteID int64
	entropy     io.Reader
	now         func() time.Time
	logger      log.Log
}

type Option func(*SyncTree)

// WithLogger sets the logger shared by the tree, its pending writes and its
// views.
func WithLogger(logger log.Log) Option {
	return func(t *SyncTree) { t.logger = logger }
}

// WithTagGenerator replaces the source of query tags.
func WithTagGenerator(g *TagGenerator) Option {
	return func(t *SyncTree) { t.tags = g }
}

// WithEntropy sets the randomness behind push keys. It is wrapped in a
// monotonic source so keys made within one millisecond still sort in order.
func WithEntropy(r io.Reader) Option {
	return func(t *SyncTree) { t.entropy = ulid.Monotonic(r, 0) }
}

func WithClock(now func() time.Time) Option {
	return func(t *SyncTree) { t.now = now }
}

func New(provider ListenProvider, opts ...Option) *SyncTree {
	t := &SyncTree{
		provider:    provider,
		points:      overlay.NewImmutableTree[*SyncPoint](),
		tagToQuery:  make(map[Tag]filter.Query),
		queryToTag:  make(map[string]Tag),
		tags:        NewTagGenerator(1),
		nextWriteID: 1,
		entropy:     ulid.Monotonic(rand.Reader, 0),
		now:         time.Now,
		logger:      log.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.writes = writetree.New(writetree.WithLogger(t.logger))
	return t
}

// Writes exposes the pending user writes.
func (t *SyncTree) Writes() *writetree.WriteTree { return t.writes }

// NextWriteID returns an id greater than every write id seen so far.
func (t *SyncTree) NextWriteID() int64 {
	id := max(t.nextWriteID, t.writes.LastWriteID()+1)
	t.nextWriteID = id + 1
	return id
}

// PushKey returns a new child key. Keys sort in creation order.
func (t *SyncTree) PushKey() (string, error) {
	id, err := ulid.New(ulid.Timestamp(t.now()), t.entropy)
	if err != nil {
		return "", fmt.Errorf("generate push key: %w", err)
	}
	return id.String(), nil
}

// ApplyUserOverwrite records a user overwrite and applies it to every view
// it touches. A hidden write only affects later write computations.
func (t *SyncTree) ApplyUserOverwrite(path tree.Path, node tree.Node, writeID int64, visible bool) []view.Event {
	t.writes.AddOverwrite(path, node, writeID, visible)
	if !visible {
		return nil
	}
	return t.applyOperationToSyncPoints(operation.NewOverwrite(operation.User(), path, node))
}

func (t *SyncTree) ApplyUserMerge(path tree.Path, children map[string]tree.Node, writeID int64) []view.Event {
	t.writes.AddMerge(path, children, writeID)
	return t.applyOperationToSyncPoints(operation.NewMergeFromMap(operation.User(), path, children))
}

// AckUserWrite drops a pending write once the server has accepted it, or
// rolls it back when revert is set.
func (t *SyncTree) AckUserWrite(writeID int64, revert bool) []view.Event {
	record, _ := t.writes.Write(writeID)
	if !t.writes.RemoveWrite(writeID) {
		return nil
	}
	affected := overlay.NewImmutableTree[bool]()
	if record.IsMerge() {
		for name := range record.Children {
			affected = affected.Set(tree.ParsePath(name), true)
		}
	} else {
		affected = affected.Set(tree.EmptyPath(), true)
	}
	return t.applyOperationToSyncPoints(operation.NewAckUserWrite(record.Path, affected, revert))
}

func (t *SyncTree) ApplyServerOverwrite(path tree.Path, node tree.Node) []view.Event {
	return t.applyOperationToSyncPoints(operation.NewOverwrite(operation.Server(), path, node))
}

func (t *SyncTree) ApplyServerMerge(path tree.Path, children map[string]tree.Node) []view.Event {
	return t.applyOperationToSyncPoints(operation.NewMergeFromMap(operation.Server(), path, children))
}

func (t *SyncTree) ApplyListenComplete(path tree.Path) []view.Event {
	return t.applyOperationToSyncPoints(operation.NewListenComplete(operation.Server(), path))
}

// ApplyTaggedQueryOverwrite applies server data sent for the query with the
// given tag. Data for an unknown tag belongs to a query that was already
// removed and is dropped.
func (t *SyncTree) ApplyTaggedQueryOverwrite(path tree.Path, node tree.Node, tag Tag) []view.Event {
	query, ok := t.queryForTag(tag)
	if !ok {
		t.logger.Debug("Dropping overwrite for unknown tag", log.Uint64("tag", uint64(tag)))
		return nil
	}
	rel := tree.Relative(query.Path, path)
	op := operation.NewOverwrite(operation.ServerTagged(query.Identifier()), rel, node)
	return t.applyTaggedOperation(query.Path, op)
}

func (t *SyncTree) ApplyTaggedQueryMerge(path tree.Path, children map[string]tree.Node, tag Tag) []view.Event {
	query, ok := t.queryForTag(tag)
	if !ok {
		t.logger.Debug("Dropping merge for unknown tag", log.Uint64("tag", uint64(tag)))
		return nil
	}
	rel := tree.Relative(query.Path, path)
	op := operation.NewMergeFromMap(operation.ServerTagged(query.Identifier()), rel, children)
	return t.applyTaggedOperation(query.Path, op)
}

func (t *SyncTree) ApplyTaggedListenComplete(path tree.Path, tag Tag) []view.Event {
	query, ok := t.queryForTag(tag)
	if !ok {
		t.logger.Debug("Dropping listen complete for unknown tag", log.Uint64("tag", uint64(tag)))
		return nil
	}
	rel := tree.Relative(query.Path, path)
	op := operation.NewListenComplete(operation.ServerTagged(query.Identifier()), rel)
	return t.applyTaggedOperation(query.Path, op)
}

// AddEventRegistration attaches reg to query, opening a remote listen if no
// listen already covers it, and returns the initial events for reg.
func (t *SyncTree) AddEventRegistration(query filter.Query, reg *view.Registration) []view.Event {
	path := query.Path

	var serverCache tree.Node
	foundAncestorDefaultView := false
	t.points.ForEachOnPath(path, func(pathToPoint tree.Path, sp *SyncPoint) {
		if serverCache == nil {
			serverCache = sp.CompleteServerCache(tree.Relative(pathToPoint, path))
		}
		foundAncestorDefaultView = foundAncestorDefaultView || sp.HasCompleteView()
	})

	sp, ok := t.points.Get(path)
	if !ok {
		sp = newSyncPoint(t.logger)
		t.points = t.points.Set(path, sp)
	}

	serverCacheComplete := serverCache != nil
	if !serverCacheComplete {
		serverCache = tree.Empty
		t.points.Subtree(path).ForEachChild(func(name string, child *SyncPoint) {
			if node := child.CompleteServerCache(tree.EmptyPath()); node != nil {
				serverCache = serverCache.UpdateImmediateChild(name, node)
			}
		})
	}

	viewExists := sp.ViewExistsForQuery(query)
	if !viewExists && !query.Params.LoadsAllData() {
		key := query.Key()
		if _, ok := t.queryToTag[key]; ok {
			t.fatal(fmt.Errorf("%w: %s", ErrDuplicateTag, key), "Query already has a tag", log.String("query", key))
		}
		tag := t.tags.Next()
		t.queryToTag[key] = tag
		t.tagToQuery[tag] = query
	}

	events := sp.AddEventRegistration(query, reg, t.writes.ChildWrites(path), serverCache, serverCacheComplete)
	if !viewExists && !foundAncestorDefaultView {
		events = append(events, t.setupListener(query, sp.ViewForQuery(query))...)
	}
	return events
}

// RemoveEventRegistration detaches reg from query, or every registration
// when reg is nil. With a cancel error every registration at query is
// removed and receives a cancel event, and no listen is stopped remotely
// since the remote side already dropped it.
func (t *SyncTree) RemoveEventRegistration(query filter.Query, reg *view.Registration, cancelErr error) []view.Event {
	path := query.Path
	sp, ok := t.points.Get(path)
	if !ok || !(query.Params.IsDefault() || sp.ViewExistsForQuery(query)) {
		t.logger.Debug("No registration to remove", log.Stringer("query", query))
		return nil
	}

	removed, events := sp.RemoveEventRegistration(query, reg, cancelErr)
	if sp.IsEmpty() {
		t.points = t.points.Remove(path)
	}

	removingDefault := slices.ContainsFunc(removed, func(q filter.Query) bool { return q.Params.LoadsAllData() })
	_, covered := t.points.FindOnPath(path, func(_ tree.Path, sp *SyncPoint) bool { return sp.HasCompleteView() })

	if removingDefault && !covered {
		// Listens below were shadowed by the removed one.
		for _, v := range collectDistinctViews(t.points.Subtree(path)) {
			hash, onComplete := t.listenerForView(v)
			q := v.Query()
			t.provider.StartListening(queryForListening(q), t.tagForQuery(q), hash, onComplete)
		}
	}

	if !covered && len(removed) > 0 && cancelErr == nil {
		if removingDefault {
			t.provider.StopListening(queryForListening(query), NoTag)
		} else {
			for _, q := range removed {
				t.provider.StopListening(queryForListening(q), t.tagForQuery(q))
			}
		}
	}
	t.removeTags(removed)
	return events
}

// CalcCompleteEventCache returns what the client believes the data at path
// is, including hidden writes and excluding the given write ids. It returns
// nil when that is not known.
func (t *SyncTree) CalcCompleteEventCache(path tree.Path, excludeIDs []int64) tree.Node {
	var serverCache tree.Node
	t.points.FindOnPath(path, func(pathSoFar tree.Path, sp *SyncPoint) bool {
		serverCache = sp.CompleteServerCache(tree.Relative(pathSoFar, path))
		return serverCache != nil
	})
	return t.writes.CalcCompleteEventCache(path, serverCache, excludeIDs, true)
}

// ServerValue returns the best local answer for query without registering
// anything: cached server data with pending writes applied.
func (t *SyncTree) ServerValue(query filter.Query) tree.Node {
	path := query.Path
	var serverCache tree.Node
	t.points.ForEachOnPath(path, func(pathToPoint tree.Path, sp *SyncPoint) {
		if serverCache == nil {
			serverCache = sp.CompleteServerCache(tree.Relative(pathToPoint, path))
		}
	})
	sp, ok := t.points.Get(path)
	if !ok {
		sp = newSyncPoint(t.logger)
	}
	complete := serverCache != nil
	if !complete {
		serverCache = tree.Empty
	}
	v := sp.View(query, t.writes.ChildWrites(path), serverCache, complete)
	return v.CompleteNode()
}

func (t *SyncTree) fatal(err error, msg string, fields ...log.Field) {
	t.logger.Error(msg, append(fields, log.Error(err))...)
	panic(err)
}

func (t *SyncTree) queryForTag(tag Tag) (filter.Query, bool) {
	q, ok := t.tagToQuery[tag]
	return q, ok
}

func (t *SyncTree) tagForQuery(q filter.Query) Tag {
	return t.queryToTag[q.Key()]
}

func (t *SyncTree) removeTags(queries []filter.Query) {
	for _, q := range queries {
		if q.Params.LoadsAllData() {
			continue
		}
		key := q.Key()
		if tag, ok := t.queryToTag[key]; ok {
			delete(t.queryToTag, key)
			delete(t.tagToQuery, tag)
		}
	}
}

func (t *SyncTree) applyTaggedOperation(queryPath tree.Path, op operation.Operation) []view.Event {
	sp, ok := t.points.Get(queryPath)
	if !ok {
		t.fatal(fmt.Errorf("%w: %s", ErrMissingSyncPoint, queryPath), "Missing sync point for tagged query",
			log.Stringer("path", queryPath),
		)
	}
	return sp.ApplyOperation(op, t.writes.ChildWrites(queryPath), nil)
}

func (t *SyncTree) applyOperationToSyncPoints(op operation.Operation) []view.Event {
	return t.applyOperationHelper(op, t.points, nil, t.writes.ChildWrites(tree.EmptyPath()))
}

// applyOperationHelper walks down op's path, applying op to each sync point
// from the deepest up, then fans out to every point below the path.
func (t *SyncTree) applyOperationHelper(op operation.Operation, points *overlay.ImmutableTree[*SyncPoint], serverCache tree.Node, writes *writetree.Ref) []view.Event {
	if op.Path().IsEmpty() {
		return t.applyOperationDescendants(op, points, serverCache, writes)
	}
	sp, hasPoint := points.Value()
	if serverCache == nil && hasPoint {
		serverCache = sp.CompleteServerCache(tree.EmptyPath())
	}

	var events []view.Event
	name := op.Path().Front()
	childOp := op.ForChild(name)
	if childTree := points.Child(name); !childTree.IsEmpty() && childOp != nil {
		var childServerCache tree.Node
		if serverCache != nil {
			childServerCache = serverCache.ImmediateChild(name)
		}
		events = append(events, t.applyOperationHelper(childOp, childTree, childServerCache, writes.Child(name))...)
	}
	if hasPoint {
		events = append(events, sp.ApplyOperation(op, writes, serverCache)...)
	}
	return events
}

func (t *SyncTree) applyOperationDescendants(op operation.Operation, points *overlay.ImmutableTree[*SyncPoint], serverCache tree.Node, writes *writetree.Ref) []view.Event {
	sp, hasPoint := points.Value()
	if serverCache == nil && hasPoint {
		serverCache = sp.CompleteServerCache(tree.EmptyPath())
	}

	var events []view.Event
	points.Children(func(name string, childTree *overlay.ImmutableTree[*SyncPoint]) bool {
		var childServerCache tree.Node
		if serverCache != nil {
			childServerCache = serverCache.ImmediateChild(name)
		}
		if childOp := op.ForChild(name); childOp != nil {
			events = append(events, t.applyOperationDescendants(childOp, childTree, childServerCache, writes.Child(name))...)
		}
		return true
	})
	if hasPoint {
		events = append(events, sp.ApplyOperation(op, writes, serverCache)...)
	}
	return events
}

// setupListener opens the remote listen for query. A complete listen
// replaces every listen below it.
func (t *SyncTree) setupListener(query filter.Query, v *view.View) []view.Event {
	path := query.Path
	tag := t.tagForQuery(query)
	hash, onComplete := t.listenerForView(v)
	events := t.provider.StartListening(queryForListening(query), tag, hash, onComplete)

	subtree := t.points.Subtree(path)
	if tag != NoTag {
		if sp, ok := subtree.Value(); ok && sp.HasCompleteView() {
			t.fatal(fmt.Errorf("%w: %s", ErrShadowedListen, query), "Tagged listen under a complete view",
				log.Stringer("query", query),
			)
		}
		return events
	}

	shadowed := overlay.Fold(subtree, func(rel tree.Path, sp *SyncPoint, hasPoint bool, children map[string][]filter.Query) []filter.Query {
		if !rel.IsEmpty() && hasPoint && sp.HasCompleteView() {
			return []filter.Query{sp.CompleteView().Query()}
		}
		var queries []filter.Query
		if hasPoint {
			for _, qv := range sp.QueryViews() {
				queries = append(queries, qv.Query())
			}
		}
		for _, name := range sortedNames(children) {
			queries = append(queries, children[name]...)
		}
		return queries
	})
	for _, q := range shadowed {
		t.provider.StopListening(queryForListening(q), t.tagForQuery(q))
	}
	return events
}

func (t *SyncTree) listenerForView(v *view.View) (HashFunc, CompleteFunc) {
	query := v.Query()
	tag := t.tagForQuery(query)
	hash := func() uint64 { return v.ServerCache().Hash() }
	onComplete := func(err error) []view.Event {
		if err != nil {
			t.logger.Warn("Listen failed", log.Stringer("query", query), log.Error(err))
			return t.RemoveEventRegistration(query, nil, err)
		}
		if tag != NoTag {
			return t.ApplyTaggedListenComplete(query.Path, tag)
		}
		return t.ApplyListenComplete(query.Path)
	}
	return hash, onComplete
}

// collectDistinctViews returns the views whose listens are needed for a
// subtree: a complete view stands in for everything below it.
func collectDistinctViews(subtree *overlay.ImmutableTree[*SyncPoint]) []*view.View {
	return overlay.Fold(subtree, func(_ tree.Path, sp *SyncPoint, hasPoint bool, children map[string][]*view.View) []*view.View {
		if hasPoint && sp.HasCompleteView() {
			return []*view.View{sp.CompleteView()}
		}
		var views []*view.View
		if hasPoint {
			views = sp.QueryViews()
		}
		for _, name := range sortedNames(children) {
			views = append(views, children[name]...)
		}
		return views
	})
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.SortFunc(names, tree.NameCompare)
	return names
}
