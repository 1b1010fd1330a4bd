package synctree

import (
	"fmt"

	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/operation"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/view"
	"github.com/zeusync/treesync/internal/core/writetree"
)

// SyncPoint holds the views for every query listened to at one path. Views
// are kept in the order they were added so events come out the same way on
// every run.
type SyncPoint struct {
	views  []*view.View
	logger log.Log
	opts   []view.Option
}

func newSyncPoint(logger log.Log) *SyncPoint {
	return &SyncPoint{
		logger: logger,
		opts:   []view.Option{view.WithLogger(logger)},
	}
}

func (sp *SyncPoint) IsEmpty() bool { return len(sp.views) == 0 }

func (sp *SyncPoint) index(queryID string) int {
	for i, v := range sp.views {
		if v.Query().Identifier() == queryID {
			return i
		}
	}
	return -1
}

// ApplyOperation applies op to the view it is tagged for, or to every view
// when it is untagged.
func (sp *SyncPoint) ApplyOperation(op operation.Operation, writes *writetree.Ref, completeServerCache tree.Node) []view.Event {
	if src := op.Source(); src.Tagged {
		i := sp.index(src.QueryID)
		if i < 0 {
			sp.logger.Error("Tagged operation for a query without a view",
				log.String("query", src.QueryID),
				log.Stringer("path", op.Path()),
			)
			panic(fmt.Errorf("%w: %s", ErrUnknownQuery, src.QueryID))
		}
		return sp.views[i].ApplyOperation(op, writes, completeServerCache)
	}
	var events []view.Event
	for _, v := range sp.views {
		events = append(events, v.ApplyOperation(op, writes, completeServerCache)...)
	}
	return events
}

// View returns the view for q, building a detached one from the given
// server data and pending writes when none exists yet.
func (sp *SyncPoint) View(q filter.Query, writes *writetree.Ref, serverCache tree.Node, serverCacheComplete bool) *view.View {
	if i := sp.index(q.Identifier()); i >= 0 {
		return sp.views[i]
	}
	var completeServer tree.Node
	if serverCacheComplete {
		completeServer = serverCache
	}
	eventCache := writes.CalcCompleteEventCache(completeServer, nil, false)
	eventCacheComplete := eventCache != nil
	if !eventCacheComplete {
		eventCache = tree.Empty
		if !serverCache.IsLeaf() {
			eventCache = writes.CalcCompleteEventChildren(serverCache)
		}
	}
	cache := view.NewViewCache(
		view.NewCacheNode(eventCache, eventCacheComplete, false),
		view.NewCacheNode(serverCache, serverCacheComplete, false),
	)
	return view.New(q, cache, sp.opts...)
}

// AddEventRegistration attaches reg to the view for q, creating the view if
// needed, and returns the initial events for reg.
func (sp *SyncPoint) AddEventRegistration(q filter.Query, reg *view.Registration, writes *writetree.Ref, serverCache tree.Node, serverCacheComplete bool) []view.Event {
	v := sp.View(q, writes, serverCache, serverCacheComplete)
	if sp.index(q.Identifier()) < 0 {
		sp.views = append(sp.views, v)
	}
	v.AddEventRegistration(reg)
	return v.InitialEvents(reg)
}

// RemoveEventRegistration detaches reg from the view for q, or from every
// view when q is the default query. It returns the filtered queries whose
// views became empty, plus the default query if the last complete view went
// away, together with any cancel events.
func (sp *SyncPoint) RemoveEventRegistration(q filter.Query, reg *view.Registration, cancelErr error) ([]filter.Query, []view.Event) {
	var (
		removed []filter.Query
		events  []view.Event
	)
	hadCompleteView := sp.HasCompleteView()

	detach := func(v *view.View) bool {
		events = append(events, v.RemoveEventRegistration(reg, cancelErr)...)
		if !v.IsEmpty() {
			return false
		}
		if !v.Query().Params.LoadsAllData() {
			removed = append(removed, v.Query())
		}
		return true
	}

	if q.Params.IsDefault() {
		kept := make([]*view.View, 0, len(sp.views))
		for _, v := range sp.views {
			if !detach(v) {
				kept = append(kept, v)
			}
		}
		sp.views = kept
	} else if i := sp.index(q.Identifier()); i >= 0 {
		if detach(sp.views[i]) {
			sp.views = append(sp.views[:i:i], sp.views[i+1:]...)
		}
	}

	if hadCompleteView && !sp.HasCompleteView() {
		removed = append(removed, filter.DefaultQuery(q.Path))
	}
	return removed, events
}

// QueryViews returns the views of filtered queries.
func (sp *SyncPoint) QueryViews() []*view.View {
	var views []*view.View
	for _, v := range sp.views {
		if !v.Query().Params.LoadsAllData() {
			views = append(views, v)
		}
	}
	return views
}

// CompleteServerCache returns server data at path known complete by any
// view, or nil.
func (sp *SyncPoint) CompleteServerCache(path tree.Path) tree.Node {
	for _, v := range sp.views {
		if node := v.CompleteServerCache(path); node != nil {
			return node
		}
	}
	return nil
}

// ViewForQuery returns the view that serves q. Any complete view serves a
// query that loads all data.
func (sp *SyncPoint) ViewForQuery(q filter.Query) *view.View {
	if q.Params.LoadsAllData() {
		return sp.CompleteView()
	}
	if i := sp.index(q.Identifier()); i >= 0 {
		return sp.views[i]
	}
	return nil
}

func (sp *SyncPoint) ViewExistsForQuery(q filter.Query) bool { return sp.ViewForQuery(q) != nil }

func (sp *SyncPoint) HasCompleteView() bool { return sp.CompleteView() != nil }

func (sp *SyncPoint) CompleteView() *view.View {
	for _, v := range sp.views {
		if v.Query().Params.LoadsAllData() {
			return v
		}
	}
	return nil
}
