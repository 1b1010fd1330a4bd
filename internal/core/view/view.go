package view

import (
	"slices"

	"github.com/zeusync/treesync/internal/core/change"
	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/operation"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/writetree"
)

// View is the live state of one query: its caches, its processor and the
// registrations that receive its events.
type View struct {
	query         filter.Query
	processor     *Processor
	cache         ViewCache
	registrations []*Registration
	logger        log.Log
}

// New builds a view from initial caches. The server cache is only ordered,
// never filtered, until tagged data for the query arrives.
func New(query filter.Query, initial ViewCache, opts ...Option) *View {
	s := newSettings(opts)
	params := query.Params
	indexFilter := filter.NewIndexed(params.Index())
	nodeFilter := params.NodeFilter()

	serverSnap := indexFilter.UpdateFullNode(tree.Empty, initial.ServerCache.Node(), nil)
	eventSnap := nodeFilter.UpdateFullNode(tree.Empty, initial.EventCache.Node(), nil)

	return &View{
		query:     query,
		processor: NewProcessor(nodeFilter, opts...),
		cache: NewViewCache(
			NewCacheNode(eventSnap, initial.EventCache.IsFullyInitialized(), nodeFilter.FiltersNodes()),
			NewCacheNode(serverSnap, initial.ServerCache.IsFullyInitialized(), indexFilter.FiltersNodes()),
		),
		logger: s.logger.With(log.String("query", query.Key())),
	}
}

func (v *View) Query() filter.Query { return v.query }
func (v *View) Cache() ViewCache    { return v.cache }

// ServerCache returns the server snapshot, complete or not.
func (v *View) ServerCache() tree.Node { return v.cache.ServerCache.Node() }

// CompleteNode returns the event snapshot, or nil if it is incomplete.
func (v *View) CompleteNode() tree.Node { return v.cache.CompleteEventSnap() }

// CompleteServerCache returns complete server data at path below the view,
// or nil. Filtered views only vouch for children they hold.
func (v *View) CompleteServerCache(path tree.Path) tree.Node {
	cache := v.cache.CompleteServerSnap()
	if cache == nil {
		return nil
	}
	if v.query.Params.LoadsAllData() || (!path.IsEmpty() && !cache.ImmediateChild(path.Front()).IsEmpty()) {
		return cache.Child(path)
	}
	return nil
}

func (v *View) IsEmpty() bool { return len(v.registrations) == 0 }

func (v *View) Registrations() []*Registration { return slices.Clone(v.registrations) }

func (v *View) AddEventRegistration(reg *Registration) {
	v.registrations = append(v.registrations, reg)
}

// RemoveEventRegistration removes reg, or every registration when reg is
// nil. With a cancel error every registration is removed and receives a
// cancel event.
func (v *View) RemoveEventRegistration(reg *Registration, cancelErr error) []Event {
	var events []Event
	if cancelErr != nil {
		if reg != nil {
			v.logger.Error("Cancel must remove every registration", log.String("registration", reg.ID()))
			panic(ErrCancelWithRegistration)
		}
		for _, r := range v.registrations {
			events = append(events, r.CreateCancelEvent(cancelErr, v.query.Path))
		}
	}
	if reg == nil {
		v.registrations = nil
		return events
	}
	if i := slices.IndexFunc(v.registrations, reg.Matches); i >= 0 {
		v.registrations = slices.Delete(v.registrations, i, i+1)
	}
	return events
}

// ApplyOperation applies op and returns the events for every registration.
func (v *View) ApplyOperation(op operation.Operation, writes *writetree.Ref, completeServerCache tree.Node) []Event {
	if op.Kind() == operation.KindMerge && op.Source().Tagged {
		if v.cache.CompleteServerSnap() == nil || v.cache.CompleteEventSnap() == nil {
			v.logger.Error("Tagged merge before the view has complete data", log.Stringer("path", op.Path()))
			panic(ErrIncompleteServerCache)
		}
	}
	result := v.processor.ApplyOperation(v.cache, op, writes, completeServerCache)
	v.cache = result.ViewCache
	if len(result.Changes) > 0 {
		v.logger.Debug("Applied operation",
			log.Stringer("operation", op.Kind()),
			log.Stringer("path", op.Path()),
			log.Int("changes", len(result.Changes)),
		)
	}
	return v.events(result.Changes, v.registrations)
}

// InitialEvents returns the events that bring a new registration up to
// date: an added event per child and a value event if the data is complete.
func (v *View) InitialEvents(reg *Registration) []Event {
	eventSnap := v.cache.EventCache
	var changes []change.Change
	if node := eventSnap.Node(); !node.IsLeaf() {
		node.ForEachChild(tree.PriorityIndex, func(name string, child tree.Node) bool {
			changes = append(changes, change.NewChildAdded(name, child))
			return false
		})
	}
	if eventSnap.IsFullyInitialized() {
		changes = append(changes, change.NewValue(eventSnap.Node()))
	}
	return v.events(v.processor.order(changes, eventSnap.Node()), []*Registration{reg})
}

func (v *View) events(changes []change.Change, registrations []*Registration) []Event {
	var events []Event
	for _, c := range changes {
		for _, r := range registrations {
			if r.RespondsTo(c.Kind) {
				events = append(events, r.CreateEvent(c, v.query.Path))
			}
		}
	}
	return events
}
