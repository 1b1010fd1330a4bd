package synctree

import (
	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/view"
)

// Tag identifies a filtered query on the wire. Server data for a filtered
// query arrives tagged so it can be routed to that query's view only.
type Tag uint64

// NoTag is used for queries that load all data at their path.
const NoTag Tag = 0

// HashFunc returns the content hash of the data a listen already has.
type HashFunc func() uint64

// CompleteFunc is invoked once the remote side has answered a listen. A
// non-nil err cancels every registration on the query.
type CompleteFunc func(err error) []view.Event

// ListenProvider opens and closes remote listens on behalf of a SyncTree.
type ListenProvider interface {
	StartListening(query filter.Query, tag Tag, hash HashFunc, onComplete CompleteFunc) []view.Event
	StopListening(query filter.Query, tag Tag)
}

// TagGenerator hands out tags in increasing order.
type TagGenerator struct {
	next Tag
}

func NewTagGenerator(first Tag) *TagGenerator {
	if first == NoTag {
		first = 1
	}
	return &TagGenerator{next: first}
}

func (g *TagGenerator) Next() Tag {
	t := g.next
	g.next++
	return t
}

// queryForListening maps a query that loads all data to its default query,
// since the remote side sends the same data for both.
func queryForListening(q filter.Query) filter.Query {
	if q.Params.LoadsAllData() && !q.Params.IsDefault() {
		return q.Default()
	}
	return q
}
