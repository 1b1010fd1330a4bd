package filter

import (
	"github.com/zeusync/treesync/internal/core/tree"
)

// Query is a location plus the params that shape what is seen there.
type Query struct {
	Path   tree.Path
	Params QueryParams
}

func NewQuery(path tree.Path, params QueryParams) Query {
	return Query{Path: path, Params: params}
}

// DefaultQuery is a plain listen at path.
func DefaultQuery(path tree.Path) Query {
	return Query{Path: path}
}

func (q Query) Identifier() string { return q.Params.Identifier() }

// Key identifies the query across all locations.
func (q Query) Key() string {
	return q.Path.String() + "$" + q.Identifier()
}

// Default returns the plain listen at the same location.
func (q Query) Default() Query { return DefaultQuery(q.Path) }

func (q Query) String() string { return q.Key() }
