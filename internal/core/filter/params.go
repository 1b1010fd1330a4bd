package filter

import (
	"encoding/json"
	"fmt"

	"github.com/zeusync/treesync/internal/core/tree"
)

const (
	viewFromLeft  = "l"
	viewFromRight = "r"

	// DefaultIdentifier names the query that loads everything in priority order.
	DefaultIdentifier = "default"
)

// QueryParams describes ordering, range and limit of a query. The zero value
// is the default query. Builders return modified copies.
type QueryParams struct {
	index tree.Index

	limitSet bool
	limit    int
	viewFrom string

	startSet      bool
	startValue    any
	startName     string
	startNameSet  bool
	startAfterSet bool

	endSet       bool
	endValue     any
	endName      string
	endNameSet   bool
	endBeforeSet bool
}

// DefaultParams returns the params of a plain listen.
func DefaultParams() QueryParams { return QueryParams{} }

func (q QueryParams) Index() tree.Index {
	if q.index == nil {
		return tree.PriorityIndex
	}
	return q.index
}

func (q QueryParams) HasStart() bool      { return q.startSet }
func (q QueryParams) HasEnd() bool        { return q.endSet }
func (q QueryParams) HasLimit() bool      { return q.limitSet }
func (q QueryParams) HasStartAfter() bool { return q.startAfterSet }
func (q QueryParams) HasEndBefore() bool  { return q.endBeforeSet }
func (q QueryParams) Limit() int          { return q.limit }

// HasAnchoredLimit reports whether the limit counts from an explicit side.
func (q QueryParams) HasAnchoredLimit() bool { return q.limitSet && q.viewFrom != "" }

// IsViewFromLeft reports whether the limit window is counted from the start.
func (q QueryParams) IsViewFromLeft() bool {
	if q.viewFrom == "" {
		return q.startSet
	}
	return q.viewFrom == viewFromLeft
}

// LoadsAllData reports whether the query sees every child.
func (q QueryParams) LoadsAllData() bool {
	return !(q.startSet || q.endSet || q.limitSet)
}

// IsDefault reports whether the query is a plain listen.
func (q QueryParams) IsDefault() bool {
	return q.LoadsAllData() && q.Index() == tree.PriorityIndex
}

func (q QueryParams) startPost() tree.NamedNode {
	if !q.startSet {
		return q.Index().MinPost()
	}
	name := tree.MinName
	if q.startNameSet {
		name = q.startName
	}
	return q.Index().MakePost(q.startValue, name)
}

func (q QueryParams) endPost() tree.NamedNode {
	if !q.endSet {
		return q.Index().MaxPost()
	}
	name := tree.MaxName
	if q.endNameSet {
		name = q.endName
	}
	return q.Index().MakePost(q.endValue, name)
}

func (q QueryParams) OrderBy(index tree.Index) QueryParams {
	q.index = index
	return q
}

func (q QueryParams) OrderByKey() QueryParams      { return q.OrderBy(tree.KeyIndex) }
func (q QueryParams) OrderByValue() QueryParams    { return q.OrderBy(tree.ValueIndex) }
func (q QueryParams) OrderByPriority() QueryParams { return q.OrderBy(tree.PriorityIndex) }

// OrderByChild orders by the value at path beneath each child.
func (q QueryParams) OrderByChild(path string) QueryParams {
	p := tree.ParsePath(path)
	if p.IsEmpty() {
		panic(fmt.Errorf("%w: order by child needs a non-empty path", ErrInvalidQuery))
	}
	return q.OrderBy(tree.PathIndex(p))
}

func checkBoundValue(value any) {
	if value == nil {
		return
	}
	if n := tree.NodeFromValue(value); !n.IsLeaf() {
		panic(fmt.Errorf("%w: range bounds must be scalars, got %T", ErrInvalidQuery, value))
	}
}

// StartAt includes children from value onwards. An optional key breaks ties
// between children with the same indexed value.
func (q QueryParams) StartAt(value any, key ...string) QueryParams {
	checkBoundValue(value)
	q.startSet = true
	q.startAfterSet = false
	q.startValue = value
	q.startName, q.startNameSet = "", false
	if len(key) > 0 {
		q.startName, q.startNameSet = key[0], true
	}
	return q
}

// StartAfter is StartAt excluding the bound itself.
func (q QueryParams) StartAfter(value any, key ...string) QueryParams {
	var next QueryParams
	if q.Index() == tree.KeyIndex {
		if s, ok := value.(string); ok {
			value = tree.Successor(s)
		}
		next = q.StartAt(value, key...)
	} else {
		name := tree.MaxName
		if len(key) > 0 {
			name = tree.Successor(key[0])
		}
		next = q.StartAt(value, name)
	}
	next.startAfterSet = true
	return next
}

// EndAt includes children up to and including value.
func (q QueryParams) EndAt(value any, key ...string) QueryParams {
	checkBoundValue(value)
	q.endSet = true
	q.endBeforeSet = false
	q.endValue = value
	q.endName, q.endNameSet = "", false
	if len(key) > 0 {
		q.endName, q.endNameSet = key[0], true
	}
	return q
}

// EndBefore is EndAt excluding the bound itself.
func (q QueryParams) EndBefore(value any, key ...string) QueryParams {
	var next QueryParams
	if q.Index() == tree.KeyIndex {
		if s, ok := value.(string); ok {
			value = tree.Predecessor(s)
		}
		next = q.EndAt(value, key...)
	} else {
		name := tree.MinName
		if len(key) > 0 {
			name = tree.Predecessor(key[0])
		}
		next = q.EndAt(value, name)
	}
	next.endBeforeSet = true
	return next
}

// EqualTo restricts the query to children whose indexed value is value.
func (q QueryParams) EqualTo(value any, key ...string) QueryParams {
	return q.StartAt(value, key...).EndAt(value, key...)
}

func checkLimit(limit int) {
	if limit <= 0 {
		panic(fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidQuery, limit))
	}
}

func (q QueryParams) LimitToFirst(limit int) QueryParams {
	checkLimit(limit)
	q.limitSet, q.limit, q.viewFrom = true, limit, viewFromLeft
	return q
}

func (q QueryParams) LimitToLast(limit int) QueryParams {
	checkLimit(limit)
	q.limitSet, q.limit, q.viewFrom = true, limit, viewFromRight
	return q
}

// NodeFilter compiles the params into the filter views use.
func (q QueryParams) NodeFilter() NodeFilter {
	switch {
	case q.LoadsAllData():
		return NewIndexed(q.Index())
	case q.limitSet:
		return NewLimited(q)
	default:
		return NewRanged(q)
	}
}

// QueryObject returns the params in their wire form.
func (q QueryParams) QueryObject() map[string]any {
	obj := make(map[string]any)
	if q.startSet {
		obj["sp"] = q.startValue
		if q.startNameSet {
			obj["sn"] = q.startName
		}
	}
	if q.endSet {
		obj["ep"] = q.endValue
		if q.endNameSet {
			obj["en"] = q.endName
		}
	}
	if q.limitSet {
		obj["l"] = q.limit
		viewFrom := q.viewFrom
		if viewFrom == "" {
			viewFrom = viewFromRight
			if q.IsViewFromLeft() {
				viewFrom = viewFromLeft
			}
		}
		obj["vf"] = viewFrom
	}
	if q.Index() != tree.PriorityIndex {
		obj["i"] = q.Index().String()
	}
	return obj
}

// Identifier is a stable key for the params: equal params always produce
// the same identifier.
func (q QueryParams) Identifier() string {
	if q.IsDefault() {
		return DefaultIdentifier
	}
	b, err := json.Marshal(q.QueryObject())
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrInvalidQuery, err))
	}
	return string(b)
}

func (q QueryParams) String() string { return q.Identifier() }
