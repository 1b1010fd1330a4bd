package view

import (
	"github.com/zeusync/treesync/internal/core/tree"
)

// CacheNode is a snapshot together with how much of it is known. A node
// that is not fully initialized only holds the children it has been told
// about; a filtered node holds what a query filter let through.
type CacheNode struct {
	node             tree.Node
	fullyInitialized bool
	filtered         bool
}

func NewCacheNode(node tree.Node, fullyInitialized, filtered bool) CacheNode {
	if node == nil {
		node = tree.Empty
	}
	return CacheNode{node: node, fullyInitialized: fullyInitialized, filtered: filtered}
}

func (c CacheNode) Node() tree.Node          { return c.node }
func (c CacheNode) IsFullyInitialized() bool { return c.fullyInitialized }
func (c CacheNode) IsFiltered() bool         { return c.filtered }

// IsCompleteForPath reports whether the data at path is fully known.
func (c CacheNode) IsCompleteForPath(path tree.Path) bool {
	if path.IsEmpty() {
		return c.fullyInitialized && !c.filtered
	}
	return c.IsCompleteForChild(path.Front())
}

// IsCompleteForChild reports whether the named child is fully known.
func (c CacheNode) IsCompleteForChild(name string) bool {
	return (c.fullyInitialized && !c.filtered) || c.node.HasChild(name)
}

// ViewCache pairs what the user sees (server data with pending writes
// applied) with what the server has sent.
type ViewCache struct {
	EventCache  CacheNode
	ServerCache CacheNode
}

func NewViewCache(eventCache, serverCache CacheNode) ViewCache {
	return ViewCache{EventCache: eventCache, ServerCache: serverCache}
}

func (v ViewCache) UpdateEventSnap(snap tree.Node, complete, filtered bool) ViewCache {
	return ViewCache{EventCache: NewCacheNode(snap, complete, filtered), ServerCache: v.ServerCache}
}

func (v ViewCache) UpdateServerSnap(snap tree.Node, complete, filtered bool) ViewCache {
	return ViewCache{EventCache: v.EventCache, ServerCache: NewCacheNode(snap, complete, filtered)}
}

// CompleteEventSnap returns the event snapshot, or nil if it is not fully
// initialized.
func (v ViewCache) CompleteEventSnap() tree.Node {
	if v.EventCache.fullyInitialized {
		return v.EventCache.node
	}
	return nil
}

// CompleteServerSnap returns the server snapshot, or nil if it is not fully
// initialized.
func (v ViewCache) CompleteServerSnap() tree.Node {
	if v.ServerCache.fullyInitialized {
		return v.ServerCache.node
	}
	return nil
}
