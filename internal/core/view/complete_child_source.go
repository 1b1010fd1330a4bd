package view

import (
	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/writetree"
)

// writeTreeSource answers child lookups for filters from the event cache,
// falling back to server data with pending writes layered on top.
type writeTreeSource struct {
	writes              *writetree.Ref
	viewCache           ViewCache
	completeServerCache tree.Node
}

var _ filter.CompleteChildSource = writeTreeSource{}

func newWriteTreeSource(writes *writetree.Ref, viewCache ViewCache, completeServerCache tree.Node) writeTreeSource {
	return writeTreeSource{writes: writes, viewCache: viewCache, completeServerCache: completeServerCache}
}

func (s writeTreeSource) CompleteChild(name string) tree.Node {
	if event := s.viewCache.EventCache; event.IsCompleteForChild(name) {
		return event.Node().ImmediateChild(name)
	}
	server := s.viewCache.ServerCache
	if s.completeServerCache != nil {
		server = NewCacheNode(s.completeServerCache, true, false)
	}
	return s.writes.CalcCompleteChild(name, server)
}

func (s writeTreeSource) ChildAfterChild(index tree.Index, child tree.NamedNode, reverse bool) (tree.NamedNode, bool) {
	serverData := s.completeServerCache
	if serverData == nil {
		serverData = s.viewCache.CompleteServerSnap()
	}
	nodes := s.writes.CalcIndexedSlice(serverData, child, 1, reverse, index)
	if len(nodes) == 0 {
		return tree.NamedNode{}, false
	}
	return nodes[0], true
}
