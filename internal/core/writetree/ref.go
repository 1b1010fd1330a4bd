package writetree

import "github.com/zeusync/treesync/internal/core/tree"

// Ref is a WriteTree seen from a fixed path. It is the only handle a view
// gets on pending writes.
type Ref struct {
	path tree.Path
	tree *WriteTree
}

func (r *Ref) Path() tree.Path { return r.path }

// Child descends one level.
func (r *Ref) Child(name string) *Ref {
	return &Ref{path: r.path.Child(name), tree: r.tree}
}

func (r *Ref) CalcCompleteEventCache(serverCache tree.Node, excludeIDs []int64, includeHidden bool) tree.Node {
	return r.tree.CalcCompleteEventCache(r.path, serverCache, excludeIDs, includeHidden)
}

func (r *Ref) CalcCompleteEventChildren(serverChildren tree.Node) tree.Node {
	return r.tree.CalcCompleteEventChildren(r.path, serverChildren)
}

func (r *Ref) CalcEventCacheAfterServerOverwrite(path tree.Path, eventSnap, serverSnap tree.Node) tree.Node {
	return r.tree.CalcEventCacheAfterServerOverwrite(r.path, path, eventSnap, serverSnap)
}

func (r *Ref) ShadowingWrite(path tree.Path) tree.Node {
	return r.tree.ShadowingWrite(r.path.ChildPath(path))
}

func (r *Ref) CalcIndexedSlice(serverData tree.Node, post tree.NamedNode, count int, reverse bool, index tree.Index) []tree.NamedNode {
	return r.tree.CalcIndexedSlice(r.path, serverData, post, count, reverse, index)
}

func (r *Ref) CalcCompleteChild(name string, server CompleteChildCache) tree.Node {
	return r.tree.CalcCompleteChild(r.path, name, server)
}
