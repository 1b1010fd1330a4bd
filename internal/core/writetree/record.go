package writetree

import (
	"github.com/zeusync/treesync/internal/core/tree"
)

// Record is a single pending user write. Exactly one of Snap and Children
// is set: Snap for an overwrite, Children for a merge.
type Record struct {
	ID       int64
	Path     tree.Path
	Snap     tree.Node
	Children map[string]tree.Node
	Visible  bool
}

// IsMerge reports whether the record came from AddMerge.
func (r Record) IsMerge() bool { return r.Snap == nil }

// containsPath reports whether the record fully replaces path.
func (r Record) containsPath(path tree.Path) bool {
	if !r.IsMerge() {
		return r.Path.Contains(path)
	}
	for name := range r.Children {
		if r.Path.ChildPath(tree.ParsePath(name)).Contains(path) {
			return true
		}
	}
	return false
}

// overlaps reports whether the record touches path or anything beneath or
// above it.
func (r Record) overlaps(path tree.Path) bool {
	return r.Path.Contains(path) || path.Contains(r.Path)
}
