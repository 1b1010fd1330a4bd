package tree

import (
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
)

const btreeDegree = 16

// ChildrenNode is a container of named children kept in key order, plus any
// number of secondary orderings registered through WithIndex.
type ChildrenNode struct {
	children *btree.BTreeG[NamedNode]
	indexes  []indexedChildren
	priority Node
	max      bool

	hashOnce sync.Once
	hash     uint64
}

type indexedChildren struct {
	index Index
	tree  *btree.BTreeG[NamedNode]
}

var _ Node = (*ChildrenNode)(nil)

var (
	// Empty is the node with no children and no priority.
	Empty Node = &ChildrenNode{children: btree.NewG(btreeDegree, keyLess)}

	// maxNode sorts after every other node. It only appears inside index posts.
	maxNode Node = &ChildrenNode{children: btree.NewG(btreeDegree, keyLess), max: true}
)

func keyLess(a, b NamedNode) bool { return NameCompare(a.Name, b.Name) < 0 }

func lessFor(index Index) btree.LessFunc[NamedNode] {
	return func(a, b NamedNode) bool { return index.Compare(a, b) < 0 }
}

func (c *ChildrenNode) IsLeaf() bool  { return false }
func (c *ChildrenNode) IsEmpty() bool { return !c.max && c.children.Len() == 0 }

func (c *ChildrenNode) Value() any {
	if c.IsEmpty() {
		return nil
	}
	out := make(map[string]any, c.children.Len())
	c.children.Ascend(func(n NamedNode) bool {
		out[n.Name] = n.Node.Value()
		return true
	})
	return out
}

func (c *ChildrenNode) Priority() Node {
	if c.priority == nil {
		return Empty
	}
	return c.priority
}

func (c *ChildrenNode) UpdatePriority(priority Node) Node {
	if c.children.Len() == 0 {
		return Empty
	}
	checkPriority(priority)
	return &ChildrenNode{children: c.children, indexes: c.indexes, priority: priority}
}

func (c *ChildrenNode) ImmediateChild(name string) Node {
	if name == PriorityKey {
		return c.Priority()
	}
	if n, ok := c.children.Get(NamedNode{Name: name}); ok {
		return n.Node
	}
	return Empty
}

func (c *ChildrenNode) Child(path Path) Node {
	if path.IsEmpty() {
		return c
	}
	return c.ImmediateChild(path.Front()).Child(path.PopFront())
}

func (c *ChildrenNode) HasChild(name string) bool { return !c.ImmediateChild(name).IsEmpty() }
func (c *ChildrenNode) NumChildren() int          { return c.children.Len() }

func (c *ChildrenNode) UpdateImmediateChild(name string, child Node) Node {
	if name == PriorityKey {
		return c.UpdatePriority(child)
	}
	old, had := c.children.Get(NamedNode{Name: name})
	if !had && child.IsEmpty() {
		return c
	}
	named := NamedNode{Name: name, Node: child}

	children := c.children.Clone()
	if child.IsEmpty() {
		children.Delete(named)
	} else {
		children.ReplaceOrInsert(named)
	}

	indexes := make([]indexedChildren, len(c.indexes))
	for i, ic := range c.indexes {
		t := ic.tree.Clone()
		if had {
			t.Delete(old)
		}
		if !child.IsEmpty() {
			t.ReplaceOrInsert(named)
		}
		indexes[i] = indexedChildren{index: ic.index, tree: t}
	}

	priority := c.priority
	if children.Len() == 0 {
		priority = nil
	}
	return &ChildrenNode{children: children, indexes: indexes, priority: priority}
}

func (c *ChildrenNode) UpdateChild(path Path, child Node) Node {
	front := path.Front()
	switch {
	case path.IsEmpty():
		return child
	case front == PriorityKey:
		if path.Len() != 1 {
			panic(fmt.Errorf("%w: %s", ErrPriorityPathTooLong, path))
		}
		return c.UpdatePriority(child)
	}
	updated := c.ImmediateChild(front).UpdateChild(path.PopFront(), child)
	return c.UpdateImmediateChild(front, updated)
}

func (c *ChildrenNode) ordered(index Index) *btree.BTreeG[NamedNode] {
	if index == nil || index == KeyIndex {
		return c.children
	}
	for _, ic := range c.indexes {
		if ic.index.String() == index.String() {
			return ic.tree
		}
	}
	t := btree.NewG(btreeDegree, lessFor(index))
	c.children.Ascend(func(n NamedNode) bool {
		t.ReplaceOrInsert(n)
		return true
	})
	return t
}

func (c *ChildrenNode) ForEachChild(index Index, fn func(name string, child Node) bool) bool {
	stopped := false
	c.ordered(index).Ascend(func(n NamedNode) bool {
		if fn(n.Name, n.Node) {
			stopped = true
			return false
		}
		return true
	})
	return stopped
}

func (c *ChildrenNode) WithIndex(index Index) Node {
	if c.IsIndexed(index) {
		return c
	}
	indexes := make([]indexedChildren, 0, len(c.indexes)+1)
	indexes = append(indexes, c.indexes...)
	indexes = append(indexes, indexedChildren{index: index, tree: c.ordered(index)})
	return &ChildrenNode{children: c.children, indexes: indexes, priority: c.priority, max: c.max}
}

func (c *ChildrenNode) IsIndexed(index Index) bool {
	if index == nil || index == KeyIndex {
		return true
	}
	for _, ic := range c.indexes {
		if ic.index.String() == index.String() {
			return true
		}
	}
	return false
}

func (c *ChildrenNode) FirstChild(index Index) (NamedNode, bool) { return c.ordered(index).Min() }
func (c *ChildrenNode) LastChild(index Index) (NamedNode, bool)  { return c.ordered(index).Max() }

func (c *ChildrenNode) PredecessorChildName(name string, child Node, index Index) (string, bool) {
	pivot := NamedNode{Name: name, Node: child}
	var (
		prev  string
		found bool
	)
	c.ordered(index).DescendLessOrEqual(pivot, func(n NamedNode) bool {
		if n.Name == name {
			return true
		}
		prev, found = n.Name, true
		return false
	})
	return prev, found
}

func (c *ChildrenNode) AscendFrom(post NamedNode, index Index, fn func(NamedNode) bool) {
	c.ordered(index).AscendGreaterOrEqual(post, fn)
}

func (c *ChildrenNode) DescendFrom(post NamedNode, index Index, fn func(NamedNode) bool) {
	c.ordered(index).DescendLessOrEqual(post, fn)
}

func (c *ChildrenNode) Hash() uint64 {
	c.hashOnce.Do(func() {
		if c.max {
			c.hash = math.MaxUint64
			return
		}
		d := xxhash.New()
		_, _ = d.Write([]byte{'C'})
		writeUint64(d, priorityHash(c.priority))
		c.children.Ascend(func(n NamedNode) bool {
			writeUint64(d, uint64(len(n.Name)))
			_, _ = d.WriteString(n.Name)
			writeUint64(d, n.Node.Hash())
			return true
		})
		c.hash = d.Sum64()
	})
	return c.hash
}

func (c *ChildrenNode) Equal(other Node) bool {
	o, ok := other.(*ChildrenNode)
	switch {
	case !ok:
		return false
	case c == o:
		return true
	case c.max || o.max:
		return false
	case c.IsEmpty() && o.IsEmpty():
		return true
	}
	return c.Hash() == o.Hash()
}

func (c *ChildrenNode) String() string {
	if c.max {
		return "[MAX_NODE]"
	}
	return fmt.Sprintf("%v", c.Value())
}
