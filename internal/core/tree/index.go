package tree

// Index is an ordering over the children of a node. Every ordering breaks
// ties by key, so two distinct children never compare equal.
type Index interface {
	Compare(a, b NamedNode) int
	// IndexedValueChanged reports whether a child moved under this ordering.
	IndexedValueChanged(oldNode, newNode Node) bool
	MinPost() NamedNode
	MaxPost() NamedNode
	// MakePost builds a boundary for range queries.
	MakePost(value any, name string) NamedNode
	String() string
}

var (
	PriorityIndex Index = priorityIndex{}
	KeyIndex      Index = keyIndex{}
	ValueIndex    Index = valueIndex{}
)

const postValue = "[PRIORITY-POST]"

type priorityIndex struct{}

func (priorityIndex) Compare(a, b NamedNode) int {
	if c := CompareNodes(a.Node.Priority(), b.Node.Priority()); c != 0 {
		return c
	}
	return NameCompare(a.Name, b.Name)
}

func (priorityIndex) IndexedValueChanged(oldNode, newNode Node) bool {
	return !oldNode.Priority().Equal(newNode.Priority())
}

func (priorityIndex) MinPost() NamedNode { return NamedNode{Name: MinName, Node: Empty} }

func (priorityIndex) MaxPost() NamedNode {
	return NamedNode{Name: MaxName, Node: &LeafNode{value: postValue, priority: maxNode}}
}

func (priorityIndex) MakePost(value any, name string) NamedNode {
	return NamedNode{Name: name, Node: NewLeaf(postValue, NodeFromValue(value))}
}

func (priorityIndex) String() string { return ".priority" }

type keyIndex struct{}

func (keyIndex) Compare(a, b NamedNode) int         { return NameCompare(a.Name, b.Name) }
func (keyIndex) IndexedValueChanged(_, _ Node) bool { return false }
func (keyIndex) MinPost() NamedNode                 { return NamedNode{Name: MinName, Node: Empty} }
func (keyIndex) MaxPost() NamedNode                 { return NamedNode{Name: MaxName, Node: Empty} }
func (keyIndex) String() string                     { return ".key" }

func (keyIndex) MakePost(value any, _ string) NamedNode {
	name, _ := value.(string)
	return NamedNode{Name: name, Node: Empty}
}

type valueIndex struct{}

func (valueIndex) Compare(a, b NamedNode) int {
	if c := CompareNodes(a.Node, b.Node); c != 0 {
		return c
	}
	return NameCompare(a.Name, b.Name)
}

func (valueIndex) IndexedValueChanged(oldNode, newNode Node) bool { return !oldNode.Equal(newNode) }
func (valueIndex) MinPost() NamedNode                             { return NamedNode{Name: MinName, Node: Empty} }
func (valueIndex) MaxPost() NamedNode                             { return NamedNode{Name: MaxName, Node: maxNode} }
func (valueIndex) String() string                                 { return ".value" }

func (valueIndex) MakePost(value any, name string) NamedNode {
	return NamedNode{Name: name, Node: NodeFromValue(value)}
}

// PathIndex orders children by the value found at path beneath each child.
func PathIndex(path Path) Index {
	return &pathIndex{path: path}
}

type pathIndex struct {
	path Path
}

func (p *pathIndex) Compare(a, b NamedNode) int {
	if c := CompareNodes(a.Node.Child(p.path), b.Node.Child(p.path)); c != 0 {
		return c
	}
	return NameCompare(a.Name, b.Name)
}

func (p *pathIndex) IndexedValueChanged(oldNode, newNode Node) bool {
	return !oldNode.Child(p.path).Equal(newNode.Child(p.path))
}

func (p *pathIndex) MinPost() NamedNode { return NamedNode{Name: MinName, Node: Empty} }

func (p *pathIndex) MaxPost() NamedNode {
	return NamedNode{Name: MaxName, Node: Empty.UpdateChild(p.path, maxNode)}
}

func (p *pathIndex) MakePost(value any, name string) NamedNode {
	return NamedNode{Name: name, Node: Empty.UpdateChild(p.path, NodeFromValue(value))}
}

func (p *pathIndex) String() string { return p.path.String() }
