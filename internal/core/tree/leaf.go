package tree

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	leafBool byte = iota + 1
	leafNumber
	leafString
)

// LeafNode holds a scalar: bool, float64 or string.
type LeafNode struct {
	value    any
	priority Node

	hashOnce sync.Once
	hash     uint64
}

var _ Node = (*LeafNode)(nil)

// NewLeaf builds a leaf. Numeric kinds are normalized to float64. A nil
// priority means Empty.
func NewLeaf(value any, priority Node) *LeafNode {
	v, ok := normalizeScalar(value)
	if !ok {
		panic(fmt.Errorf("%w: %T", ErrInvalidValue, value))
	}
	if priority == nil {
		priority = Empty
	}
	checkPriority(priority)
	return &LeafNode{value: v, priority: priority}
}

func checkPriority(priority Node) {
	if priority.IsEmpty() || priority == maxNode {
		return
	}
	leaf, ok := priority.(*LeafNode)
	if !ok {
		panic(fmt.Errorf("%w: got a container", ErrInvalidPriority))
	}
	if _, isBool := leaf.value.(bool); isBool {
		panic(fmt.Errorf("%w: got a boolean", ErrInvalidPriority))
	}
}

func normalizeScalar(value any) (any, bool) {
	switch v := value.(type) {
	case bool, string:
		return v, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return nil, false
}

func (l *LeafNode) IsLeaf() bool   { return true }
func (l *LeafNode) IsEmpty() bool  { return false }
func (l *LeafNode) Value() any     { return l.value }
func (l *LeafNode) Priority() Node { return l.priority }

func (l *LeafNode) UpdatePriority(priority Node) Node {
	return NewLeaf(l.value, priority)
}

func (l *LeafNode) ImmediateChild(name string) Node {
	if name == PriorityKey {
		return l.priority
	}
	return Empty
}

func (l *LeafNode) Child(path Path) Node {
	switch {
	case path.IsEmpty():
		return l
	case path.Front() == PriorityKey:
		return l.priority
	}
	return Empty
}

func (l *LeafNode) HasChild(string) bool { return false }
func (l *LeafNode) NumChildren() int     { return 0 }

func (l *LeafNode) UpdateImmediateChild(name string, child Node) Node {
	switch {
	case name == PriorityKey:
		return l.UpdatePriority(child)
	case child.IsEmpty():
		return l
	}
	return Empty.UpdateImmediateChild(name, child).UpdatePriority(l.priority)
}

func (l *LeafNode) UpdateChild(path Path, child Node) Node {
	front := path.Front()
	switch {
	case path.IsEmpty():
		return child
	case child.IsEmpty() && front != PriorityKey:
		return l
	case front == PriorityKey && path.Len() != 1:
		panic(fmt.Errorf("%w: %s", ErrPriorityPathTooLong, path))
	}
	return l.UpdateImmediateChild(front, Empty.UpdateChild(path.PopFront(), child))
}

func (l *LeafNode) ForEachChild(Index, func(string, Node) bool) bool { return false }
func (l *LeafNode) WithIndex(Index) Node                             { return l }
func (l *LeafNode) IsIndexed(Index) bool                             { return true }
func (l *LeafNode) FirstChild(Index) (NamedNode, bool)               { return NamedNode{}, false }
func (l *LeafNode) LastChild(Index) (NamedNode, bool)                { return NamedNode{}, false }

func (l *LeafNode) PredecessorChildName(string, Node, Index) (string, bool) { return "", false }
func (l *LeafNode) AscendFrom(NamedNode, Index, func(NamedNode) bool)       {}
func (l *LeafNode) DescendFrom(NamedNode, Index, func(NamedNode) bool)      {}

func (l *LeafNode) Hash() uint64 {
	l.hashOnce.Do(func() {
		d := xxhash.New()
		_, _ = d.Write([]byte{'L'})
		writeUint64(d, priorityHash(l.priority))
		switch v := l.value.(type) {
		case bool:
			b := byte(0)
			if v {
				b = 1
			}
			_, _ = d.Write([]byte{leafBool, b})
		case float64:
			_, _ = d.Write([]byte{leafNumber})
			writeUint64(d, math.Float64bits(v))
		case string:
			_, _ = d.Write([]byte{leafString})
			_, _ = d.WriteString(v)
		}
		l.hash = d.Sum64()
	})
	return l.hash
}

func (l *LeafNode) Equal(other Node) bool {
	o, ok := other.(*LeafNode)
	if !ok {
		return false
	}
	return l == o || l.Hash() == o.Hash()
}

func (l *LeafNode) String() string {
	if l.priority.IsEmpty() {
		return fmt.Sprintf("%v", l.value)
	}
	return fmt.Sprintf("%v(%v)", l.value, l.priority.Value())
}

func leafKind(v any) byte {
	switch v.(type) {
	case bool:
		return leafBool
	case float64:
		return leafNumber
	}
	return leafString
}

func compareLeaves(a, b *LeafNode) int {
	ak, bk := leafKind(a.value), leafKind(b.value)
	if ak != bk {
		return int(ak) - int(bk)
	}
	switch av := a.value.(type) {
	case bool:
		bv := b.value.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case float64:
		bv := b.value.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	}
	return strings.Compare(a.value.(string), b.value.(string))
}

func writeUint64(d *xxhash.Digest, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = d.Write(buf[:])
}

func priorityHash(priority Node) uint64 {
	if priority == nil || priority.IsEmpty() {
		return 0
	}
	if priority == maxNode {
		return math.MaxUint64
	}
	return priority.Hash()
}
