package tree

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/google/btree"
)

const valueKey = ".value"

// NodeFromValue converts JSON shaped Go data into a Node. Maps may carry a
// ".priority" entry, and a ".value" entry to attach a priority to a scalar.
// nil and empty containers convert to Empty.
func NodeFromValue(value any) Node {
	switch v := value.(type) {
	case nil:
		return Empty
	case Node:
		return v
	case map[string]any:
		return fromMap(v)
	case []any:
		m := make(map[string]any, len(v))
		for i, item := range v {
			m[strconv.Itoa(i)] = item
		}
		return fromMap(m)
	}
	if scalar, ok := normalizeScalar(value); ok {
		return NewLeaf(scalar, nil)
	}
	return fromReflect(reflect.ValueOf(value))
}

func fromReflect(rv reflect.Value) Node {
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return fromMap(m)
	case reflect.Slice, reflect.Array:
		m := make(map[string]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			m[strconv.Itoa(i)] = rv.Index(i).Interface()
		}
		return fromMap(m)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Empty
		}
		return NodeFromValue(rv.Elem().Interface())
	}
	panic(fmt.Errorf("%w: %s", ErrInvalidValue, rv.Type()))
}

func fromMap(m map[string]any) Node {
	priority := NodeFromValue(m[PriorityKey])
	if inner, ok := m[valueKey]; ok {
		if inner == nil {
			return Empty
		}
		scalar, ok := normalizeScalar(inner)
		if !ok {
			panic(fmt.Errorf("%w: %s must hold a scalar, got %T", ErrInvalidValue, valueKey, inner))
		}
		return NewLeaf(scalar, priority)
	}

	children := btree.NewG(btreeDegree, keyLess)
	for name, raw := range m {
		if name == PriorityKey {
			continue
		}
		child := NodeFromValue(raw)
		if !child.IsEmpty() {
			children.ReplaceOrInsert(NamedNode{Name: name, Node: child})
		}
	}
	if children.Len() == 0 {
		return Empty
	}
	node := &ChildrenNode{children: children}
	if priority.IsEmpty() {
		return node
	}
	return node.UpdatePriority(priority)
}
