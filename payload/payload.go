// Package payload defines the tree of field maps written by the
// synchronizer and its JSON, YAML and msgpack codecs.
//
// A node maps field names to scalars, nested nodes, lists of nested nodes
// or nil. Decoded numbers are normalized to int64 when integral and
// float64 otherwise.
package payload

import (
	"fmt"
	"maps"
	"math"
	"sort"
)

// Node is one node of a payload tree.
type Node map[string]any

// Keys returns the keys of the node in sorted order.
func (n Node) Keys() []string {
	keys := make([]string, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports if the key is present, including with a nil value.
func (n Node) Has(key string) bool {
	_, ok := n[key]
	return ok
}

// One returns the nested node under key. ok is false when the key is
// absent; a present nil value returns a nil node and ok.
func (n Node) One(key string) (child Node, ok bool, err error) {
	v, ok := n[key]
	if !ok || v == nil {
		return nil, ok, nil
	}
	child, isNode := v.(Node)
	if !isNode {
		return nil, true, fmt.Errorf("expected an object, got %T", v)
	}
	return child, true, nil
}

// Many returns the list of nested nodes under key.
func (n Node) Many(key string) (children []Node, ok bool, err error) {
	v, ok := n[key]
	if !ok {
		return nil, false, nil
	}
	switch l := v.(type) {
	case nil:
		return nil, true, fmt.Errorf("expected a list, got null")
	case []Node:
		return l, true, nil
	}
	return nil, true, fmt.Errorf("expected a list, got %T", v)
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	if n == nil {
		return nil
	}
	c := make(Node, len(n))
	for k, v := range n {
		switch v := v.(type) {
		case Node:
			c[k] = v.Clone()
		case []Node:
			l := make([]Node, len(v))
			for i := range v {
				l[i] = v[i].Clone()
			}
			c[k] = l
		default:
			c[k] = v
		}
	}
	return c
}

// Merge returns a shallow copy of n with the given values set.
func (n Node) Merge(values map[string]any) Node {
	c := maps.Clone(n)
	if c == nil {
		c = make(Node, len(values))
	}
	maps.Copy(c, values)
	return c
}

// From converts a generic decoded value into a payload node.
func From(v any) (Node, error) {
	nv, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	n, ok := nv.(Node)
	if !ok {
		return nil, fmt.Errorf("payload: expected an object, got %T", v)
	}
	return n, nil
}

// number is implemented by json.Number.
type number interface {
	String() string
	Int64() (int64, error)
	Float64() (float64, error)
}

// Normalize converts a generic decoded value into payload form: objects
// become Nodes, lists of objects become []Node and numbers become int64
// or float64.
func Normalize(v any) (any, error) {
	switch v := v.(type) {
	case nil, string, bool, int64, float64, []byte:
		return v, nil
	case Node:
		return normalizeMap(v)
	case map[string]any:
		return normalizeMap(v)
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("payload: non-string key %v", k)
			}
			m[ks] = e
		}
		return normalizeMap(m)
	case []Node:
		return normalizeList(len(v), func(i int) any { return v[i] })
	case []map[string]any:
		return normalizeList(len(v), func(i int) any { return v[i] })
	case []any:
		return normalizeList(len(v), func(i int) any { return v[i] })
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return normalizeUint(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return normalizeUint(v)
	case float32:
		return float64(v), nil
	case number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("payload: invalid number %q", v.String())
		}
		return f, nil
	}
	return v, nil
}

func normalizeMap(m map[string]any) (Node, error) {
	n := make(Node, len(m))
	for k, v := range m {
		nv, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		n[k] = nv
	}
	return n, nil
}

// normalizeList returns []Node when every element is an object, []any
// otherwise. Empty lists become empty []Node.
func normalizeList(size int, at func(int) any) (any, error) {
	vs := make([]any, size)
	nodes := true
	for i := range size {
		nv, err := Normalize(at(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		if _, ok := nv.(Node); !ok {
			nodes = false
		}
		vs[i] = nv
	}
	if !nodes {
		return vs, nil
	}
	l := make([]Node, size)
	for i := range vs {
		l[i] = vs[i].(Node)
	}
	return l, nil
}

func normalizeUint(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("payload: %d overflows int64", u)
	}
	return int64(u), nil
}
