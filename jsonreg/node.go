package jsonreg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// kind is the dynamic type of a node in the registry's tree.
type kind uint8

const (
	kindNull kind = iota
	kindBool
	kindI64
	kindF64
	kindStr
	kindObject
	kindArray
)

// node is the internal tree representation. Distinguishing kindI64 from
// kindF64 (rather than collapsing both into float64, as a naive
// encoding/json round-trip through map[string]any would) is required by the
// type-coercion table: an integer-valued key must read back as an i64, not a
// f64, after a JSON round-trip.
type node struct {
	kind kind
	b    bool
	i    int64
	f    float64
	s    string
	obj  map[string]*node
	arr  []*node
}

func newNull() *node       { return &node{kind: kindNull} }
func newBoolNode(b bool) *node   { return &node{kind: kindBool, b: b} }
func newI64Node(v int64) *node   { return &node{kind: kindI64, i: v} }
func newF64Node(v float64) *node { return &node{kind: kindF64, f: v} }
func newStrNode(s string) *node  { return &node{kind: kindStr, s: s} }
func newObjectNode() *node       { return &node{kind: kindObject, obj: map[string]*node{}} }
func newArrayNode() *node        { return &node{kind: kindArray} }

func (n *node) clone() *node {
	if n == nil {
		return newNull()
	}
	cp := &node{kind: n.kind, b: n.b, i: n.i, f: n.f, s: n.s}
	if n.obj != nil {
		cp.obj = make(map[string]*node, len(n.obj))
		for k, v := range n.obj {
			cp.obj[k] = v.clone()
		}
	}
	if n.arr != nil {
		cp.arr = make([]*node, len(n.arr))
		for i, v := range n.arr {
			cp.arr[i] = v.clone()
		}
	}
	return cp
}

// fromAny converts a generic Go value (as produced by json.Decoder with
// UseNumber, or passed directly by a caller building a transient node for
// Merge/Replace) into a node.
func fromAny(v any) (*node, error) {
	switch t := v.(type) {
	case nil:
		return newNull(), nil
	case bool:
		return newBoolNode(t), nil
	case string:
		return newStrNode(t), nil
	case int:
		return newI64Node(int64(t)), nil
	case int64:
		return newI64Node(t), nil
	case float64:
		return newF64Node(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return newI64Node(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return newF64Node(f), nil
	case map[string]any:
		o := newObjectNode()
		for k, vv := range t {
			child, err := fromAny(vv)
			if err != nil {
				return nil, err
			}
			o.obj[k] = child
		}
		return o, nil
	case []any:
		a := newArrayNode()
		for _, vv := range t {
			child, err := fromAny(vv)
			if err != nil {
				return nil, err
			}
			a.arr = append(a.arr, child)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// toAny converts a node back into a generic Go value suitable for
// json.Marshal or for handing back to a caller of Copy/At*.
func toAny(n *node) any {
	if n == nil {
		return nil
	}
	switch n.kind {
	case kindNull:
		return nil
	case kindBool:
		return n.b
	case kindI64:
		return n.i
	case kindF64:
		return n.f
	case kindStr:
		return n.s
	case kindObject:
		out := make(map[string]any, len(n.obj))
		for k, v := range n.obj {
			out[k] = toAny(v)
		}
		return out
	case kindArray:
		out := make([]any, len(n.arr))
		for i, v := range n.arr {
			out[i] = toAny(v)
		}
		return out
	default:
		return nil
	}
}

// decodeJSONText parses JSON (already JSONC-standardized by the caller) into
// a node tree, preserving integer vs floating-point distinction via
// json.Number.
func decodeJSONText(data []byte) (*node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return fromAny(v)
}

// encodeJSONText serializes n as pretty-printed JSON text.
func encodeJSONText(n *node) ([]byte, error) {
	buf, err := json.MarshalIndent(toAny(n), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}

func (n *node) typeCoerceI64() (int64, error) {
	switch n.kind {
	case kindI64:
		return n.i, nil
	case kindF64:
		return int64(n.f), nil
	case kindBool:
		if n.b {
			return 1, nil
		}
		return 0, nil
	case kindNull:
		return 0, nil
	case kindStr:
		v, err := strconv.ParseInt(n.s, 10, 64)
		if err != nil {
			return 0, err
		}
		return v, nil
	default:
		return 0, errTypeNotCompatible
	}
}

func (n *node) typeCoerceF64() (float64, error) {
	switch n.kind {
	case kindI64:
		return float64(n.i), nil
	case kindF64:
		return n.f, nil
	case kindBool:
		if n.b {
			return 1.0, nil
		}
		return 0.0, nil
	case kindNull:
		return 0.0, nil
	case kindStr:
		v, err := strconv.ParseFloat(n.s, 64)
		if err != nil {
			return 0, err
		}
		return v, nil
	default:
		return 0, errTypeNotCompatible
	}
}

func (n *node) typeCoerceBool() (bool, error) {
	switch n.kind {
	case kindI64:
		return n.i != 0, nil
	case kindF64:
		return n.f != 0.0, nil
	case kindBool:
		return n.b, nil
	case kindNull:
		return false, nil
	case kindStr:
		return n.s == "true", nil
	default:
		return false, errTypeNotCompatible
	}
}

func (n *node) typeCoerceStr() (string, error) {
	switch n.kind {
	case kindI64:
		return strconv.FormatInt(n.i, 10), nil
	case kindF64:
		return strconv.FormatFloat(n.f, 'g', -1, 64), nil
	case kindBool:
		if n.b {
			return "true", nil
		}
		return "false", nil
	case kindNull:
		return "null", nil
	case kindStr:
		return n.s, nil
	default:
		return "", errTypeNotCompatible
	}
}

var errTypeNotCompatible = fmt.Errorf("value is an object or array")
