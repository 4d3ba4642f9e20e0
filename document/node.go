package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Well-known attribute names carried by every stored node.
const (
	FieldObjectID   = "objectId"
	FieldObjectType = "objectType"
	FieldOrg        = "_org"
)

// Node is a JSON object. Numbers are kept as json.Number so that decoding and
// re-encoding a node never changes its textual form.
type Node map[string]any

// Parse decodes a JSON object into a Node.
func Parse(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode document: trailing data after object")
	}

	node, ok := AsNode(v)
	if !ok {
		return nil, ErrNotObject
	}
	return node, nil
}

// Marshal returns the canonical JSON encoding of the node.
func (n Node) Marshal() ([]byte, error) {
	return json.Marshal(map[string]any(n))
}

// ObjectID returns the node's objectId, or "" if absent.
func (n Node) ObjectID() string {
	return scalarString(n[FieldObjectID])
}

// ObjectType returns the node's objectType, or "" if absent.
func (n Node) ObjectType() string {
	return scalarString(n[FieldObjectType])
}

// Key returns the node's composite key.
func (n Node) Key() (string, error) {
	id, typ := n.ObjectID(), n.ObjectType()
	if id == "" || typ == "" {
		return "", ErrMissingIdentity
	}
	return Key(typ, id), nil
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	if n == nil {
		return nil
	}
	out := make(Node, len(n))
	for k, v := range n {
		out[k] = cloneValue(v)
	}
	return out
}

// AsNode reports whether v is a JSON object and returns it as a Node.
func AsNode(v any) (Node, bool) {
	switch t := v.(type) {
	case Node:
		return t, true
	case map[string]any:
		return Node(t), true
	default:
		return nil, false
	}
}

// AsArray returns v as a slice of values if it is a JSON array.
func AsArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []Node:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = Node(n)
		}
		return out, true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	if n, ok := AsNode(v); ok {
		return map[string]any(n.Clone())
	}
	if items, ok := AsArray(v); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}

// scalarString renders string and number scalars; anything else yields "".
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64, int, int64:
		return fmt.Sprint(t)
	default:
		return ""
	}
}
