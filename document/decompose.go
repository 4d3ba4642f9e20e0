package document

import "fmt"

// Record is one independently stored subtree: a flattened node under its composite key.
type Record struct {
	Key  string
	Node Node
}

// Decompose flattens node according to schema. It returns a new root in which every
// child field holds composite keys, plus one record per descendant in post-order.
// The root itself is not among the records; the caller stores it at its own key.
// Child fields that are absent stay absent.
func Decompose(schema *Schema, node Node) (Node, []Record, error) {
	var records []Record
	root, err := flatten(schema, node, node.ObjectType(), &records)
	if err != nil {
		return nil, nil, err
	}
	return root, records, nil
}

func flatten(schema *Schema, node Node, objectType string, records *[]Record) (Node, error) {
	out := make(Node, len(node))
	for k, v := range node {
		out[k] = cloneValue(v)
	}

	for _, rel := range schema.ChildrenOf(objectType) {
		v, ok := node[rel.Field]
		if !ok || v == nil {
			continue
		}

		switch rel.Kind {
		case Single:
			child, ok := AsNode(v)
			if !ok {
				continue
			}
			key, err := flattenChild(schema, rel, child, records)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", rel.Field, err)
			}
			out[rel.Field] = key

		case Array:
			items, ok := AsArray(v)
			if !ok {
				continue
			}
			keys := make([]any, 0, len(items))
			for i, item := range items {
				child, ok := AsNode(item)
				if !ok {
					keys = append(keys, item)
					continue
				}
				key, err := flattenChild(schema, rel, child, records)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", rel.Field, i, err)
				}
				keys = append(keys, key)
			}
			out[rel.Field] = keys
		}
	}

	return out, nil
}

func flattenChild(schema *Schema, rel Relationship, child Node, records *[]Record) (string, error) {
	key, err := childKey(rel, child)
	if err != nil {
		return "", err
	}
	flat, err := flatten(schema, child, TypeOf(rel, child), records)
	if err != nil {
		return "", err
	}
	*records = append(*records, Record{Key: key, Node: flat})
	return key, nil
}

// childKey derives a child's key, falling back to the declared child type.
func childKey(rel Relationship, child Node) (string, error) {
	if key, err := child.Key(); err == nil {
		return key, nil
	}
	id := child.ObjectID()
	if id == "" || rel.ChildType == "" {
		return "", ErrMissingIdentity
	}
	return Key(rel.ChildType, id), nil
}

// TypeOf returns the child's objectType, or the type declared by rel when the child omits it.
func TypeOf(rel Relationship, child Node) string {
	if t := child.ObjectType(); t != "" {
		return t
	}
	return rel.ChildType
}
