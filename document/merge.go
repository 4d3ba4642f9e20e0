package document

// Merge combines an existing document with a partial update and returns a new node.
//
// The result is a copy of existing with partial's top-level attributes overlaid,
// except field, which becomes existing[field] followed by partial[field] with
// duplicates removed: the first element seen for each identity value is kept and
// later ones are dropped. Elements without an identity value are always kept.
// The root's objectId and objectType are never overlaid, so the merged document
// keeps its composite key.
func Merge(existing, partial Node, field, identity string) Node {
	merged := existing.Clone()
	if merged == nil {
		merged = Node{}
	}

	for k, v := range partial {
		if k == field || k == FieldObjectID || k == FieldObjectType {
			continue
		}
		merged[k] = cloneValue(v)
	}

	current, hasCurrent := AsArray(existing[field])
	incoming, hasIncoming := AsArray(partial[field])
	if !hasCurrent && !hasIncoming {
		return merged
	}

	combined := make([]any, 0, len(current)+len(incoming))
	combined = append(combined, current...)
	combined = append(combined, incoming...)

	seen := make(map[string]struct{}, len(combined))
	out := make([]any, 0, len(combined))
	for _, item := range combined {
		if n, ok := AsNode(item); ok {
			if id := scalarString(n[identity]); id != "" {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
		}
		out = append(out, cloneValue(item))
	}
	merged[field] = out

	return merged
}
