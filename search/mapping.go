package search

// Mapping returns the create-index body for spec: shard and replica counts and a
// join field declaring the parent-child relations.
func Mapping(spec IndexSpec) map[string]any {
	relations := make(map[string]any, len(spec.Relations))
	for parent, children := range spec.Relations {
		relations[parent] = children
	}

	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   spec.Shards,
			"number_of_replicas": spec.Replicas,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"objectId":   map[string]any{"type": "keyword"},
				"objectType": map[string]any{"type": "keyword"},
				spec.JoinField: map[string]any{
					"type":      "join",
					"relations": relations,
				},
			},
		},
	}
}
