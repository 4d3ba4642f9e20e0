package document

// Kind says how a child field holds its children.
type Kind int

const (
	// Single fields hold one child object.
	Single Kind = iota + 1

	// Array fields hold an ordered list of child objects.
	Array
)

// String returns "single" or "array".
func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// Relationship declares that documents of ParentType hold children in Field.
type Relationship struct {
	// ParentType is the parent objectType (e.g., "plan").
	ParentType string

	// Field is the attribute holding the child or children (e.g., "linkedPlanServices").
	Field string

	// Kind is Single or Array.
	Kind Kind

	// ChildType is the expected objectType of the children (e.g., "planservice").
	// It is also used to build a key for a child that omits its objectType.
	ChildType string
}

// Schema holds every parent-child relationship of a document type.
// Decomposition, rehydration and indexing all walk documents through it, so no
// component needs to know field names.
type Schema struct {
	rootType      string
	relationships []Relationship
	byParent      map[string][]Relationship
}

// NewSchema creates an empty Schema whose documents have the given root type.
func NewSchema(rootType string) *Schema {
	return &Schema{
		rootType:      rootType,
		relationships: []Relationship{},
		byParent:      make(map[string][]Relationship),
	}
}

// RootType returns the objectType of top-level documents.
func (s *Schema) RootType() string {
	return s.rootType
}

// Register adds a relationship to the schema. Registering the same parent type and
// field twice replaces the earlier declaration.
func (s *Schema) Register(rel Relationship) *Schema {
	children := s.byParent[rel.ParentType]
	for i, existing := range children {
		if existing.Field == rel.Field {
			children[i] = rel
			for j, r := range s.relationships {
				if r.ParentType == rel.ParentType && r.Field == rel.Field {
					s.relationships[j] = rel
				}
			}
			return s
		}
	}
	s.relationships = append(s.relationships, rel)
	s.byParent[rel.ParentType] = append(children, rel)
	return s
}

// ChildrenOf returns all child relationships for a given parent type.
func (s *Schema) ChildrenOf(parentType string) []Relationship {
	return s.byParent[parentType]
}

// Field returns the relationship declared for field on parentType.
func (s *Schema) Field(parentType, field string) (Relationship, bool) {
	for _, rel := range s.byParent[parentType] {
		if rel.Field == field {
			return rel, true
		}
	}
	return Relationship{}, false
}

// AllRelationships returns all registered relationships in registration order.
func (s *Schema) AllRelationships() []Relationship {
	return s.relationships
}

// HasChildren returns true if the parent type has any registered child relationships.
func (s *Schema) HasChildren(parentType string) bool {
	return len(s.byParent[parentType]) > 0
}

// JoinRelations returns the parent-to-children relation names used by a search
// index join field. The root relation is named after the root type; every other
// relation is named after the field that holds it.
func (s *Schema) JoinRelations() map[string][]string {
	relations := make(map[string][]string)
	for _, rel := range s.relationships {
		parent := s.relationName(rel.ParentType)
		if parent == "" {
			continue
		}
		if !contains(relations[parent], rel.Field) {
			relations[parent] = append(relations[parent], rel.Field)
		}
	}
	return relations
}

// relationName returns the join relation name under which nodes of objectType are indexed.
func (s *Schema) relationName(objectType string) string {
	if objectType == s.rootType {
		return s.rootType
	}
	for _, rel := range s.relationships {
		if rel.ChildType == objectType {
			return rel.Field
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
