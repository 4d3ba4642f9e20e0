package search

import (
	"context"
	"errors"

	"github.com/jacentio/espalier/document"
)

// Defaults for the plan index.
const (
	DefaultIndex     = "indexplan"
	DefaultJoinField = "plan_join"
	DefaultShards    = 3
	DefaultReplicas  = 2
)

// ErrIndex is returned when the search backend rejects a request.
var ErrIndex = errors.New("espalier: search index request failed")

// Document is one node of a document tree as indexed.
type Document struct {
	// Index is the target index name.
	Index string

	// ID is the node's composite key.
	ID string

	// Routing is the root document's objectId. Every node of a tree shares it, so the
	// whole tree lives on one shard and can be removed with one delete-by-routing.
	Routing string

	// Body is the node's own attributes plus the join field.
	Body document.Node
}

// IndexSpec describes an index to create.
type IndexSpec struct {
	Name      string
	Shards    int
	Replicas  int
	JoinField string

	// Relations maps each parent relation name to its child relation names.
	Relations map[string][]string
}

// Index is the search backend.
type Index interface {
	// EnsureIndex creates the index unless it exists. It reports whether it created it.
	EnsureIndex(ctx context.Context, spec IndexSpec) (bool, error)

	// IndexDocument inserts or replaces one document.
	IndexDocument(ctx context.Context, doc Document) error

	// DeleteByRouting removes every document in index with the given routing value
	// and returns how many were removed.
	DeleteByRouting(ctx context.Context, index, routing string) (int64, error)
}
