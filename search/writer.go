package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jacentio/espalier/document"
	"github.com/jacentio/espalier/replication"
)

// WriterConfig holds configuration for a Writer.
type WriterConfig struct {
	// Index is the index name.
	// Default: "indexplan"
	Index string

	// JoinField is the join field name.
	// Default: "plan_join"
	JoinField string

	// Shards is the primary shard count used when the index is created.
	// Default: 3
	Shards int

	// Replicas is the replica count used when the index is created.
	// Default: 2
	Replicas int
}

// DefaultWriterConfig returns the plan index defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Index:     DefaultIndex,
		JoinField: DefaultJoinField,
		Shards:    DefaultShards,
		Replicas:  DefaultReplicas,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *WriterConfig) validate() {
	if c.Index == "" {
		c.Index = DefaultIndex
	}
	if c.JoinField == "" {
		c.JoinField = DefaultJoinField
	}
	if c.Shards < 1 {
		c.Shards = DefaultShards
	}
	if c.Replicas < 0 {
		c.Replicas = DefaultReplicas
	}
}

// Writer indexes document trees as parent-child joined documents and applies
// replication messages.
type Writer struct {
	index  Index
	schema *document.Schema
	config WriterConfig
	logger *slog.Logger
}

// NewWriter creates a Writer. A nil logger uses slog.Default().
func NewWriter(index Index, schema *document.Schema, config WriterConfig, logger *slog.Logger) *Writer {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		index:  index,
		schema: schema,
		config: config,
		logger: logger,
	}
}

// Spec returns the index specification derived from the schema.
func (w *Writer) Spec() IndexSpec {
	return IndexSpec{
		Name:      w.config.Index,
		Shards:    w.config.Shards,
		Replicas:  w.config.Replicas,
		JoinField: w.config.JoinField,
		Relations: w.schema.JoinRelations(),
	}
}

// EnsureIndex creates the index with the join mapping unless it already exists.
func (w *Writer) EnsureIndex(ctx context.Context) error {
	created, err := w.index.EnsureIndex(ctx, w.Spec())
	if err != nil {
		return fmt.Errorf("ensure index %s: %w", w.config.Index, err)
	}
	if created {
		w.logger.Info("search index created",
			"index", w.config.Index,
			"shards", w.config.Shards,
			"replicas", w.config.Replicas,
		)
	}
	return nil
}

// Apply applies one replication message. An update replaces the whole indexed
// tree, so children the update no longer reaches leave the index.
func (w *Writer) Apply(ctx context.Context, msg replication.Message) error {
	switch msg.Operation {
	case replication.OpCreate:
		doc, err := msg.Document()
		if err != nil {
			return err
		}
		return w.IndexTree(ctx, doc)
	case replication.OpUpdate:
		doc, err := msg.Document()
		if err != nil {
			return err
		}
		return w.ReplaceTree(ctx, doc)
	case replication.OpDelete:
		_, err := w.DeleteTree(ctx, msg.DocumentID)
		return err
	default:
		return fmt.Errorf("%w: unknown operation %q", replication.ErrInvalidMessage, msg.Operation)
	}
}

// IndexTree indexes the root and every descendant of a fully rehydrated document.
func (w *Writer) IndexTree(ctx context.Context, root document.Node) error {
	docs, err := w.Documents(root)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := w.index.IndexDocument(ctx, doc); err != nil {
			return fmt.Errorf("index %s: %w", doc.ID, err)
		}
	}
	w.logger.Debug("document tree indexed", "document_id", root.ObjectID(), "nodes", len(docs))
	return nil
}

// ReplaceTree removes every indexed node of root's document, then indexes root's
// tree. Between the two steps the document is absent from search results.
func (w *Writer) ReplaceTree(ctx context.Context, root document.Node) error {
	// Build the documents first so an invalid tree leaves the index untouched.
	if _, err := w.Documents(root); err != nil {
		return err
	}
	if _, err := w.DeleteTree(ctx, root.ObjectID()); err != nil {
		return err
	}
	return w.IndexTree(ctx, root)
}

// DeleteTree removes every indexed node of the document with the given objectId.
func (w *Writer) DeleteTree(ctx context.Context, documentID string) (int64, error) {
	n, err := w.index.DeleteByRouting(ctx, w.config.Index, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", documentID, err)
	}
	w.logger.Debug("document tree removed from index", "document_id", documentID, "nodes", n)
	return n, nil
}

// Documents flattens a rehydrated tree into one index document per node, root
// first. Each node keeps only its own attributes; schema-declared child fields are
// dropped and the join field names the node's relation and its parent's key.
func (w *Writer) Documents(root document.Node) ([]Document, error) {
	rootKey, err := root.Key()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", replication.ErrInvalidMessage, err)
	}
	routing := root.ObjectID()

	var docs []Document
	var walk func(node document.Node, objectType, key string, join map[string]any) error
	walk = func(node document.Node, objectType, key string, join map[string]any) error {
		body := make(document.Node, len(node)+1)
		for k, v := range node {
			body[k] = v
		}
		for _, rel := range w.schema.ChildrenOf(objectType) {
			delete(body, rel.Field)
		}
		body[w.config.JoinField] = join

		docs = append(docs, Document{
			Index:   w.config.Index,
			ID:      key,
			Routing: routing,
			Body:    body,
		})

		for _, rel := range w.schema.ChildrenOf(objectType) {
			for _, child := range children(node[rel.Field], rel.Kind) {
				if len(child) == 0 {
					continue
				}
				childType := document.TypeOf(rel, child)
				if childType == "" || child.ObjectID() == "" {
					return fmt.Errorf("%w: %s under %s has no identity", replication.ErrInvalidMessage, rel.Field, key)
				}
				childKey := document.Key(childType, child.ObjectID())
				childJoin := map[string]any{"name": rel.Field, "parent": key}
				if err := walk(child, childType, childKey, childJoin); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root, root.ObjectType(), rootKey, map[string]any{"name": root.ObjectType()}); err != nil {
		return nil, err
	}
	return docs, nil
}

// children returns the object values held by a child field.
func children(v any, kind document.Kind) []document.Node {
	switch kind {
	case document.Single:
		if n, ok := document.AsNode(v); ok {
			return []document.Node{n}
		}
	case document.Array:
		items, _ := document.AsArray(v)
		out := make([]document.Node, 0, len(items))
		for _, item := range items {
			if n, ok := document.AsNode(item); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}
