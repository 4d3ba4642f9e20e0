package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jacentio/espalier/document"
)

// Store persists hierarchical documents as independently addressable records in a KV.
type Store struct {
	kv     KV
	schema *document.Schema
	config Config
}

// New creates a new Store over kv that walks documents with schema.
func New(kv KV, schema *document.Schema, config Config) *Store {
	config.validate()
	return &Store{
		kv:     kv,
		schema: schema,
		config: config,
	}
}

// KV returns the underlying key-value store.
func (s *Store) KV() KV {
	return s.kv
}

// Schema returns the document schema.
func (s *Store) Schema() *document.Schema {
	return s.schema
}

// Exists reports whether a record is stored at key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create saves node like Save, but fails with ErrAlreadyExists when its root key is
// already stored. The check and the write are not atomic across processes.
func (s *Store) Create(ctx context.Context, node document.Node) (document.Node, error) {
	key, err := node.Key()
	if err != nil {
		return nil, err
	}
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%s: %w", key, ErrAlreadyExists)
	}
	return s.Save(ctx, node)
}

// Save decomposes node and writes the root and every descendant record,
// as a single batch when the backend supports it. It returns the stored root.
func (s *Store) Save(ctx context.Context, node document.Node) (document.Node, error) {
	if s.schema == nil {
		return nil, ErrNoSchema
	}
	rootKey, err := node.Key()
	if err != nil {
		return nil, err
	}

	root, records, err := document.Decompose(s.schema, node)
	if err != nil {
		return nil, fmt.Errorf("decompose %s: %w", rootKey, err)
	}

	writes, err := encode(records)
	if err != nil {
		return nil, err
	}
	body, err := root.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rootKey, err)
	}
	writes = append(writes, Write{Key: rootKey, Value: body})

	if err := putAll(ctx, s.kv, writes); err != nil {
		return nil, err
	}
	return root, nil
}

// Decompose writes one record per descendant of node and returns the flattened root,
// in which every child field holds composite keys. The root record itself is not written.
func (s *Store) Decompose(ctx context.Context, node document.Node) (document.Node, error) {
	if s.schema == nil {
		return nil, ErrNoSchema
	}
	root, records, err := document.Decompose(s.schema, node)
	if err != nil {
		return nil, err
	}
	writes, err := encode(records)
	if err != nil {
		return nil, err
	}
	if err := putAll(ctx, s.kv, writes); err != nil {
		return nil, err
	}
	return root, nil
}

// Load reads the record at key and rehydrates it. It returns ErrNotFound when the
// record is absent.
func (s *Store) Load(ctx context.Context, key string) (document.Node, error) {
	root, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.Rehydrate(ctx, root, nil)
}

// Rehydrate replaces every reference marker in node's child fields with the fully
// rehydrated record it names. Array order is preserved. A missing record becomes an
// empty object; a record that cannot be decoded becomes an empty object and is
// logged. Already expanded children are walked in place, so rehydrating a full
// document returns an equal document.
//
// When visited is non-nil, every key encountered is added to it.
func (s *Store) Rehydrate(ctx context.Context, node document.Node, visited map[string]struct{}) (document.Node, error) {
	if s.schema == nil {
		return nil, ErrNoSchema
	}
	path := make(map[string]struct{})
	if key, err := node.Key(); err == nil {
		path[key] = struct{}{}
	}
	return s.rehydrate(ctx, node, node.ObjectType(), visited, path, 0)
}

func (s *Store) rehydrate(ctx context.Context, node document.Node, objectType string, visited, path map[string]struct{}, depth int) (document.Node, error) {
	if depth > s.config.MaxDepth {
		return nil, ErrMaxDepth
	}

	out := node.Clone()
	for _, rel := range s.schema.ChildrenOf(objectType) {
		v, ok := out[rel.Field]
		if !ok || v == nil {
			continue
		}

		switch rel.Kind {
		case document.Single:
			child, err := s.resolve(ctx, rel, v, visited, path, depth)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", rel.Field, err)
			}
			out[rel.Field] = child

		case document.Array:
			items, ok := document.AsArray(v)
			if !ok {
				continue
			}
			expanded := make([]any, len(items))
			for i, item := range items {
				child, err := s.resolve(ctx, rel, item, visited, path, depth)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", rel.Field, i, err)
				}
				expanded[i] = child
			}
			out[rel.Field] = expanded
		}
	}
	return out, nil
}

// resolve expands one child value: a reference is loaded, an object is walked,
// anything else is returned unchanged.
func (s *Store) resolve(ctx context.Context, rel document.Relationship, v any, visited, path map[string]struct{}, depth int) (any, error) {
	if child, ok := document.AsNode(v); ok {
		expanded, err := s.rehydrate(ctx, child, document.TypeOf(rel, child), visited, path, depth+1)
		if err != nil {
			return nil, err
		}
		return map[string]any(expanded), nil
	}

	if !document.IsRef(v) {
		return v, nil
	}
	key := v.(string)

	if _, onPath := path[key]; onPath {
		return nil, fmt.Errorf("%s: %w", key, ErrCycle)
	}
	if visited != nil {
		visited[key] = struct{}{}
	}

	child, err := s.get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return map[string]any{}, nil
	}
	if errors.Is(err, errMalformed) {
		s.config.Logger.Warn("malformed record treated as empty", "key", key, "error", err)
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}

	path[key] = struct{}{}
	defer delete(path, key)

	expanded, err := s.rehydrate(ctx, child, document.TypeOf(rel, child), visited, path, depth+1)
	if err != nil {
		return nil, err
	}
	return map[string]any(expanded), nil
}

// CascadeDelete removes the record at rootKey and every record reachable from it.
// Each key is deleted independently; the returned keys, sorted, are those whose
// delete removed nothing or failed. An empty result means every record existed
// and was removed. A missing root yields [rootKey].
func (s *Store) CascadeDelete(ctx context.Context, rootKey string) ([]string, error) {
	if s.schema == nil {
		return nil, ErrNoSchema
	}

	visited := map[string]struct{}{rootKey: {}}

	root, err := s.get(ctx, rootKey)
	switch {
	case errors.Is(err, ErrNotFound):
		return []string{rootKey}, nil
	case errors.Is(err, errMalformed):
		s.config.Logger.Warn("malformed root record, deleting it alone", "key", rootKey, "error", err)
	case err != nil:
		return nil, err
	default:
		if _, err := s.Rehydrate(ctx, root, visited); err != nil {
			return nil, fmt.Errorf("walk %s: %w", rootKey, err)
		}
	}

	keys := make([]string, 0, len(visited))
	for key := range visited {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var undeleted []string
	for _, key := range keys {
		n, err := s.kv.Delete(ctx, key)
		if err != nil {
			s.config.Logger.Warn("delete record failed", "key", key, "error", err)
			undeleted = append(undeleted, key)
			continue
		}
		if n == 0 {
			undeleted = append(undeleted, key)
		}
	}
	return undeleted, nil
}

// RepairReport describes the outcome of a Repair pass.
type RepairReport struct {
	// Scanned is the number of records examined.
	Scanned int

	// Roots is the number of root documents walked.
	Roots int

	// Orphans lists records no root document references, sorted.
	Orphans []string

	// Deleted lists orphans removed when Repair ran with apply set.
	Deleted []string
}

// Repair finds records that no stored root document reaches, such as children left
// behind when a patch replaced them. With apply set, the orphans are deleted.
// It requires a KV that implements Scanner.
func (s *Store) Repair(ctx context.Context, apply bool) (*RepairReport, error) {
	if s.schema == nil {
		return nil, ErrNoSchema
	}
	scanner, ok := s.kv.(Scanner)
	if !ok {
		return nil, ErrScanUnsupported
	}

	keys, err := scanner.Keys(ctx, document.RefPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}

	report := &RepairReport{Scanned: len(keys)}
	reachable := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		objectType, _, ok := document.SplitKey(key)
		if !ok || objectType != s.schema.RootType() {
			continue
		}
		report.Roots++
		reachable[key] = struct{}{}

		root, err := s.get(ctx, key)
		if err != nil {
			s.config.Logger.Warn("skipping unreadable root", "key", key, "error", err)
			continue
		}
		if _, err := s.Rehydrate(ctx, root, reachable); err != nil {
			return nil, fmt.Errorf("walk %s: %w", key, err)
		}
	}

	for _, key := range keys {
		if _, ok := reachable[key]; !ok {
			report.Orphans = append(report.Orphans, key)
		}
	}
	sort.Strings(report.Orphans)

	if !apply {
		return report, nil
	}
	for _, key := range report.Orphans {
		n, err := s.kv.Delete(ctx, key)
		if err != nil {
			s.config.Logger.Warn("delete orphan failed", "key", key, "error", err)
			continue
		}
		if n > 0 {
			report.Deleted = append(report.Deleted, key)
		}
	}
	s.config.Logger.Info("repair complete",
		"scanned", report.Scanned,
		"roots", report.Roots,
		"orphans", len(report.Orphans),
		"deleted", len(report.Deleted),
	)
	return report, nil
}

// errMalformed marks a stored record that is not a JSON object.
var errMalformed = errors.New("malformed record")

// get reads and decodes the record at key.
func (s *Store) get(ctx context.Context, key string) (document.Node, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	node, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errMalformed, key, err)
	}
	return node, nil
}

func encode(records []document.Record) ([]Write, error) {
	writes := make([]Write, 0, len(records)+1)
	for _, r := range records {
		body, err := r.Node.Marshal()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", r.Key, err)
		}
		writes = append(writes, Write{Key: r.Key, Value: body})
	}
	return writes, nil
}
