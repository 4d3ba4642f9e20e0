package search

import (
	"context"
	"sync"
)

// Memory is an in-process Index for tests and single-node development.
type Memory struct {
	mu      sync.RWMutex
	specs   map[string]IndexSpec
	indices map[string]map[string]Document
}

// NewMemory creates an empty Memory index.
func NewMemory() *Memory {
	return &Memory{
		specs:   make(map[string]IndexSpec),
		indices: make(map[string]map[string]Document),
	}
}

// EnsureIndex records spec unless an index of that name exists.
func (m *Memory) EnsureIndex(_ context.Context, spec IndexSpec) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.specs[spec.Name]; ok {
		return false, nil
	}
	m.specs[spec.Name] = spec
	m.indices[spec.Name] = make(map[string]Document)
	return true, nil
}

// IndexDocument stores doc, creating the index implicitly as Elasticsearch does.
func (m *Memory) IndexDocument(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indices[doc.Index]
	if !ok {
		idx = make(map[string]Document)
		m.indices[doc.Index] = idx
	}
	doc.Body = doc.Body.Clone()
	idx[doc.ID] = doc
	return nil
}

// DeleteByRouting removes every document in index with the given routing.
func (m *Memory) DeleteByRouting(_ context.Context, index, routing string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, doc := range m.indices[index] {
		if doc.Routing == routing {
			delete(m.indices[index], id)
			n++
		}
	}
	return n, nil
}

// Get returns the document stored at id.
func (m *Memory) Get(index, id string) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.indices[index][id]
	if ok {
		doc.Body = doc.Body.Clone()
	}
	return doc, ok
}

// Count returns the number of documents in index.
func (m *Memory) Count(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indices[index])
}

// Spec returns the spec index was created with.
func (m *Memory) Spec(index string) (IndexSpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.specs[index]
	return spec, ok
}

// Routed returns the ids of every document in index with the given routing.
func (m *Memory) Routed(index, routing string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, doc := range m.indices[index] {
		if doc.Routing == routing {
			ids = append(ids, id)
		}
	}
	return ids
}
