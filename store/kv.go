package store

import (
	"context"
	"fmt"
)

// KV is the flat key-value store records live in. Implementations must be safe
// for concurrent use.
type KV interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key and returns how many records were removed (0 or 1).
	Delete(ctx context.Context, key string) (int64, error)
}

// Write is one put in a batch.
type Write struct {
	Key   string
	Value []byte
}

// Batcher is implemented by backends that can apply several puts at once.
type Batcher interface {
	Batch(ctx context.Context, writes []Write) error
}

// Scanner is implemented by backends that can list their keys.
type Scanner interface {
	// Keys returns every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// putAll writes every record, as one batch when the backend supports it. A key
// written more than once, such as a service shared by two plan services, is
// written once with its last value.
func putAll(ctx context.Context, kv KV, writes []Write) error {
	writes = dedupe(writes)
	if len(writes) == 0 {
		return nil
	}
	if b, ok := kv.(Batcher); ok {
		return b.Batch(ctx, writes)
	}
	for _, w := range writes {
		if err := kv.Put(ctx, w.Key, w.Value); err != nil {
			return fmt.Errorf("put %s: %w", w.Key, err)
		}
	}
	return nil
}

// dedupe returns writes with one entry per key, in first-seen order, each holding
// the last value written for that key.
func dedupe(writes []Write) []Write {
	index := make(map[string]int, len(writes))
	out := make([]Write, 0, len(writes))
	for _, w := range writes {
		if i, ok := index[w.Key]; ok {
			out[i].Value = w.Value
			continue
		}
		index[w.Key] = len(out)
		out = append(out, w)
	}
	return out
}
