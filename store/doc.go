// Package store persists hierarchical documents in a flat key-value store.
//
// A document is split into one record per object: the root and every descendant
// declared by the [document.Schema]. Each record is stored at its composite key
// (id_<objectType>_<objectId>) and refers to its children only by their keys, so a
// child can be read, replaced or deleted without touching its siblings.
//
// # Backends
//
// Records live in any [KV]. Three implementations ship with the package:
//
//   - [Memory] - map guarded by a sync.RWMutex, for tests and single-process use
//   - [Badger] - embedded Badger database; batches are one transaction
//   - [Dynamo] - one DynamoDB table keyed on "id"; batches use TransactWriteItems
//
// Backends that implement [Batcher] receive all records of a save in one call.
// Backends that implement [Scanner] support [Store.Repair].
//
// # Operations
//
//   - [Store.Save] writes the root and all descendants
//   - [Store.Create] saves a root that is not stored yet
//   - [Store.Load] reads a root and rehydrates it into the full document
//   - [Store.CascadeDelete] removes every record reachable from a root and returns
//     the keys it could not remove
//   - [Store.Repair] finds records that no root reaches
//
// # Rehydration
//
// Missing children rehydrate as empty objects rather than failing the read. A child
// record that cannot be decoded is also treated as empty and logged as a warning.
// Reference cycles and nesting deeper than [Config.MaxDepth] fail with [ErrCycle]
// and [ErrMaxDepth].
//
// # Errors
//
//   - [ErrNotFound] - no record at the key
//   - [ErrAlreadyExists] - root record already stored
//   - [ErrNoSchema] - Store built without a schema
//   - [ErrCycle] - a reference leads back to an ancestor
//   - [ErrMaxDepth] - nesting exceeded Config.MaxDepth
//   - [ErrScanUnsupported] - backend cannot list keys
package store
