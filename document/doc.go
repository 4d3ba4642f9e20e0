// Package document models tree-shaped documents that are stored as flat subtree records.
//
// A document is a JSON object. Scalar attributes stay inline; fields declared in a
// [Schema] hold child documents, either as a single object or as an ordered array
// of objects. Every child is addressed by a composite key:
//
//	id_<objectType>_<objectId>
//
// Once a document has been decomposed, a parent refers to its children only through
// those keys (reference markers), never through an embedded copy.
//
// # Decomposition
//
// [Decompose] walks a document bottom-up and returns a new, flattened root together
// with one [Record] per descendant. The input tree is never mutated.
//
//	root, records, err := document.Decompose(schema, node)
//
// Persisting records and resolving references back into full trees is the job of
// the store package, which owns the key-value backend.
//
// # Patching
//
// [Merge] combines an existing document with a partial update, de-duplicating one
// array field by an identity attribute. The first element seen for an identity wins,
// so an existing element is kept over an incoming one with the same id.
//
// # Canonical form
//
// [Node.Marshal] produces canonical JSON (object keys sorted by encoding/json), so
// two documents with the same content always serialize to the same bytes.
package document
