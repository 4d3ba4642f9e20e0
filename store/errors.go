package store

import "errors"

var (
	// ErrNotFound is returned when a key has no record.
	ErrNotFound = errors.New("espalier: record not found")

	// ErrAlreadyExists is returned when creating a root record whose key is taken.
	ErrAlreadyExists = errors.New("espalier: record already exists")

	// ErrNoSchema is returned when a Store is used without a document schema.
	ErrNoSchema = errors.New("espalier: store has no schema")

	// ErrCycle is returned when a reference leads back to a record on the current path.
	ErrCycle = errors.New("espalier: reference cycle")

	// ErrMaxDepth is returned when rehydration nests deeper than Config.MaxDepth.
	ErrMaxDepth = errors.New("espalier: maximum nesting depth exceeded")

	// ErrScanUnsupported is returned by Repair when the KV backend cannot list keys.
	ErrScanUnsupported = errors.New("espalier: backend does not support key scans")
)
