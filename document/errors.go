package document

import "errors"

var (
	// ErrNotObject is returned when a payload is not a JSON object.
	ErrNotObject = errors.New("espalier: document is not a JSON object")

	// ErrMissingIdentity is returned when a node has no objectId or objectType.
	ErrMissingIdentity = errors.New("espalier: document is missing objectId or objectType")
)
