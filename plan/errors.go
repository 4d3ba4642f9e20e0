package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jacentio/espalier/store"
)

var (
	// ErrNotFound is returned when no plan is stored under the requested id.
	// It wraps store.ErrNotFound.
	ErrNotFound = fmt.Errorf("espalier: plan not found: %w", store.ErrNotFound)

	// ErrAlreadyExists is returned when creating a plan whose id is already stored.
	// It wraps store.ErrAlreadyExists.
	ErrAlreadyExists = fmt.Errorf("espalier: plan already exists: %w", store.ErrAlreadyExists)

	// ErrPreconditionRequired is returned when a mutation carries no If-Match token.
	ErrPreconditionRequired = errors.New("espalier: If-Match header is required")

	// ErrConcurrentModification is returned when the presented token does not match
	// the stored plan. Nothing is written.
	ErrConcurrentModification = errors.New("espalier: plan was modified concurrently")
)

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError is returned when a payload does not satisfy the plan schema.
type ValidationError struct {
	Fields []FieldError
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid plan: %v", e.Err)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " (" + f.Rule + ")"
	}
	return "invalid plan: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PartialDeleteError is returned when a cascade delete could not remove every
// record of a plan. Records already removed stay removed.
type PartialDeleteError struct {
	Keys []string
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("espalier: %d records not deleted: %s", len(e.Keys), strings.Join(e.Keys, ", "))
}
