package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jacentio/espalier/document"
)

// Validator checks plan payloads before they reach the store.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator that reports fields by their JSON names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidatePlan checks a complete plan and returns it as a document.
func (v *Validator) ValidatePlan(body []byte) (document.Node, error) {
	var p Plan
	return v.check(body, &p)
}

// ValidatePatch checks a partial update and returns it as a document.
func (v *Validator) ValidatePatch(body []byte) (document.Node, error) {
	var p Patch
	return v.check(body, &p)
}

func (v *Validator) check(body []byte, model any) (document.Node, error) {
	node, err := document.Parse(body)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(model); err != nil {
		return nil, &ValidationError{Err: fmt.Errorf("decode: %w", err)}
	}
	if err := v.validate.Struct(model); err != nil {
		return nil, validationError(err)
	}
	return node, nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return &ValidationError{Err: err}
	}
	fields := make([]FieldError, len(errs))
	for i, fe := range errs {
		// Drop the struct name; keep the JSON path below the root.
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		fields[i] = FieldError{Field: path, Rule: fe.Tag()}
	}
	return &ValidationError{Fields: fields, Err: err}
}
