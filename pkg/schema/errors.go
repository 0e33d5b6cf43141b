package schema

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrValidation = errors.New("validation error")

// Violation is a single field-level failure.
type Violation struct {
	Field      string      `json:"field"`
	Constraint string      `json:"constraint"`
	Value      interface{} `json:"value,omitempty"`
	Reason     string      `json:"reason"`
}

func (v Violation) String() string {
	if v.Value == nil {
		return fmt.Sprintf("%s: %s", v.Field, v.Reason)
	}
	return fmt.Sprintf("%s: %s (got %v)", v.Field, v.Reason, v.Value)
}

// ValidationError collects every violation found while validating one value
// against a schema. Violations are ordered like the schema's fields.
type ValidationError struct {
	Schema     string      `json:"schema"`
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return ErrValidation.Error()
	}
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Schema, strings.Join(msgs, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// First returns the first violation, the one callers usually report.
func (e *ValidationError) First() Violation {
	if e == nil || len(e.Violations) == 0 {
		return Violation{}
	}
	return e.Violations[0]
}

// HasField reports whether any violation concerns the named field.
func (e *ValidationError) HasField(name string) bool {
	if e == nil {
		return false
	}
	for _, v := range e.Violations {
		if v.Field == name {
			return true
		}
	}
	return false
}

func newViolation(f *Field, constraint string, value interface{}, format string, args ...interface{}) *Violation {
	return &Violation{
		Field:      f.Name,
		Constraint: constraint,
		Value:      value,
		Reason:     fmt.Sprintf(format, args...),
	}
}
