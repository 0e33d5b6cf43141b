package schema

import (
	"github.com/pkg/errors"
)

// FieldType is the semantic type of a field. Raw values are coerced into the
// Go representation listed next to each constant.
type FieldType string

const (
	TypeString    FieldType = "string"     // string
	TypeInteger   FieldType = "integer"    // int64
	TypeFloat     FieldType = "float"      // float64
	TypeBool      FieldType = "bool"       // bool
	TypeURL       FieldType = "url"        // string, absolute URL
	TypeChoice    FieldType = "choice"     // string, one of Choices
	TypeStringMap FieldType = "string_map" // map[string]string
	TypeObject    FieldType = "object"     // map[string]interface{}
	TypeList      FieldType = "list"       // []interface{}
	TypeJSON      FieldType = "json"       // any JSON value, unchanged
	TypeBytes     FieldType = "bytes"      // []byte, base64 when given as string
)

// Field describes one entry of a schema's field table.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Default     interface{}
	Required    bool
	Min         *float64
	Max         *float64
	MinLength   *int
	MaxLength   *int
	Choices     []string
	// Hidden fields are validated like every other field, they are only
	// left out when a value is rendered for an outer caller.
	Hidden   bool
	Advanced bool
	Example  interface{}
}

type FieldOption func(*Field)

func NewField(name string, fieldType FieldType, options ...FieldOption) *Field {
	f := &Field{
		Name: name,
		Type: fieldType,
	}
	for _, o := range options {
		o(f)
	}
	return f
}

func WithDescription(description string) FieldOption {
	return func(f *Field) {
		f.Description = description
	}
}

func WithDefault(value interface{}) FieldOption {
	return func(f *Field) {
		f.Default = value
	}
}

func WithRequired() FieldOption {
	return func(f *Field) {
		f.Required = true
	}
}

func WithMin(min float64) FieldOption {
	return func(f *Field) {
		f.Min = &min
	}
}

func WithMax(max float64) FieldOption {
	return func(f *Field) {
		f.Max = &max
	}
}

// WithRange sets both numeric bounds, inclusive.
func WithRange(min, max float64) FieldOption {
	return func(f *Field) {
		f.Min = &min
		f.Max = &max
	}
}

func WithMinLength(n int) FieldOption {
	return func(f *Field) {
		f.MinLength = &n
	}
}

func WithMaxLength(n int) FieldOption {
	return func(f *Field) {
		f.MaxLength = &n
	}
}

func WithChoices(choices ...string) FieldOption {
	return func(f *Field) {
		f.Choices = choices
	}
}

func WithHidden() FieldOption {
	return func(f *Field) {
		f.Hidden = true
	}
}

func WithAdvanced() FieldOption {
	return func(f *Field) {
		f.Advanced = true
	}
}

func WithExample(example interface{}) FieldOption {
	return func(f *Field) {
		f.Example = example
	}
}

func (f *Field) HasDefault() bool {
	return f.Default != nil
}

func (f *Field) isNumeric() bool {
	return f.Type == TypeInteger || f.Type == TypeFloat
}

// checkDescriptor verifies that the descriptor itself is consistent. It runs
// once when a schema is built.
func (f *Field) checkDescriptor() error {
	if f.Name == "" {
		return errors.Errorf("field without a name")
	}
	switch f.Type {
	case TypeString, TypeInteger, TypeFloat, TypeBool, TypeURL, TypeChoice,
		TypeStringMap, TypeObject, TypeList, TypeJSON, TypeBytes:
	default:
		return errors.Errorf("field %q: unknown type %q", f.Name, f.Type)
	}
	if f.Required && f.HasDefault() {
		return errors.Errorf("field %q: a required field cannot have a default", f.Name)
	}
	if f.Type == TypeChoice && len(f.Choices) == 0 {
		return errors.Errorf("field %q: choice field without choices", f.Name)
	}
	if (f.Min != nil || f.Max != nil) && !f.isNumeric() {
		return errors.Errorf("field %q: numeric bounds on a %s field", f.Name, f.Type)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return errors.Errorf("field %q: min %v is greater than max %v", f.Name, *f.Min, *f.Max)
	}
	if f.HasDefault() {
		v, err := f.coerce(f.Default)
		if err != nil {
			return errors.Errorf("field %q: invalid default: %s", f.Name, err.Reason)
		}
		if err := f.checkConstraints(v); err != nil {
			return errors.Errorf("field %q: invalid default: %s", f.Name, err.Reason)
		}
	}
	return nil
}
