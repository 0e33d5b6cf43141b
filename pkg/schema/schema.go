// Package schema implements the declarative field tables used for the Input,
// Output and Configuration of every processor.
//
// A schema is built once, at startup, from a fixed list of field descriptors.
// Validating a raw mapping applies defaults, coerces every value to its
// semantic type and enforces bounds and choices. The normalized mapping is then
// decoded into the schema's Go type.
package schema

import (
	"encoding/json"
	"sort"

	"github.com/huandu/go-clone"
	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Descriptor is the type-erased view of a schema, used by hosts that handle
// processors of different types.
type Descriptor interface {
	Name() string
	Fields() []*Field
	Normalize(raw map[string]interface{}) (map[string]interface{}, error)
	JSONSchema() *jsonschema.Schema
}

// Schema binds a field table to the Go type T it decodes into. Field names
// must match the json tags of T.
type Schema[T any] struct {
	name   string
	fields []*Field
	index  map[string]*Field
}

var _ Descriptor = (*Schema[struct{}])(nil)

func New[T any](name string, fields ...*Field) (*Schema[T], error) {
	s := &Schema[T]{
		name:   name,
		fields: make([]*Field, 0, len(fields)),
		index:  make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		if err := f.checkDescriptor(); err != nil {
			return nil, errors.Wrapf(err, "schema %s", name)
		}
		if _, ok := s.index[f.Name]; ok {
			return nil, errors.Errorf("schema %s: duplicate field %q", name, f.Name)
		}
		s.fields = append(s.fields, f)
		s.index[f.Name] = f
	}
	return s, nil
}

// Must is New for package-level schema tables, it panics on an invalid descriptor.
func Must[T any](name string, fields ...*Field) *Schema[T] {
	s, err := New[T](name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema[T]) Name() string {
	return s.name
}

func (s *Schema[T]) Fields() []*Field {
	ret := make([]*Field, len(s.fields))
	copy(ret, s.fields)
	return ret
}

func (s *Schema[T]) Field(name string) (*Field, bool) {
	f, ok := s.index[name]
	return f, ok
}

// Normalize validates raw against the field table and returns a new mapping
// holding only declared fields, with defaults applied and values coerced.
// Keys that are not declared are dropped. All violations are collected into a
// single *ValidationError.
func (s *Schema[T]) Normalize(raw map[string]interface{}) (map[string]interface{}, error) {
	ret := make(map[string]interface{}, len(s.fields))
	var violations []Violation

	for _, f := range s.fields {
		v, ok := raw[f.Name]
		if !ok || v == nil {
			switch {
			case f.HasDefault():
				v = clone.Clone(f.Default)
			case f.Required:
				violations = append(violations, *newViolation(f, constraintRequired, nil, "field is required"))
				continue
			default:
				continue
			}
		}

		coerced, verr := f.coerce(v)
		if verr != nil {
			violations = append(violations, *verr)
			continue
		}
		if verr := f.checkConstraints(coerced); verr != nil {
			violations = append(violations, *verr)
			continue
		}
		ret[f.Name] = coerced
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Schema: s.name, Violations: violations}
	}
	return ret, nil
}

// Decode validates raw and decodes it into a T.
func (s *Schema[T]) Decode(raw map[string]interface{}) (T, error) {
	var ret T
	normalized, err := s.Normalize(raw)
	if err != nil {
		return ret, err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &ret,
	})
	if err != nil {
		return ret, err
	}
	if err := decoder.Decode(normalized); err != nil {
		return ret, errors.Wrapf(err, "schema %s: decode", s.name)
	}
	return ret, nil
}

// Defaults decodes an empty mapping, which only succeeds when the schema has
// no required fields.
func (s *Schema[T]) Defaults() (T, error) {
	return s.Decode(map[string]interface{}{})
}

// Encode turns v into its normalized mapping, validating it on the way.
func (s *Schema[T]) Encode(v T) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "schema %s: encode", s.name)
	}
	raw := map[string]interface{}{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrapf(err, "schema %s: encode", s.name)
	}
	return s.Normalize(raw)
}

// Check reports whether v satisfies the schema.
func (s *Schema[T]) Check(v T) error {
	_, err := s.Encode(v)
	return err
}

// Visible returns a copy of m without the fields the descriptor marks hidden.
func Visible(d Descriptor, m map[string]interface{}) map[string]interface{} {
	hidden := map[string]bool{}
	for _, f := range d.Fields() {
		if f.Hidden {
			hidden[f.Name] = true
		}
	}
	ret := make(map[string]interface{}, len(m))
	for k, v := range m {
		if !hidden[k] {
			ret[k] = v
		}
	}
	return ret
}

// FieldNames lists the declared field names, sorted.
func FieldNames(d Descriptor) []string {
	fields := d.Fields()
	ret := make([]string, 0, len(fields))
	for _, f := range fields {
		ret = append(ret, f.Name)
	}
	sort.Strings(ret)
	return ret
}
