package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

const jsonSchemaDraft = "http://json-schema.org/draft-07/schema#"

// JSONSchema renders the field table as a JSON Schema document. Hidden and
// advanced fields are flagged with x-widget / x-advanced so UIs can render
// them accordingly.
func (s *Schema[T]) JSONSchema() *jsonschema.Schema {
	ret := &jsonschema.Schema{
		Version:    jsonSchemaDraft,
		Title:      s.name,
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	for _, f := range s.fields {
		ret.Properties.Set(f.Name, f.jsonSchema())
		if f.Required {
			ret.Required = append(ret.Required, f.Name)
		}
	}
	return ret
}

func (f *Field) jsonSchema() *jsonschema.Schema {
	ret := &jsonschema.Schema{
		Description: f.Description,
		Extras:      map[string]interface{}{},
	}

	switch f.Type {
	case TypeString:
		ret.Type = "string"
	case TypeURL:
		ret.Type = "string"
		ret.Format = "uri"
	case TypeChoice:
		ret.Type = "string"
	case TypeInteger:
		ret.Type = "integer"
	case TypeFloat:
		ret.Type = "number"
	case TypeBool:
		ret.Type = "boolean"
	case TypeStringMap:
		ret.Type = "object"
		ret.AdditionalProperties = &jsonschema.Schema{Type: "string"}
	case TypeObject:
		ret.Type = "object"
	case TypeList:
		ret.Type = "array"
	case TypeBytes:
		ret.Type = "string"
		ret.Extras["contentEncoding"] = "base64"
	case TypeJSON:
		// any value
	}

	for _, c := range f.Choices {
		ret.Enum = append(ret.Enum, c)
	}
	if f.HasDefault() {
		ret.Default = f.Default
	}
	if f.Example != nil {
		ret.Examples = []interface{}{f.Example}
	}
	if f.Min != nil {
		ret.Extras["minimum"] = *f.Min
	}
	if f.Max != nil {
		ret.Extras["maximum"] = *f.Max
	}
	if f.MinLength != nil {
		ret.Extras["minLength"] = *f.MinLength
	}
	if f.MaxLength != nil {
		ret.Extras["maxLength"] = *f.MaxLength
	}
	if f.Hidden {
		ret.Extras["x-widget"] = "hidden"
	}
	if f.Advanced {
		ret.Extras["x-advanced"] = true
	}
	if len(ret.Extras) == 0 {
		ret.Extras = nil
	}
	return ret
}

// ValidateDocument checks an arbitrary decoded document against the rendered
// JSON Schema of d. It is stricter than Normalize, which also coerces values
// such as numeric strings.
func ValidateDocument(d Descriptor, document interface{}) error {
	schemaJSON, err := json.Marshal(d.JSONSchema())
	if err != nil {
		return errors.Wrap(err, "render json schema")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return errors.Wrapf(err, "validate document against %s", d.Name())
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Schema: d.Name()}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if property, ok := desc.Details()["property"]; ok && field == "(root)" {
			field = fmt.Sprint(property)
		}
		verr.Violations = append(verr.Violations, Violation{
			Field:      field,
			Constraint: desc.Type(),
			Value:      desc.Value(),
			Reason:     desc.Description(),
		})
	}
	return verr
}
