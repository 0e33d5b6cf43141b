package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	constraintRequired  = "required"
	constraintType      = "type"
	constraintMin       = "min"
	constraintMax       = "max"
	constraintMinLength = "min_length"
	constraintMaxLength = "max_length"
	constraintChoices   = "choices"
)

// coerce converts a raw value into the Go representation of the field type.
func (f *Field) coerce(v interface{}) (interface{}, *Violation) {
	switch f.Type {
	case TypeString:
		return coerceString(f, v)
	case TypeURL:
		s, verr := coerceString(f, v)
		if verr != nil {
			return nil, verr
		}
		u, err := url.ParseRequestURI(s.(string))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, newViolation(f, constraintType, v, "expected an absolute URL")
		}
		return s, nil
	case TypeChoice:
		return coerceString(f, v)
	case TypeInteger:
		return coerceInteger(f, v)
	case TypeFloat:
		return coerceFloat(f, v)
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, newViolation(f, constraintType, v, "expected a boolean")
			}
			return parsed, nil
		}
		return nil, newViolation(f, constraintType, v, "expected a boolean")
	case TypeStringMap:
		return coerceStringMap(f, v)
	case TypeObject:
		return coerceObject(f, v)
	case TypeList:
		return coerceList(f, v)
	case TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			decoded, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, newViolation(f, constraintType, v, "expected base64 encoded bytes")
			}
			return decoded, nil
		}
		return nil, newViolation(f, constraintType, v, "expected bytes")
	case TypeJSON:
		return v, nil
	}
	return nil, newViolation(f, constraintType, v, "unknown field type %s", f.Type)
}

func coerceString(f *Field, v interface{}) (interface{}, *Violation) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		if utf8.Valid(s) {
			return string(s), nil
		}
	case fmt.Stringer:
		return s.String(), nil
	}
	return nil, newViolation(f, constraintType, v, "expected a string")
}

func coerceInteger(f *Field, v interface{}) (interface{}, *Violation) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, newViolation(f, constraintType, v, "expected an integer")
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil, newViolation(f, constraintType, v, "expected an integer")
		}
		return i, nil
	case bool:
		return nil, newViolation(f, constraintType, v, "expected an integer")
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, newViolation(f, constraintType, v, "integer overflows int64")
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		fl := rv.Float()
		if fl != math.Trunc(fl) || math.IsInf(fl, 0) || math.IsNaN(fl) {
			return nil, newViolation(f, constraintType, v, "expected an integer")
		}
		if fl >= 0x1p63 || fl < -0x1p63 {
			return nil, newViolation(f, constraintType, v, "integer overflows int64")
		}
		return int64(fl), nil
	}
	return nil, newViolation(f, constraintType, v, "expected an integer")
}

func coerceFloat(f *Field, v interface{}) (interface{}, *Violation) {
	fl, ok := toFloat(v)
	if !ok {
		return nil, newViolation(f, constraintType, v, "expected a number")
	}
	if math.IsNaN(fl) || math.IsInf(fl, 0) {
		return nil, newViolation(f, constraintType, v, "expected a finite number")
	}
	return fl, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		fl, err := n.Float64()
		return fl, err == nil
	case string:
		fl, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return fl, err == nil
	case bool:
		return 0, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func coerceStringMap(f *Field, v interface{}) (interface{}, *Violation) {
	switch m := v.(type) {
	case map[string]string:
		ret := make(map[string]string, len(m))
		for k, val := range m {
			ret[k] = val
		}
		return ret, nil
	case map[string]interface{}:
		ret := make(map[string]string, len(m))
		for k, val := range m {
			switch s := val.(type) {
			case string:
				ret[k] = s
			case bool, int, int64, float64, json.Number:
				ret[k] = fmt.Sprint(s)
			default:
				return nil, newViolation(f, constraintType, v, "value of key %q is not a string", k)
			}
		}
		return ret, nil
	}
	return nil, newViolation(f, constraintType, v, "expected a mapping of strings")
}

func coerceObject(f *Field, v interface{}) (interface{}, *Violation) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	kind := reflect.Indirect(reflect.ValueOf(v)).Kind()
	if kind != reflect.Map && kind != reflect.Struct {
		return nil, newViolation(f, constraintType, v, "expected an object")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, newViolation(f, constraintType, v, "expected an object")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, newViolation(f, constraintType, v, "expected an object")
	}
	return m, nil
}

func coerceList(f *Field, v interface{}) (interface{}, *Violation) {
	if l, ok := v.([]interface{}); ok {
		return l, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, newViolation(f, constraintType, v, "expected a list")
	}
	ret := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		ret[i] = rv.Index(i).Interface()
	}
	return ret, nil
}

// checkConstraints runs bounds, length and choice checks on a coerced value.
func (f *Field) checkConstraints(v interface{}) *Violation {
	if f.isNumeric() {
		var n float64
		switch x := v.(type) {
		case int64:
			n = float64(x)
		case float64:
			n = x
		}
		if f.Min != nil && n < *f.Min {
			return newViolation(f, constraintMin, v, "must be >= %v", *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return newViolation(f, constraintMax, v, "must be <= %v", *f.Max)
		}
	}

	if f.MinLength != nil || f.MaxLength != nil {
		length := -1
		switch x := v.(type) {
		case string:
			length = utf8.RuneCountInString(x)
		case []interface{}:
			length = len(x)
		case []byte:
			length = len(x)
		case map[string]string:
			length = len(x)
		}
		if length >= 0 {
			if f.MinLength != nil && length < *f.MinLength {
				return newViolation(f, constraintMinLength, v, "length must be >= %d", *f.MinLength)
			}
			if f.MaxLength != nil && length > *f.MaxLength {
				return newViolation(f, constraintMaxLength, v, "length must be <= %d", *f.MaxLength)
			}
		}
	}

	if len(f.Choices) > 0 {
		s, ok := v.(string)
		if !ok {
			return newViolation(f, constraintChoices, v, "must be one of %s", strings.Join(f.Choices, ", "))
		}
		for _, c := range f.Choices {
			if c == s {
				return nil
			}
		}
		return newViolation(f, constraintChoices, v, "must be one of %s", strings.Join(f.Choices, ", "))
	}

	return nil
}
