package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/BaSui01/crewflow/types"
)

// errSchemaCode lets errors.As / types.GetErrorCode classify every
// SchemaError under the SCHEMA code.
var errSchemaCode = types.NewError(types.ErrSchema, "schema validation failed")

// SchemaError reports the first location where a value does not match its
// schema.
type SchemaError struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Detail   string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("schema: %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap exposes the SCHEMA engine code.
func (e *SchemaError) Unwrap() error { return errSchemaCode }

// Validate checks value against the schema and returns its canonical form:
// objects as map[string]any with defaults applied, integers as int64,
// numbers as float64. It never panics.
func (s *Schema) Validate(value any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &SchemaError{Path: "$", Expected: s.String(), Actual: "invalid value", Detail: fmt.Sprint(r)}
		}
	}()
	if s == nil {
		return nil, &SchemaError{Path: "$", Expected: "schema", Actual: "nil schema"}
	}
	normalized, nerr := normalize(value)
	if nerr != nil {
		return nil, &SchemaError{Path: "$", Expected: s.String(), Actual: "non-JSON value", Detail: nerr.Error()}
	}
	return s.validate("$", normalized)
}

// ValidateJSON decodes raw JSON (keeping number precision) and validates it.
func (s *Schema) ValidateJSON(raw []byte) (any, error) {
	v, err := DecodeJSON(raw)
	if err != nil {
		return nil, &SchemaError{Path: "$", Expected: "valid JSON", Actual: "malformed JSON", Detail: err.Error()}
	}
	return s.Validate(v)
}

// DecodeJSON decodes raw into generic JSON values using json.Number for
// numbers. Trailing data is an error.
func DecodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected trailing data")
	}
	return v, nil
}

func (s *Schema) validate(path string, v any) (any, error) {
	switch s.Kind {
	case KindString:
		str, ok := v.(string)
		if !ok {
			return nil, mismatch(path, s, v)
		}
		if len(s.Enum) > 0 && !contains(s.Enum, str) {
			return nil, &SchemaError{Path: path, Expected: "one of " + strings.Join(s.Enum, ", "), Actual: strconv.Quote(str)}
		}
		return str, nil

	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(path, s, v)
		}
		return b, nil

	case KindInteger:
		n, ok := asInteger(v)
		if !ok {
			return nil, mismatch(path, s, v)
		}
		return n, nil

	case KindNumber:
		f, ok := asNumber(v)
		if !ok {
			return nil, mismatch(path, s, v)
		}
		return f, nil

	case KindArray:
		items, ok := v.([]any)
		if !ok {
			return nil, mismatch(path, s, v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			cv, err := s.Items.validate(indexPath(path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil

	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(path, s, v)
		}
		return s.validateObject(path, obj)
	}
	return nil, &SchemaError{Path: path, Expected: "known schema kind", Actual: string(s.Kind)}
}

func (s *Schema) validateObject(path string, obj map[string]any) (any, error) {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		fp := joinPath(path, f.Name)
		raw, present := obj[f.Name]
		// 可选字段显式传入 null 视为缺省
		if present && raw == nil && !f.Required {
			present = false
		}
		if !present {
			if f.Required {
				return nil, &SchemaError{Path: fp, Expected: f.Schema.String(), Actual: "missing"}
			}
			if f.HasDefault {
				dv, err := f.Schema.validate(fp, mustNormalize(f.Default))
				if err != nil {
					return nil, err
				}
				out[f.Name] = dv
			}
			continue
		}
		cv, err := f.Schema.validate(fp, raw)
		if err != nil {
			return nil, err
		}
		out[f.Name] = cv
	}

	// 未声明字段：按字典序报告第一个，保证错误信息确定
	var unknown []string
	for k := range obj {
		if _, ok := s.Field(k); !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		if !s.AllowExtra {
			first := unknown[0]
			for _, k := range unknown[1:] {
				if k < first {
					first = k
				}
			}
			return nil, &SchemaError{Path: joinPath(path, first), Expected: "no such field", Actual: "unknown field"}
		}
		for _, k := range unknown {
			out[k] = obj[k]
		}
	}
	return out, nil
}

func asInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case float64:
		return floatToInt(n)
	case int64:
		return n, true
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func mismatch(path string, s *Schema, v any) *SchemaError {
	e := &SchemaError{Path: path, Expected: string(s.Kind), Actual: kindOf(v)}
	if s.Kind == KindInteger {
		if _, ok := asNumber(v); ok {
			e.Detail = "number is not integral"
		}
	}
	return e
}

// kindOf names the JSON kind of a normalized value.
func kindOf(v any) string {
	switch n := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case float64:
		if _, ok := floatToInt(n); ok {
			return "integer"
		}
		return "number"
	case int64:
		return "integer"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// normalize converts Go values into the generic JSON value space
// (map[string]any, []any, string, bool, json.Number/float64/int64, nil).
// Anything else is routed through encoding/json.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, json.Number, float64, int64:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return json.Number(strconv.FormatUint(uint64(t), 10)), nil
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return json.Number(strconv.FormatUint(t, 10)), nil
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case json.RawMessage:
		return DecodeJSON(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return DecodeJSON(raw)
}

func mustNormalize(v any) any {
	nv, err := normalize(v)
	if err != nil {
		panic(err)
	}
	return nv
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
