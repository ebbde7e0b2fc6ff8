package schema

import (
	"fmt"
	"strings"

	"github.com/BaSui01/crewflow/types"
)

// Kind is the JSON type a Schema accepts.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Schema declares the shape of a structured payload exchanged between
// tasks, tools and flows.
//
// Objects keep their fields in declaration order so that the exported
// JSON Schema and prompts stay stable across runs.
type Schema struct {
	Kind        Kind
	Description string

	// Object
	Fields     []Field
	AllowExtra bool

	// Array
	Items *Schema

	// String
	Enum []string
}

// Field is a named member of an object schema.
type Field struct {
	Name       string
	Schema     *Schema
	Required   bool
	Default    any
	HasDefault bool
}

// ====== 构造器 ======

// String returns a string schema.
func String() *Schema { return &Schema{Kind: KindString} }

// Integer returns an integer schema. Numbers with a fractional part and
// numeric strings are rejected.
func Integer() *Schema { return &Schema{Kind: KindInteger} }

// Number returns a number schema.
func Number() *Schema { return &Schema{Kind: KindNumber} }

// Boolean returns a boolean schema.
func Boolean() *Schema { return &Schema{Kind: KindBoolean} }

// Array returns a homogeneous list schema.
func Array(items *Schema) *Schema { return &Schema{Kind: KindArray, Items: items} }

// Object returns a record schema with the given fields.
func Object(fields ...Field) *Schema { return &Schema{Kind: KindObject, Fields: fields} }

// Enum returns a string schema restricted to values.
func Enum(values ...string) *Schema { return &Schema{Kind: KindString, Enum: values} }

// Required declares a required field.
func Required(name string, s *Schema) Field {
	return Field{Name: name, Schema: s, Required: true}
}

// Optional declares an optional field without a default.
func Optional(name string, s *Schema) Field {
	return Field{Name: name, Schema: s}
}

// WithDefault turns the field into an optional field with a default value.
func (f Field) WithDefault(v any) Field {
	f.Required = false
	f.Default = v
	f.HasDefault = true
	return f
}

// Describe sets the description and returns the schema for chaining.
func (s *Schema) Describe(desc string) *Schema {
	s.Description = desc
	return s
}

// Extra allows fields not declared on an object schema.
func (s *Schema) Extra() *Schema {
	s.AllowExtra = true
	return s
}

// Field returns the named field of an object schema.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RequiredNames returns required field names in declaration order.
func (s *Schema) RequiredNames() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Check verifies that the schema declaration itself is well formed:
// known kinds, arrays with items, unique non-empty field names and
// defaults that satisfy their own field schema.
func (s *Schema) Check() error {
	return s.check("$")
}

func (s *Schema) check(path string) error {
	if s == nil {
		return types.Errorf(types.ErrInvalidConfig, "schema %s: nil schema", path)
	}
	switch s.Kind {
	case KindString, KindInteger, KindNumber, KindBoolean:
		if len(s.Enum) > 0 && s.Kind != KindString {
			return types.Errorf(types.ErrInvalidConfig, "schema %s: enum is only supported on strings", path)
		}
		return nil
	case KindArray:
		if s.Items == nil {
			return types.Errorf(types.ErrInvalidConfig, "schema %s: array without items", path)
		}
		return s.Items.check(path + "[]")
	case KindObject:
		seen := make(map[string]struct{}, len(s.Fields))
		for _, f := range s.Fields {
			if strings.TrimSpace(f.Name) == "" {
				return types.Errorf(types.ErrInvalidConfig, "schema %s: empty field name", path)
			}
			if _, dup := seen[f.Name]; dup {
				return types.Errorf(types.ErrInvalidConfig, "schema %s: duplicate field %q", path, f.Name)
			}
			seen[f.Name] = struct{}{}
			fp := joinPath(path, f.Name)
			if err := f.Schema.check(fp); err != nil {
				return err
			}
			if f.HasDefault {
				dv, err := normalize(f.Default)
				if err == nil {
					_, err = f.Schema.validate(fp, dv)
				}
				if err != nil {
					return types.Errorf(types.ErrInvalidConfig, "schema %s: invalid default", fp).WithCause(err)
				}
			}
		}
		return nil
	default:
		return types.Errorf(types.ErrInvalidConfig, "schema %s: unknown kind %q", path, s.Kind)
	}
}

// String renders a compact, human-readable description of the schema,
// e.g. {title: string, pages: integer, tags?: [string]}.
func (s *Schema) String() string {
	if s == nil {
		return "text"
	}
	switch s.Kind {
	case KindArray:
		return "[" + s.Items.String() + "]"
	case KindObject:
		parts := make([]string, 0, len(s.Fields))
		for _, f := range s.Fields {
			name := f.Name
			if !f.Required {
				name += "?"
			}
			parts = append(parts, name+": "+f.Schema.String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindString:
		if len(s.Enum) > 0 {
			return fmt.Sprintf("string(%s)", strings.Join(s.Enum, "|"))
		}
	}
	return string(s.Kind)
}

func joinPath(path, field string) string {
	return path + "." + field
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
