package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/BaSui01/crewflow/types"
)

// reflector inlines nested structs and forbids additional properties so
// reflected schemas are strict by default.
var reflector = &jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// FromStruct derives a Schema from a Go struct (or pointer to struct).
//
// Field names follow `json` tags; fields without `omitempty` are required;
// descriptions come from `jsonschema:"description=..."` tags.
func FromStruct(v any) (*Schema, error) {
	if v == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "reflect schema: nil value")
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, types.Errorf(types.ErrInvalidConfig, "reflect schema: %s is not a struct", t)
	}

	js := reflector.ReflectFromType(t)
	raw, err := json.Marshal(js)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "reflect schema").WithCause(err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("reflect schema for %s: %w", t, err)
	}
	return s, nil
}

// For derives the schema of T. It panics on types the engine cannot
// validate and is meant for package-level declarations.
func For[T any]() *Schema {
	var zero T
	s, err := FromStruct(&zero)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode moves a validated value into out (typically a pointer to the struct
// the schema was reflected from).
func Decode(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}
