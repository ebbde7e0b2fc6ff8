package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/BaSui01/crewflow/types"
)

// document is the wire form of the JSON-Schema dialect used by
// function-calling APIs.
type document struct {
	Type                 json.RawMessage `json:"type,omitempty"`
	Description          string          `json:"description,omitempty"`
	Properties           *properties     `json:"properties,omitempty"`
	Required             []string        `json:"required,omitempty"`
	AdditionalProperties json.RawMessage `json:"additionalProperties,omitempty"`
	Items                *document       `json:"items,omitempty"`
	Enum                 []any           `json:"enum,omitempty"`
	Default              any             `json:"default,omitempty"`
}

// properties keeps object members in document order.
type properties struct {
	names []string
	docs  map[string]*document
}

func (p *properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range p.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(name))
		buf.WriteByte(':')
		raw, err := json.Marshal(p.docs[name])
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties must be an object")
	}
	p.docs = make(map[string]*document)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var d document
		if err := dec.Decode(&d); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		if _, dup := p.docs[name]; !dup {
			p.names = append(p.names, name)
		}
		p.docs[name] = &d
	}
	_, err = dec.Token()
	return err
}

// JSONSchema returns the schema in the JSON-Schema dialect expected by
// function-calling APIs.
func (s *Schema) JSONSchema() json.RawMessage {
	raw, err := json.Marshal(s.toDocument())
	if err != nil {
		// defaults are validated by Check; an unmarshalable default
		// degrades to a schema without it.
		raw, _ = json.Marshal(s.withoutDefaults().toDocument())
	}
	return raw
}

// MarshalJSON implements json.Marshaler using the JSON-Schema dialect.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toDocument())
}

// UnmarshalJSON implements json.Unmarshaler for the JSON-Schema dialect.
func (s *Schema) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

func (s *Schema) toDocument() *document {
	d := &document{
		Type:        json.RawMessage(strconv.Quote(string(s.Kind))),
		Description: s.Description,
	}
	switch s.Kind {
	case KindObject:
		d.Properties = &properties{docs: make(map[string]*document, len(s.Fields))}
		for _, f := range s.Fields {
			fd := f.Schema.toDocument()
			if f.HasDefault {
				fd.Default = f.Default
			}
			d.Properties.names = append(d.Properties.names, f.Name)
			d.Properties.docs[f.Name] = fd
		}
		d.Required = s.RequiredNames()
		if !s.AllowExtra {
			d.AdditionalProperties = json.RawMessage("false")
		}
	case KindArray:
		d.Items = s.Items.toDocument()
	case KindString:
		for _, e := range s.Enum {
			d.Enum = append(d.Enum, e)
		}
	}
	return d
}

func (s *Schema) withoutDefaults() *Schema {
	cp := *s
	if s.Items != nil {
		cp.Items = s.Items.withoutDefaults()
	}
	cp.Fields = make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Default, f.HasDefault = nil, false
		f.Schema = f.Schema.withoutDefaults()
		cp.Fields[i] = f
	}
	return &cp
}

// Parse reads a schema written in the JSON-Schema dialect. Only the subset
// the engine can validate is accepted: the six kinds, properties,
// required, items, enum, default, description and additionalProperties.
func Parse(raw []byte) (*Schema, error) {
	var d document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "invalid JSON schema").WithCause(err)
	}
	s, err := fromDocument("$", &d)
	if err != nil {
		return nil, err
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromMap converts a decoded JSON-Schema document (e.g. from YAML) into a
// Schema.
func FromMap(doc map[string]any) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "invalid JSON schema").WithCause(err)
	}
	return Parse(raw)
}

func fromDocument(path string, d *document) (*Schema, error) {
	kind, err := parseKind(path, d)
	if err != nil {
		return nil, err
	}
	s := &Schema{Kind: kind, Description: d.Description}
	switch kind {
	case KindObject:
		required := make(map[string]bool, len(d.Required))
		for _, r := range d.Required {
			required[r] = true
		}
		if d.Properties != nil {
			for _, name := range d.Properties.names {
				fd := d.Properties.docs[name]
				fs, err := fromDocument(joinPath(path, name), fd)
				if err != nil {
					return nil, err
				}
				f := Field{Name: name, Schema: fs, Required: required[name]}
				if fd.Default != nil && !f.Required {
					f = f.WithDefault(fd.Default)
				}
				s.Fields = append(s.Fields, f)
			}
		}
		s.AllowExtra = allowsExtra(d.AdditionalProperties)
	case KindArray:
		if d.Items == nil {
			return nil, types.Errorf(types.ErrInvalidConfig, "schema %s: array without items", path)
		}
		items, err := fromDocument(path+"[]", d.Items)
		if err != nil {
			return nil, err
		}
		s.Items = items
	case KindString:
		for _, e := range d.Enum {
			str, ok := e.(string)
			if !ok {
				return nil, types.Errorf(types.ErrInvalidConfig, "schema %s: non-string enum value %v", path, e)
			}
			s.Enum = append(s.Enum, str)
		}
	}
	return s, nil
}

func parseKind(path string, d *document) (Kind, error) {
	if len(d.Type) == 0 {
		if d.Properties != nil {
			return KindObject, nil
		}
		return "", types.Errorf(types.ErrInvalidConfig, "schema %s: missing type", path)
	}
	var single string
	if err := json.Unmarshal(d.Type, &single); err == nil {
		return checkKind(path, single)
	}
	// ["string", "null"] 形式：取唯一的非 null 类型
	var multi []string
	if err := json.Unmarshal(d.Type, &multi); err != nil {
		return "", types.Errorf(types.ErrInvalidConfig, "schema %s: invalid type", path)
	}
	var picked string
	for _, t := range multi {
		if t == "null" {
			continue
		}
		if picked != "" {
			return "", types.Errorf(types.ErrInvalidConfig, "schema %s: union types are not supported", path)
		}
		picked = t
	}
	return checkKind(path, picked)
}

func checkKind(path, t string) (Kind, error) {
	switch k := Kind(t); k {
	case KindString, KindInteger, KindNumber, KindBoolean, KindObject, KindArray:
		return k, nil
	}
	return "", types.Errorf(types.ErrInvalidConfig, "schema %s: unsupported type %q", path, t)
}

func allowsExtra(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	// 以子 schema 形式声明的 additionalProperties（如 map 类型）视为允许
	return true
}

// ====== 标准 JSON Schema 编译 ======

// Compiled is the schema compiled by a standards-conformant JSON Schema
// (draft 2020-12) implementation.
type Compiled struct {
	sch *sjsonschema.Schema
}

// Compile compiles the exported dialect. A schema that fails to compile
// would be rejected by the provider's function-calling API as well.
func (s *Schema) Compile() (*Compiled, error) {
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(s.JSONSchema()))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "export schema").WithCause(err)
	}
	c := sjsonschema.NewCompiler()
	c.DefaultDraft(sjsonschema.Draft2020)
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "add schema resource").WithCause(err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "compile schema").WithCause(err)
	}
	return &Compiled{sch: sch}, nil
}

// Validate validates a Go or JSON value against the compiled schema.
func (c *Compiled) Validate(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	inst, err := sjsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return c.sch.Validate(inst)
}
