package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/crewflow/schema"
)

// State is the per-run flow state. With a schema every Set is validated
// against the declared field; without one any JSON-serialisable value is
// accepted. Values are kept in their JSON-canonical form so that a
// restored checkpoint reads back exactly what was written.
type State struct {
	mu     sync.RWMutex
	schema *schema.Schema
	values map[string]any
}

// newState 应用 schema 默认值，再用 seed 中与字段同名的值覆盖
func newState(s *schema.Schema, seed map[string]any) (*State, error) {
	st := &State{schema: s, values: make(map[string]any)}
	if s != nil {
		for _, f := range s.Fields {
			if !f.HasDefault {
				continue
			}
			if err := st.set(f.Name, f.Default); err != nil {
				return nil, err
			}
		}
	}
	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s != nil && !s.AllowExtra {
			if _, ok := s.Field(k); !ok {
				continue
			}
		}
		if err := st.set(k, seed[k]); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// restoreState 从检查点恢复，整体按 schema 重新校验
func restoreState(s *schema.Schema, values map[string]any) (*State, error) {
	st := &State{schema: s, values: make(map[string]any)}
	if s == nil {
		for k, v := range values {
			cv, err := canonical(v)
			if err != nil {
				return nil, err
			}
			st.values[k] = cv
		}
		return st, nil
	}
	if values == nil {
		values = map[string]any{}
	}
	out, err := partial(s).Validate(values)
	if err != nil {
		return nil, err
	}
	st.values = out.(map[string]any)
	return st, nil
}

// partial 复制 schema 并把所有字段改为可选，已保存的状态可以缺少尚未写入的字段
func partial(s *schema.Schema) *schema.Schema {
	cp := *s
	cp.Fields = make([]schema.Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Required = false
		f.HasDefault = false
		f.Default = nil
		cp.Fields[i] = f
	}
	return &cp
}

// Get returns a field value.
func (s *State) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Set validates and stores a field value. Setting an optional field to
// nil removes it.
func (s *State) Set(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(name, value)
}

func (s *State) set(name string, value any) error {
	if s.schema == nil {
		if value == nil {
			delete(s.values, name)
			return nil
		}
		cv, err := canonical(value)
		if err != nil {
			return &schema.SchemaError{Path: "$." + name, Expected: "JSON value", Actual: fmt.Sprintf("%T", value), Detail: err.Error()}
		}
		s.values[name] = cv
		return nil
	}

	f, ok := s.schema.Field(name)
	if !ok {
		if !s.schema.AllowExtra {
			return &schema.SchemaError{Path: "$." + name, Expected: "no such field", Actual: "unknown field"}
		}
		cv, err := canonical(value)
		if err != nil {
			return &schema.SchemaError{Path: "$." + name, Expected: "JSON value", Actual: fmt.Sprintf("%T", value), Detail: err.Error()}
		}
		s.values[name] = cv
		return nil
	}
	if value == nil && !f.Required {
		delete(s.values, name)
		return nil
	}
	cv, err := f.Schema.Validate(value)
	if err != nil {
		var serr *schema.SchemaError
		if errors.As(err, &serr) {
			cp := *serr
			cp.Path = "$." + name + strings.TrimPrefix(serr.Path, "$")
			return &cp
		}
		return err
	}
	s.values[name] = cv
	return nil
}

// Values returns a copy of all values.
func (s *State) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Decode copies the state into out, typically a pointer to the struct the
// state schema was reflected from.
func (s *State) Decode(out any) error {
	return schema.Decode(s.Values(), out)
}

// canonical 通过 JSON 往返得到规范形式，并拒绝不可序列化的值
func canonical(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
