package tools

import (
	"context"
	"time"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/schema"
)

// Tool is a capability an agent may call. Arguments reach Invoke already
// validated against Schema and in canonical form (see schema.Validate).
// Implementations must not mutate engine state.
type Tool interface {
	Name() string
	Description() string
	Schema() *schema.Schema
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// TimeoutTool is implemented by tools that need a timeout other than the
// registry default.
type TimeoutTool interface {
	Tool
	Timeout() time.Duration
}

// Option configures a tool built by New or Func.
type Option func(*funcTool)

// WithTimeout overrides the registry's default timeout for this tool.
func WithTimeout(d time.Duration) Option {
	return func(t *funcTool) { t.timeout = d }
}

// funcTool 是 New / NewFunc 构建的 Tool 实现
type funcTool struct {
	name        string
	description string
	schema      *schema.Schema
	fn          func(ctx context.Context, args map[string]any) (any, error)
	timeout     time.Duration
}

func (t *funcTool) Name() string           { return t.name }
func (t *funcTool) Description() string    { return t.description }
func (t *funcTool) Schema() *schema.Schema { return t.schema }
func (t *funcTool) Timeout() time.Duration { return t.timeout }
func (t *funcTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

// New builds a tool from an explicit schema and a function receiving the
// validated argument map. Useful when the schema is only known at runtime.
func New(name, description string, s *schema.Schema, fn func(ctx context.Context, args map[string]any) (any, error), opts ...Option) Tool {
	t := &funcTool{name: name, description: description, schema: s, fn: fn}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewFunc builds a tool from a typed function. The argument schema is
// reflected from T, a struct whose json tags name the arguments.
func NewFunc[T any, R any](name, description string, fn func(ctx context.Context, args T) (R, error), opts ...Option) (Tool, error) {
	var zero T
	s, err := schema.FromStruct(&zero)
	if err != nil {
		return nil, err
	}
	invoke := func(ctx context.Context, args map[string]any) (any, error) {
		var in T
		if err := schema.Decode(args, &in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
	return New(name, description, s, invoke, opts...), nil
}

// Func is NewFunc for package-level declarations; it panics when T cannot
// be reflected.
func Func[T any, R any](name, description string, fn func(ctx context.Context, args T) (R, error), opts ...Option) Tool {
	t, err := NewFunc(name, description, fn, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// SchemaOf returns the LLM-facing declaration of t.
func SchemaOf(t Tool) llm.ToolSchema {
	return llm.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema().JSONSchema(),
	}
}

// TimeoutFor returns the timeout t declares, or fallback when it declares none.
func TimeoutFor(t Tool, fallback time.Duration) time.Duration {
	if tt, ok := t.(TimeoutTool); ok && tt.Timeout() > 0 {
		return tt.Timeout()
	}
	return fallback
}
