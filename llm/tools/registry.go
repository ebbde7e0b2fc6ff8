package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/types"
)

// validName 与 OpenAI function name 规则一致
var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Recorder receives one observation per invocation. status is "success"
// or the ToolError kind. internal/metrics.Collector implements it.
type Recorder interface {
	RecordToolInvocation(tool, status string, d time.Duration)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDefaultTimeout sets the timeout of tools that declare none.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

type entry struct {
	tool Tool
	spec llm.ToolSchema
}

// Registry holds the tools available to a crew or flow. It is safe for
// concurrent use; once frozen it only serves lookups and invocations.
type Registry struct {
	mu             sync.RWMutex
	tools          map[string]entry
	order          []string
	frozen         bool
	defaultTimeout time.Duration
	logger         *zap.Logger
	recorder       Recorder
	tracer         trace.Tracer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:          make(map[string]entry),
		defaultTimeout: DefaultTimeout,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer("github.com/BaSui01/crewflow/llm/tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "tool_registry"))
	return r
}

// Register adds t. The argument schema must be an object schema that
// compiles as JSON Schema.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return types.NewError(types.ErrInvalidConfig, "register tool: nil tool")
	}
	name := t.Name()
	if !validName.MatchString(name) {
		return types.Errorf(types.ErrInvalidConfig, "register tool: invalid name %q", name)
	}
	if err := checkToolSchema(name, t.Schema()); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return types.Errorf(types.ErrRegistryFrozen, "registry is frozen: cannot register tool %q", name)
	}
	if _, exists := r.tools[name]; exists {
		return types.Errorf(types.ErrDuplicateTool, "tool %q already registered", name)
	}

	r.tools[name] = entry{tool: t, spec: SchemaOf(t)}
	r.order = append(r.order, name)

	r.logger.Debug("tool registered", zap.String("name", name), zap.Duration("timeout", TimeoutFor(t, r.defaultTimeout)))
	return nil
}

// MustRegister registers every tool and panics on the first failure.
func (r *Registry) MustRegister(ts ...Tool) {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func checkToolSchema(name string, s *schema.Schema) error {
	if s == nil {
		return types.Errorf(types.ErrInvalidConfig, "tool %q: nil argument schema", name)
	}
	if s.Kind != schema.KindObject {
		return types.Errorf(types.ErrInvalidConfig, "tool %q: argument schema must be an object, got %s", name, s.Kind)
	}
	if err := s.Check(); err != nil {
		return types.Errorf(types.ErrInvalidConfig, "tool %q: invalid argument schema", name).WithCause(err)
	}
	if _, err := s.Compile(); err != nil {
		return types.Errorf(types.ErrInvalidConfig, "tool %q: argument schema does not compile", name).WithCause(err)
	}
	return nil
}

// Freeze rejects every later Register. Crews and flows freeze their
// registry on kickoff.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SchemaFor returns the LLM-facing schema of name.
func (r *Registry) SchemaFor(name string) (llm.ToolSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return llm.ToolSchema{}, r.unknown(name)
	}
	return e.spec, nil
}

// Schemas returns the schemas of names in registration order, or of every
// tool when names is empty.
func (r *Registry) Schemas(names ...string) ([]llm.ToolSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.tools[n]; !ok {
			return nil, r.unknown(n)
		}
		want[n] = true
	}

	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, n := range r.order {
		if len(names) == 0 || want[n] {
			out = append(out, r.tools[n].spec)
		}
	}
	return out, nil
}

// Invoke validates raw and calls the named tool. See Run for the error
// contract.
func (r *Registry) Invoke(ctx context.Context, name string, raw json.RawMessage) (any, *ToolError) {
	return r.InvokeWithTimeout(ctx, name, raw, 0)
}

// InvokeWithTimeout is Invoke with a caller timeout for tools that declare
// none. A fallback <= 0 uses the registry default.
func (r *Registry) InvokeWithTimeout(ctx context.Context, name string, raw json.RawMessage, fallback time.Duration) (any, *ToolError) {
	if fallback <= 0 {
		fallback = r.defaultTimeout
	}
	ctx, span := r.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	start := time.Now()
	t, ok := r.Get(name)
	if !ok {
		r.mu.RLock()
		terr := r.unknown(name)
		r.mu.RUnlock()
		r.finish(span, name, start, terr)
		return nil, terr
	}

	result, terr := Run(ctx, t, raw, TimeoutFor(t, fallback))
	r.finish(span, name, start, terr)
	return result, terr
}

func (r *Registry) finish(span trace.Span, name string, start time.Time, terr *ToolError) {
	d := time.Since(start)
	status := "success"
	if terr != nil {
		status = string(terr.Kind)
		span.SetStatus(codes.Error, terr.Error())
		span.SetAttributes(attribute.String("tool.error_kind", status))
		r.logger.Debug("tool invocation failed",
			zap.String("name", name),
			zap.String("kind", status),
			zap.String("message", terr.Message),
			zap.Duration("duration", d))
	} else {
		r.logger.Debug("tool invocation succeeded", zap.String("name", name), zap.Duration("duration", d))
	}
	if r.recorder != nil {
		r.recorder.RecordToolInvocation(name, status, d)
	}
}

// unknown 需持有读锁
func (r *Registry) unknown(name string) *ToolError {
	available := append([]string(nil), r.order...)
	sort.Strings(available)
	return NewToolError(KindUnknownTool, name,
		fmt.Sprintf("unknown tool %q; available: %s", name, strings.Join(available, ", ")), nil)
}
