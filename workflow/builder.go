package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/types"
)

// StepFunc is the body of a step. Its return value must be
// JSON-serialisable; a router must return a string label.
type StepFunc func(ctx context.Context, sc *StepContext) (any, error)

// StepKind distinguishes starts, listeners and routers.
type StepKind string

const (
	KindStart  StepKind = "start"
	KindListen StepKind = "listen"
	KindRouter StepKind = "router"
)

type step struct {
	name    string
	kind    StepKind
	when    Predicate
	fn      StepFunc
	retries int
	labels  []string // 路由器声明的标签，为空表示任意
	index   int
}

// StepOption configures a step.
type StepOption func(*step) error

// TriggeredBy lets a start step re-enter when one of labels fires. The
// start still runs at kickoff.
func TriggeredBy(labels ...string) StepOption {
	return func(s *step) error {
		if len(labels) == 0 {
			return fmt.Errorf("TriggeredBy needs at least one label")
		}
		ps := make([]Predicate, len(labels))
		for i, l := range labels {
			ps[i] = OnLabel(l)
		}
		if s.when.IsZero() {
			s.when = Or(ps...)
		} else {
			s.when = Or(append([]Predicate{s.when}, ps...)...)
		}
		return nil
	}
}

// StepRetry re-runs a failing step up to n more times before the failure
// is routed or fails the run. A crew called from the step is re-run as a
// whole; use Task.MaxRetries to retry a single task instead.
func StepRetry(n int) StepOption {
	return func(s *step) error {
		if n < 0 {
			return fmt.Errorf("retries must be >= 0, got %d", n)
		}
		s.retries = n
		return nil
	}
}

// Labels declares the labels a router may return. Returning any other
// label fails the step. Without Labels every label is accepted.
func Labels(labels ...string) StepOption {
	return func(s *step) error {
		if s.kind != KindRouter {
			return fmt.Errorf("labels are only valid on routers")
		}
		s.labels = append(s.labels, labels...)
		return nil
	}
}

// ====== 构建 ======

// FlowBuilder registers steps and produces an immutable Flow.
type FlowBuilder struct {
	name   string
	ec     *engine.Context
	opts   *engine.Options
	logger *zap.Logger
	schema *schema.Schema
	store  CheckpointStore
	steps  []*step
	errs   []string
}

// NewFlowBuilder starts a flow named name.
func NewFlowBuilder(name string) *FlowBuilder {
	return &FlowBuilder{name: name}
}

// Engine sets the engine context. Its logger, emitter, metrics and
// options are used by the flow and it is handed to steps through
// StepContext.Engine.
func (b *FlowBuilder) Engine(ec *engine.Context) *FlowBuilder {
	b.ec = ec
	return b
}

// Options overrides the engine options (MaxSteps, FlowTimeout, Verbose).
func (b *FlowBuilder) Options(opts engine.Options) *FlowBuilder {
	b.opts = &opts
	return b
}

// Logger overrides the engine logger.
func (b *FlowBuilder) Logger(logger *zap.Logger) *FlowBuilder {
	b.logger = logger
	return b
}

// State declares the state schema. Without one the state is an open map.
func (b *FlowBuilder) State(s *schema.Schema) *FlowBuilder {
	b.schema = s
	return b
}

// Checkpoints sets the checkpoint store; by default checkpoints are kept
// in memory.
func (b *FlowBuilder) Checkpoints(store CheckpointStore) *FlowBuilder {
	b.store = store
	return b
}

// Start registers a start step.
func (b *FlowBuilder) Start(name string, fn StepFunc, opts ...StepOption) *FlowBuilder {
	return b.add(&step{name: name, kind: KindStart, fn: fn}, opts)
}

// Listen registers a step that runs when when is satisfied.
func (b *FlowBuilder) Listen(name string, when Predicate, fn StepFunc, opts ...StepOption) *FlowBuilder {
	return b.add(&step{name: name, kind: KindListen, when: when, fn: fn}, opts)
}

// Router registers a step whose string result fires a label.
func (b *FlowBuilder) Router(name string, when Predicate, fn StepFunc, opts ...StepOption) *FlowBuilder {
	return b.add(&step{name: name, kind: KindRouter, when: when, fn: fn}, opts)
}

func (b *FlowBuilder) add(s *step, opts []StepOption) *FlowBuilder {
	if s.kind != KindStart && s.when.IsZero() {
		b.errs = append(b.errs, fmt.Sprintf("step %q has no predicate", s.name))
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			b.errs = append(b.errs, fmt.Sprintf("step %q: %v", s.name, err))
		}
	}
	s.index = len(b.steps)
	b.steps = append(b.steps, s)
	return b
}

// Build validates the step graph.
//
// Configuration mistakes (nil functions, empty predicates, bad options)
// return INVALID_CONFIG. Graph mistakes return UNKNOWN_STEP: duplicate
// names, references to undeclared steps, labels no router can return, a
// flow without a start, and steps that can never run. Router cycles are
// allowed.
func (b *FlowBuilder) Build() (*Flow, error) {
	name := strings.TrimSpace(b.name)
	if name == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "flow: name is required")
	}
	if len(b.errs) > 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "flow %q: %s", name, strings.Join(b.errs, "; "))
	}
	if b.schema != nil {
		if b.schema.Kind != schema.KindObject {
			return nil, types.Errorf(types.ErrInvalidConfig, "flow %q: state schema must be an object", name)
		}
		if err := b.schema.Check(); err != nil {
			return nil, types.Errorf(types.ErrInvalidConfig, "flow %q: state schema: %v", name, err)
		}
	}

	f := &Flow{
		name:   name,
		steps:  b.steps,
		index:  make(map[string]*step, len(b.steps)),
		schema: b.schema,
		store:  b.store,
	}
	f.wire(b)

	for _, s := range b.steps {
		if strings.TrimSpace(s.name) == "" {
			return nil, types.Errorf(types.ErrInvalidConfig, "flow %q: step %d has no name", name, s.index)
		}
		if s.fn == nil {
			return nil, types.Errorf(types.ErrInvalidConfig, "flow %q: step %q has no function", name, s.name)
		}
		if !s.when.IsZero() && !s.when.valid() {
			return nil, types.Errorf(types.ErrInvalidConfig, "flow %q: step %q has an empty predicate", name, s.name)
		}
		if _, dup := f.index[s.name]; dup {
			return nil, unknownStep(name, "duplicate step name %q", s.name)
		}
		f.index[s.name] = s
	}
	if err := f.checkGraph(); err != nil {
		return nil, err
	}
	return f, nil
}

// wire 填充运行时依赖，缺省时使用 nop 实现
func (f *Flow) wire(b *FlowBuilder) {
	f.ec = b.ec
	opts := engine.DefaultOptions()
	logger := zap.NewNop()
	var (
		events  *engine.Emitter
		metrics engine.Metrics = engine.NopMetrics{}
	)
	if b.ec != nil {
		opts = b.ec.Options
		logger = b.ec.Logger
		events = b.ec.Events
		metrics = b.ec.Metrics
	}
	if b.opts != nil {
		opts = b.opts.WithDefaults()
	}
	if b.logger != nil {
		logger = b.logger
	}
	if events == nil {
		events = engine.NewEmitter(logger, opts.Verbose)
	}
	if f.store == nil {
		f.store = NewMemoryCheckpointStore()
	}
	f.opts = opts
	f.logger = logger.With(zap.String("component", "flow"), zap.String("flow", f.name))
	f.events = events
	f.metrics = metrics
}

func unknownStep(flow, format string, args ...any) error {
	return types.Errorf(types.ErrUnknownStep, "flow %q: %s", flow, fmt.Sprintf(format, args...))
}

// checkGraph 校验引用关系与可达性
func (f *Flow) checkGraph() error {
	starts := 0
	for _, s := range f.steps {
		if s.kind == KindStart {
			starts++
		}
	}
	if starts == 0 {
		return unknownStep(f.name, "at least one start step is required")
	}

	for _, s := range f.steps {
		for _, ref := range s.when.steps() {
			if _, ok := f.index[ref]; !ok {
				return unknownStep(f.name, "step %q listens to undeclared step %q", s.name, ref)
			}
		}
		for _, l := range s.when.labels() {
			if !f.labelDeclared(l) {
				return unknownStep(f.name, "step %q listens to label %q that no router returns", s.name, l)
			}
		}
	}

	reach := f.reachable()
	for _, s := range f.steps {
		if !reach[s.name] {
			return unknownStep(f.name, "step %q can never run: its predicate %s is unsatisfiable", s.name, s.when)
		}
	}
	return nil
}

// labelDeclared 标签必须能由某个路由器返回，或是已声明步骤的失败标签
func (f *Flow) labelDeclared(label string) bool {
	if base, ok := strings.CutSuffix(label, FailedSuffix); ok {
		if _, exists := f.index[base]; exists {
			return true
		}
	}
	for _, s := range f.steps {
		if s.kind == KindRouter && s.emits(label) {
			return true
		}
	}
	return false
}

// emits 路由器是否可能返回 label
func (s *step) emits(label string) bool {
	if s.kind != KindRouter {
		return false
	}
	if len(s.labels) == 0 {
		return !strings.HasSuffix(label, FailedSuffix)
	}
	for _, l := range s.labels {
		if l == label {
			return true
		}
	}
	return false
}

// reachable 不动点迭代：从 start 出发，谓词可被满足的步骤视为可达
func (f *Flow) reachable() map[string]bool {
	done := map[string]bool{}
	fired := map[string]bool{}
	for changed := true; changed; {
		changed = false
		for _, s := range f.steps {
			if done[s.name] {
				continue
			}
			if s.kind == KindStart || s.when.eval(done, fired) {
				done[s.name] = true
				changed = true
				fired[FailureLabel(s.name)] = true
				if s.kind == KindRouter {
					for _, l := range f.labelsOf(s) {
						fired[l] = true
					}
				}
			}
		}
	}
	return done
}

// labelsOf 路由器可能触发的、被某个谓词引用的标签
func (f *Flow) labelsOf(r *step) []string {
	if len(r.labels) > 0 {
		return r.labels
	}
	var out []string
	for _, s := range f.steps {
		for _, l := range s.when.labels() {
			if r.emits(l) {
				out = append(out, l)
			}
		}
	}
	return out
}
