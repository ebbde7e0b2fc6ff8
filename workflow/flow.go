package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/types"
)

var tracer = otel.Tracer("github.com/BaSui01/crewflow/workflow")

// Flow is an immutable, validated step graph. Every Kickoff is an
// independent Run with its own state.
type Flow struct {
	name   string
	steps  []*step
	index  map[string]*step
	schema *schema.Schema
	store  CheckpointStore

	ec      *engine.Context
	opts    engine.Options
	logger  *zap.Logger
	events  *engine.Emitter
	metrics engine.Metrics
}

// Name returns the flow name, used as flow_id in checkpoints.
func (f *Flow) Name() string { return f.name }

// Steps returns the step names in declaration order.
func (f *Flow) Steps() []string {
	out := make([]string, len(f.steps))
	for i, s := range f.steps {
		out[i] = s.name
	}
	return out
}

// Kind returns the kind of a step.
func (f *Flow) Kind(name string) (StepKind, bool) {
	s, ok := f.index[name]
	if !ok {
		return "", false
	}
	return s.kind, true
}

// Store returns the checkpoint store.
func (f *Flow) Store() CheckpointStore { return f.store }

// Runs lists the checkpoints of this flow, most recent first.
func (f *Flow) Runs(ctx context.Context) ([]*Checkpoint, error) {
	return f.store.List(ctx, f.name)
}

// Dependants returns, in declaration order, the steps that transitively
// depend on name: listeners of name, listeners of its failure label,
// listeners of labels it can return as a router, and so on. These are
// the steps cleared from the completion set when name re-runs.
func (f *Flow) Dependants(name string) []string {
	set := f.dependants(name)
	out := make([]string, 0, len(set))
	for _, s := range f.steps {
		if s.name != name && set[s.name] {
			out = append(out, s.name)
		}
	}
	return out
}

// dependants 不动点：返回 name 及其全部传递依赖者
func (f *Flow) dependants(name string) map[string]bool {
	set := map[string]bool{name: true}
	for changed := true; changed; {
		changed = false
		for _, s := range f.steps {
			if set[s.name] || !f.dependsOnAny(s, set) {
				continue
			}
			set[s.name] = true
			changed = true
		}
	}
	return set
}

func (f *Flow) dependsOnAny(s *step, set map[string]bool) bool {
	for _, ref := range s.when.steps() {
		if set[ref] {
			return true
		}
	}
	for _, l := range s.when.labels() {
		if base, ok := strings.CutSuffix(l, FailedSuffix); ok && set[base] {
			return true
		}
		for name := range set {
			if r, ok := f.index[name]; ok && r.emits(l) {
				return true
			}
		}
	}
	return false
}

// failureRouted 是否有谓词引用了 step 的失败标签
func (f *Flow) failureRouted(name string) bool {
	label := FailureLabel(name)
	for _, s := range f.steps {
		for _, l := range s.when.labels() {
			if l == label {
				return true
			}
		}
	}
	return false
}

// ====== 错误 ======

// StepError is the fatal failure of one step. It unwraps to the step's
// own error, so types.GetErrorCode reports the underlying code.
type StepError struct {
	Step     string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("flow step %q failed after %d attempt(s): %v", e.Step, e.Attempts, e.Cause)
}

// Unwrap returns the step's error.
func (e *StepError) Unwrap() error { return e.Cause }

// ====== 输出 ======

// FlowOutput is the result of a successful run. Value is the last
// completed step's return value.
type FlowOutput struct {
	RunID     string          `json:"run_id"`
	Value     any             `json:"value"`
	Raw       json.RawMessage `json:"raw"`
	State     map[string]any  `json:"state"`
	Completed []Completion    `json:"completed"`
}

// Decode unmarshals the final value into out.
func (o *FlowOutput) Decode(out any) error {
	return json.Unmarshal(o.Raw, out)
}

func outputFrom(runID string, completed []Completion, state map[string]any) (*FlowOutput, error) {
	out := &FlowOutput{
		RunID:     runID,
		State:     state,
		Completed: append([]Completion(nil), completed...),
		Raw:       json.RawMessage("null"),
	}
	if n := len(completed); n > 0 {
		out.Raw = completed[n-1].ReturnValue
		if err := json.Unmarshal(out.Raw, &out.Value); err != nil {
			return nil, fmt.Errorf("decode final value: %w", err)
		}
	}
	return out, nil
}

// ====== Run ======

// StatusPending is the status of a run that has not been kicked off. It
// is never persisted.
const StatusPending RunStatus = "pending"

// Run is a single execution of a flow.
type Run struct {
	id   string
	flow *Flow

	mu        sync.Mutex
	status    RunStatus
	started   bool
	cancelled bool
	cancel    context.CancelFunc
}

// NewRun creates a pending run.
func (f *Flow) NewRun() *Run {
	return &Run{id: uuid.NewString(), flow: f, status: StatusPending}
}

// Kickoff runs the flow once with inputs. Inputs are exposed to steps and
// also seed the state fields with the same names.
func (f *Flow) Kickoff(ctx context.Context, inputs map[string]any) (*FlowOutput, error) {
	return f.NewRun().Kickoff(ctx, inputs)
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Status returns the current status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Cancel stops the run before its next step, LLM call or tool call. It
// may be called before Kickoff, in which case no step runs.
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Run) claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return types.Errorf(types.ErrInvalidConfig, "flow run %s already started (%s)", r.id, r.status)
	}
	r.started = true
	r.status = StatusRunning
	return nil
}

func (r *Run) setStatus(s RunStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// Kickoff executes the run. A run can be kicked off once.
func (r *Run) Kickoff(ctx context.Context, inputs map[string]any) (*FlowOutput, error) {
	f := r.flow
	if err := r.claim(); err != nil {
		return nil, err
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	cin, err := canonical(inputs)
	if err != nil {
		r.setStatus(StatusFailed)
		return nil, types.Errorf(types.ErrInvalidConfig, "flow %q: inputs are not JSON-serialisable: %v", f.name, err)
	}
	st, err := newState(f.schema, inputs)
	if err != nil {
		r.setStatus(StatusFailed)
		return nil, err
	}

	ex := &execution{
		flow:   f,
		run:    r,
		state:  st,
		inputs: cin.(map[string]any),
		done:   map[string]bool{},
		fired:  map[string]bool{},
	}
	for _, s := range f.steps {
		if s.kind == KindStart {
			ex.queue = append(ex.queue, s.name)
		}
	}
	return r.execute(ctx, ex, false)
}

// Resume continues the run recorded under runID without re-running its
// completed steps. A run that already succeeded returns its stored
// output.
func (f *Flow) Resume(ctx context.Context, runID string) (*FlowOutput, error) {
	cp, err := f.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cp.FlowID != f.name {
		return nil, types.Errorf(types.ErrInvalidConfig, "flow %q: run %s belongs to flow %q", f.name, runID, cp.FlowID)
	}
	if cp.Status == StatusSucceeded {
		return outputFrom(cp.RunID, cp.CompletedSteps, cp.State)
	}

	ex, err := f.restore(cp)
	if err != nil {
		return nil, err
	}
	r := &Run{id: runID, flow: f, status: StatusPending}
	ex.run = r
	if err := r.claim(); err != nil {
		return nil, err
	}
	return r.execute(ctx, ex, true)
}

// restore 由检查点重建完成集合、队列与状态
func (f *Flow) restore(cp *Checkpoint) (*execution, error) {
	known := func(name string) error {
		if _, ok := f.index[name]; !ok {
			return unknownStep(f.name, "checkpoint of run %s refers to undeclared step %q", cp.RunID, name)
		}
		return nil
	}
	ex := &execution{
		flow:     f,
		inputs:   cp.Inputs,
		done:     map[string]bool{},
		fired:    map[string]bool{},
		steps:    cp.Cursor.Steps,
		failures: append([]StepFailure(nil), cp.Failures...),
	}
	if ex.inputs == nil {
		ex.inputs = map[string]any{}
	}
	for _, c := range cp.CompletedSteps {
		if err := known(c.Name); err != nil {
			return nil, err
		}
		ex.completed = append(ex.completed, c)
		ex.done[c.Name] = true
	}
	for _, name := range cp.Cursor.Pending {
		if err := known(name); err != nil {
			return nil, err
		}
		ex.queue = append(ex.queue, name)
	}
	for _, l := range cp.Cursor.Labels {
		ex.fire(l)
	}
	st, err := restoreState(f.schema, cp.State)
	if err != nil {
		return nil, fmt.Errorf("restore state of run %s: %w", cp.RunID, err)
	}
	ex.state = st
	return ex, nil
}

func (r *Run) execute(ctx context.Context, ex *execution, resumed bool) (*FlowOutput, error) {
	f := r.flow
	// 运行开始后禁止再注册工具，与 crew 保持一致
	if f.ec != nil && f.ec.Tools != nil {
		f.ec.Tools.Freeze()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if f.opts.FlowTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, f.opts.FlowTimeout)
		defer cancelTimeout()
	}
	r.mu.Lock()
	r.cancel = cancel
	if r.cancelled {
		cancel()
	}
	r.mu.Unlock()

	ctx = types.WithFlowID(types.WithRunID(ctx, r.id), f.name)
	ctx, span := tracer.Start(ctx, "flow.kickoff", trace.WithAttributes(
		attribute.String("flow.name", f.name),
		attribute.String("flow.run_id", r.id),
		attribute.Bool("flow.resumed", resumed),
	))
	defer span.End()

	ex.logger = f.logger.With(zap.String("run_id", r.id))
	start := time.Now()
	f.events.Emit(ctx, engine.EventFlowStarted, map[string]any{
		"flow":    f.name,
		"resumed": resumed,
	})

	out, err := ex.loop(ctx, resumed)

	status := ex.status
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ex.logger.Warn("flow run ended", zap.String("status", string(status)), zap.Error(err))
	} else {
		ex.logger.Debug("flow run succeeded", zap.Int("steps", ex.steps))
	}
	r.setStatus(status)

	f.metrics.RecordRun("flow", string(status), time.Since(start))
	f.events.Emit(ctx, engine.EventFlowCompleted, map[string]any{
		"flow":   f.name,
		"status": string(status),
		"steps":  ex.steps,
	})
	f.events.Forget(r.id)
	return out, err
}

// ====== 调度 ======

// execution 单次运行的调度状态，只在运行 goroutine 中访问
type execution struct {
	flow   *Flow
	run    *Run
	logger *zap.Logger

	state     *State
	inputs    map[string]any
	completed []Completion
	done      map[string]bool
	queue     []string
	fired     map[string]bool
	firedSeq  []string
	steps     int
	failures  []StepFailure
	status    RunStatus
}

func (ex *execution) loop(ctx context.Context, resumed bool) (*FlowOutput, error) {
	f := ex.flow
	if resumed {
		ex.reevaluate()
	}

	for {
		if len(ex.queue) == 0 {
			return ex.succeed(ctx)
		}
		if err := ctx.Err(); err != nil {
			return nil, ex.interrupted(ctx, err)
		}
		if ex.steps >= f.opts.MaxSteps {
			err := types.Errorf(types.ErrFlowStepLimit, "flow %q: step limit %d reached", f.name, f.opts.MaxSteps)
			ex.terminate(ctx, StatusFailed, err)
			return nil, err
		}

		name := ex.queue[0]
		ex.queue = ex.queue[1:]
		s := f.index[name]
		ex.steps++

		raw, label, attempts, err := ex.runStep(ctx, s)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				ex.requeue(name)
				return nil, ex.interrupted(ctx, ctxErr)
			}
			if !f.failureRouted(name) {
				ex.requeue(name)
				serr := &StepError{Step: name, Attempts: attempts, Cause: err}
				ex.terminate(ctx, StatusFailed, serr)
				return nil, serr
			}
			ex.logger.Warn("flow step failed, routing to failure label",
				zap.String("step", name), zap.Error(err))
			ex.failures = append(ex.failures, StepFailure{Step: name, Error: err.Error(), Timestamp: time.Now()})
			ex.fire(FailureLabel(name))
		} else {
			ex.completed = append(ex.completed, Completion{Name: name, ReturnValue: raw, Timestamp: time.Now()})
			ex.done[name] = true
			if s.kind == KindRouter {
				ex.fire(label)
				f.events.Emit(ctx, engine.EventFlowRouted, map[string]any{"router": name, "label": label})
			}
			f.events.Emit(ctx, engine.EventFlowStepCompleted, map[string]any{"step": name, "seq": ex.steps})
		}

		if err := ex.save(ctx, StatusRunning, nil); err != nil {
			ex.terminate(ctx, StatusFailed, err)
			return nil, err
		}
		ex.reevaluate()
	}
}

// requeue 把未完成的步骤放回队首，恢复时从它继续
func (ex *execution) requeue(name string) {
	ex.queue = append([]string{name}, ex.queue...)
	ex.steps--
}

func (ex *execution) fire(label string) {
	if !ex.fired[label] {
		ex.fired[label] = true
		ex.firedSeq = append(ex.firedSeq, label)
	}
}

// reevaluate 按声明顺序重新求值谓词。已完成的步骤只有在本轮触发的标签
// 选中它时才会重新入队，此前先清除它及其传递依赖者的完成记录。
// 标签只存活一轮。
func (ex *execution) reevaluate() {
	for _, s := range ex.flow.steps {
		if s.when.IsZero() || !s.when.eval(ex.done, ex.fired) {
			continue
		}
		if ex.done[s.name] {
			if !s.when.usesAny(ex.fired) {
				continue
			}
			ex.clear(s.name)
		}
		if ex.queued(s.name) {
			continue
		}
		ex.queue = append(ex.queue, s.name)
	}
	ex.fired = map[string]bool{}
	ex.firedSeq = nil
}

// clear 从完成集合中移除 name 及其传递依赖者，其余不动
func (ex *execution) clear(name string) {
	set := ex.flow.dependants(name)
	kept := ex.completed[:0]
	for _, c := range ex.completed {
		if !set[c.Name] {
			kept = append(kept, c)
		}
	}
	ex.completed = kept
	for n := range set {
		delete(ex.done, n)
	}
}

func (ex *execution) queued(name string) bool {
	for _, q := range ex.queue {
		if q == name {
			return true
		}
	}
	return false
}

// runStep 执行一个步骤，失败时按 StepRetry 重试
func (ex *execution) runStep(ctx context.Context, s *step) (json.RawMessage, string, int, error) {
	f := ex.flow
	for attempt := 1; ; attempt++ {
		stepCtx, span := tracer.Start(ctx, "flow.step", trace.WithAttributes(
			attribute.String("flow.step", s.name),
			attribute.String("flow.step_kind", string(s.kind)),
			attribute.Int("flow.attempt", attempt),
		))
		start := time.Now()
		raw, label, err := ex.attempt(stepCtx, s, attempt)

		status := "succeeded"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		f.metrics.RecordFlowStep(f.name, s.name, status, time.Since(start))

		if err == nil {
			return raw, label, attempt, nil
		}
		if ctx.Err() != nil || attempt > s.retries {
			return nil, "", attempt, err
		}
		ex.logger.Warn("flow step failed, retrying",
			zap.String("step", s.name), zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (ex *execution) attempt(ctx context.Context, s *step, attempt int) (raw json.RawMessage, label string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %q panicked: %v", s.name, r)
		}
	}()

	sc := &StepContext{ex: ex, step: s, attempt: attempt}
	value, err := s.fn(ctx, sc)
	if err != nil {
		return nil, "", err
	}

	raw, err = json.Marshal(value)
	if err != nil {
		return nil, "", types.Errorf(types.ErrSchema, "step %q returned a value that is not JSON-serialisable: %v", s.name, err)
	}
	if s.kind != KindRouter {
		return raw, "", nil
	}
	label, ok := value.(string)
	if !ok {
		return nil, "", types.Errorf(types.ErrSchema, "router %q must return a string label, got %T", s.name, value)
	}
	if len(s.labels) > 0 && !s.emits(label) {
		return nil, "", types.Errorf(types.ErrUnknownStep, "router %q returned undeclared label %q", s.name, label)
	}
	return raw, label, nil
}

// ====== 终止与持久化 ======

func (ex *execution) succeed(ctx context.Context) (*FlowOutput, error) {
	out, err := outputFrom(ex.run.id, ex.completed, ex.state.Values())
	if err != nil {
		ex.terminate(ctx, StatusFailed, err)
		return nil, err
	}
	ex.terminate(ctx, StatusSucceeded, nil)
	return out, nil
}

// interrupted 将 ctx 错误映射为 TIMEOUT（失败）或 CANCELLED（取消）
func (ex *execution) interrupted(ctx context.Context, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		err := types.Errorf(types.ErrTimeout, "flow %q: deadline exceeded", ex.flow.name).WithCause(cause)
		ex.terminate(ctx, StatusFailed, err)
		return err
	}
	err := types.Errorf(types.ErrCancelled, "flow %q: run cancelled", ex.flow.name).WithCause(cause)
	ex.terminate(ctx, StatusCancelled, err)
	return err
}

func (ex *execution) terminate(ctx context.Context, status RunStatus, cause error) {
	ex.status = status
	if err := ex.save(ctx, status, cause); err != nil {
		ex.logger.Error("failed to save final checkpoint", zap.Error(err))
	}
}

// save 写入检查点。取消后仍需落盘，因此不继承 ctx 的取消
func (ex *execution) save(ctx context.Context, status RunStatus, cause error) error {
	ex.status = status
	cp := &Checkpoint{
		FlowID:         ex.flow.name,
		RunID:          ex.run.id,
		State:          ex.state.Values(),
		CompletedSteps: append([]Completion{}, ex.completed...),
		Status:         status,
		Cursor: Cursor{
			Pending: append([]string{}, ex.queue...),
			Labels:  append([]string(nil), ex.firedSeq...),
			Steps:   ex.steps,
		},
		Inputs:    ex.inputs,
		Failures:  ex.failures,
		UpdatedAt: time.Now(),
	}
	if cause != nil {
		cp.Error = cause.Error()
	}
	if err := ex.flow.store.Save(context.WithoutCancel(ctx), cp); err != nil {
		return fmt.Errorf("flow %q: save checkpoint: %w", ex.flow.name, err)
	}
	return nil
}

// ====== StepContext ======

// StepContext is handed to every step invocation.
type StepContext struct {
	ex      *execution
	step    *step
	attempt int
}

// State returns the run state.
func (c *StepContext) State() *State { return c.ex.state }

// Inputs returns a copy of the kickoff inputs.
func (c *StepContext) Inputs() map[string]any {
	out := make(map[string]any, len(c.ex.inputs))
	for k, v := range c.ex.inputs {
		out[k] = v
	}
	return out
}

// Input returns one kickoff input.
func (c *StepContext) Input(name string) (any, bool) {
	v, ok := c.ex.inputs[name]
	return v, ok
}

// Result returns the decoded return value of a completed step.
func (c *StepContext) Result(step string) (any, bool) {
	raw, ok := c.raw(step)
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Decode unmarshals the return value of a completed step into out.
func (c *StepContext) Decode(step string, out any) error {
	raw, ok := c.raw(step)
	if !ok {
		return types.Errorf(types.ErrUnknownStep, "step %q has not completed", step)
	}
	return json.Unmarshal(raw, out)
}

func (c *StepContext) raw(step string) (json.RawMessage, bool) {
	if !c.ex.done[step] {
		return nil, false
	}
	for i := len(c.ex.completed) - 1; i >= 0; i-- {
		if c.ex.completed[i].Name == step {
			return c.ex.completed[i].ReturnValue, true
		}
	}
	return nil, false
}

// Failure returns the error message of the most recent failure of step
// that was routed to its failure label.
func (c *StepContext) Failure(step string) (string, bool) {
	for i := len(c.ex.failures) - 1; i >= 0; i-- {
		if c.ex.failures[i].Step == step {
			return c.ex.failures[i].Error, true
		}
	}
	return "", false
}

// RunID returns the run id.
func (c *StepContext) RunID() string { return c.ex.run.id }

// FlowID returns the flow name.
func (c *StepContext) FlowID() string { return c.ex.flow.name }

// Step returns the running step's name.
func (c *StepContext) Step() string { return c.step.name }

// Attempt returns the 1-based attempt number under StepRetry.
func (c *StepContext) Attempt() int { return c.attempt }

// Logger returns a logger scoped to the run and step.
func (c *StepContext) Logger() *zap.Logger {
	return c.ex.logger.With(zap.String("step", c.step.name))
}

// Engine returns the flow's engine context, or nil when none was set.
func (c *StepContext) Engine() *engine.Context { return c.ex.flow.ec }
