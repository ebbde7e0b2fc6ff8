package crews

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/types"
)

// ====== 构建 ======

// CrewBuilder assembles an immutable Crew.
type CrewBuilder struct {
	name    string
	ec      *engine.Context
	agents  []*agent.Agent
	tasks   []*Task
	manager *agent.Agent
	process engine.Process
	opts    *engine.Options
	goal    string
}

// NewCrewBuilder starts a crew named name on the engine context ec.
func NewCrewBuilder(name string, ec *engine.Context) *CrewBuilder {
	return &CrewBuilder{name: name, ec: ec}
}

// AddAgent adds coworkers. Task agents are added implicitly.
func (b *CrewBuilder) AddAgent(agents ...*agent.Agent) *CrewBuilder {
	b.agents = append(b.agents, agents...)
	return b
}

// AddTask appends tasks in execution order.
func (b *CrewBuilder) AddTask(tasks ...*Task) *CrewBuilder {
	b.tasks = append(b.tasks, tasks...)
	return b
}

// Manager sets the manager of a hierarchical crew.
func (b *CrewBuilder) Manager(a *agent.Agent) *CrewBuilder {
	b.manager = a
	return b
}

// Process sets the process; it overrides Options.Process.
func (b *CrewBuilder) Process(p engine.Process) *CrewBuilder {
	b.process = p
	return b
}

// Options replaces the engine options for this crew.
func (b *CrewBuilder) Options(opts engine.Options) *CrewBuilder {
	b.opts = &opts
	return b
}

// Goal sets the overall goal shown to a manager. It defaults to the
// manager's own goal.
func (b *CrewBuilder) Goal(goal string) *CrewBuilder {
	b.goal = goal
	return b
}

// Build validates the crew.
func (b *CrewBuilder) Build() (*Crew, error) {
	if b.ec == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "crew: engine context is required")
	}
	name := strings.TrimSpace(b.name)
	if name == "" {
		name = "crew"
	}

	ec := b.ec
	if b.opts != nil {
		ec = ec.With(*b.opts)
	}
	opts := ec.Options
	if b.process != "" {
		opts.Process = b.process
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ec = ec.With(opts)

	c := &Crew{
		name:    name,
		ec:      ec,
		tasks:   append([]*Task(nil), b.tasks...),
		manager: b.manager,
		process: opts.Process,
		goal:    b.goal,
	}
	if c.goal == "" && c.manager != nil {
		c.goal = c.manager.Goal()
	}

	if err := c.collectAgents(b.agents); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func invalid(crew, format string, args ...any) error {
	return types.Errorf(types.ErrInvalidConfig, "crew %q: %s", crew, fmt.Sprintf(format, args...))
}

// collectAgents 汇总显式添加的 agent 与任务 agent，角色名不区分大小写唯一
func (c *Crew) collectAgents(explicit []*agent.Agent) error {
	seen := map[*agent.Agent]bool{}
	roles := map[string]*agent.Agent{}
	add := func(a *agent.Agent) error {
		if a == nil || seen[a] {
			return nil
		}
		key := strings.ToLower(a.Role())
		if other, ok := roles[key]; ok && other != a {
			return invalid(c.name, "two agents share the role %q", a.Role())
		}
		seen[a] = true
		roles[key] = a
		if a != c.manager {
			c.agents = append(c.agents, a)
		}
		return nil
	}
	if c.manager != nil {
		if err := add(c.manager); err != nil {
			return err
		}
	}
	for _, a := range explicit {
		if a == nil {
			return invalid(c.name, "nil agent")
		}
		if err := add(a); err != nil {
			return err
		}
	}
	for _, t := range c.tasks {
		if t != nil {
			if err := add(t.Agent); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Crew) validate() error {
	if len(c.tasks) == 0 {
		return invalid(c.name, "at least one task is required")
	}

	switch c.process {
	case engine.ProcessSequential:
		if c.manager != nil {
			return invalid(c.name, "a manager is only valid in a hierarchical crew")
		}
	case engine.ProcessHierarchical:
		if c.manager == nil {
			return invalid(c.name, "a hierarchical crew needs a manager")
		}
		if len(c.agents) == 0 {
			return invalid(c.name, "a hierarchical crew needs at least one coworker")
		}
	}

	ids := map[string]bool{}
	for i, t := range c.tasks {
		if t == nil {
			return invalid(c.name, "task %d is nil", i)
		}
		if strings.TrimSpace(t.ID) == "" {
			return invalid(c.name, "task %d has no id", i)
		}
		if ids[t.ID] {
			return invalid(c.name, "duplicate task id %q", t.ID)
		}
		if t.MaxRetries < NoRetries {
			return invalid(c.name, "task %q: max retries must be >= 0 or NoRetries", t.ID)
		}
		switch {
		case t.Agent == nil && c.process == engine.ProcessSequential:
			return invalid(c.name, "task %q has no agent", t.ID)
		case t.Agent != nil && t.Agent == c.manager:
			return invalid(c.name, "task %q is bound to the manager", t.ID)
		}
		for _, dep := range t.Context {
			if !ids[dep] {
				return invalid(c.name, "task %q: context %q is not an earlier task", t.ID, dep)
			}
		}
		if err := checkTemplate(t.ID, t.Description, t.Placeholders); err != nil {
			return err
		}
		if err := c.checkTools(t); err != nil {
			return err
		}
		ids[t.ID] = true
	}
	return nil
}

// checkTools 绑定的工具必须已注册
func (c *Crew) checkTools(t *Task) error {
	names := t.Tools
	if names == nil && t.Agent != nil {
		names = t.Agent.Tools()
	}
	for _, n := range names {
		if !c.ec.Tools.Has(n) {
			return invalid(c.name, "task %q: tool %q is not registered", t.ID, n)
		}
	}
	return nil
}

// ====== Crew ======

// Crew is an immutable, reusable crew template. Every Kickoff is an
// independent Run with its own blackboard.
type Crew struct {
	name    string
	ec      *engine.Context
	agents  []*agent.Agent
	tasks   []*Task
	manager *agent.Agent
	process engine.Process
	goal    string
}

// Name returns the crew name.
func (c *Crew) Name() string { return c.name }

// Process returns the process.
func (c *Crew) Process() engine.Process { return c.process }

// Tasks returns the tasks in order.
func (c *Crew) Tasks() []*Task { return append([]*Task(nil), c.tasks...) }

// Agents returns the coworkers (the manager excluded).
func (c *Crew) Agents() []*agent.Agent { return append([]*agent.Agent(nil), c.agents...) }

// Engine returns the crew's engine context.
func (c *Crew) Engine() *engine.Context { return c.ec }

// Kickoff runs the crew once.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]any) (*CrewOutput, error) {
	return c.NewRun().Kickoff(ctx, inputs)
}

// NewRun creates an idle run.
func (c *Crew) NewRun() *Run {
	return &Run{id: uuid.NewString(), crew: c, bb: NewBlackboard()}
}

// ====== Run ======

// RunState is the state of one crew run. Transitions are one-way.
type RunState int32

const (
	RunIdle RunState = iota
	RunRunning
	RunSucceeded
	RunFailed
)

// String returns the state name.
func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunSucceeded:
		return "succeeded"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Run is a single execution of a crew.
type Run struct {
	id    string
	crew  *Crew
	state atomic.Int32
	bb    *Blackboard
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// State returns the current state.
func (r *Run) State() RunState { return RunState(r.state.Load()) }

// Blackboard returns the run's blackboard.
func (r *Run) Blackboard() *Blackboard { return r.bb }

// CrewOutput is the result of a successful run.
type CrewOutput struct {
	Raw         string        `json:"raw"`
	Value       any           `json:"value,omitempty"`
	TasksOutput []Output      `json:"tasks_output"`
	Usage       llm.ChatUsage `json:"usage"`
	RunID       string        `json:"run_id"`

	// Pending lists tasks a hierarchical manager never delegated.
	Pending []string `json:"pending,omitempty"`
}

// Get returns a field of a structured final output.
func (o *CrewOutput) Get(key string) (any, bool) {
	m, ok := o.Value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// String returns the raw final output.
func (o *CrewOutput) String() string { return o.Raw }

// Kickoff executes the run. A run can be kicked off once.
func (r *Run) Kickoff(ctx context.Context, inputs map[string]any) (*CrewOutput, error) {
	c := r.crew
	if !r.state.CompareAndSwap(int32(RunIdle), int32(RunRunning)) {
		return nil, types.Errorf(types.ErrInvalidConfig, "crew run %s already started (%s)", r.id, r.State())
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	c.ec.Tools.Freeze()

	if c.ec.Options.CrewTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ec.Options.CrewTimeout)
		defer cancel()
	}
	// 嵌套在 flow 中时沿用外层 run_id，事件共享同一个 seq 计数器
	runID, nested := types.RunID(ctx)
	if !nested {
		runID = r.id
		ctx = types.WithRunID(ctx, r.id)
	}
	ctx, span := tracer.Start(ctx, "crew.kickoff", trace.WithAttributes(
		attribute.String("crew.name", c.name),
		attribute.String("crew.run_id", r.id),
		attribute.String("crew.process", string(c.process)),
	))
	defer span.End()

	logger := c.ec.Logger.With(
		zap.String("component", "crew"),
		zap.String("crew", c.name),
		zap.String("run_id", runID),
		zap.String("crew_run_id", r.id),
	)
	start := time.Now()
	c.ec.Events.Emit(ctx, engine.EventCrewStarted, map[string]any{
		"crew":        c.name,
		"crew_run_id": r.id,
		"process":     string(c.process),
		"tasks":       len(c.tasks),
	})

	var (
		out *CrewOutput
		err error
	)
	switch c.process {
	case engine.ProcessHierarchical:
		out, err = r.hierarchical(ctx, inputs)
	default:
		out, err = r.sequential(ctx, inputs)
	}

	status := RunSucceeded
	if err != nil {
		status = RunFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("crew run failed", zap.Error(err))
	} else {
		out.RunID = r.id
		out.TasksOutput = r.bb.Outputs()
	}
	r.state.Store(int32(status))

	c.ec.Metrics.RecordRun("crew", status.String(), time.Since(start))
	c.ec.Events.Emit(ctx, engine.EventCrewCompleted, map[string]any{
		"crew":        c.name,
		"crew_run_id": r.id,
		"status":      status.String(),
	})
	if !nested {
		c.ec.Events.Forget(r.id)
	}
	return out, err
}

func (r *Run) sequential(ctx context.Context, inputs map[string]any) (*CrewOutput, error) {
	c := r.crew
	env := Env{Engine: c.ec, Extra: r.delegationTools}

	var (
		last  Output
		usage llm.ChatUsage
	)
	for _, t := range c.tasks {
		if err := ctx.Err(); err != nil {
			return nil, ctxError(err)
		}
		out, err := t.Run(ctx, env, inputs, r.bb)
		if err != nil {
			return nil, r.failure(ctx, t.ID, err)
		}
		if err := r.bb.Put(out); err != nil {
			return nil, r.failure(ctx, t.ID, err)
		}
		usage = usage.Add(out.Usage)
		last = out
	}
	return &CrewOutput{Raw: last.Raw, Value: last.Value, Usage: usage}, nil
}

// delegationTools 允许委派的 agent 可以把工作交给其他组员
func (r *Run) delegationTools(a *agent.Agent) []tools.Tool {
	if !a.AllowDelegation() {
		return nil
	}
	d := &agent.Delegation{Engine: r.crew.ec, Coworkers: r.crew.agents}
	return d.ToolsFor(a)
}

// failure 任务失败：ctx 结束时返回 TIMEOUT / CANCELLED，否则返回 CrewFailure
func (r *Run) failure(ctx context.Context, taskID string, cause error) error {
	if err := ctx.Err(); err != nil && (types.HasCode(cause, types.ErrCancelled) || types.HasCode(cause, types.ErrTimeout)) {
		return ctxError(err)
	}
	return &CrewFailure{TaskID: taskID, Cause: cause, Partial: r.bb.Outputs()}
}
