package declarative

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/types"
)

// DefaultManagerRole is the role of the manager created from manager_llm.
const DefaultManagerRole = "Crew Manager"

// BuildOption attaches code-only settings a definition file cannot carry.
type BuildOption func(*buildConfig)

type buildConfig struct {
	logger     *zap.Logger
	process    engine.Process
	guardrails map[string]func(crews.Output) error
	callbacks  map[string]func(crews.Output)
	schemas    map[string]*schema.Schema
}

// WithLogger sets the logger used while building.
func WithLogger(logger *zap.Logger) BuildOption {
	return func(c *buildConfig) { c.logger = logger }
}

// WithProcess overrides the process from crew.yaml.
func WithProcess(p engine.Process) BuildOption {
	return func(c *buildConfig) { c.process = p }
}

// WithGuardrail sets the guardrail of task id.
func WithGuardrail(id string, fn func(crews.Output) error) BuildOption {
	return func(c *buildConfig) { c.guardrails[id] = fn }
}

// WithCallback sets the success callback of task id.
func WithCallback(id string, fn func(crews.Output)) BuildOption {
	return func(c *buildConfig) { c.callbacks[id] = fn }
}

// WithOutputSchema sets the output schema of task id, e.g. schema.For[T]().
// It replaces output_schema from the file.
func WithOutputSchema(id string, s *schema.Schema) BuildOption {
	return func(c *buildConfig) { c.schemas[id] = s }
}

// ====== 校验与转换 ======

// Factory validates definitions and converts them to runtime objects.
type Factory struct {
	logger *zap.Logger
}

// NewFactory creates a Factory.
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{logger: logger}
}

// Validate checks references between agents, tasks and the crew section.
func (f *Factory) Validate(def *Definition) error {
	if def == nil {
		return types.NewError(types.ErrInvalidConfig, "crew definition is nil")
	}
	if len(def.Agents) == 0 {
		return invalidDef("at least one agent is required")
	}
	if len(def.Tasks) == 0 {
		return invalidDef("at least one task is required")
	}
	for _, a := range def.Agents {
		if strings.TrimSpace(a.Role) == "" {
			return invalidDef("agent %q: role is required", a.Name)
		}
		if a.MaxIter < 0 {
			return invalidDef("agent %q: max_iter must be non-negative, got %d", a.Name, a.MaxIter)
		}
		if a.MaxRPM < 0 {
			return invalidDef("agent %q: max_rpm must be non-negative, got %d", a.Name, a.MaxRPM)
		}
	}

	process := engine.Process(def.Crew.Process)
	switch process {
	case "", engine.ProcessSequential, engine.ProcessHierarchical:
	default:
		return invalidDef("unknown process %q", def.Crew.Process)
	}
	if def.Crew.Manager != "" {
		if def.Crew.ManagerModel != "" {
			return invalidDef("manager and manager_llm are mutually exclusive")
		}
		if _, ok := def.Agent(def.Crew.Manager); !ok {
			return invalidDef("manager %q is not a declared agent", def.Crew.Manager)
		}
	}
	hierarchical := process == engine.ProcessHierarchical || def.managed()

	earlier := map[string]bool{}
	for _, t := range def.Tasks {
		if strings.TrimSpace(t.Description) == "" {
			return invalidDef("task %q: description is required", t.ID)
		}
		switch {
		case t.Agent == "" && !hierarchical:
			return invalidDef("task %q: agent is required in a sequential crew", t.ID)
		case t.Agent != "":
			if _, ok := def.Agent(t.Agent); !ok {
				return invalidDef("task %q: agent %q is not declared", t.ID, t.Agent)
			}
			if t.Agent == def.Crew.Manager {
				return invalidDef("task %q: agent %q is the manager", t.ID, t.Agent)
			}
		}
		for _, dep := range t.Context {
			if !earlier[dep] {
				return invalidDef("task %q: context %q is not an earlier task", t.ID, dep)
			}
		}
		if t.MaxRetries < crews.NoRetries {
			return invalidDef("task %q: max_retries must be non-negative or -1, got %d", t.ID, t.MaxRetries)
		}
		earlier[t.ID] = true
	}
	return nil
}

// ToAgentConfig converts an AgentDefinition into agent.Config.
func (f *Factory) ToAgentConfig(def AgentDefinition) agent.Config {
	cfg := agent.Config{
		Role:            strings.TrimSpace(def.Role),
		Goal:            strings.TrimSpace(def.Goal),
		Backstory:       strings.TrimSpace(def.Backstory),
		Tools:           def.Tools,
		AllowDelegation: def.AllowDelegation,
		Verbose:         def.Verbose,
		Model:           def.ModelName(),
		SystemPrompt:    def.SystemPrompt,
		MaxIterations:   def.MaxIter,
		MaxRPM:          def.MaxRPM,
	}
	f.logger.Debug("converted agent definition",
		zap.String("name", def.Name),
		zap.String("role", cfg.Role),
		zap.String("model", cfg.Model),
	)
	return cfg
}

// ToTask converts a TaskDefinition; agents maps agent names to built agents.
func (f *Factory) ToTask(def TaskDefinition, agents map[string]*agent.Agent) (*crews.Task, error) {
	placeholders := def.Placeholders
	if placeholders == nil {
		found, err := crews.Placeholders(def.Description)
		if err != nil {
			return nil, err
		}
		placeholders = found
	}
	t := &crews.Task{
		ID:             def.ID,
		Description:    strings.TrimRight(def.Description, "\n"),
		Placeholders:   placeholders,
		ExpectedOutput: strings.TrimSpace(def.ExpectedOutput),
		Agent:          agents[def.Agent],
		Tools:          def.Tools,
		Context:        def.Context,
		MaxRetries:     def.MaxRetries,
	}
	if def.OutputSchema != nil {
		s, err := schema.FromMap(def.OutputSchema)
		if err != nil {
			return nil, invalidDef("task %q: output_schema", def.ID).WithCause(err)
		}
		t.OutputSchema = s
	}
	return t, nil
}

// ====== 组装 crew ======

// Builder validates the definition and returns a crew builder with every
// agent and task added. name overrides crew.yaml's name when non-empty.
func (d *Definition) Builder(name string, ec *engine.Context, opts ...BuildOption) (*crews.CrewBuilder, error) {
	cfg := &buildConfig{
		guardrails: map[string]func(crews.Output) error{},
		callbacks:  map[string]func(crews.Output){},
		schemas:    map[string]*schema.Schema{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	f := NewFactory(cfg.logger)
	if err := f.Validate(d); err != nil {
		return nil, err
	}
	if err := d.checkTaskOptions(cfg); err != nil {
		return nil, err
	}

	if name == "" {
		name = d.Crew.Name
	}
	b := crews.NewCrewBuilder(name, ec)

	agents := make(map[string]*agent.Agent, len(d.Agents))
	for _, def := range d.Agents {
		a, err := agent.New(f.ToAgentConfig(def))
		if err != nil {
			return nil, err
		}
		agents[def.Name] = a
		if def.Name == d.Crew.Manager {
			b.Manager(a)
			continue
		}
		b.AddAgent(a)
	}
	if d.Crew.ManagerModel != "" {
		b.Manager(agent.MustNew(agent.Config{
			Role:            DefaultManagerRole,
			Goal:            "Coordinate the crew so that every task is completed with high quality",
			Backstory:       "You are an experienced manager who plans work and delegates it to the right coworker.",
			AllowDelegation: true,
			Model:           d.Crew.ManagerModel,
		}))
	}

	for _, def := range d.Tasks {
		t, err := f.ToTask(def, agents)
		if err != nil {
			return nil, err
		}
		if s, ok := cfg.schemas[def.ID]; ok {
			t.OutputSchema = s
		}
		t.Guardrail = cfg.guardrails[def.ID]
		t.Callback = cfg.callbacks[def.ID]
		b.AddTask(t)
	}

	switch {
	case cfg.process != "":
		b.Process(cfg.process)
	case d.Crew.Process != "":
		b.Process(engine.Process(d.Crew.Process))
	case d.managed():
		b.Process(engine.ProcessHierarchical)
	}
	if d.Crew.Goal != "" {
		b.Goal(d.Crew.Goal)
	}
	return b, nil
}

// BuildCrew builds the crew described by d on ec.
func (d *Definition) BuildCrew(name string, ec *engine.Context, opts ...BuildOption) (*crews.Crew, error) {
	b, err := d.Builder(name, ec, opts...)
	if err != nil {
		return nil, err
	}
	return b.Build()
}

func (d *Definition) managed() bool {
	return d.Crew.Manager != "" || d.Crew.ManagerModel != ""
}

func (d *Definition) checkTaskOptions(cfg *buildConfig) error {
	for _, m := range []map[string]bool{keys(cfg.guardrails), keys(cfg.callbacks), keys(cfg.schemas)} {
		for id := range m {
			if _, ok := d.Task(id); !ok {
				return invalidDef("build option for undeclared task %q", id)
			}
		}
	}
	return nil
}

func keys[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func invalidDef(format string, args ...any) *types.Error {
	return types.Errorf(types.ErrInvalidConfig, "crew definition: %s", fmt.Sprintf(format, args...))
}
