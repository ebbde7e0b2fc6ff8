package declarative

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/testutil/mocks"
	"github.com/BaSui01/crewflow/types"
)

func newEngine(t *testing.T, p llm.Provider) *engine.Context {
	t.Helper()
	reg := tools.NewRegistry()
	reg.MustRegister(tools.New("search", "searches the web", schema.Object(
		schema.Required("query", schema.String()),
	), func(context.Context, map[string]any) (any, error) {
		return "no results", nil
	}))
	ec, err := engine.New(llm.NewClient(p, llm.ClientConfig{Model: "test-model"}), engine.WithTools(reg))
	require.NoError(t, err)
	return ec
}

func loadSample(t *testing.T) *Definition {
	t.Helper()
	def, err := NewLoader(nil).LoadBytes([]byte(agentsYAML), []byte(tasksYAML), "yaml")
	require.NoError(t, err)
	return def
}

func joined(req llm.ChatRequest) string {
	parts := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

// ============================================================
// Factory tests
// ============================================================

func TestFactory_Validate(t *testing.T) {
	agents := AgentList{
		{Name: "writer", Role: "Writer"},
		{Name: "boss", Role: "Boss"},
	}
	task := func(id, agentName string, ctx ...string) TaskDefinition {
		return TaskDefinition{ID: id, Description: "do " + id, Agent: agentName, Context: ctx}
	}
	tests := []struct {
		name    string
		def     *Definition
		wantErr string
	}{
		{name: "nil definition", def: nil, wantErr: "crew definition is nil"},
		{name: "no agents", def: &Definition{Tasks: TaskList{task("a", "writer")}}, wantErr: "at least one agent"},
		{name: "no tasks", def: &Definition{Agents: agents}, wantErr: "at least one task"},
		{
			name:    "missing role",
			def:     &Definition{Agents: AgentList{{Name: "x"}}, Tasks: TaskList{task("a", "x")}},
			wantErr: `agent "x": role is required`,
		},
		{
			name:    "negative max_iter",
			def:     &Definition{Agents: AgentList{{Name: "x", Role: "X", MaxIter: -1}}, Tasks: TaskList{task("a", "x")}},
			wantErr: "max_iter must be non-negative",
		},
		{
			name:    "negative max_rpm",
			def:     &Definition{Agents: AgentList{{Name: "x", Role: "X", MaxRPM: -2}}, Tasks: TaskList{task("a", "x")}},
			wantErr: "max_rpm must be non-negative",
		},
		{
			name:    "unknown process",
			def:     &Definition{Crew: CrewDefinition{Process: "parallel"}, Agents: agents, Tasks: TaskList{task("a", "writer")}},
			wantErr: `unknown process "parallel"`,
		},
		{
			name:    "undeclared manager",
			def:     &Definition{Crew: CrewDefinition{Manager: "ghost"}, Agents: agents, Tasks: TaskList{task("a", "writer")}},
			wantErr: `manager "ghost" is not a declared agent`,
		},
		{
			name: "manager and manager_llm",
			def: &Definition{
				Crew:   CrewDefinition{Manager: "boss", ManagerModel: "gpt-4o"},
				Agents: agents, Tasks: TaskList{task("a", "writer")},
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "task bound to the manager",
			def:     &Definition{Crew: CrewDefinition{Manager: "boss"}, Agents: agents, Tasks: TaskList{task("a", "boss")}},
			wantErr: `agent "boss" is the manager`,
		},
		{
			name:    "missing description",
			def:     &Definition{Agents: agents, Tasks: TaskList{{ID: "a", Agent: "writer"}}},
			wantErr: `task "a": description is required`,
		},
		{
			name:    "sequential task without agent",
			def:     &Definition{Agents: agents, Tasks: TaskList{task("a", "")}},
			wantErr: "agent is required in a sequential crew",
		},
		{
			name:    "undeclared agent",
			def:     &Definition{Agents: agents, Tasks: TaskList{task("a", "editor")}},
			wantErr: `agent "editor" is not declared`,
		},
		{
			name:    "forward context",
			def:     &Definition{Agents: agents, Tasks: TaskList{task("a", "writer", "b"), task("b", "writer")}},
			wantErr: `context "b" is not an earlier task`,
		},
		{
			name:    "negative max_retries",
			def:     &Definition{Agents: agents, Tasks: TaskList{{ID: "a", Description: "x", Agent: "writer", MaxRetries: -2}}},
			wantErr: "max_retries must be non-negative",
		},
		{
			name: "hierarchical task without agent",
			def:  &Definition{Crew: CrewDefinition{Manager: "boss"}, Agents: agents, Tasks: TaskList{task("a", "")}},
		},
		{
			name: "valid sequential",
			def:  &Definition{Agents: agents, Tasks: TaskList{task("a", "writer"), task("b", "writer", "a")}},
		},
	}

	factory := NewFactory(zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := factory.Validate(tt.def)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}

func TestFactory_ToAgentConfig(t *testing.T) {
	def := loadSample(t)
	f := NewFactory(nil)

	writer := f.ToAgentConfig(def.Agents[0])
	assert.Equal(t, "Tech Writer", writer.Role)
	assert.Equal(t, "You turn research notes into readable prose.", writer.Backstory)
	assert.Equal(t, "gpt-4o-mini", writer.Model)
	assert.Equal(t, 30, writer.MaxRPM)
	assert.Empty(t, writer.Tools)

	analyst := f.ToAgentConfig(def.Agents[1])
	assert.Equal(t, []string{"search"}, analyst.Tools)
	assert.Equal(t, 5, analyst.MaxIterations)
	assert.True(t, analyst.AllowDelegation)
	assert.True(t, analyst.Verbose)
	assert.Empty(t, analyst.Model)
}

func TestFactory_ToTask(t *testing.T) {
	def := loadSample(t)
	f := NewFactory(nil)

	report, err := f.ToTask(def.Tasks[1], nil)
	require.NoError(t, err)
	assert.Equal(t, "Write a report about {topic}.", report.Description)
	assert.Equal(t, []string{"topic"}, report.Placeholders)
	assert.Equal(t, []string{"research"}, report.Context)
	require.NotNil(t, report.OutputSchema)
	assert.Equal(t, []string{"title"}, report.OutputSchema.RequiredNames())

	_, err = f.ToTask(TaskDefinition{ID: "bad", Description: "x", OutputSchema: map[string]any{"type": "tuple"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `task "bad": output_schema`)

	_, err = f.ToTask(TaskDefinition{ID: "bad", Description: "unclosed {topic"}, nil)
	require.Error(t, err)
}

// ============================================================
// BuildCrew tests
// ============================================================

func TestDefinition_BuildCrew_Sequential(t *testing.T) {
	p := mocks.NewMockProvider().
		ThenText("- Go 1.24 shipped").
		ThenText(`{"title": "Go in 2026", "score": 9}`)
	ec := newEngine(t, p)

	var called []string
	crew, err := loadSample(t).BuildCrew("articles", ec,
		WithCallback("research", func(o crews.Output) { called = append(called, o.TaskID) }),
	)
	require.NoError(t, err)
	assert.Equal(t, "articles", crew.Name())
	assert.Equal(t, engine.ProcessSequential, crew.Process())
	require.Len(t, crew.Tasks(), 2)
	assert.Equal(t, "research", crew.Tasks()[0].ID)

	out, err := crew.Kickoff(context.Background(), map[string]any{"topic": "Go"})
	require.NoError(t, err)

	title, ok := out.Get("title")
	require.True(t, ok)
	assert.Equal(t, "Go in 2026", title)
	assert.Equal(t, []string{"research"}, called)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, joined(calls[0].Request), "Research Go and list the key facts.")
	assert.Contains(t, joined(calls[0].Request), "Ten bullet points")
	assert.Equal(t, "test-model", calls[0].Request.Model)
	// writer 使用自己的模型，并看到 research 的输出
	assert.Equal(t, "gpt-4o-mini", calls[1].Request.Model)
	assert.Contains(t, joined(calls[1].Request), "- Go 1.24 shipped")
}

func TestDefinition_BuildCrew_Options(t *testing.T) {
	type summary struct {
		Title string `json:"title"`
	}
	p := mocks.NewMockProvider().
		ThenText("facts").
		ThenText(`{"title": ""}`).
		ThenText(`{"title": "ok"}`)
	ec := newEngine(t, p)

	def := loadSample(t)
	def.Tasks[1].MaxRetries = 1

	rejected := 0
	crew, err := def.BuildCrew("", ec,
		WithOutputSchema("report", schema.For[summary]()),
		WithGuardrail("report", func(o crews.Output) error {
			var s summary
			if err := schema.Decode(o.Value, &s); err != nil {
				return err
			}
			if s.Title == "" {
				rejected++
				return errors.New("title must not be empty")
			}
			return nil
		}),
	)
	require.NoError(t, err)

	out, err := crew.Kickoff(context.Background(), map[string]any{"topic": "Go"})
	require.NoError(t, err)
	assert.Equal(t, 1, rejected)
	title, _ := out.Get("title")
	assert.Equal(t, "ok", title)

	_, err = loadSample(t).BuildCrew("", ec, WithCallback("ghost", func(crews.Output) {}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undeclared task "ghost"`)
}

func TestDefinition_BuildCrew_Hierarchical(t *testing.T) {
	def := loadSample(t)
	def.Crew = CrewDefinition{Name: "managed", ManagerModel: "gpt-4o", Goal: "Ship it"}

	crew, err := def.BuildCrew("", newEngine(t, mocks.NewMockProvider()))
	require.NoError(t, err)
	assert.Equal(t, "managed", crew.Name())
	assert.Equal(t, engine.ProcessHierarchical, crew.Process())
	for _, a := range crew.Agents() {
		assert.NotEqual(t, DefaultManagerRole, a.Role())
	}
	assert.Len(t, crew.Agents(), 2)

	// 显式 manager 取自 agents.yaml
	def.Crew = CrewDefinition{Manager: "writer"}
	def.Tasks[1].Agent = ""
	crew, err = def.BuildCrew("c", newEngine(t, mocks.NewMockProvider()))
	require.NoError(t, err)
	assert.Equal(t, engine.ProcessHierarchical, crew.Process())
	require.Len(t, crew.Agents(), 1)
	assert.Equal(t, "Data Analyst", crew.Agents()[0].Role())
}

func TestDefinition_BuildCrew_UnregisteredTool(t *testing.T) {
	def := loadSample(t)
	def.Agents[1].Tools = []string{"scrape"}

	_, err := def.BuildCrew("c", newEngine(t, mocks.NewMockProvider()))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), `tool "scrape" is not registered`)

	_, err = def.BuildCrew("c", newEngine(t, mocks.NewMockProvider()), WithProcess("parallel"))
	require.Error(t, err)
}
