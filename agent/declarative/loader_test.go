package declarative

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/types"
)

const agentsYAML = `
writer:
  role: Tech Writer
  goal: Write clear articles about {topic}
  backstory: >
    You turn research notes into readable prose.
  llm: gpt-4o-mini
  max_rpm: 30
analyst:
  role: Data Analyst
  goal: Find the facts
  backstory: You like numbers.
  tools:
    - search
  max_iter: 5
  allow_delegation: true
  verbose: true
`

const tasksYAML = `
research:
  description: Research {topic} and list the key facts.
  expected_output: Ten bullet points
  agent: analyst
  max_retries: 2
report:
  description: |
    Write a report about {topic}.
  agent: writer
  context: [research]
  tools: []
  output_schema:
    type: object
    properties:
      title: {type: string}
      score: {type: integer}
    required: [title]
`

// ============================================================
// Loader tests
// ============================================================

func TestLoader_LoadFiles_YAML(t *testing.T) {
	dir := t.TempDir()
	agentsPath := writeFile(t, dir, "agents.yaml", agentsYAML)
	tasksPath := writeFile(t, dir, "tasks.yml", tasksYAML)

	def, err := NewLoader(zap.NewNop()).LoadFiles(agentsPath, tasksPath)
	require.NoError(t, err)

	// 保留文件中的声明顺序
	require.Len(t, def.Agents, 2)
	assert.Equal(t, "writer", def.Agents[0].Name)
	assert.Equal(t, "analyst", def.Agents[1].Name)

	writer := def.Agents[0]
	assert.Equal(t, "Tech Writer", writer.Role)
	assert.Equal(t, "You turn research notes into readable prose.\n", writer.Backstory)
	assert.Equal(t, "gpt-4o-mini", writer.ModelName())
	assert.Equal(t, 30, writer.MaxRPM)

	analyst, ok := def.Agent("analyst")
	require.True(t, ok)
	assert.Equal(t, []string{"search"}, analyst.Tools)
	assert.Equal(t, 5, analyst.MaxIter)
	assert.True(t, analyst.AllowDelegation)
	assert.True(t, analyst.Verbose)

	require.Len(t, def.Tasks, 2)
	assert.Equal(t, "research", def.Tasks[0].ID)
	assert.Equal(t, "report", def.Tasks[1].ID)
	assert.Equal(t, 2, def.Tasks[0].MaxRetries)
	assert.Equal(t, "Ten bullet points", def.Tasks[0].ExpectedOutput)

	report, ok := def.Task("report")
	require.True(t, ok)
	assert.Equal(t, []string{"research"}, report.Context)
	assert.NotNil(t, report.Tools)
	assert.Empty(t, report.Tools)
	assert.Equal(t, "object", report.OutputSchema["type"])

	_, ok = def.Task("missing")
	assert.False(t, ok)
}

func TestLoader_LoadFiles_JSON(t *testing.T) {
	dir := t.TempDir()
	agentsPath := writeFile(t, dir, "agents.json", `{
  "zeta": {"role": "Zeta", "goal": "g", "backstory": "b", "model": "claude-3"},
  "alpha": {"role": "Alpha", "goal": "g", "backstory": "b"}
}`)
	tasksPath := writeFile(t, dir, "tasks.json", `{
  "second": {"description": "B", "agent": "alpha"},
  "first": {"description": "A", "agent": "zeta"}
}`)

	def, err := NewLoader(nil).LoadFiles(agentsPath, tasksPath)
	require.NoError(t, err)

	assert.Equal(t, "zeta", def.Agents[0].Name)
	assert.Equal(t, "claude-3", def.Agents[0].ModelName())
	assert.Equal(t, "alpha", def.Agents[1].Name)
	assert.Equal(t, "second", def.Tasks[0].ID)
	assert.Equal(t, "first", def.Tasks[1].ID)
}

func TestLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agents.yaml", agentsYAML)
	writeFile(t, dir, "tasks.yaml", tasksYAML)
	writeFile(t, dir, "crew.yml", `
name: articles
process: hierarchical
goal: Publish a great article
manager_llm: gpt-4o
`)

	def, err := NewLoader(nil).LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "articles", def.Crew.Name)
	assert.Equal(t, "hierarchical", def.Crew.Process)
	assert.Equal(t, "Publish a great article", def.Crew.Goal)
	assert.Equal(t, "gpt-4o", def.Crew.ManagerModel)
	assert.Len(t, def.Tasks, 2)
}

func TestLoader_LoadDir_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLoader(nil).LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agents.yaml")

	writeFile(t, dir, "agents.yaml", agentsYAML)
	_, err = NewLoader(nil).LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tasks.yaml")

	// 没有 crew 文件时使用默认值
	writeFile(t, dir, "tasks.yaml", tasksYAML)
	def, err := NewLoader(nil).LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, CrewDefinition{}, def.Crew)
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		agents  string
		content string
		wantErr string
	}{
		{name: "not found", agents: "missing.yaml", wantErr: "read agents file"},
		{name: "unsupported extension", agents: "agents.toml", content: "role = 'x'", wantErr: "unsupported file extension"},
		{name: "invalid YAML", agents: "agents.yaml", content: "{{invalid yaml", wantErr: "parse YAML"},
		{name: "invalid JSON", agents: "agents.json", content: "{invalid json}", wantErr: "parse JSON"},
		{name: "not a mapping", agents: "agents.yaml", content: "- role: x\n", wantErr: "expected a mapping of agent names"},
		{
			name:    "duplicate name",
			agents:  "agents.yaml",
			content: "writer:\n  role: A\nwriter:\n  role: B\n",
			wantErr: `duplicate agent "writer"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			agentsPath := filepath.Join(dir, tt.agents)
			if tt.content != "" {
				writeFile(t, dir, tt.agents, tt.content)
			}
			tasksPath := writeFile(t, dir, "tasks.yaml", tasksYAML)

			_, err := NewLoader(nil).LoadFiles(agentsPath, tasksPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}

func TestLoader_LoadBytes(t *testing.T) {
	def, err := NewLoader(nil).LoadBytes([]byte(agentsYAML), []byte(tasksYAML), "yaml")
	require.NoError(t, err)
	assert.Len(t, def.Agents, 2)
	assert.Len(t, def.Tasks, 2)

	def, err = NewLoader(nil).LoadBytes(nil, nil, "yaml")
	require.NoError(t, err)
	assert.Empty(t, def.Agents)

	_, err = NewLoader(nil).LoadBytes([]byte("data"), nil, "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

// ============================================================
// detectFormat tests
// ============================================================

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"agents.yaml", "yaml"},
		{"agents.YAML", "yaml"},
		{"tasks.yml", "yaml"},
		{"tasks.json", "json"},
		{"tasks.JSON", "json"},
		{"crew.toml", ""},
		{"crew", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, detectFormat(tt.path))
		})
	}
}

// ============================================================
// Helper
// ============================================================

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
