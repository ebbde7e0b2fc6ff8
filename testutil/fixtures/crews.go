// =============================================================================
// 📦 测试数据工厂 - Agent 与声明式 crew
// =============================================================================
package fixtures

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/crewflow/agent"
)

// ResearcherConfig 返回带 search 工具的研究员
func ResearcherConfig() agent.Config {
	return agent.Config{
		Role:          "Researcher",
		Goal:          "Find accurate facts",
		Backstory:     "A meticulous analyst who checks every source.",
		Tools:         []string{"search"},
		MaxIterations: 5,
	}
}

// WriterConfig 返回不带工具的写作者
func WriterConfig() agent.Config {
	return agent.Config{
		Role:      "Writer",
		Goal:      "Turn research notes into clear prose",
		Backstory: "A technical writer who values brevity.",
	}
}

// AgentsYAML 是两名 agent 的 agents.yaml
const AgentsYAML = `
researcher:
  role: Researcher
  goal: Find accurate facts
  backstory: A meticulous analyst who checks every source.
writer:
  role: Writer
  goal: Turn research notes into clear prose
  backstory: A technical writer who values brevity.
`

// TasksYAML 是 research -> report 两步的 tasks.yaml
const TasksYAML = `
research:
  description: List three facts about {topic}.
  expected_output: Three bullet points
  agent: researcher
report:
  description: Write one paragraph about {topic} from the research.
  expected_output: One paragraph
  agent: writer
  context: [research]
`

// WriteCrewDir 在临时目录写入 agents.yaml 与 tasks.yaml 并返回目录
func WriteCrewDir(t *testing.T, agents, tasks string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{"agents.yaml": agents, "tasks.yaml": tasks} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}
