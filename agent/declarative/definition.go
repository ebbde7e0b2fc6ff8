package declarative

import (
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/crewflow/types"
)

// AgentDefinition is one entry of agents.yaml. Name is the mapping key
// tasks use to reference the agent.
type AgentDefinition struct {
	Name string `yaml:"-" json:"-"`

	Role      string   `yaml:"role" json:"role"`
	Goal      string   `yaml:"goal" json:"goal"`
	Backstory string   `yaml:"backstory" json:"backstory"`
	Tools     []string `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Model is the model handle; llm is accepted as an alias.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
	LLM   string `yaml:"llm,omitempty" json:"llm,omitempty"`

	SystemPrompt    string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	MaxIter         int    `yaml:"max_iter,omitempty" json:"max_iter,omitempty"`
	MaxRPM          int    `yaml:"max_rpm,omitempty" json:"max_rpm,omitempty"`
	AllowDelegation bool   `yaml:"allow_delegation,omitempty" json:"allow_delegation,omitempty"`
	Verbose         bool   `yaml:"verbose,omitempty" json:"verbose,omitempty"`
}

// ModelName returns Model, falling back to LLM.
func (d AgentDefinition) ModelName() string {
	if d.Model != "" {
		return d.Model
	}
	return d.LLM
}

// TaskDefinition is one entry of tasks.yaml. ID is the mapping key.
type TaskDefinition struct {
	ID string `yaml:"-" json:"-"`

	Description    string `yaml:"description" json:"description"`
	ExpectedOutput string `yaml:"expected_output,omitempty" json:"expected_output,omitempty"`

	// Agent references an AgentDefinition by name.
	Agent string `yaml:"agent,omitempty" json:"agent,omitempty"`

	Context []string `yaml:"context,omitempty" json:"context,omitempty"`

	// Tools overrides the agent's tools; an explicit empty list disables
	// them.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Placeholders defaults to the placeholders found in Description.
	Placeholders []string `yaml:"placeholders,omitempty" json:"placeholders,omitempty"`

	// OutputSchema is a JSON-Schema document for a structured answer.
	OutputSchema map[string]any `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`

	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

// CrewDefinition is the optional crew.yaml.
type CrewDefinition struct {
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Process string `yaml:"process,omitempty" json:"process,omitempty"` // "sequential" | "hierarchical"
	Goal    string `yaml:"goal,omitempty" json:"goal,omitempty"`

	// Manager names an agent from agents.yaml. ManagerModel instead
	// creates a default manager on that model.
	Manager      string `yaml:"manager,omitempty" json:"manager,omitempty"`
	ManagerModel string `yaml:"manager_llm,omitempty" json:"manager_llm,omitempty"`
}

// Definition is a loaded crew: agents and tasks in file order.
type Definition struct {
	Crew   CrewDefinition
	Agents AgentList
	Tasks  TaskList
}

// Agent returns the agent definition named name.
func (d *Definition) Agent(name string) (AgentDefinition, bool) {
	for _, a := range d.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

// Task returns the task definition with the given id.
func (d *Definition) Task(id string) (TaskDefinition, bool) {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskDefinition{}, false
}

// ====== 有序解码 ======

// AgentList decodes a name -> definition mapping and keeps file order.
type AgentList []AgentDefinition

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *AgentList) UnmarshalYAML(value *yaml.Node) error {
	return decodeEntries(value, "agent", func(key string, node *yaml.Node) error {
		var def AgentDefinition
		if err := node.Decode(&def); err != nil {
			return err
		}
		def.Name = key
		*l = append(*l, def)
		return nil
	})
}

// TaskList decodes an id -> definition mapping and keeps file order,
// which is the execution order.
type TaskList []TaskDefinition

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *TaskList) UnmarshalYAML(value *yaml.Node) error {
	return decodeEntries(value, "task", func(key string, node *yaml.Node) error {
		var def TaskDefinition
		if err := node.Decode(&def); err != nil {
			return err
		}
		def.ID = key
		*l = append(*l, def)
		return nil
	})
}

func decodeEntries(value *yaml.Node, what string, fn func(key string, node *yaml.Node) error) error {
	if value.Kind != yaml.MappingNode {
		return types.Errorf(types.ErrInvalidConfig, "line %d: expected a mapping of %s names to definitions", value.Line, what)
	}
	seen := make(map[string]bool, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if seen[key] {
			return types.Errorf(types.ErrInvalidConfig, "line %d: duplicate %s %q", value.Content[i].Line, what, key)
		}
		seen[key] = true
		if err := fn(key, value.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}
