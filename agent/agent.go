package agent

import (
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
)

// Config describes an agent. Agent kinds are data: a researcher and a
// writer differ only in their Config.
type Config struct {
	Role      string `json:"role" yaml:"role"`
	Goal      string `json:"goal" yaml:"goal"`
	Backstory string `json:"backstory" yaml:"backstory"`

	// Tools are registry names the agent may call.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`

	// AllowDelegation grants the delegation tools inside hierarchical crews.
	AllowDelegation bool `json:"allow_delegation" yaml:"allow_delegation"`
	Verbose         bool `json:"verbose" yaml:"verbose"`

	// Model overrides the engine client's model; empty uses the default.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// SystemPrompt replaces the prompt built from role, goal and backstory.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`

	// MaxIterations overrides engine.Options.MaxIterations when > 0.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`

	// MaxRPM caps LLM requests per minute for this agent; 0 is unlimited.
	MaxRPM int `json:"max_rpm,omitempty" yaml:"max_rpm,omitempty"`
}

// Agent is an immutable, shareable LLM worker.
type Agent struct {
	cfg     Config
	limiter *rate.Limiter
}

// New validates cfg and builds an Agent.
func New(cfg Config) (*Agent, error) {
	cfg.Role = strings.TrimSpace(cfg.Role)
	if cfg.Role == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "agent: role is required")
	}
	if cfg.MaxIterations < 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "agent %q: max_iterations must be >= 0", cfg.Role)
	}
	if cfg.MaxRPM < 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "agent %q: max_rpm must be >= 0", cfg.Role)
	}
	seen := make(map[string]bool, len(cfg.Tools))
	for _, name := range cfg.Tools {
		if seen[name] {
			return nil, types.Errorf(types.ErrInvalidConfig, "agent %q: tool %q listed twice", cfg.Role, name)
		}
		seen[name] = true
	}
	cfg.Tools = append([]string(nil), cfg.Tools...)
	return &Agent{cfg: cfg, limiter: llm.NewRPMLimiter(cfg.MaxRPM)}, nil
}

// MustNew is New for fixtures and examples; it panics on invalid config.
func MustNew(cfg Config) *Agent {
	a, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return a
}

func (a *Agent) Role() string          { return a.cfg.Role }
func (a *Agent) Goal() string          { return a.cfg.Goal }
func (a *Agent) Backstory() string     { return a.cfg.Backstory }
func (a *Agent) Model() string         { return a.cfg.Model }
func (a *Agent) AllowDelegation() bool { return a.cfg.AllowDelegation }
func (a *Agent) Verbose() bool         { return a.cfg.Verbose }

// Tools returns the bound tool names.
func (a *Agent) Tools() []string { return append([]string(nil), a.cfg.Tools...) }

// Config returns a copy of the agent's configuration.
func (a *Agent) Config() Config {
	cfg := a.cfg
	cfg.Tools = a.Tools()
	return cfg
}

// Matches reports whether name refers to this agent: role comparison is
// case-insensitive and ignores surrounding whitespace.
func (a *Agent) Matches(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), a.cfg.Role)
}

// String implements fmt.Stringer.
func (a *Agent) String() string { return fmt.Sprintf("Agent(%s)", a.cfg.Role) }

// SystemPrompt returns the system message content.
func (a *Agent) SystemPrompt() string {
	if a.cfg.SystemPrompt != "" {
		return a.cfg.SystemPrompt
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", a.cfg.Role)
	if a.cfg.Backstory != "" {
		b.WriteString(" ")
		b.WriteString(a.cfg.Backstory)
	}
	if a.cfg.Goal != "" {
		fmt.Fprintf(&b, "\nYour personal goal is: %s", a.cfg.Goal)
	}
	return b.String()
}
