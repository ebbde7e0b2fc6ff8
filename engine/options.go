// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package engine

import (
	"time"

	"github.com/BaSui01/crewflow/types"
)

// Process selects how a crew schedules its tasks.
type Process string

const (
	ProcessSequential   Process = "sequential"
	ProcessHierarchical Process = "hierarchical"
)

// Default limits.
const (
	DefaultMaxIterations      = 25
	DefaultMaxDelegationDepth = 3
	DefaultMaxSteps           = 100
	DefaultLLMTimeout         = 120 * time.Second
	DefaultToolTimeout        = 60 * time.Second
)

// Options are the engine-wide knobs shared by agents, crews and flows.
// Zero values mean "use the default"; CrewTimeout and FlowTimeout are
// opt-in and stay disabled at zero.
type Options struct {
	Process            Process       `json:"process" yaml:"process"`
	Verbose            bool          `json:"verbose" yaml:"verbose"`
	MaxIterations      int           `json:"max_iterations" yaml:"max_iterations"`
	MaxRetries         int           `json:"max_retries" yaml:"max_retries"`
	MaxDelegationDepth int           `json:"max_delegation_depth" yaml:"max_delegation_depth"`
	LLMTimeout         time.Duration `json:"llm_timeout" yaml:"llm_timeout"`
	ToolTimeout        time.Duration `json:"tool_timeout" yaml:"tool_timeout"`
	MaxSteps           int           `json:"max_steps" yaml:"max_steps"`
	CrewTimeout        time.Duration `json:"crew_timeout" yaml:"crew_timeout"`
	FlowTimeout        time.Duration `json:"flow_timeout" yaml:"flow_timeout"`
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		Process:            ProcessSequential,
		MaxIterations:      DefaultMaxIterations,
		MaxDelegationDepth: DefaultMaxDelegationDepth,
		LLMTimeout:         DefaultLLMTimeout,
		ToolTimeout:        DefaultToolTimeout,
		MaxSteps:           DefaultMaxSteps,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Process == "" {
		o.Process = d.Process
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.MaxDelegationDepth <= 0 {
		o.MaxDelegationDepth = d.MaxDelegationDepth
	}
	if o.LLMTimeout <= 0 {
		o.LLMTimeout = d.LLMTimeout
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = d.ToolTimeout
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	switch o.Process {
	case ProcessSequential, ProcessHierarchical:
	default:
		return types.Errorf(types.ErrInvalidConfig, "options: unknown process %q", o.Process)
	}
	if o.MaxRetries < 0 {
		return types.Errorf(types.ErrInvalidConfig, "options: max_retries must be >= 0, got %d", o.MaxRetries)
	}
	if o.CrewTimeout < 0 || o.FlowTimeout < 0 {
		return types.NewError(types.ErrInvalidConfig, "options: timeouts must not be negative")
	}
	return nil
}
