// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package engine

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/types"
)

// Metrics is the engine-level metrics sink. internal/metrics.Collector
// implements it; the LLM and tool sinks are wired on llm.Client and
// tools.Registry directly.
type Metrics interface {
	RecordAgentIteration(agent string)
	RecordTaskExecution(task, agent, status string, d time.Duration)
	RecordRun(kind, status string, d time.Duration)
	RecordFlowStep(flow, step, status string, d time.Duration)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordAgentIteration(string)                               {}
func (NopMetrics) RecordTaskExecution(string, string, string, time.Duration) {}
func (NopMetrics) RecordRun(string, string, time.Duration)                   {}
func (NopMetrics) RecordFlowStep(string, string, string, time.Duration)      {}

// Context carries the shared, read-only dependencies of agents, crews
// and flows. It is safe to share between concurrent runs.
type Context struct {
	Client  *llm.Client
	Tools   *tools.Registry
	Logger  *zap.Logger
	Events  *Emitter
	Metrics Metrics
	Options Options
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithTools sets the tool registry. By default an empty registry is used.
func WithTools(r *tools.Registry) Option {
	return func(c *Context) { c.Tools = r }
}

// WithEmitter sets the event emitter. By default one is built from the
// logger and Options.Verbose.
func WithEmitter(e *Emitter) Option {
	return func(c *Context) { c.Events = e }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Context) { c.Metrics = m }
}

// WithOptions sets the engine options; zero fields take defaults.
func WithOptions(o Options) Option {
	return func(c *Context) { c.Options = o }
}

// New builds a Context around the default LLM client.
func New(client *llm.Client, opts ...Option) (*Context, error) {
	if client == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "engine: nil llm client")
	}
	c := &Context{Client: client, Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.Options = c.Options.WithDefaults()
	if err := c.Options.Validate(); err != nil {
		return nil, err
	}
	if c.Tools == nil {
		c.Tools = tools.NewRegistry(tools.WithLogger(c.Logger), tools.WithDefaultTimeout(c.Options.ToolTimeout))
	}
	if c.Events == nil {
		c.Events = NewEmitter(c.Logger, c.Options.Verbose)
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	return c, nil
}

// ClientFor returns the client configured for one agent: its model, its
// rate limiter (nil for none) and the engine LLM timeout.
func (c *Context) ClientFor(model string, limiter *rate.Limiter) *llm.Client {
	return c.Client.WithModel(model).WithTimeout(c.Options.LLMTimeout).WithLimiter(limiter)
}

// With returns a shallow copy with opts applied. Crews and flows use it
// to override options without touching the shared context.
func (c *Context) With(opts Options) *Context {
	cp := *c
	cp.Options = opts.WithDefaults()
	return &cp
}
