package crews

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/types"
)

var tracer = otel.Tracer("github.com/BaSui01/crewflow/agent/crews")

// NoRetries as Task.MaxRetries disables retries for that task even when
// engine.Options.MaxRetries is set.
const NoRetries = -1

// Task is one unit of crew work bound to an agent.
type Task struct {
	ID string

	// Description is a template; {name} placeholders must be listed in
	// Placeholders. {{ and }} are literal braces.
	Description  string
	Placeholders []string

	// ExpectedOutput is appended to the prompt as "Expected output: ...".
	ExpectedOutput string

	// OutputSchema requests a structured answer; nil means free text.
	OutputSchema *schema.Schema

	// Agent is required in sequential crews. In hierarchical crews it is
	// the suggested coworker.
	Agent *agent.Agent

	// Tools overrides the agent's bound tools when non-nil.
	Tools []string

	// Context lists earlier task ids whose outputs are injected before
	// the description.
	Context []string

	// MaxRetries bounds re-runs after AGENT_ITERATION_LIMIT, LLM_FORMAT,
	// SCHEMA or a guardrail rejection. Zero falls back to the engine
	// option; NoRetries runs the task once regardless of it.
	MaxRetries int

	// Guardrail validates a successful output; an error consumes a retry.
	Guardrail func(Output) error

	// Callback is called after the task succeeds.
	Callback func(Output)
}

// Env is what a task run needs from its crew.
type Env struct {
	Engine *engine.Context

	// Agent overrides the task's bound agent.
	Agent *agent.Agent

	// Notes are extra context blocks placed after the task context, e.g.
	// the manager's instructions when delegating.
	Notes []agent.ContextBlock

	// Extra returns synthetic tools offered to the executing agent.
	Extra func(*agent.Agent) []tools.Tool
}

// Render renders the task description against inputs and the blackboard.
func (t *Task) Render(inputs map[string]any, bb *Blackboard) (string, error) {
	return render(t.ID, t.Description, t.Placeholders, inputs, bb)
}

// Prompt returns the rendered description plus the expected output line.
func (t *Task) Prompt(inputs map[string]any, bb *Blackboard) (string, error) {
	desc, err := t.Render(inputs, bb)
	if err != nil {
		return "", err
	}
	if t.ExpectedOutput != "" {
		desc += "\n\nExpected output: " + t.ExpectedOutput
	}
	return desc, nil
}

// ContextBlocks returns the outputs of the tasks in Context, in order.
// A task without output yet is skipped.
func (t *Task) ContextBlocks(bb *Blackboard) []agent.ContextBlock {
	blocks := make([]agent.ContextBlock, 0, len(t.Context))
	for _, id := range t.Context {
		if out, ok := bb.Get(id); ok {
			blocks = append(blocks, agent.ContextBlock{Source: id, Text: out.Text()})
		}
	}
	return blocks
}

// Run renders the task, runs the agent loop and applies the guardrail.
// The output is returned, not written; the crew owns the blackboard.
func (t *Task) Run(ctx context.Context, env Env, inputs map[string]any, bb *Blackboard) (Output, error) {
	a := env.Agent
	if a == nil {
		a = t.Agent
	}
	if a == nil {
		return Output{}, types.Errorf(types.ErrInvalidConfig, "task %q has no agent", t.ID)
	}
	if env.Engine == nil {
		return Output{}, types.Errorf(types.ErrInvalidConfig, "task %q: engine context is required", t.ID)
	}
	if bb == nil {
		bb = NewBlackboard()
	}

	ctx = types.WithTaskID(ctx, t.ID)
	ctx, span := tracer.Start(ctx, "crew.task", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("agent.role", a.Role()),
	))
	defer span.End()

	out, err := t.run(ctx, env, a, inputs, bb)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (t *Task) run(ctx context.Context, env Env, a *agent.Agent, inputs map[string]any, bb *Blackboard) (Output, error) {
	ec := env.Engine
	logger := ec.Logger.With(zap.String("component", "crew_task"), zap.String("task", t.ID), zap.String("agent", a.Role()))

	retries := t.MaxRetries
	switch {
	case retries == NoRetries:
		retries = 0
	case retries == 0:
		retries = ec.Options.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return Output{}, ctxError(err)
		}

		start := time.Now()
		fields := map[string]any{"task": t.ID, "agent": a.Role(), "attempt": attempt}
		ec.Events.EmitVerbose(ctx, a.Verbose(), engine.EventTaskStarted, fields)

		out, err := t.attempt(ctx, env, a, inputs, bb)
		status := "succeeded"
		if err != nil {
			status = "failed"
		}
		ec.Metrics.RecordTaskExecution(t.ID, a.Role(), status, time.Since(start))
		ec.Events.EmitVerbose(ctx, a.Verbose(), engine.EventTaskCompleted, map[string]any{
			"task": t.ID, "agent": a.Role(), "attempt": attempt, "status": status,
		})

		if err == nil {
			if t.Callback != nil {
				t.Callback(out)
			}
			return out, nil
		}
		lastErr = err
		if !retryableTaskError(err) {
			return Output{}, err
		}
		if attempt <= retries {
			logger.Info("task attempt failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return Output{}, lastErr
}

// attempt 一次完整的渲染与 agent 循环
func (t *Task) attempt(ctx context.Context, env Env, a *agent.Agent, inputs map[string]any, bb *Blackboard) (Output, error) {
	prompt, err := t.Prompt(inputs, bb)
	if err != nil {
		return Output{}, err
	}

	req := agent.ExecuteRequest{
		Description:  prompt,
		Context:      append(t.ContextBlocks(bb), env.Notes...),
		OutputSchema: t.OutputSchema,
		Tools:        t.Tools,
	}
	if env.Extra != nil {
		req.Extra = env.Extra(a)
	}

	res, err := a.Execute(ctx, env.Engine, req)
	if err != nil {
		return Output{}, err
	}
	out := Output{TaskID: t.ID, Raw: res.Raw, Value: res.Value, Agent: a.Role(), Usage: res.Usage}

	if t.Guardrail != nil {
		if gerr := t.Guardrail(out); gerr != nil {
			return Output{}, &GuardrailError{Task: t.ID, Cause: gerr}
		}
	}
	return out, nil
}

// retryableTaskError 迭代上限、格式错误、schema 错误与 guardrail 拒绝可重试
func retryableTaskError(err error) bool {
	var gerr *GuardrailError
	if errors.As(err, &gerr) {
		return true
	}
	return types.HasCode(err, types.ErrAgentIterationLimit) ||
		types.HasCode(err, types.ErrLLMFormat) ||
		types.HasCode(err, types.ErrSchema)
}
