package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/types"
)

var tracer = otel.Tracer("github.com/BaSui01/crewflow/agent")

// finalAnswerPrompt 在迭代上限时追加，要求模型直接作答
const finalAnswerPrompt = "You have reached the maximum number of tool iterations. " +
	"Do not call any more tools. Give your best final answer now."

// ContextBlock is prior work injected before the task description.
type ContextBlock struct {
	Source string
	Text   string
}

// ExecuteRequest is one unit of work for an agent.
type ExecuteRequest struct {
	Description string
	Context     []ContextBlock

	// OutputSchema requests a structured answer; nil means free text.
	OutputSchema *schema.Schema

	// Tools overrides the agent's bound tools when non-nil.
	Tools []string

	// Extra are synthetic tools (delegation) available only for this
	// request. They are not registered and may shadow nothing.
	Extra []tools.Tool
}

// Output is the result of Execute.
type Output struct {
	Raw        string        `json:"raw"`
	Value      any           `json:"value,omitempty"`
	Usage      llm.ChatUsage `json:"usage"`
	Iterations int           `json:"iterations"`
	ToolCalls  int           `json:"tool_calls"`
}

// Execute runs the reason/act loop until the model answers.
//
// Every Complete call is one iteration. When MaxIterations is reached one
// final call is made without tools; if that still yields a tool call the
// result is AGENT_ITERATION_LIMIT. The loop therefore makes at most
// MaxIterations+1 LLM calls. Tool failures are reported back to the model
// and never end the loop.
func (a *Agent) Execute(ctx context.Context, ec *engine.Context, req ExecuteRequest) (*Output, error) {
	ctx = types.WithAgentRole(ctx, a.cfg.Role)
	ctx, span := tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		attribute.String("agent.role", a.cfg.Role),
		attribute.Bool("agent.structured", req.OutputSchema != nil),
	))
	defer span.End()

	out, err := a.execute(ctx, ec, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("agent.iterations", out.Iterations))
	return out, nil
}

func (a *Agent) execute(ctx context.Context, ec *engine.Context, req ExecuteRequest) (*Output, error) {
	logger := ec.Logger.With(zap.String("component", "agent"), zap.String("agent", a.cfg.Role))
	client := ec.ClientFor(a.cfg.Model, a.limiter)

	toolset, err := a.toolset(ec, req)
	if err != nil {
		return nil, err
	}

	maxIter := a.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = ec.Options.MaxIterations
	}

	msgs := a.messages(req)
	out := &Output{}

	for out.Iterations < maxIter {
		if err := contextErr(ctx); err != nil {
			return nil, err
		}
		out.Iterations++
		a.iteration(ctx, ec, out.Iterations)

		res, err := client.Complete(ctx, msgs, toolset.schemas, req.OutputSchema)
		if err != nil {
			return nil, err
		}
		out.Usage = out.Usage.Add(res.Usage)

		if res.Kind != llm.ResultToolCall {
			return finish(out, res), nil
		}

		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: res.Text, ToolCalls: res.ToolCalls})
		for _, call := range res.ToolCalls {
			if err := contextErr(ctx); err != nil {
				return nil, err
			}
			out.ToolCalls++
			content := a.invoke(ctx, ec, toolset, call)
			msgs = append(msgs, llm.ToolResultMessage(call.ID, call.Name, content))
		}
	}

	// 达到上限：最后一次不带工具的调用
	if err := contextErr(ctx); err != nil {
		return nil, err
	}
	logger.Debug("iteration limit reached, asking for a final answer", zap.Int("max_iterations", maxIter))
	out.Iterations++
	a.iteration(ctx, ec, out.Iterations)

	msgs = append(msgs, llm.UserMessage(finalAnswerPrompt))
	res, err := client.Complete(ctx, msgs, nil, req.OutputSchema)
	if err != nil {
		return nil, err
	}
	out.Usage = out.Usage.Add(res.Usage)
	if res.Kind == llm.ResultToolCall {
		return nil, types.Errorf(types.ErrAgentIterationLimit,
			"agent %q did not produce a final answer within %d iterations", a.cfg.Role, maxIter)
	}
	return finish(out, res), nil
}

func finish(out *Output, res *llm.Result) *Output {
	out.Raw = strings.TrimSpace(res.Text)
	if res.Kind == llm.ResultStructured {
		out.Value = res.Value
		out.Raw = strings.TrimSpace(llm.StripCodeFence(res.Text))
	}
	return out
}

func (a *Agent) iteration(ctx context.Context, ec *engine.Context, n int) {
	ec.Events.EmitVerbose(ctx, a.cfg.Verbose, engine.EventAgentIteration, map[string]any{
		"agent":     a.cfg.Role,
		"iteration": n,
	})
	ec.Metrics.RecordAgentIteration(a.cfg.Role)
}

// messages 构建 system、context 与任务描述消息
func (a *Agent) messages(req ExecuteRequest) []llm.Message {
	msgs := make([]llm.Message, 0, len(req.Context)+2)
	msgs = append(msgs, llm.SystemMessage(a.SystemPrompt()))
	for _, block := range req.Context {
		msgs = append(msgs, llm.UserMessage(fmt.Sprintf("Context from %s:\n%s", block.Source, block.Text)))
	}
	msgs = append(msgs, llm.UserMessage(req.Description))
	return msgs
}

// toolset 是一次执行可用的工具：注册中心中绑定的工具加上请求附带的合成工具
type toolset struct {
	allowed map[string]bool
	extra   map[string]tools.Tool
	schemas []llm.ToolSchema
}

func (a *Agent) toolset(ec *engine.Context, req ExecuteRequest) (*toolset, error) {
	names := a.cfg.Tools
	if req.Tools != nil {
		names = req.Tools
	}
	ts := &toolset{allowed: make(map[string]bool), extra: make(map[string]tools.Tool)}

	if len(names) > 0 {
		schemas, err := ec.Tools.Schemas(names...)
		if err != nil {
			return nil, types.Errorf(types.ErrInvalidConfig, "agent %q: %v", a.cfg.Role, err).WithCause(err)
		}
		ts.schemas = schemas
		for _, n := range names {
			ts.allowed[n] = true
		}
	}
	for _, t := range req.Extra {
		if ts.allowed[t.Name()] || ts.extra[t.Name()] != nil {
			return nil, types.Errorf(types.ErrDuplicateTool, "agent %q: tool %q offered twice", a.cfg.Role, t.Name())
		}
		ts.extra[t.Name()] = t
		ts.schemas = append(ts.schemas, tools.SchemaOf(t))
	}
	return ts, nil
}

func (ts *toolset) names() []string {
	out := make([]string, 0, len(ts.allowed)+len(ts.extra))
	for n := range ts.allowed {
		out = append(out, n)
	}
	for n := range ts.extra {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// invoke 执行单个工具调用并返回回传给模型的内容
func (a *Agent) invoke(ctx context.Context, ec *engine.Context, ts *toolset, call llm.ToolCall) string {
	var (
		result any
		terr   *tools.ToolError
	)
	switch {
	case ts.extra[call.Name] != nil:
		t := ts.extra[call.Name]
		result, terr = tools.Run(ctx, t, call.Arguments, tools.TimeoutFor(t, ec.Options.ToolTimeout))
	case ts.allowed[call.Name]:
		result, terr = ec.Tools.InvokeWithTimeout(ctx, call.Name, call.Arguments, ec.Options.ToolTimeout)
	default:
		terr = tools.NewToolError(tools.KindUnknownTool, call.Name,
			fmt.Sprintf("unknown tool %q; available: %s", call.Name, strings.Join(ts.names(), ", ")), nil)
	}

	if terr != nil {
		ec.Events.EmitVerbose(ctx, a.cfg.Verbose, engine.EventToolFailed, map[string]any{
			"agent":   a.cfg.Role,
			"tool":    call.Name,
			"call_id": call.ID,
			"kind":    string(terr.Kind),
			"message": terr.Message,
		})
		return "Error: " + terr.Error()
	}

	ec.Events.EmitVerbose(ctx, a.cfg.Verbose, engine.EventToolInvoked, map[string]any{
		"agent":   a.cfg.Role,
		"tool":    call.Name,
		"call_id": call.ID,
	})
	return toolContent(result)
}

// toolContent 字符串原样返回，其余值序列化为 JSON
func toolContent(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	data, err := json.Marshal(result)
	if err != nil {
		// Run 已保证结果可序列化
		return fmt.Sprint(result)
	}
	return string(data)
}

// contextErr 将 ctx 错误映射为 CANCELLED / TIMEOUT
func contextErr(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "deadline exceeded").WithCause(err)
	}
	return types.NewError(types.ErrCancelled, "run cancelled").WithCause(err)
}
