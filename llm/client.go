// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/crewflow/llm/retry"
	"github.com/BaSui01/crewflow/llm/tokenizer"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/types"
)

// DefaultTimeout 是单次 LLM 调用的默认超时。
const DefaultTimeout = 120 * time.Second

// ResultKind 区分一次补全的三种结果。
type ResultKind string

const (
	ResultText       ResultKind = "text"
	ResultToolCall   ResultKind = "tool_call"
	ResultStructured ResultKind = "structured"
)

// Result 是 Complete 的返回值。
type Result struct {
	Kind      ResultKind
	Text      string
	ToolCalls []ToolCall // 第一个为主调用
	Value     any        // 仅 structured：规范化后的值
	Usage     ChatUsage
	Model     string
}

// ToolCall 返回主工具调用。
func (r *Result) ToolCall() (ToolCall, bool) {
	if r == nil || len(r.ToolCalls) == 0 {
		return ToolCall{}, false
	}
	return r.ToolCalls[0], true
}

// Recorder 是指标钩子，由 internal/metrics.Collector 实现。
type Recorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// ClientConfig 配置 Client。
type ClientConfig struct {
	Model       string
	Timeout     time.Duration      // 单次调用超时，默认 120s
	Retry       *retry.RetryPolicy // 默认 retry.DefaultRetryPolicy()
	MaxRPM      int                // 每分钟请求上限，0 表示不限
	MaxTokens   int
	Temperature float32
}

// ClientOption 配置可选依赖。
type ClientOption func(*Client)

// WithLogger 设置日志器。
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder 设置指标钩子。
func WithRecorder(r Recorder) ClientOption {
	return func(c *Client) { c.recorder = r }
}

// WithTokenizer 固定用于估算用量的分词器，默认按模型从 tokenizer 注册表查找。
func WithTokenizer(t tokenizer.Tokenizer) ClientOption {
	return func(c *Client) { c.tokenizer = t }
}

// Client 在 Provider 之上提供重试、超时、限流、结构化输出与可观测。
// Client 是不可变的，可被多个 agent 并发共享。
type Client struct {
	provider  Provider
	cfg       ClientConfig
	limiter   *rate.Limiter
	logger    *zap.Logger
	recorder  Recorder
	tokenizer tokenizer.Tokenizer
	tracer    trace.Tracer
}

// NewClient 创建 Client。
func NewClient(provider Provider, cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryPolicy()
	}
	c := &Client{
		provider: provider,
		cfg:      cfg,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/BaSui01/crewflow/llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "llm_client"), zap.String("provider", provider.Name()))
	c.limiter = NewRPMLimiter(cfg.MaxRPM)
	return c
}

// NewRPMLimiter 返回每分钟最多 rpm 次的限流器，rpm <= 0 时返回 nil（不限流）。
func NewRPMLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// WithModel 返回使用另一个模型的副本（限流器共享）。
func (c *Client) WithModel(model string) *Client {
	if model == "" || model == c.cfg.Model {
		return c
	}
	cp := *c
	cp.cfg.Model = model
	return &cp
}

// WithMaxRPM 返回带独立限流器的副本。
func (c *Client) WithMaxRPM(rpm int) *Client {
	cp := *c
	cp.cfg.MaxRPM = rpm
	cp.limiter = NewRPMLimiter(rpm)
	return &cp
}

// WithLimiter 返回共享 l 的副本，用于让同一 agent 的多次执行共用配额。
func (c *Client) WithLimiter(l *rate.Limiter) *Client {
	if l == nil {
		return c
	}
	cp := *c
	cp.limiter = l
	return &cp
}

// WithTimeout 返回使用另一个单次调用超时的副本。
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d <= 0 || d == c.cfg.Timeout {
		return c
	}
	cp := *c
	cp.cfg.Timeout = d
	return &cp
}

// Model 返回当前模型名。
func (c *Client) Model() string { return c.cfg.Model }

// Provider 返回底层 Provider。
func (c *Client) Provider() Provider { return c.provider }

// Complete 发送一次补全。
//
// tools 非空时模型可以请求工具调用；responseSchema 非空且模型没有请求工具时，
// 回复必须是符合 schema 的 JSON 对象，失败时重问一次，仍失败返回 LLM_FORMAT。
func (c *Client) Complete(ctx context.Context, messages []Message, tools []ToolSchema, responseSchema *schema.Schema) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.provider", c.provider.Name()),
		attribute.String("llm.model", c.cfg.Model),
		attribute.Int("llm.tools", len(tools)),
		attribute.Bool("llm.structured", responseSchema != nil),
	))
	defer span.End()

	res, err := c.complete(ctx, messages, tools, responseSchema)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("llm.result_kind", string(res.Kind)),
		attribute.Int("llm.prompt_tokens", res.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", res.Usage.CompletionTokens),
	)
	return res, nil
}

func (c *Client) complete(ctx context.Context, messages []Message, tools []ToolSchema, responseSchema *schema.Schema) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(ctx, err)
	}

	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	if responseSchema != nil {
		msgs = withSchemaInstruction(msgs, responseSchema)
	}

	resp, err := c.call(ctx, msgs, tools)
	if err != nil {
		return nil, err
	}
	usage := resp.Usage
	reply := resp.Choices[0].Message

	if len(reply.ToolCalls) > 0 {
		return &Result{Kind: ResultToolCall, Text: reply.Content, ToolCalls: reply.ToolCalls, Usage: usage, Model: resp.Model}, nil
	}
	if responseSchema == nil {
		return &Result{Kind: ResultText, Text: reply.Content, Usage: usage, Model: resp.Model}, nil
	}

	value, verr := parseStructured(reply.Content, responseSchema)
	if verr == nil {
		return &Result{Kind: ResultStructured, Text: reply.Content, Value: value, Usage: usage, Model: resp.Model}, nil
	}

	// 重问一次：附上模型原回复与校验错误
	c.logger.Debug("structured output rejected, re-asking", zap.Error(verr))
	msgs = append(msgs, AssistantMessage(reply.Content), UserMessage(reaskPrompt(verr, responseSchema)))

	resp, err = c.call(ctx, msgs, tools)
	if err != nil {
		return nil, err
	}
	usage = usage.Add(resp.Usage)
	reply = resp.Choices[0].Message

	if len(reply.ToolCalls) > 0 {
		return &Result{Kind: ResultToolCall, Text: reply.Content, ToolCalls: reply.ToolCalls, Usage: usage, Model: resp.Model}, nil
	}
	value, verr = parseStructured(reply.Content, responseSchema)
	if verr != nil {
		return nil, types.NewError(types.ErrLLMFormat, "model output does not match the response schema after one re-ask").
			WithCause(verr).
			WithProvider(c.provider.Name())
	}
	return &Result{Kind: ResultStructured, Text: reply.Content, Value: value, Usage: usage, Model: resp.Model}, nil
}

// call 发起一次带重试的 Provider 调用，返回至少含一个 choice 的响应。
func (c *Client) call(ctx context.Context, msgs []Message, tools []ToolSchema) (*ChatResponse, error) {
	policy := *c.cfg.Retry
	policy.ShouldRetry = types.IsRetryable
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("llm call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	retryer := retry.NewBackoffRetryer(&policy, c.logger)

	req := &ChatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Tools:       tools,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Timeout:     c.cfg.Timeout,
	}
	if traceID, ok := types.TraceID(ctx); ok {
		req.TraceID = traceID
	}

	resp, err := retry.DoValue(ctx, retryer, func(int) (*ChatResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, contextError(ctx, err)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, contextError(ctx, err)
			}
		}
		return c.attempt(ctx, req)
	})
	if err != nil {
		return nil, c.finalError(ctx, err)
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Completion(callCtx, req)
	duration := time.Since(start)

	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = &Error{Code: ErrNoChoices, Message: "provider returned no choices", Retryable: true, Provider: c.provider.Name()}
	}
	if err != nil {
		mapped := c.classify(ctx, callCtx, err)
		c.record(types.GetErrorCode(mapped), duration, 0, 0)
		return nil, mapped
	}

	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 {
		resp.Usage = c.estimateUsage(req.Messages, resp.Choices[0].Message)
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	c.record("", duration, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

func (c *Client) estimateUsage(prompt []Message, reply Message) ChatUsage {
	tk := c.tokenizer
	if tk == nil {
		tk = tokenizer.GetTokenizerOrEstimator(c.cfg.Model)
	}
	in := make([]tokenizer.Message, 0, len(prompt))
	for _, m := range prompt {
		in = append(in, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	out := reply.Content
	for _, tc := range reply.ToolCalls {
		out += tc.Name + string(tc.Arguments)
	}
	p, cpl := tokenizer.Usage(tk, in, out)
	return ChatUsage{PromptTokens: p, CompletionTokens: cpl, TotalTokens: p + cpl}
}

func (c *Client) record(code types.ErrorCode, d time.Duration, prompt, completion int) {
	if c.recorder == nil {
		return
	}
	status := "success"
	if code != "" {
		status = string(code)
	}
	c.recorder.RecordLLMRequest(c.provider.Name(), c.cfg.Model, status, d, prompt, completion)
}
