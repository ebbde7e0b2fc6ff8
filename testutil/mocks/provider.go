// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

// MockProvider 是按脚本回放的 LLM Provider 测试实现。
//
// 支持固定响应、逐次脚本、工具调用与错误注入场景。
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/crewflow/llm"
)

// Step 是脚本中的一步：根据请求产生一次响应。
type Step func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// ErrScriptExhausted 表示脚本已用完且没有设置默认响应。
var ErrScriptExhausted = errors.New("mock provider: script exhausted")

// --- MockProvider 结构 ---

// MockProvider 是 LLM Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	name   string
	script []Step

	// 脚本用完后的行为
	fallback Step

	// Token 使用统计（0 表示不上报，由 Client 估算）
	promptTokens     int
	completionTokens int

	// 行为控制
	delay     time.Duration
	failAfter int
	callCount int

	calls []MockProviderCall
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider，默认在脚本用完后返回 ErrScriptExhausted。
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:             "mock",
		promptTokens:     10,
		completionTokens: 20,
		fallback: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, ErrScriptExhausted
		},
	}
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// Then 追加脚本步骤
func (m *MockProvider) Then(steps ...Step) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
	return m
}

// ThenText 追加一次文本回复
func (m *MockProvider) ThenText(text string) *MockProvider { return m.Then(Text(text)) }

// ThenJSON 追加一次 JSON 回复
func (m *MockProvider) ThenJSON(v any) *MockProvider { return m.Then(JSON(v)) }

// ThenToolCall 追加一次工具调用回复
func (m *MockProvider) ThenToolCall(name string, args any) *MockProvider {
	return m.Then(ToolCalls(Call(name, args)))
}

// ThenError 追加一次错误
func (m *MockProvider) ThenError(err error) *MockProvider { return m.Then(Fail(err)) }

// WithResponse 设置脚本用完后的固定文本响应
func (m *MockProvider) WithResponse(response string) *MockProvider {
	return m.WithFallback(Text(response))
}

// WithError 设置脚本用完后固定返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	return m.WithFallback(Fail(err))
}

// WithCompletionFunc 设置脚本用完后的自定义 Completion 函数
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	return m.WithFallback(fn)
}

// WithFallback 设置脚本用完后的步骤
func (m *MockProvider) WithFallback(step Step) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = step
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置响应延迟，期间响应 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// HealthCheck 执行健康检查
func (m *MockProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

// Completion 按脚本生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	delay := m.delay
	recorded := cloneRequest(req)

	var step Step
	switch {
	case m.failAfter > 0 && n > m.failAfter:
		step = Fail(errors.New("mock provider: configured to fail after N calls"))
	case len(m.script) > 0:
		step = m.script[0]
		m.script = m.script[1:]
	default:
		step = m.fallback
	}
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.record(recorded, nil, ctx.Err())
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	resp, err := step(ctx, req)
	if resp != nil {
		if resp.Model == "" {
			resp.Model = req.Model
		}
		if resp.Provider == "" {
			resp.Provider = m.Name()
		}
		m.mu.Lock()
		if resp.Usage == (llm.ChatUsage{}) && m.promptTokens+m.completionTokens > 0 {
			resp.Usage = llm.ChatUsage{
				PromptTokens:     m.promptTokens,
				CompletionTokens: m.completionTokens,
				TotalTokens:      m.promptTokens + m.completionTokens,
			}
		}
		m.mu.Unlock()
	}
	m.record(recorded, resp, err)
	return resp, err
}

func (m *MockProvider) record(req llm.ChatRequest, resp *llm.ChatResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
}

// --- 调用记录查询 ---

// Calls 返回全部调用记录的副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回 Completion 被调用的次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest 返回最后一次请求
func (m *MockProvider) LastRequest() (llm.ChatRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return llm.ChatRequest{}, false
	}
	return m.calls[len(m.calls)-1].Request, true
}

// Remaining 返回尚未消费的脚本步数
func (m *MockProvider) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.script)
}

// Reset 清空脚本与调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = nil
	m.calls = nil
	m.callCount = 0
}

func cloneRequest(req *llm.ChatRequest) llm.ChatRequest {
	if req == nil {
		return llm.ChatRequest{}
	}
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	cp.Tools = append([]llm.ToolSchema(nil), req.Tools...)
	return cp
}

// --- 脚本步骤构造 ---

// Text 返回纯文本回复
func Text(text string) Step {
	return func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return reply(llm.Message{Role: llm.RoleAssistant, Content: text}, "stop"), nil
	}
}

// JSON 返回把 v 序列化后的文本回复
func JSON(v any) Step {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mocks.JSON: %v", err))
	}
	return Text(string(data))
}

// Call 构造一个工具调用；args 为 string 或 []byte 时按原始 JSON 使用。
func Call(name string, args any) llm.ToolCall {
	var raw json.RawMessage
	switch a := args.(type) {
	case string:
		raw = json.RawMessage(a)
	case []byte:
		raw = json.RawMessage(a)
	case nil:
		raw = json.RawMessage(`{}`)
	default:
		data, err := json.Marshal(a)
		if err != nil {
			panic(fmt.Sprintf("mocks.Call: %v", err))
		}
		raw = data
	}
	return llm.ToolCall{Name: name, Arguments: raw}
}

// ToolCalls 返回包含若干工具调用的回复，缺省 ID 自动编号
func ToolCalls(calls ...llm.ToolCall) Step {
	return func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		out := make([]llm.ToolCall, len(calls))
		for i, c := range calls {
			if c.ID == "" {
				c.ID = fmt.Sprintf("call_%d", i+1)
			}
			out[i] = c
		}
		return reply(llm.Message{Role: llm.RoleAssistant, ToolCalls: out}, "tool_calls"), nil
	}
}

// Fail 返回错误
func Fail(err error) Step {
	return func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, err
	}
}

// Block 一直阻塞直到 ctx 结束，用于超时与取消测试
func Block() Step {
	return func(ctx context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Repeat 把同一步骤重复 n 次
func Repeat(n int, step Step) []Step {
	out := make([]Step, n)
	for i := range out {
		out[i] = step
	}
	return out
}

func reply(msg llm.Message, finish string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:        "mock-response-id",
		Choices:   []llm.ChatChoice{{Index: 0, FinishReason: finish, Message: msg}},
		CreatedAt: time.Now(),
	}
}
