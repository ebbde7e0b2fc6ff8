// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ErrorCode 是 Provider 层原始错误码，与 HTTP 状态和可重试性对齐。
// Client 会把它映射为 types.ErrorCode。
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "LLM_INVALID_REQUEST"    // 参数/格式错误 (400)
	ErrUnauthorized      ErrorCode = "LLM_UNAUTHORIZED"       // 未授权或密钥失效 (401)
	ErrForbidden         ErrorCode = "LLM_FORBIDDEN"          // 权限或内容策略拒绝 (403)
	ErrRateLimited       ErrorCode = "LLM_RATE_LIMITED"       // 上游限流 (429)
	ErrQuotaExceeded     ErrorCode = "LLM_QUOTA_EXCEEDED"     // 额度用尽
	ErrModelOverloaded   ErrorCode = "LLM_MODEL_OVERLOADED"   // 模型过载 (529)
	ErrUpstreamTimeout   ErrorCode = "LLM_UPSTREAM_TIMEOUT"   // 上游超时
	ErrUpstreamError     ErrorCode = "LLM_UPSTREAM_ERROR"     // 上游 5xx/网络错误
	ErrMalformedResponse ErrorCode = "LLM_MALFORMED_RESPONSE" // 响应无法解码
	ErrNoChoices         ErrorCode = "LLM_NO_CHOICES"         // 响应中没有 choices
)

// Error 是 Provider 返回的原始错误。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("[%s] %s (status %d)", e.Code, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // 工具返回时标识对应调用
}

// SystemMessage / UserMessage / AssistantMessage 是常用消息的简写。
func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ToolResultMessage 构造回传给模型的工具结果消息。
func ToolResultMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Name: name, Content: content}
}

// ToolSchema 是发给模型的函数调用声明。
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

type ChatRequest struct {
	TraceID     string            `json:"trace_id,omitempty"`
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	Tools       []ToolSchema      `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Add 累加用量。
func (u ChatUsage) Add(o ChatUsage) ChatUsage {
	return ChatUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Provider 是引擎看到的唯一 LLM 适配接口。
// 工具通过 ChatRequest.Tools 传递，模型在响应中返回 ToolCalls，
// 工具的执行由 llm/tools.Registry 负责。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// HealthChecker 是可选能力，CLI 在启动时用于探活。
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
