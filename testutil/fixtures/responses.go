// =============================================================================
// 📦 测试数据工厂 - LLM 响应
// =============================================================================
// 提供 Provider 层响应与 OpenAI 兼容接口的原始响应体
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/crewflow/llm"
)

// =============================================================================
// 🎯 ChatResponse 工厂
// =============================================================================

// SimpleResponse 返回简单的文本响应
func SimpleResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: "mock",
		Model:    "test-model",
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				FinishReason: "stop",
				Message:      llm.AssistantMessage(content),
			},
		},
		Usage:     SmallUsage(),
		CreatedAt: time.Now(),
	}
}

// ResponseWithUsage 返回带自定义 Token 使用量的响应
func ResponseWithUsage(content string, promptTokens, completionTokens int) *llm.ChatResponse {
	resp := SimpleResponse(content)
	resp.Usage = CustomUsage(promptTokens, completionTokens)
	return resp
}

// ResponseWithToolCalls 返回带工具调用的响应
func ResponseWithToolCalls(calls ...llm.ToolCall) *llm.ChatResponse {
	resp := SimpleResponse("")
	resp.ID = "resp-tool-001"
	resp.Choices[0].FinishReason = "tool_calls"
	resp.Choices[0].Message.ToolCalls = calls
	return resp
}

// =============================================================================
// 🌐 OpenAI 兼容响应体
// =============================================================================

// ChatCompletionJSON 返回 /v1/chat/completions 的文本响应体
func ChatCompletionJSON(content string, usage llm.ChatUsage) string {
	msg, _ := json.Marshal(content)
	return fmt.Sprintf(`{"id":"chatcmpl-001","object":"chat.completion","model":"test-model","created":1700000000,`+
		`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}],`+
		`"usage":{"prompt_tokens":%d,"completion_tokens":%d,"total_tokens":%d}}`,
		msg, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}

// ToolCallCompletionJSON 返回只含一个工具调用的响应体，args 为 JSON 对象文本
func ToolCallCompletionJSON(callID, name, args string) string {
	encodedArgs, _ := json.Marshal(args)
	return fmt.Sprintf(`{"id":"chatcmpl-002","object":"chat.completion","model":"test-model","created":1700000000,`+
		`"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,`+
		`"tool_calls":[{"id":%q,"type":"function","function":{"name":%q,"arguments":%s}}]}}]}`,
		callID, name, encodedArgs)
}

// =============================================================================
// 📊 Token 使用量
// =============================================================================

// SmallUsage 返回小量 Token 使用
func SmallUsage() llm.ChatUsage {
	return CustomUsage(10, 20)
}

// CustomUsage 返回自定义 Token 使用量
func CustomUsage(prompt, completion int) llm.ChatUsage {
	return llm.ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
