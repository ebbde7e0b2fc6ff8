// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

// MockTool 的工具测试模拟实现。
//
// 支持固定结果、错误注入、自定义函数与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/schema"
)

// --- MockTool 结构 ---

// ToolFunc 工具执行函数类型
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// MockTool 是 tools.Tool 的模拟实现，可并发调用
type MockTool struct {
	mu sync.RWMutex

	name        string
	description string
	schema      *schema.Schema
	timeout     time.Duration

	fn     ToolFunc
	result any
	err    error
	delay  time.Duration

	calls []ToolCall
}

// ToolCall 记录单次工具调用
type ToolCall struct {
	Args   map[string]any
	Result any
	Error  error
}

var _ tools.TimeoutTool = (*MockTool)(nil)

// --- 构造函数和 Builder 方法 ---

// NewMockTool 创建接受任意对象参数、返回 "ok" 的工具
func NewMockTool(name string) *MockTool {
	return &MockTool{
		name:        name,
		description: "mock tool " + name,
		schema:      schema.Object().Extra(),
		result:      "ok",
	}
}

// WithDescription 设置描述
func (m *MockTool) WithDescription(desc string) *MockTool {
	m.description = desc
	return m
}

// WithSchema 设置参数 Schema
func (m *MockTool) WithSchema(s *schema.Schema) *MockTool {
	m.schema = s
	return m
}

// WithResult 设置固定返回值
func (m *MockTool) WithResult(result any) *MockTool {
	m.result = result
	return m
}

// WithError 设置固定错误
func (m *MockTool) WithError(err error) *MockTool {
	m.err = err
	return m
}

// WithFunc 使用自定义执行函数，优先于 WithResult / WithError
func (m *MockTool) WithFunc(fn ToolFunc) *MockTool {
	m.fn = fn
	return m
}

// WithDelay 在返回前等待 d，上下文取消时提前返回
func (m *MockTool) WithDelay(d time.Duration) *MockTool {
	m.delay = d
	return m
}

// WithTimeout 覆盖注册表默认超时
func (m *MockTool) WithTimeout(d time.Duration) *MockTool {
	m.timeout = d
	return m
}

// --- tools.Tool 实现 ---

func (m *MockTool) Name() string           { return m.name }
func (m *MockTool) Description() string    { return m.description }
func (m *MockTool) Schema() *schema.Schema { return m.schema }
func (m *MockTool) Timeout() time.Duration { return m.timeout }

// Invoke 执行工具并记录调用
func (m *MockTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			m.record(args, nil, ctx.Err())
			return nil, ctx.Err()
		}
	}

	var (
		result any
		err    error
	)
	if m.fn != nil {
		result, err = m.fn(ctx, args)
	} else {
		result, err = m.result, m.err
	}
	m.record(args, result, err)
	return result, err
}

func (m *MockTool) record(args map[string]any, result any, err error) {
	copied := make(map[string]any, len(args))
	for k, v := range args {
		copied[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ToolCall{Args: copied, Result: result, Error: err})
}

// --- 查询方法 ---

// Calls 返回调用记录的副本
func (m *MockTool) Calls() []ToolCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ToolCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockTool) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// LastCall 返回最近一次调用
func (m *MockTool) LastCall() (ToolCall, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return ToolCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Reset 清空调用记录
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
