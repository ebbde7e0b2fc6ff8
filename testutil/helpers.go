// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供跨包共享的上下文、事件记录与断言辅助
//
// 使用方法:
//
//	rec := testutil.RecordEvents(ec.Events)
//	testutil.AssertErrorCode(t, err, types.ErrTimeout)
// =============================================================================
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 📡 事件记录
// =============================================================================

// EventRecorder 收集 engine.Emitter 发出的事件，可并发使用
type EventRecorder struct {
	mu     sync.Mutex
	events []engine.Event
}

// RecordEvents 订阅 e 并返回记录器
func RecordEvents(e *engine.Emitter) *EventRecorder {
	r := &EventRecorder{}
	e.Subscribe(r.Handle)
	return r
}

// Handle 实现 engine.Handler
func (r *EventRecorder) Handle(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// All 返回全部事件的副本
func (r *EventRecorder) All() []engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Event(nil), r.events...)
}

// OfType 返回指定类型的事件
func (r *EventRecorder) OfType(typ engine.EventType) []engine.Event {
	var out []engine.Event
	for _, ev := range r.All() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Types 按顺序返回事件类型
func (r *EventRecorder) Types() []engine.EventType {
	all := r.All()
	out := make([]engine.EventType, len(all))
	for i, ev := range all {
		out[i] = ev.Type
	}
	return out
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertErrorCode 断言 err 携带指定的引擎错误码
func AssertErrorCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Errorf("expected %s error but got nil", code)
		return
	}
	if !types.HasCode(err, code) {
		t.Errorf("expected error code %s, got %s (%v)", code, types.GetErrorCode(err), err)
	}
}

// AssertToolCallsEqual 断言工具调用名称与参数一致，参数按 JSON 语义比较
func AssertToolCallsEqual(t *testing.T, expected, actual []llm.ToolCall) {
	t.Helper()

	if len(expected) != len(actual) {
		t.Errorf("tool call count mismatch: expected %d, got %d", len(expected), len(actual))
		return
	}
	for i := range expected {
		if expected[i].Name != actual[i].Name {
			t.Errorf("tool call %d name mismatch: expected %s, got %s", i, expected[i].Name, actual[i].Name)
		}
		if !jsonEqual(expected[i].Arguments, actual[i].Arguments) {
			t.Errorf("tool call %d arguments mismatch: expected %s, got %s", i, expected[i].Arguments, actual[i].Arguments)
		}
	}
}

// AssertJSONEqual 断言两个值的 JSON 表示相等
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}
	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}
	if !jsonEqual(expectedJSON, actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual: %s", expectedJSON, actualJSON)
	}
}

func jsonEqual(a, b []byte) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return bytes.Equal(a, b)
	}
	na, _ := json.Marshal(va)
	nb, _ := json.Marshal(vb)
	return bytes.Equal(na, nb)
}

// =============================================================================
// ⏱️ 通道辅助
// =============================================================================

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}
