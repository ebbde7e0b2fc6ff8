package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 60 * time.Second

type outcome struct {
	result any
	err    error
}

// Run validates raw against t's schema and invokes t under timeout.
//
// The adapter is never called with invalid arguments. Errors and panics
// from the adapter become adapter_failure, an expired timeout becomes
// timeout, and a cancelled ctx becomes timeout carrying the cancellation
// message. Registry.Invoke uses Run; agents call it directly for
// synthetic tools that are not registered.
func Run(ctx context.Context, t Tool, raw json.RawMessage, timeout time.Duration) (any, *ToolError) {
	name := t.Name()

	// 1. 已取消的上下文不再调用工具
	if err := ctx.Err(); err != nil {
		return nil, NewToolError(KindTimeout, name, "cancelled: "+err.Error(), err)
	}

	// 2. 参数校验
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	validated, err := t.Schema().ValidateJSON(raw)
	if err != nil {
		return nil, NewToolError(KindBadArguments, name, err.Error(), err)
	}
	args, ok := validated.(map[string]any)
	if !ok {
		return nil, NewToolError(KindBadArguments, name, "arguments must be a JSON object", nil)
	}

	// 3. 执行工具（带超时控制）
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 带缓冲的 channel：超时后无人接收，goroutine 仍能写入并退出
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := t.Invoke(execCtx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			// 适配器因超时/取消而返回的错误仍按 timeout 处理
			if execCtx.Err() != nil {
				return nil, expired(ctx, execCtx, name, timeout)
			}
			return nil, adapterError(name, out.err)
		}
		if _, err := json.Marshal(out.result); err != nil {
			return nil, NewToolError(KindAdapterFailure, name, "result is not JSON-serialisable: "+err.Error(), err)
		}
		return out.result, nil

	case <-execCtx.Done():
		return nil, expired(ctx, execCtx, name, timeout)
	}
}

func expired(parent, execCtx context.Context, name string, timeout time.Duration) *ToolError {
	if err := parent.Err(); err != nil {
		return NewToolError(KindTimeout, name, "cancelled: "+err.Error(), err)
	}
	return NewToolError(KindTimeout, name, fmt.Sprintf("execution timeout after %s", timeout), execCtx.Err())
}

// adapterError 保留适配器返回的 ToolError 类型，其余错误归为 adapter_failure
func adapterError(name string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return NewToolError(te.Kind, name, te.Message, te.Cause)
	}
	return NewToolError(KindAdapterFailure, name, err.Error(), err)
}
