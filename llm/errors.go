// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/crewflow/llm/retry"
	"github.com/BaSui01/crewflow/types"
)

// contextError 把父 context 的结束原因映射为引擎错误：
// 取消 -> CANCELLED，截止时间 -> TIMEOUT，都不可重试。
func contextError(ctx context.Context, cause error) *types.Error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return types.NewError(types.ErrCancelled, "llm call cancelled").WithCause(cause)
	}
	return types.NewError(types.ErrTimeout, "deadline exceeded before llm call").WithCause(cause)
}

// classify 把单次 Provider 调用的错误映射为引擎错误。
func (c *Client) classify(parent, call context.Context, err error) *types.Error {
	if parent.Err() != nil {
		return contextError(parent, err)
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return types.Errorf(types.ErrTimeout, "llm call exceeded %s", c.cfg.Timeout).
			WithCause(err).
			WithRetryable(true).
			WithProvider(c.provider.Name())
	}

	var te *types.Error
	if errors.As(err, &te) {
		return te
	}

	var le *Error
	if errors.As(err, &le) {
		switch {
		case le.Code == ErrUnauthorized || le.Code == ErrForbidden:
			return types.NewError(types.ErrLLMAuth, le.Message).WithCause(err).WithProvider(c.provider.Name())
		case le.Code == ErrUpstreamTimeout:
			return types.NewError(types.ErrTimeout, le.Message).WithCause(err).WithRetryable(true).WithProvider(c.provider.Name())
		case le.Retryable:
			return types.NewError(types.ErrLLMTransient, le.Message).WithCause(err).WithRetryable(true).WithProvider(c.provider.Name())
		default:
			return types.NewError(types.ErrLLMBadRequest, le.Message).WithCause(err).WithProvider(c.provider.Name())
		}
	}

	// 未分类的错误不重试
	return types.NewError(types.ErrLLMBadRequest, err.Error()).WithCause(err).WithProvider(c.provider.Name())
}

// finalError 处理重试器的最终结果。
func (c *Client) finalError(ctx context.Context, err error) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		if types.GetErrorCode(exhausted.Last) == types.ErrTimeout {
			return types.NewError(types.ErrTimeout, fmt.Sprintf("llm call timed out %d times", exhausted.Attempts)).
				WithCause(exhausted.Last).
				WithProvider(c.provider.Name())
		}
		return types.NewError(types.ErrLLMTransient, fmt.Sprintf("llm call failed after %d attempts", exhausted.Attempts)).
			WithCause(exhausted.Last).
			WithRetryable(true).
			WithProvider(c.provider.Name())
	}

	// 退避等待期间 ctx 结束
	if ctx.Err() != nil && types.GetErrorCode(err) == "" {
		return contextError(ctx, err)
	}
	return err
}
