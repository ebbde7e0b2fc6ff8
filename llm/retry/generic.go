// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package retry

import "context"

// DoValue 是 Retryer.Do 的泛型包装，返回最后一次成功尝试的值。
//
// 用法:
//
//	resp, err := retry.DoValue(ctx, r, func(attempt int) (*llm.ChatResponse, error) {
//	    return provider.Completion(ctx, req)
//	})
func DoValue[T any](ctx context.Context, r Retryer, fn func(attempt int) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(attempt int) error {
		v, err := fn(attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
