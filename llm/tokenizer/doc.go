// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

// Package tokenizer 提供统一的 token 计数接口。
// Provider 未返回用量时，llm.Client 用它估算 prompt/completion token 数：
// 已注册的模型走 tiktoken 精确计数，其余回退到 CJK 感知的估算器。
package tokenizer
