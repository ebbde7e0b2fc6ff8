// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package tokenizer

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// Message 是 tokenizer 包使用的轻量级消息结构，避免依赖 llm 包。
type Message struct {
	Role    string
	Content string
}

// 全局分词器注册表.
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// RegisterTokenizer 为给定的模型名称（或模型前缀）注册分词器.
func RegisterTokenizer(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// GetTokenizer 返回为给定模型注册的分词器。
// 精确匹配优先，其次取最长的已注册前缀（"gpt-4o-mini-2024" 命中 "gpt-4o-mini"）。
func GetTokenizer(model string) (Tokenizer, error) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}

	prefixes := make([]string, 0, len(modelTokenizers))
	for prefix := range modelTokenizers {
		if strings.HasPrefix(model, prefix) {
			prefixes = append(prefixes, prefix)
		}
	}
	if len(prefixes) > 0 {
		sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
		return modelTokenizers[prefixes[0]], nil
	}

	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// GetTokenizerOrEstimator 返回模型注册的分词器，未注册时回退到估算器。
func GetTokenizerOrEstimator(model string) Tokenizer {
	t, err := GetTokenizer(model)
	if err != nil {
		return NewEstimatorTokenizer(model)
	}
	return t
}

// Usage 统计一次调用的 prompt/completion token 数。
// 精确分词器失败（例如编码数据不可用）时回退到估算器。
func Usage(t Tokenizer, prompt []Message, completion string) (int, int) {
	p, err := t.CountMessages(prompt)
	if err != nil {
		t = NewEstimatorTokenizer(t.Name())
		p, _ = t.CountMessages(prompt)
	}
	c, err := t.CountTokens(completion)
	if err != nil {
		c, _ = NewEstimatorTokenizer(t.Name()).CountTokens(completion)
	}
	return p, c
}
