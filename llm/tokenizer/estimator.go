// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package tokenizer

import (
	"unicode"
)

// EstimatorTokenizer 是基于字符数的 token 估算器。
// CJK 字符约 1.5 字符/token，其余约 4 字符/token。
type EstimatorTokenizer struct {
	model string
}

// NewEstimatorTokenizer 创建通用估算器.
func NewEstimatorTokenizer(model string) *EstimatorTokenizer {
	return &EstimatorTokenizer{model: model}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	cjk, other := 0, 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}

	estimated := int(float64(cjk)/1.5 + float64(other)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := 0
	for _, msg := range messages {
		tokens, _ := e.CountTokens(msg.Content)
		total += tokens + 4 // 角色标记与分隔符
	}
	return total + 3, nil // 会话结束开销
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) ||
		(r >= 0x3000 && r <= 0x303F) || // CJK 标点
		(r >= 0xFF00 && r <= 0xFFEF) // 全角字符
}
