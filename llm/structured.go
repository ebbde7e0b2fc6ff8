// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package llm

import (
	"fmt"
	"strings"

	"github.com/BaSui01/crewflow/schema"
)

const schemaInstructionHeader = "You must respond with valid JSON that conforms to the following JSON Schema"

// withSchemaInstruction 把 schema 约束追加到第一条 system 消息，没有则在最前面插入一条。
func withSchemaInstruction(msgs []Message, s *schema.Schema) []Message {
	instruction := fmt.Sprintf("%s. Respond with the JSON object only, without commentary.\n\n%s",
		schemaInstructionHeader, string(s.JSONSchema()))

	for i := range msgs {
		if msgs[i].Role == RoleSystem {
			msgs[i].Content = strings.TrimRight(msgs[i].Content, "\n") + "\n\n" + instruction
			return msgs
		}
	}
	return append([]Message{SystemMessage(instruction)}, msgs...)
}

// reaskPrompt 构造结构化输出校验失败后的追问。
func reaskPrompt(verr error, s *schema.Schema) string {
	return fmt.Sprintf("Your previous reply was rejected: %v\n"+
		"Reply again with a single JSON object of the shape %s and nothing else.", verr, s.String())
}

// parseStructured 去掉 markdown 代码块后按 schema 校验回复内容。
func parseStructured(content string, s *schema.Schema) (any, error) {
	return s.ValidateJSON([]byte(StripCodeFence(content)))
}

// StripCodeFence 去掉包裹 JSON 的 ``` 或 ```json 代码块。
func StripCodeFence(content string) string {
	text := strings.TrimSpace(content)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// 去掉语言标记（```json）
		if !strings.ContainsAny(text[:nl], "{[") {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
