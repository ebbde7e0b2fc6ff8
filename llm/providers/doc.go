// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
# 概述

包 providers 提供 OpenAI 兼容线上格式的公共适配层，具体 HTTP Provider
位于 openaicompat 子包。

# 核心类型

  - OpenAICompat* 系列：OpenAI 兼容 API 的请求/响应/工具调用结构体

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为 llm.Error（含 Retryable 标记）
  - TransportError：网络层错误，始终可重试
  - ConvertMessagesToOpenAI / ConvertToolsToOpenAI：消息与工具格式转换，
    工具以 {"type":"function","function":{"name","description","parameters"}} 发送
  - ToLLMChatResponse：OpenAI 兼容响应到 llm.ChatResponse 的转换
  - ChooseModel：按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
