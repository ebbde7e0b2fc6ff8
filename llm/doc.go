// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
Package llm 是引擎访问大语言模型的唯一入口。

# 概述

引擎只通过 [Provider] 接口与模型服务交互，具体的 HTTP 适配位于
llm/providers 子包。[Client] 在 Provider 之上统一处理以下横切能力，
让 agent 循环只关心三种结果：文本、工具调用、结构化值。

# 核心接口

  - [Provider]：Completion / Name
  - [HealthChecker]：可选的探活能力
  - [Recorder]：指标钩子，由 internal/metrics 实现

# Client.Complete

  - 结果类型：[ResultText]、[ResultToolCall]、[ResultStructured]
  - 结构化输出：schema 作为 system 指令发送，回复去掉 markdown 代码块后校验；
    失败时附上校验错误重问一次，仍失败返回 LLM_FORMAT
  - 重试：可重试错误（超时、5xx、429、529、网络错误）按指数退避重试，
    共最多 5 次尝试，耗尽后返回 LLM_TRANSIENT（最后一次为超时则返回 TIMEOUT）
  - 不重试：401/403 返回 LLM_AUTH，400 返回 LLM_BAD_REQUEST
  - 超时：单次调用默认 120s
  - 取消：每次尝试前检查 ctx，已取消返回 CANCELLED
  - 限流：可选的每分钟请求上限（golang.org/x/time/rate）
  - 用量：Provider 未返回用量时用 llm/tokenizer 估算
  - 可观测：每次调用一个 llm.complete span，并通过 [Recorder] 计数

# 错误模型

Provider 返回原始的 [*Error]（带 HTTP 状态与可重试标记），
Client 将其映射为 types.Error，上层只依赖 types.ErrorCode。
*/
package llm
