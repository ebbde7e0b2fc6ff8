// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
Package types 提供 crewflow 引擎的全局共享类型定义。

# 概述

types 是框架最底层的公共包，不依赖任何内部包，为 schema、llm、agent、
crews、workflow 等上层模块提供统一的错误码与上下文传播约定，
以避免循环依赖。

# 错误体系

  - Error / ErrorCode — 结构化错误，含 Retryable 与 Cause
  - 数据错误：SCHEMA、TEMPLATE
  - Provider 错误：LLM_TRANSIENT、LLM_FORMAT、LLM_AUTH、LLM_BAD_REQUEST
  - 控制错误：AGENT_ITERATION_LIMIT、CREW_FAILURE、FLOW_STEP_LIMIT、TIMEOUT、CANCELLED
  - 配置期错误：DUPLICATE_TOOL、REGISTRY_FROZEN、UNKNOWN_STEP、INVALID_CONFIG

errors.Is 按错误码匹配：

	if errors.Is(err, types.NewError(types.ErrCancelled, "")) { ... }

# Context 传播

WithRunID / WithFlowID / WithTaskID / WithAgentRole / WithDelegationDepth
在一次 flow 或 crew 运行中携带标识信息，事件发射器据此为每条事件附加
run_id 与单调递增序号。
*/
package types
