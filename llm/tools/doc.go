// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
Package tools 提供工具注册中心与带超时保护的工具调用。

# 概述

工具是 agent 在推理循环中可以调用的能力。每个工具声明名称、描述和
参数 schema（schema.Schema，必须为 object），[Registry] 负责注册、
向模型导出函数声明，以及在调用前校验参数。

# 核心接口

  - [Tool]：Name / Description / Schema / Invoke
  - [TimeoutTool]：可选，声明工具自身的超时
  - [New]：以显式 schema 构建动态工具
  - [NewFunc] / [Func]：从 Go 结构体反射参数 schema 的类型化工具

# 调用约定

[Registry.Invoke] 与 [Run] 返回 (any, *ToolError)，错误种类：

  - unknown_tool：工具未注册
  - bad_arguments：参数不符合 schema，工具不会被调用
  - adapter_failure：工具返回错误、panic，或结果无法序列化为 JSON
  - timeout：超过工具超时（默认 60s），或父上下文被取消

错误消息截断至 [MaxMessageBytes] 字节，以 "Error: <kind>: <message>"
的形式回传给模型，由 agent 决定下一步，引擎不会重试工具调用。

# 冻结

crew 与 flow 启动时调用 [Registry.Freeze]，之后的 Register 返回
REGISTRY_FROZEN。重名返回 DUPLICATE_TOOL。
*/
package tools
