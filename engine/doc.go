// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
Package engine 汇集 agent、crew 与 flow 共享的运行时依赖。

# 概述

[Context] 持有默认的 llm.Client、工具注册中心、日志器、事件发射器、
指标接口与 [Options]。它在构建后只读，可被并发运行的多个 crew / flow
共享；每次运行自身的可变状态（黑板、flow 状态）由运行对象持有。

# 选项

[Options] 对应配置文件中的 engine 段：

  - Process：sequential | hierarchical
  - MaxIterations：agent 推理循环上限，默认 25
  - MaxRetries：任务重试次数，默认 0
  - MaxDelegationDepth：委派深度上限，默认 3
  - LLMTimeout / ToolTimeout：默认 120s / 60s
  - MaxSteps：flow 全局步数上限，默认 100
  - CrewTimeout / FlowTimeout：默认不启用

# 事件

[Emitter] 以 zap 结构化日志记录 task.started、task.completed、
tool.invoked、tool.failed、agent.iteration、flow.step.completed、
flow.routed 等事件。每个事件带 run_id 与按运行单调递增的 seq；
非 verbose 模式下以 debug 级别输出，verbose 时为 info。
[Emitter.Subscribe] 注册进程内订阅者，测试即通过它断言事件序列。
*/
package engine
