// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的运行指标采集，覆盖 LLM 调用、
工具调用、Agent 迭代、任务、crew/flow 运行与数据库连接。

# 概述

Collector 同时实现 llm.Recorder、tools.Recorder 与 engine.Metrics，
分别通过 llm.WithRecorder、tools.WithRecorder 与 engine.WithMetrics
注入。指标按 namespace 隔离，注册到调用方传入的 Registerer；
传入 nil 时使用 prometheus.DefaultRegisterer。测试中为每个用例创建
独立的 prometheus.NewRegistry()，避免重复注册。

# 指标

  - llm_requests_total / llm_request_duration_seconds / llm_tokens_used_total：
    按 provider/model 分组，status 为 success 或错误码。
  - tool_invocations_total / tool_invocation_duration_seconds：
    status 为 success 或工具错误类别。
  - agent_iterations_total：按 Agent 角色计数。
  - task_executions_total / task_execution_duration_seconds。
  - runs_total / run_duration_seconds：kind 为 crew 或 flow。
  - flow_steps_total / flow_step_duration_seconds。
  - db_connections_open / db_connections_idle。

Handler 返回 /metrics 的 HTTP 处理器，由 crewflow run --metrics-addr
挂载到 internal/server。
*/
package metrics
