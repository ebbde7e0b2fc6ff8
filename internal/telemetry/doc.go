// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，为 crewflow 的
// crew.kickoff、crew.task、flow.step、llm.complete 与 tool.invoke span
// 配置 OTLP gRPC 导出。禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
