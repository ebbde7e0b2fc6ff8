// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

// Package server 提供 crewflow run 期间的运维 HTTP 服务器，
// 暴露 Prometheus /metrics 与 /healthz。Manager 负责非阻塞启动、
// 优雅关闭与异步错误上报。
package server
