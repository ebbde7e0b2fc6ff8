// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

// Package tlsutil 集中提供 crewflow 的 TLS 配置，供 LLM provider 的
// HTTP 客户端与 Redis 检查点连接使用。TLS 1.2+，仅 AEAD 密码套件。
package tlsutil
