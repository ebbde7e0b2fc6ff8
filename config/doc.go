// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

// Package config 提供 crewflow 的配置加载。
//
// 加载顺序：默认值 → YAML 或 TOML 文件（按扩展名）→ CREWFLOW_* 环境变量
// → Validate。配置分为 engine、llm、checkpoint、redis、database、log
// 与 telemetry 几节；EngineConfig.Options 转换为 engine.Options。
package config
