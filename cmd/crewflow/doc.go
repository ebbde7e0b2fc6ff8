// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
Package main 提供 crewflow 命令行程序入口。

# 概述

cmd/crewflow 从目录加载声明式 crew（agents.yaml、tasks.yaml 与可选的
crew.yaml），通过 OpenAI 兼容接口运行，并提供 flow 检查点查看与数据库
迁移命令。启动时先读取可选的 .env，再按 YAML 或 TOML 配置文件与
CREWFLOW_* 环境变量装配。

# 子命令

  - run          运行 crew，输出 text 或 json，可选 --metrics-addr 暴露指标
  - validate     只加载并构建 crew，不调用模型
  - checkpoints  list / show / delete flow 检查点（memory、redis、sql）
  - migrate      up / down / steps / goto / force / status / version / info
  - version      输出构建注入的版本信息

# 退出码

0 表示成功，1 表示运行失败，2 表示用法错误。日志写入 stderr，
stdout 只保留命令输出。
*/
package main
