// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
包 database 为 SQL 检查点存储打开 GORM 连接，并管理连接池。

# 概述

Open 按 config.DatabaseConfig 选择 postgres、mysql 或 sqlite 方言，
应用连接池参数后返回 PoolManager。workflow.SQLCheckpointStore 通过
PoolManager.DB() 读写 flow_checkpoints 表，表结构由 internal/migration
创建。

# 核心类型

  - PoolManager：持有 GORM DB，提供 Ping、Stats、Close 与事务辅助。
  - PoolConfig：最大空闲与打开连接数、连接生命周期、健康检查间隔。
  - StatsRecorder：接收连接数快照，metrics.Collector 实现了它。

# 主要能力

  - 健康检查：后台定时探活并上报连接数。
  - 事务：WithTransaction 单次执行，WithTransactionRetry 在死锁、
    序列化失败或 sqlite 锁冲突时指数退避重试。
*/
package database
