// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
包 migration 管理 crewflow 的数据库 Schema，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

# 概述

迁移文件以 embed.FS 内嵌在 migrations/<方言>/ 下，目前创建
workflow.SQLCheckpointStore 使用的 flow_checkpoints 表及其索引。
DefaultMigrator 提供 Up/Down/Steps/Goto/Force/Version/Status/Info，
CLI 把结果格式化输出，供 crewflow migrate 子命令使用。

# 驱动

database/sql 驱动默认按方言取 postgres、mysql 与 sqlite3；
Config.SQLDriver 可覆盖，例如在无 cgo 的环境中使用 modernc.org/sqlite
注册的 "sqlite" 驱动。
*/
package migration
