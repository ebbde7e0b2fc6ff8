// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
包 cache 管理 crewflow 的 Redis 连接。checkpoint.backend 为 redis 时，
crewflow run 通过 NewManager 建立连接，并把 Client 交给
workflow.NewRedisCheckpointStore。

  - Options：把 config.RedisConfig 转换为 go-redis 选项，tls 为 true 时
    使用 tlsutil.ClientTLSConfig。
  - Manager：启动时 Ping 一次，提供 Ping、Stats 与幂等的 Close。
*/
package cache
