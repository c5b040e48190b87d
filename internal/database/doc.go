// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接池管理。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres 或纯 Go 实现的
sqlite），打开数据库并交给 PoolManager 管理连接生命周期。工作流检查点
的 SQL 存储即建立在这里返回的 *gorm.DB 之上。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB、Ping、Stats
    与 Close。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。
*/
package database
