// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理能力。

# 概述

Manager 封装 go-redis 客户端，负责连接初始化、健康检查与优雅关闭，
为工作流检查点、语义响应缓存和外部搜索结果缓存提供统一的读写接口。

# 主要能力

  - 键值读写：字符串与 JSON 两种模式（Get/Set/GetJSON/SetJSON）。
  - 哈希读写：HSetJSON 写入字段并刷新整键 TTL，HGetAll 读取全部字段。
  - 错误语义：ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
