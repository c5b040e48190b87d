// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 finrag 命令行入口。

# 概述

cmd/finrag 装配完整的问答容器（agent.Build）并执行单次命令：
提问、澄清后续跑、文档导入和版本查询。配置来自 YAML 文件与
FINRAG_ 前缀的环境变量，日志使用 zap 并默认写到 stderr，
标准输出只用于回答内容。

# 子命令

  - ask      — 提问，支持实体过滤、对比模式、追问上下文，--json 输出完整响应
  - resume   — 以用户回复恢复挂起的工作流
  - ingest   — 通过 rag/loader 读取文件，切块后写入实体索引
  - version  — 构建信息，Version、BuildTime、GitCommit 通过 ldflags 注入
*/
package main
