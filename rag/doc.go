// Copyright 2025-2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 提供金融问答管线的检索层: 按实体划分的文档索引、查询分析、
混合检索与语义响应缓存.

每个实体 (公司代码) 拥有独立的集合. 读路径从不自动创建集合, 缺失集合
只记录在检索统计中, 由上层决定是否转向外部搜索.

# 核心接口/类型

  - IndexRegistry — 实体集合注册表, chromem 稠密向量 + SparseIndex 稀疏检索, RRF 融合
  - DocumentIndex — 集合存在性检查与检索的最小接口, 供 HybridRetriever 使用
  - SparseIndex — 稀疏检索后端 (BM25Index 本地实现 / ElasticSparseIndex)
  - QueryAnalyzer — 查询分解: 比较模板 → 分部模板 → 模型规划 → 规则回退
  - HybridRetriever — 多实体 × 多子查询并发检索, 按复合键去重
  - SemanticCache — 会话范围的语义响应缓存 (MemoryCacheStore / RedisCacheStore)
  - Ingestor — 文档分块、向量化并写入实体集合

# 子包

  - loader — 从 txt / md / json / jsonl 读取财报文本
  - websearch — 域名白名单外部搜索与证据合并
*/
package rag
