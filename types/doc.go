// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 定义 finrag 管线共享的数据模型与错误体系。

# 概述

types 是最底层的公共包，不依赖任何内部包。查询、分解计划、证据、
评分结果、缺口计划以及结构化错误码都定义于此，供 rag、agent、
workflow 等上层模块共用。

# 核心类型

  - Query / SubQueryPlan      — 调用方查询与分解计划
  - EvidenceChunk / EvidenceSet — 带来源的证据及按复合键去重的集合
  - CoverageAssessment / GradeResult — 每实体指标覆盖与总体评分
  - GapPlan / TargetedQuery   — 缺口分类与补充检索查询
  - Error / ErrorCode         — 结构化错误，含 Retryable 与组件标记
*/
package types
