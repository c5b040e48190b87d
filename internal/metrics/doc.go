// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的管线指标采集，覆盖工作流、LLM、
检索、外部搜索、评分与语义缓存。

# 概述

Collector 使用 promauto 注册全部指标，按 namespace 隔离。
NewCollectorWithRegisterer 允许测试使用独立的 prometheus.Registry。

# 记录方法

  - RecordWorkflow / RecordStep / RecordTransition / RecordVerificationRetry
  - RecordLLMCall
  - RecordRetrieval / RecordWebSearch / RecordGrade
  - RecordCacheLookup
*/
package metrics
