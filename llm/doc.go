// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供 finrag 与语言模型服务之间的类型化契约。

# 概述

管线组件只依赖 [Model] 接口：结构化任务（查询分解计划、证据评分、
缺口分类、财务字段抽取、接地性与相关性判定）通过 [Model.Extract]
返回经 JSON Schema 校验的类型化结果；自由文本任务（答案生成、查询改写、
澄清问题）通过 [Model.Generate] 返回文本。

[StructuredClient] 在任意 [Provider] 之上实现 [Model]：每次调用都有超时，
超时后按退避策略重试一次，仍失败则返回 EXTERNAL_SERVICE_TIMEOUT。

# Provider

  - [OpenAIProvider]：基于 go-openai 的生产实现
  - 测试使用 testutil/mocks 中按任务编排响应的实现
*/
package llm
