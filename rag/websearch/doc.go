// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package websearch 提供受域名白名单约束的外部搜索能力, 用于补齐索引证据缺口.

  - Provider 外部搜索服务契约, 返回原始 JSON, 结构不固定
  - ParseRecords 防御式解析 string / {results:[...]} / 记录列表 三种形态
  - TavilyProvider Tavily HTTP 客户端, 429 指数退避
  - Integrator 并发执行定向查询, 限速、单次超时、超时重试一次, 按 URL 去重后合并为 web 证据
  - MemoryResultCache / RedisResultCache 查询结果缓存
*/
package websearch
