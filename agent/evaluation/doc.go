// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package evaluation 评估检索证据是否足以回答问题, 并把缺口转成定向补充查询.

  - Grader 分批 (默认 20 条) 并发评分, 最保守规则聚合; 证据增量不足阈值时复用上次结果;
    结构化调用失败时按文档数启发式评分
  - GapAnalyzer 对 partial / insufficient 评分分类缺口类型, 生成 实体 + 指标 + 来源提示 的查询,
    每个缺失项带 2-3 个同义变体; 分类失败时退化为一条粗粒度查询
  - Synonyms 金融指标同义词表
*/
package evaluation
