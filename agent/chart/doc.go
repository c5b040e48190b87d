// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package chart 从对比表格答案生成分组柱状图。

流程: 解析固定表格 (answer.ParseTable) → 逐单元格提取数值 (ExtractNumeric)
→ 保留至少有一个数值的指标 (最多 8 个) → gonum/plot 渲染 PNG → 可选上传
(本地目录或 S3)。图表失败不影响答案返回, 由调用方记录 CHART_PARSE_FAILURE。
*/
package chart
