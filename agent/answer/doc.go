// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package answer 负责基于证据生成回答并校验.

  - Compactor 证据超出字符预算时压缩: web 证据由模型抽取为固定财务字段, 小条目原样保留,
    只截断超长条目尾部, 内部索引证据从不截断
  - Generator 生成回答; 计算类问题附带公式上下文; 比较模式输出固定 markdown 表格
  - Verifier 两步校验: grounded (更严格预算) → relevant (宽松)
  - Reformulator 回答与问题不相关时改写查询
  - Clarifier 歧义问题生成澄清提问
*/
package answer
