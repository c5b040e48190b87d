// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 finrag 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertUniqueKeys / AssertJSONEqual / AssertEventuallyTrue
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockProvider（按任务脚本化的 llm.Provider）与
    MockModel（llm.Model），支持错误注入与调用计数
  - testutil/fixtures: 财报文档、证据集合与评分结果样例
*/
package testutil
