// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent 实现财务问答的自适应检索与生成编排引擎。

# Overview

每个问题对应一个工作流实例 (WorkflowState), 由 workflow.Graph 驱动:

	ANALYZE → ROUTE → {RETRIEVE_INDEX, WEB_SEARCH, GENERATE, AWAIT_CLARIFICATION}
	GRADE → {GENERATE, GAP_ANALYZE, WEB_SEARCH_FALLBACK}
	GAP_ANALYZE → {WEB_SEARCH_INTEGRATE, GENERATE}
	WEB_SEARCH_INTEGRATE → GRADE
	GENERATE → VERIFY → {GENERATE, REFORMULATE, CHART_DECISION}
	CHART_DECISION → {GENERATE_CHART, FINALIZE} → FINALIZE

节点只返回 StateUpdate, 由 Reduce 合并; 路由函数是只读状态的纯函数。

# Termination

  - index_searched 与 web_searched 均为真时, 评分后的路由只能是 GENERATE。
  - VERIFY 最多触发 max_retries 次重新生成, 之后强制接受草稿。
  - 改写查询最多 max_reformulations 次。
  - 图引擎另有全局步数上限。

# Suspension

AWAIT_CLARIFICATION 生成澄清问题后挂起, 状态写入 workflow.CheckpointStore;
Resume 合并用户回复后从 ROUTE 继续。挂起期间不持有任何锁。

# Dependencies

Container 持有一次调用所需的全部组件 (索引注册表, 检索器, 评分器, 模型等),
通过注入而非全局单例获得, 测试中可以整体替换。
*/
package agent
