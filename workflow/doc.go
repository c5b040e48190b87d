// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供状态机编排引擎、有界并发扇出与检查点存储。

# 概述

Graph 以节点 + 边描述状态机。节点函数读取当前状态并返回更新，
由 Reducer 合并；条件边的路由函数只读状态、返回下一个节点，
不得产生副作用。运行在步骤之间检查 context 取消，并受步数上限约束。

# 核心类型

  - Graph / Result      — 状态图与运行结果（完成、挂起、取消、失败）
  - FanOut              — 基于 errgroup 的有界并发扇出，结果按输入顺序返回
  - CheckpointStore     — 挂起检查点存储接口
  - MemoryCheckpointStore / RedisCheckpointStore / GormCheckpointStore

# 挂起与恢复

AddInterrupt 标记挂起节点。执行到该节点后运行返回 StatusSuspended 与
ResumeAt，调用方持久化状态；恢复时以 RunFrom(ctx, state, ResumeAt) 继续。
挂起期间不持有任何锁。
*/
package workflow
