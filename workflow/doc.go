// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供事件驱动的 flow 控制器：以谓词连接的步骤图、
路由器循环、类型化状态与可恢复的检查点。

# 概述

FlowBuilder 以显式注册代替装饰器：每个步骤有唯一名称与一种类型，
start、listen(谓词) 或 router(谓词)。Build 完成静态校验后得到不可变
的 Flow，可反复 Kickoff，也可按 run_id Resume。

	flow, err := workflow.NewFlowBuilder("self_eval").
		Engine(ec).
		State(schema.Object(schema.Optional("retry_count", schema.Integer()).WithDefault(0))).
		Start("write", write, workflow.TriggeredBy("retry")).
		Listen("verify", workflow.On("write"), verify).
		Router("evaluate", workflow.On("verify"), evaluate, workflow.Labels("retry", "complete")).
		Listen("save", workflow.OnLabel("complete"), save).
		Build()

# 谓词

On(step) 在步骤完成后成立；OnLabel(label) 只在路由器返回该标签的那一轮
成立，随后被清除，不会重复触发。And / Or 组合二者。"<step>.failed"
是步骤失败标签：若有谓词引用它，失败会被记录并触发该标签，flow 继续。

# 调度

单线程协作式调度：启动时按声明顺序排入全部 start 步骤；每一轮检查取消、
弹出一个步骤执行、记录 {name, return_value, timestamp}、写检查点，再按
声明顺序重新求值谓词。路由器标签选中已完成的步骤时，先把它及其传递依赖者
（见 Flow.Dependants）移出完成集合再重新入队，其余完成记录保持不变。
队列为空时运行结束，最终输出为最后完成步骤的返回值。全局步数上限
（engine.Options.MaxSteps，默认 100）触发 FLOW_STEP_LIMIT。

# 检查点

每个步骤之后以及终止时写入 Checkpoint：状态、完成列表、状态码
（running | succeeded | failed | cancelled）与游标（待执行队列、
未消费标签、步数）。存储实现：

  - MemoryCheckpointStore：进程内，默认
  - RedisCheckpointStore：go-redis，键 crewflow:flow:<run_id>，每个 flow 一个 ZSET 索引
  - SQLCheckpointStore：gorm，flow_checkpoints 表（由 internal/migration 创建）

# 取消与超时

取消 ctx 或调用 Run.Cancel 后，下一次步骤、LLM 调用或工具调用之前生效，
运行以 cancelled 结束并返回 CANCELLED；engine.Options.FlowTimeout 到期
返回 TIMEOUT。
*/
package workflow
