// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
Package agent 实现 crewflow 的 Agent：一个由角色、目标与背景描述的
LLM 工作者，以及驱动它的推理/行动（reason/act）循环。

# 概述

Agent 在构建后不可变，可被多个 crew、多个并发运行共享。不同“种类”的
agent 只是 [Config] 数据不同，没有类型层次：

	researcher := agent.MustNew(agent.Config{
	    Role:      "Researcher",
	    Goal:      "Find accurate facts",
	    Backstory: "A meticulous analyst.",
	    Tools:     []string{"web_search"},
	})

# 推理/行动循环

[Agent.Execute] 构造消息（system 提示、每个上下文块一条 user 消息、
任务描述），然后反复调用 llm.Client.Complete：

  - 文本或结构化结果：结束循环并返回 [Output]
  - 工具调用：依次执行每个调用，把结果（或 "Error: <kind>: <message>"）
    作为 tool 消息追加，进入下一轮
  - 每次 Complete 计为一次迭代；达到 MaxIterations（默认 25）后再发起
    一次不带工具的调用索要最终答案，仍然没有答案则返回
    AGENT_ITERATION_LIMIT，因此 LLM 调用次数不超过 MaxIterations+1

工具失败只作为内容回传给模型，引擎不会重试；结构化输出校验失败由
llm.Client 重问一次，再失败返回 LLM_FORMAT。

# 委派

[Delegation] 为层级 crew 的 manager（以及 AllowDelegation 的 agent）
提供 delegate_work 与 ask_question 两个合成工具。coworker 按角色名
匹配（忽略大小写与首尾空白），未知 coworker 返回 bad_arguments；委派
深度经 context 传递，超过 MaxDelegationDepth（默认 3）时以工具错误
告知模型。[DelegationHook] 允许 crew 接管 delegate_work，把委派映射到
待执行的任务上。

# 事件

每次迭代发出 agent.iteration，工具调用发出 tool.invoked / tool.failed。
*/
package agent
