// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
包 crews 提供任务（Task）、黑板（Blackboard）与团队执行器（Crew）。

# 概述

Crew 把一组绑定到 agent 的任务组织成流水线。CrewBuilder 在构建时
完成全部静态校验（任务 id 唯一、上下文只引用更早的任务、模板占位符
均已声明、绑定的工具均已注册、层级模式恰有一个不绑定任务的经理），
得到的 Crew 不可变，可作为模板反复 Kickoff。

# 核心模型

  - Task：描述模板、声明的占位符、期望输出、输出 schema、上下文任务、
    重试次数、guardrail 与回调。
  - Blackboard：按写入顺序保存任务输出的只增映射，同一任务 id 只能写入一次。
  - Run：一次执行，状态 Idle → Running → Succeeded | Failed，单向且不可恢复。
  - CrewOutput：最终输出（Raw、Value、Get）、全部任务输出与 token 用量。
  - CrewFailure：致命任务失败，携带失败任务 id、原因与已完成输出快照。

# 模板

占位符写作 {name}，花括号内空白会被去掉；{{ 与 }} 表示字面花括号。
名称依次从输入、黑板任务 id 解析，{previous} 解析为最近一次输出。
结构化值渲染为缩进 JSON。未声明或无法解析的占位符返回 TemplateError（TEMPLATE）。

# 执行模式

  - 顺序（sequential）：按声明顺序运行任务，输出写入黑板。
  - 层级（hierarchical）：经理获得列出全部任务的元任务与委派工具，
    delegate_work 指向待办任务 id 时由执行器拦截并运行该任务，输出写入黑板；
    其余委派按临时委派处理，不写黑板。经理给出不含工具调用的文本回复时结束。

AGENT_ITERATION_LIMIT、LLM_FORMAT、SCHEMA 与 guardrail 拒绝会在 MaxRetries
范围内重试，每次重试重新渲染并从全新的 agent 循环开始；其余错误直接失败。

# 训练与批量

Train 以相同输入运行 n 次并把最终输出以 JSON 行写入 TrainingLog；
KickoffForEach 用 errgroup 并发执行相互独立的运行，按输入顺序返回结果。
*/
package crews
