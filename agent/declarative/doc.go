// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
# 概述

包 declarative 提供基于 YAML/JSON 的声明式 crew 定义与加载能力。

agents.yaml 以 agent 名称为键描述角色、目标、背景、工具与模型；
tasks.yaml 以任务 id 为键描述任务模板、期望输出、执行 agent、上下文
与输出 schema。可选的 crew.yaml 指定流程（sequential | hierarchical）
与管理者。任务按文件中的声明顺序执行，因此解码时保留键顺序。

# 核心接口

  - CrewLoader：从文件、目录或字节流加载 Definition，按扩展名识别格式
  - Factory：校验名称引用并转换为 agent.Config 与 crews.Task
  - Definition.Builder / BuildCrew：组装 crews.CrewBuilder 或直接构建 Crew

# 文件示例

	# agents.yaml
	researcher:
	  role: Senior Data Researcher
	  goal: Uncover cutting-edge developments
	  backstory: You find the most relevant information.
	  tools: [search]
	  max_iter: 10

	# tasks.yaml
	research_task:
	  description: Conduct a thorough research about {topic}
	  expected_output: A list with 10 bullet points
	  agent: researcher

# 典型用法

	def, err := declarative.NewLoader(logger).LoadDir("config")
	crew, err := def.BuildCrew("research", ec,
		declarative.WithOutputSchema("report", schema.For[Report]()),
	)
	out, err := crew.Kickoff(ctx, map[string]any{"topic": "AI Agents"})

# 设计约束

  - 文件无法表达的设置（guardrail、callback、Go 类型 schema）通过 BuildOption 注入
  - 占位符列表默认从 description 中提取
  - 所有错误均为 INVALID_CONFIG
*/
package declarative
