// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 crewflow 测试共享的辅助函数。

# 概述

testutil 为 agent、crews、workflow 与命令行的测试提供统一的上下文、
事件记录与断言辅助，避免各包重复实现。engine 包自身的测试不使用
本包，以免形成导入环。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup
  - 事件记录: RecordEvents 订阅 engine.Emitter，EventRecorder 提供
    All / OfType / Types 查询，可并发使用
  - 断言工具: AssertErrorCode / AssertToolCallsEqual / AssertJSONEqual
  - 通道辅助: WaitForChannel 在超时内等待一次接收

# 子包

  - testutil/mocks: MockProvider 按脚本回放 LLM 响应，MockTool 实现
    tools.Tool 并记录调用，二者都支持错误注入
  - testutil/fixtures: 预置 agent 配置、声明式 crew 的 YAML、
    ChatResponse 与 OpenAI 兼容响应体

# 使用示例

	p := mocks.NewMockProvider().ThenToolCall("search", map[string]any{"query": "Go"}).ThenText("done")
	search := mocks.NewMockTool("search").WithResult("Go 1.0 shipped in 2012")
	rec := testutil.RecordEvents(ec.Events)
	out, err := crew.Kickoff(testutil.TestContext(t), inputs)
	testutil.AssertErrorCode(t, err, types.ErrTimeout)
*/
package testutil
