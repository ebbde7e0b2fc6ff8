package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/testutil/mocks"
	"github.com/BaSui01/crewflow/types"
)

func team() (manager, writer, editor *Agent) {
	manager = MustNew(Config{Role: "Manager", Goal: "Coordinate", AllowDelegation: true})
	writer = MustNew(Config{Role: "Writer", Goal: "Write well"})
	editor = MustNew(Config{Role: "Editor", Goal: "Polish text"})
	return
}

func lastContent(req llm.ChatRequest) string {
	return req.Messages[len(req.Messages)-1].Content
}

func TestDelegation_ToolsFor(t *testing.T) {
	manager, writer, editor := team()
	d := &Delegation{Coworkers: []*Agent{manager, writer, editor}}

	ts := d.ToolsFor(manager)
	require.Len(t, ts, 2)
	assert.Equal(t, DelegateWorkTool, ts[0].Name())
	assert.Equal(t, AskQuestionTool, ts[1].Name())
	assert.Contains(t, ts[0].Description(), "Writer, Editor")
	assert.NotContains(t, ts[0].Description(), "Manager")
	assert.Equal(t, DelegationTimeout, tools.TimeoutFor(ts[0], 0))

	var params map[string]any
	require.NoError(t, json.Unmarshal(tools.SchemaOf(ts[0]).Parameters, &params))
	assert.Equal(t, "object", params["type"])
	assert.ElementsMatch(t, []any{"coworker", "task", "context"}, params["required"])
}

func TestDelegation_DelegateWork(t *testing.T) {
	manager, writer, editor := team()
	p := mocks.NewMockProvider().
		ThenToolCall(DelegateWorkTool, map[string]any{"coworker": " writer ", "task": "Write a haiku", "context": "about Go"}).
		ThenText("gophers in the rain").
		ThenText("Done: gophers in the rain")
	ec, log := newEngine(t, p, engine.Options{})
	d := &Delegation{Engine: ec, Coworkers: []*Agent{manager, writer, editor}}

	out, err := manager.Execute(context.Background(), ec, ExecuteRequest{
		Description: "Get a haiku written",
		Extra:       d.ToolsFor(manager),
	})
	require.NoError(t, err)
	assert.Equal(t, "Done: gophers in the rain", out.Raw)

	calls := p.Calls()
	require.Len(t, calls, 3)

	coworker := calls[1].Request
	assert.True(t, strings.HasPrefix(coworker.Messages[0].Content, "You are Writer."))
	assert.Equal(t, "Context from Manager:\nabout Go", coworker.Messages[1].Content)
	assert.Equal(t, "Write a haiku", coworker.Messages[2].Content)
	assert.Empty(t, coworker.Tools, "writer may not delegate")

	assert.Equal(t, "gophers in the rain", lastContent(calls[2].Request))
	assert.Contains(t, log.types(), engine.EventToolInvoked)
}

func TestDelegation_Errors(t *testing.T) {
	tests := []struct {
		name   string
		opts   engine.Options
		depth  int
		args   map[string]any
		prefix string
	}{
		{
			name:   "unknown coworker",
			args:   map[string]any{"coworker": "Painter", "task": "t", "context": "c"},
			prefix: `Error: bad_arguments: unknown coworker "Painter"; valid coworkers: Writer, Editor`,
		},
		{
			name:   "self is not a coworker",
			args:   map[string]any{"coworker": "Manager", "task": "t", "context": "c"},
			prefix: `Error: bad_arguments: unknown coworker "Manager"`,
		},
		{
			name:   "depth limit",
			opts:   engine.Options{MaxDelegationDepth: 2},
			depth:  2,
			args:   map[string]any{"coworker": "Writer", "task": "t", "context": "c"},
			prefix: "Error: adapter_failure: delegation depth limit (2) reached",
		},
		{
			name:   "missing argument",
			args:   map[string]any{"coworker": "Writer", "context": "c"},
			prefix: "Error: bad_arguments: schema: $.task",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, writer, editor := team()
			p := mocks.NewMockProvider().ThenToolCall(DelegateWorkTool, tt.args).ThenText("fine, I'll do it")
			ec, _ := newEngine(t, p, tt.opts)
			d := &Delegation{Engine: ec, Coworkers: []*Agent{manager, writer, editor}}

			ctx := types.WithDelegationDepth(context.Background(), tt.depth)
			out, err := manager.Execute(ctx, ec, ExecuteRequest{Description: "x", Extra: d.ToolsFor(manager)})
			require.NoError(t, err)
			assert.Equal(t, "fine, I'll do it", out.Raw)

			calls := p.Calls()
			require.Len(t, calls, 2, "no coworker loop runs")
			got := lastContent(calls[1].Request)
			assert.True(t, strings.HasPrefix(got, tt.prefix), got)
		})
	}
}

func TestDelegation_HookAndDepth(t *testing.T) {
	manager, writer, _ := team()
	p := mocks.NewMockProvider().
		ThenToolCall(AskQuestionTool, map[string]any{"coworker": "Writer", "question": "Which tone?", "context": "blog post"}).
		ThenText("ok")
	ec, _ := newEngine(t, p, engine.Options{})

	var got DelegationRequest
	var depth int
	d := &Delegation{Engine: ec, Coworkers: []*Agent{manager, writer}}
	d.Hook = func(ctx context.Context, req DelegationRequest) (string, bool, error) {
		got = req
		depth = types.DelegationDepth(ctx)
		return "playful", true, nil
	}

	_, err := manager.Execute(context.Background(), ec, ExecuteRequest{Description: "x", Extra: d.ToolsFor(manager)})
	require.NoError(t, err)

	assert.Equal(t, AskQuestion, got.Kind)
	assert.Same(t, manager, got.From)
	assert.Same(t, writer, got.Coworker)
	assert.Equal(t, "Which tone?", got.Task)
	assert.Equal(t, "blog post", got.Context)
	assert.Equal(t, 1, got.Depth)
	assert.Equal(t, 1, depth)
	assert.Equal(t, "playful", lastContent(p.Calls()[1].Request))
}

func TestDelegation_HookDeclines(t *testing.T) {
	manager, writer, _ := team()
	p := mocks.NewMockProvider().
		ThenToolCall(DelegateWorkTool, map[string]any{"coworker": "Writer", "task": "draft", "context": ""}).
		ThenText("draft text").
		ThenText("done")
	ec, _ := newEngine(t, p, engine.Options{})

	d := &Delegation{Engine: ec, Coworkers: []*Agent{manager, writer}}
	d.Hook = func(context.Context, DelegationRequest) (string, bool, error) { return "", false, nil }

	out, err := manager.Execute(context.Background(), ec, ExecuteRequest{Description: "x", Extra: d.ToolsFor(manager)})
	require.NoError(t, err)
	assert.Equal(t, "done", out.Raw)
	assert.Equal(t, 3, p.CallCount())
	// 空 context 不产生 context 消息
	assert.Len(t, p.Calls()[1].Request.Messages, 2)
}

func TestDelegation_NestedCoworkerGetsTools(t *testing.T) {
	manager := MustNew(Config{Role: "Manager", AllowDelegation: true})
	lead := MustNew(Config{Role: "Lead", AllowDelegation: true})
	writer := MustNew(Config{Role: "Writer"})
	p := mocks.NewMockProvider().
		ThenToolCall(DelegateWorkTool, map[string]any{"coworker": "Lead", "task": "t", "context": "c"}).
		ThenText("lead answer").
		ThenText("done")
	ec, _ := newEngine(t, p, engine.Options{})
	d := &Delegation{Engine: ec, Coworkers: []*Agent{manager, lead, writer}}

	_, err := manager.Execute(context.Background(), ec, ExecuteRequest{Description: "x", Extra: d.ToolsFor(manager)})
	require.NoError(t, err)

	leadReq := p.Calls()[1].Request
	require.Len(t, leadReq.Tools, 2)
	assert.Contains(t, leadReq.Tools[0].Description, "Manager, Writer")
}
