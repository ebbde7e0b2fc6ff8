package llm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/retry"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/testutil/mocks"
	"github.com/BaSui01/crewflow/types"
)

func fastConfig() llm.ClientConfig {
	return llm.ClientConfig{
		Model: "test-model",
		Retry: &retry.RetryPolicy{
			MaxRetries:   4,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func verdictSchema() *schema.Schema {
	return schema.Object(
		schema.Required("valid", schema.Boolean()),
		schema.Optional("feedback", schema.String()),
	)
}

var transient = &llm.Error{Code: llm.ErrUpstreamError, Message: "bad gateway", HTTPStatus: 502, Retryable: true}

type recorded struct {
	status             string
	prompt, completion int
}

type fakeRecorder struct {
	mu   sync.Mutex
	rows []recorded
}

func (f *fakeRecorder) RecordLLMRequest(provider, model, status string, _ time.Duration, prompt, completion int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, recorded{status, prompt, completion})
}

func TestComplete_Text(t *testing.T) {
	p := mocks.NewMockProvider().ThenText("hello")
	c := llm.NewClient(p, fastConfig())

	res, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, llm.ResultText, res.Kind)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, 30, res.Usage.TotalTokens)

	req, _ := p.LastRequest()
	assert.Equal(t, "test-model", req.Model)
}

func TestComplete_ToolCall(t *testing.T) {
	p := mocks.NewMockProvider().
		Then(mocks.ToolCalls(mocks.Call("add", map[string]int{"a": 1}), mocks.Call("noop", nil)))
	c := llm.NewClient(p, fastConfig())

	tools := []llm.ToolSchema{{Name: "add", Parameters: []byte(`{"type":"object"}`)}}
	res, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("1+1")}, tools, verdictSchema())
	require.NoError(t, err)
	assert.Equal(t, llm.ResultToolCall, res.Kind)
	require.Len(t, res.ToolCalls, 2)

	primary, ok := res.ToolCall()
	require.True(t, ok)
	assert.Equal(t, "add", primary.Name)
	assert.JSONEq(t, `{"a":1}`, string(primary.Arguments))

	req, _ := p.LastRequest()
	assert.Equal(t, tools, req.Tools)
}

func TestComplete_StructuredToleratesFences(t *testing.T) {
	p := mocks.NewMockProvider().ThenText("```json\n{\"valid\": true}\n```")
	c := llm.NewClient(p, fastConfig())

	res, err := c.Complete(context.Background(), []llm.Message{
		llm.SystemMessage("You are a reviewer."),
		llm.UserMessage("review"),
	}, nil, verdictSchema())
	require.NoError(t, err)
	assert.Equal(t, llm.ResultStructured, res.Kind)
	assert.Equal(t, map[string]any{"valid": true}, res.Value)

	req, _ := p.LastRequest()
	require.Len(t, req.Messages, 2, "instruction merged into the existing system message")
	assert.Contains(t, req.Messages[0].Content, "You are a reviewer.")
	assert.Contains(t, req.Messages[0].Content, "valid JSON that conforms to the following JSON Schema")
	assert.Contains(t, req.Messages[0].Content, `"additionalProperties":false`)
}

func TestComplete_SchemaInstructionPrependedWithoutSystemMessage(t *testing.T) {
	p := mocks.NewMockProvider().ThenText(`{"valid":false}`)
	c := llm.NewClient(p, fastConfig())

	input := []llm.Message{llm.UserMessage("review")}
	_, err := c.Complete(context.Background(), input, nil, verdictSchema())
	require.NoError(t, err)

	req, _ := p.LastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Len(t, input, 1, "caller messages are not mutated")
}

func TestComplete_StructuredReaskOnce(t *testing.T) {
	p := mocks.NewMockProvider().
		ThenText(`{"valid":"yes"}`).
		ThenText(`{"valid":true,"feedback":"ok"}`)
	c := llm.NewClient(p, fastConfig())

	res, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("review")}, nil, verdictSchema())
	require.NoError(t, err)
	assert.Equal(t, llm.ResultStructured, res.Kind)
	assert.Equal(t, 2, p.CallCount())
	assert.Equal(t, 60, res.Usage.TotalTokens, "usage accumulates across the re-ask")

	req, _ := p.LastRequest()
	n := len(req.Messages)
	require.GreaterOrEqual(t, n, 3)
	assert.Equal(t, llm.RoleAssistant, req.Messages[n-2].Role)
	assert.Equal(t, `{"valid":"yes"}`, req.Messages[n-2].Content)
	assert.Equal(t, llm.RoleUser, req.Messages[n-1].Role)
	assert.Contains(t, req.Messages[n-1].Content, "$.valid")
}

func TestComplete_StructuredSecondFailureIsFormatError(t *testing.T) {
	p := mocks.NewMockProvider().ThenText("not json").ThenText(`{"valid":true,"extra":1}`)
	c := llm.NewClient(p, fastConfig())

	_, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("review")}, nil, verdictSchema())
	require.Error(t, err)
	assert.Equal(t, types.ErrLLMFormat, types.GetErrorCode(err))
	assert.Equal(t, 2, p.CallCount(), "exactly one re-ask")

	var se *schema.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "$.extra", se.Path)
}

func TestComplete_RetriesTransientErrors(t *testing.T) {
	p := mocks.NewMockProvider().ThenError(transient).ThenError(transient).ThenText("recovered")
	rec := &fakeRecorder{}
	c := llm.NewClient(p, fastConfig(), llm.WithRecorder(rec))

	res, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, 3, p.CallCount())

	require.Len(t, rec.rows, 3)
	assert.Equal(t, string(types.ErrLLMTransient), rec.rows[0].status)
	assert.Equal(t, "success", rec.rows[2].status)
}

func TestComplete_TransientExhaustion(t *testing.T) {
	p := mocks.NewMockProvider().WithError(transient)
	c := llm.NewClient(p, fastConfig())

	_, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrLLMTransient, types.GetErrorCode(err))
	assert.Equal(t, 5, p.CallCount(), "attempts capped at 5")

	var le *llm.Error
	require.ErrorAs(t, err, &le, "last provider error is kept as the cause")
	assert.Equal(t, 502, le.HTTPStatus)
}

func TestComplete_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code types.ErrorCode
	}{
		{"unauthorized", &llm.Error{Code: llm.ErrUnauthorized, HTTPStatus: 401, Message: "bad key"}, types.ErrLLMAuth},
		{"forbidden", &llm.Error{Code: llm.ErrForbidden, HTTPStatus: 403, Message: "denied"}, types.ErrLLMAuth},
		{"bad request", &llm.Error{Code: llm.ErrInvalidRequest, HTTPStatus: 400, Message: "bad"}, types.ErrLLMBadRequest},
		{"unclassified", errors.New("boom"), types.ErrLLMBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mocks.NewMockProvider().WithError(tt.err)
			c := llm.NewClient(p, fastConfig())

			_, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, nil)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Equal(t, 1, p.CallCount(), "not retried")
		})
	}
}

func TestComplete_TimeoutIsRetriedThenSurfaced(t *testing.T) {
	p := mocks.NewMockProvider().WithFallback(mocks.Block())
	cfg := fastConfig()
	cfg.Timeout = 10 * time.Millisecond
	cfg.Retry.MaxRetries = 1
	c := llm.NewClient(p, cfg)

	_, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.Equal(t, 2, p.CallCount())
}

func TestComplete_CancelledContext(t *testing.T) {
	p := mocks.NewMockProvider().ThenText("never")
	c := llm.NewClient(p, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, []llm.Message{llm.UserMessage("hi")}, nil, nil)
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))
	assert.Zero(t, p.CallCount())
}

func TestComplete_CancelledDuringCall(t *testing.T) {
	p := mocks.NewMockProvider().WithFallback(mocks.Block())
	c := llm.NewClient(p, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := c.Complete(ctx, []llm.Message{llm.UserMessage("hi")}, nil, nil)
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))
	assert.Equal(t, 1, p.CallCount(), "no retry after cancellation")
}

func TestComplete_EstimatesUsageWhenProviderReportsNone(t *testing.T) {
	p := mocks.NewMockProvider().WithTokenUsage(0, 0).ThenText(strings.Repeat("word ", 40))
	c := llm.NewClient(p, fastConfig())

	res, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("count these tokens please")}, nil, nil)
	require.NoError(t, err)
	assert.Positive(t, res.Usage.PromptTokens)
	assert.Equal(t, 50, res.Usage.CompletionTokens)
	assert.Equal(t, res.Usage.PromptTokens+res.Usage.CompletionTokens, res.Usage.TotalTokens)
}

func TestComplete_NoChoicesIsTransient(t *testing.T) {
	empty := func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{}, nil
	}
	p := mocks.NewMockProvider().Then(empty).ThenText("ok")
	c := llm.NewClient(p, fastConfig())

	res, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 2, p.CallCount())
}

func TestClient_MaxRPM(t *testing.T) {
	p := mocks.NewMockProvider().WithResponse("ok")
	c := llm.NewClient(p, fastConfig()).WithMaxRPM(1)

	_, err := c.Complete(context.Background(), []llm.Message{llm.UserMessage("first")}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, []llm.Message{llm.UserMessage("second")}, nil, nil)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err), "limiter refuses to wait past the deadline")
	assert.Equal(t, 1, p.CallCount())
}

func TestClient_WithModel(t *testing.T) {
	p := mocks.NewMockProvider().WithResponse("ok")
	base := llm.NewClient(p, fastConfig())
	manager := base.WithModel("manager-model")

	assert.Equal(t, "test-model", base.Model())
	assert.Equal(t, "manager-model", manager.Model())
	assert.Same(t, base, base.WithModel(""))

	_, err := manager.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, nil)
	require.NoError(t, err)
	req, _ := p.LastRequest()
	assert.Equal(t, "manager-model", req.Model)
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"```\n{\"a\":1}\n```":       `{"a":1}`,
		"  ```{\"a\":1}```  ":       `{"a":1}`,
		"```JSON\n[1,2]\n```\n":     `[1,2]`,
	}
	for in, want := range tests {
		assert.Equal(t, want, llm.StripCodeFence(in), in)
	}
}
