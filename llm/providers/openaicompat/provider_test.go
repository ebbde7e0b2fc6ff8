package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/providers"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/testutil/fixtures"
	"github.com/BaSui01/crewflow/types"
)

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		wantEndpoint string
		wantModels   string
		wantName     string
		wantTimeout  time.Duration
	}{
		{
			name:         "all defaults applied",
			cfg:          Config{},
			wantEndpoint: "/v1/chat/completions",
			wantModels:   "/v1/models",
			wantName:     "openai",
			wantTimeout:  120 * time.Second,
		},
		{
			name: "custom values preserved",
			cfg: Config{
				ProviderName:   "ollama",
				EndpointPath:   "/api/chat",
				ModelsEndpoint: "/api/tags",
				Timeout:        10 * time.Second,
			},
			wantEndpoint: "/api/chat",
			wantModels:   "/api/tags",
			wantName:     "ollama",
			wantTimeout:  10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, nil)
			require.NotNil(t, p)
			assert.Equal(t, tt.wantEndpoint, p.Cfg.EndpointPath)
			assert.Equal(t, tt.wantModels, p.Cfg.ModelsEndpoint)
			assert.Equal(t, tt.wantName, p.Name())
			assert.Equal(t, tt.wantTimeout, p.Client.Timeout)
			assert.NotNil(t, p.Logger)
		})
	}
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func TestProvider_Completion_Success(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Request-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"resp-1","model":"gpt-4o-mini","created":1700000000,
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Hello!"}}],
			"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}
		}`))
	}))
	defer server.Close()

	p := New(Config{APIKey: "test-key", BaseURL: server.URL + "/", DefaultModel: "gpt-4o-mini"}, zap.NewNop())
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		TraceID:  "trace-1",
		Messages: []llm.Message{llm.UserMessage("Hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", got["model"], "default model used when request has none")
	assert.NotContains(t, got, "tools")
	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())
}

func TestProvider_Completion_ToolsOnTheWire(t *testing.T) {
	var got providers.OpenAICompatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(fixtures.ToolCallCompletionJSON("call_1", "add", `{"a":2,"b":3}`)))
	}))
	defer server.Close()

	args := schema.Object(
		schema.Required("a", schema.Integer()),
		schema.Required("b", schema.Integer()),
	)
	p := New(Config{BaseURL: server.URL}, nil)
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model:      "m",
		Messages:   []llm.Message{llm.UserMessage("2+3")},
		Tools:      []llm.ToolSchema{{Name: "add", Description: "add", Parameters: args.JSONSchema()}},
		ToolChoice: "auto",
	})
	require.NoError(t, err)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "add", got.Tools[0].Function.Name)
	assert.JSONEq(t, string(args.JSONSchema()), string(got.Tools[0].Function.Parameters))
	assert.Equal(t, "auto", got.ToolChoice)

	call := resp.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "add", call.Name)
	assert.JSONEq(t, `{"a":2,"b":3}`, string(call.Arguments))
}

func TestProvider_Completion_HTTPErrors(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		code      llm.ErrorCode
		retryable bool
	}{
		{401, `{"error":{"message":"Invalid API key","type":"auth_error"}}`, llm.ErrUnauthorized, false},
		{429, `{"error":{"message":"Rate limited"}}`, llm.ErrRateLimited, true},
		{500, `internal`, llm.ErrUpstreamError, true},
		{529, `overloaded`, llm.ErrModelOverloaded, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := New(Config{BaseURL: server.URL}, nil)
			_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})

			var le *llm.Error
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.code, le.Code)
			assert.Equal(t, tt.retryable, le.Retryable)
			assert.Equal(t, tt.status, le.HTTPStatus)
		})
	}
}

func TestProvider_Completion_MalformedBodyIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}, nil).Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrMalformedResponse, le.Code)
	assert.True(t, le.Retryable)
}

func TestProvider_Completion_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(Config{BaseURL: url}, nil).Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Retryable)
}

func TestProvider_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	status, err := New(Config{BaseURL: server.URL}, nil).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

// 通过 llm.Client 端到端：500 重试后成功，401 立即失败。
func TestProvider_WithClientRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"r","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"{\"valid\":true}"}}]}`))
	}))
	defer server.Close()

	client := llm.NewClient(New(Config{BaseURL: server.URL}, nil), llm.ClientConfig{Model: "m"})
	res, err := client.Complete(context.Background(), []llm.Message{llm.UserMessage("ok?")}, nil,
		schema.Object(schema.Required("valid", schema.Boolean())))
	require.NoError(t, err)
	assert.Equal(t, llm.ResultStructured, res.Kind)
	assert.Equal(t, 2, calls)
	assert.Positive(t, res.Usage.TotalTokens, "usage estimated when the server omits it")

	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer unauthorized.Close()

	client = llm.NewClient(New(Config{BaseURL: unauthorized.URL}, nil), llm.ClientConfig{Model: "m"})
	_, err = client.Complete(context.Background(), []llm.Message{llm.UserMessage("ok?")}, nil, nil)
	assert.Equal(t, types.ErrLLMAuth, types.GetErrorCode(err))
}
