package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type addArgs struct {
	A int `json:"a" jsonschema:"description=first operand"`
	B int `json:"b" jsonschema:"description=second operand"`
}

type addResult struct {
	Sum int `json:"sum"`
}

func addTool() Tool {
	return Func("add", "Add two integers", func(_ context.Context, in addArgs) (addResult, error) {
		return addResult{Sum: in.A + in.B}, nil
	})
}

func echoSchema() *schema.Schema {
	return schema.Object(schema.Required("text", schema.String()))
}

type recordedCall struct {
	tool, status string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeRecorder) RecordToolInvocation(tool, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{tool, status})
}

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegistry_Register_Errors(t *testing.T) {
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }

	tests := []struct {
		name string
		tool Tool
		code types.ErrorCode
	}{
		{"nil tool", nil, types.ErrInvalidConfig},
		{"empty name", New("", "x", echoSchema(), noop), types.ErrInvalidConfig},
		{"name with spaces", New("my tool", "x", echoSchema(), noop), types.ErrInvalidConfig},
		{"nil schema", New("t", "x", nil, noop), types.ErrInvalidConfig},
		{"non-object schema", New("t", "x", schema.String(), noop), types.ErrInvalidConfig},
		{"array without items", New("t", "x", schema.Object(schema.Required("xs", &schema.Schema{Kind: schema.KindArray})), noop), types.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.tool)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
		})
	}
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(addTool()))

	err := r.Register(addTool())
	assert.True(t, errors.Is(err, types.NewError(types.ErrDuplicateTool, "")))
	assert.Equal(t, []string{"add"}, r.Names())
}

func TestRegistry_Freeze(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(addTool()))
	r.Freeze()
	assert.True(t, r.Frozen())

	err := r.Register(New("echo", "echo", echoSchema(), func(_ context.Context, a map[string]any) (any, error) { return a, nil }))
	assert.Equal(t, types.ErrRegistryFrozen, types.GetErrorCode(err))
	assert.False(t, r.Has("echo"))

	// 冻结后仍可调用
	res, terr := r.Invoke(context.Background(), "add", json.RawMessage(`{"a":1,"b":2}`))
	require.Nil(t, terr)
	assert.Equal(t, addResult{Sum: 3}, res)
}

func TestRegistry_Schemas_RegistrationOrder(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, map[string]any) (any, error) { return "ok", nil }
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(New(name, name+" tool", echoSchema(), noop)))
	}

	all, err := r.Schemas()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "zeta", all[0].Name)
	assert.Equal(t, "alpha", all[1].Name)
	assert.Equal(t, "mid", all[2].Name)

	some, err := r.Schemas("mid", "zeta")
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "zeta", some[0].Name)
	assert.Equal(t, "mid", some[1].Name)

	_, err = r.Schemas("missing")
	var terr *ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindUnknownTool, terr.Kind)
}

func TestRegistry_SchemaFor(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(addTool()))

	s, err := r.SchemaFor("add")
	require.NoError(t, err)
	assert.Equal(t, "add", s.Name)
	assert.Equal(t, "Add two integers", s.Description)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(s.Parameters, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, false, doc["additionalProperties"])
	assert.ElementsMatch(t, []any{"a", "b"}, doc["required"])
	props := doc["properties"].(map[string]any)
	assert.Equal(t, "first operand", props["a"].(map[string]any)["description"])

	_, err = r.SchemaFor("nope")
	assert.Equal(t, types.ErrTool, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// Invoke
// ---------------------------------------------------------------------------

func TestRegistry_Invoke_Success(t *testing.T) {
	rec := &fakeRecorder{}
	r := NewRegistry(WithRecorder(rec))
	require.NoError(t, r.Register(addTool()))

	res, terr := r.Invoke(context.Background(), "add", json.RawMessage(`{"a":2,"b":3}`))
	require.Nil(t, terr)
	assert.Equal(t, addResult{Sum: 5}, res)
	assert.Equal(t, []recordedCall{{"add", "success"}}, rec.calls)
}

func TestRegistry_Invoke_IntegralFloatAccepted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(addTool()))

	res, terr := r.Invoke(context.Background(), "add", json.RawMessage(`{"a":2.0,"b":3}`))
	require.Nil(t, terr)
	assert.Equal(t, addResult{Sum: 5}, res)
}

func TestRegistry_Invoke_UnknownTool(t *testing.T) {
	rec := &fakeRecorder{}
	r := NewRegistry(WithRecorder(rec))
	require.NoError(t, r.Register(addTool()))

	_, terr := r.Invoke(context.Background(), "subtract", nil)
	require.NotNil(t, terr)
	assert.Equal(t, KindUnknownTool, terr.Kind)
	assert.Equal(t, "subtract", terr.Tool)
	assert.Contains(t, terr.Message, "available: add")
	assert.Equal(t, []recordedCall{{"subtract", "unknown_tool"}}, rec.calls)
}

func TestRegistry_Invoke_BadArgumentsSkipsAdapter(t *testing.T) {
	called := 0
	r := NewRegistry()
	require.NoError(t, r.Register(New("echo", "echo", echoSchema(), func(_ context.Context, a map[string]any) (any, error) {
		called++
		return a["text"], nil
	})))

	tests := []struct {
		name string
		raw  string
		path string
	}{
		{"wrong type", `{"text":3}`, "$.text"},
		{"missing field", `{}`, "$.text"},
		{"unknown field", `{"text":"x","other":1}`, "$.other"},
		{"malformed json", `{"text":`, "$"},
		{"not an object", `["x"]`, "$"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, terr := r.Invoke(context.Background(), "echo", json.RawMessage(tt.raw))
			require.NotNil(t, terr)
			assert.Equal(t, KindBadArguments, terr.Kind)

			var serr *schema.SchemaError
			require.ErrorAs(t, terr, &serr)
			assert.Equal(t, tt.path, serr.Path)
		})
	}
	assert.Zero(t, called, "adapter must not run on invalid arguments")
}

func TestRegistry_Invoke_EmptyArgumentsMeanEmptyObject(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(New("ping", "ping", schema.Object(), func(context.Context, map[string]any) (any, error) {
		return "pong", nil
	})))

	res, terr := r.Invoke(context.Background(), "ping", nil)
	require.Nil(t, terr)
	assert.Equal(t, "pong", res)
}

func TestRegistry_Invoke_AdapterFailures(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		New("fails", "x", schema.Object(), func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("database unavailable")
		}),
		New("panics", "x", schema.Object(), func(context.Context, map[string]any) (any, error) {
			panic("boom")
		}),
		New("unserialisable", "x", schema.Object(), func(context.Context, map[string]any) (any, error) {
			return make(chan int), nil
		}),
		New("typed", "x", schema.Object(), func(context.Context, map[string]any) (any, error) {
			return nil, &ToolError{Kind: KindBadArguments, Message: "city not found"}
		}),
	)

	tests := []struct {
		tool    string
		kind    Kind
		message string
	}{
		{"fails", KindAdapterFailure, "database unavailable"},
		{"panics", KindAdapterFailure, "panic: boom"},
		{"unserialisable", KindAdapterFailure, "not JSON-serialisable"},
		{"typed", KindBadArguments, "city not found"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			_, terr := r.Invoke(context.Background(), tt.tool, nil)
			require.NotNil(t, terr)
			assert.Equal(t, tt.kind, terr.Kind)
			assert.Equal(t, tt.tool, terr.Tool)
			assert.Contains(t, terr.Message, tt.message)
			assert.Equal(t, types.ErrTool, types.GetErrorCode(terr))
		})
	}
}

func TestRegistry_Invoke_MessageTruncated(t *testing.T) {
	long := strings.Repeat("错", 400) // 1200 bytes
	r := NewRegistry()
	require.NoError(t, r.Register(New("loud", "x", schema.Object(), func(context.Context, map[string]any) (any, error) {
		return nil, errors.New(long)
	})))

	_, terr := r.Invoke(context.Background(), "loud", nil)
	require.NotNil(t, terr)
	assert.LessOrEqual(t, len(terr.Message), MaxMessageBytes)
	assert.True(t, utf8.ValidString(terr.Message))
	assert.True(t, strings.HasPrefix(long, terr.Message))
}

func TestRegistry_Invoke_Timeout(t *testing.T) {
	slow := New("slow", "x", schema.Object(), func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithTimeout(20*time.Millisecond))

	r := NewRegistry(WithDefaultTimeout(time.Hour))
	require.NoError(t, r.Register(slow))

	start := time.Now()
	_, terr := r.Invoke(context.Background(), "slow", nil)
	require.NotNil(t, terr)
	assert.Equal(t, KindTimeout, terr.Kind)
	assert.Contains(t, terr.Message, "execution timeout after 20ms")
	assert.ErrorIs(t, terr, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistry_Invoke_RegistryDefaultTimeout(t *testing.T) {
	r := NewRegistry(WithDefaultTimeout(15 * time.Millisecond))
	require.NoError(t, r.Register(New("slow", "x", schema.Object(), func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	_, terr := r.Invoke(context.Background(), "slow", nil)
	require.NotNil(t, terr)
	assert.Equal(t, KindTimeout, terr.Kind)
	assert.Contains(t, terr.Message, "15ms")
}

func TestRegistry_InvokeWithTimeout_CallerFallback(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(New("slow", "x", schema.Object(), func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	start := time.Now()
	_, terr := r.InvokeWithTimeout(context.Background(), "slow", nil, 25*time.Millisecond)
	require.NotNil(t, terr)
	assert.Equal(t, KindTimeout, terr.Kind)
	assert.Contains(t, terr.Message, "25ms")
	assert.Less(t, time.Since(start), time.Second)

	// 工具自身声明的超时优先于调用方
	require.NoError(t, r.Register(New("own", "x", schema.Object(), func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithTimeout(10*time.Millisecond))))
	_, terr = r.InvokeWithTimeout(context.Background(), "own", nil, time.Hour)
	require.NotNil(t, terr)
	assert.Contains(t, terr.Message, "10ms")
}

func TestRegistry_Invoke_CancelledBeforeCall(t *testing.T) {
	called := false
	r := NewRegistry()
	require.NoError(t, r.Register(New("t", "x", schema.Object(), func(context.Context, map[string]any) (any, error) {
		called = true
		return nil, nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, terr := r.Invoke(ctx, "t", nil)
	require.NotNil(t, terr)
	assert.Equal(t, KindTimeout, terr.Kind)
	assert.Contains(t, terr.Message, "context canceled")
	assert.ErrorIs(t, terr, context.Canceled)
	assert.False(t, called)
}

func TestRegistry_Invoke_CancelledDuringCall(t *testing.T) {
	started := make(chan struct{})
	r := NewRegistry()
	require.NoError(t, r.Register(New("block", "x", schema.Object(), func(ctx context.Context, _ map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, terr := r.Invoke(ctx, "block", nil)
	require.NotNil(t, terr)
	assert.Equal(t, KindTimeout, terr.Kind)
	assert.Contains(t, terr.Message, "cancelled")
}

func TestToolError_Format(t *testing.T) {
	terr := NewToolError(KindBadArguments, "add", "schema: $.a: expected integer, got string", nil)
	assert.Equal(t, "bad_arguments: schema: $.a: expected integer, got string", terr.Error())
	assert.True(t, types.HasCode(terr, types.ErrTool))
}

func TestNewFunc_RejectsNonStruct(t *testing.T) {
	_, err := NewFunc("bad", "x", func(_ context.Context, in int) (int, error) { return in, nil })
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
	assert.Panics(t, func() {
		Func("bad", "x", func(_ context.Context, in string) (string, error) { return in, nil })
	})
}
