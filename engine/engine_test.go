// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/testutil/mocks"
	"github.com/BaSui01/crewflow/types"
)

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{MaxRetries: 2, MaxIterations: 5}.WithDefaults()

	assert.Equal(t, ProcessSequential, o.Process)
	assert.Equal(t, 5, o.MaxIterations)
	assert.Equal(t, 2, o.MaxRetries)
	assert.Equal(t, 3, o.MaxDelegationDepth)
	assert.Equal(t, 120*time.Second, o.LLMTimeout)
	assert.Equal(t, 60*time.Second, o.ToolTimeout)
	assert.Equal(t, 100, o.MaxSteps)
	assert.Zero(t, o.CrewTimeout)
	assert.Zero(t, o.FlowTimeout)
	assert.NoError(t, o.Validate())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown process", Options{Process: "parallel"}},
		{"negative retries", Options{MaxRetries: -1}},
		{"negative crew timeout", Options{CrewTimeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.WithDefaults().Validate()
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	client := llm.NewClient(mocks.NewMockProvider(), llm.ClientConfig{Model: "base"})
	ec, err := New(client, WithOptions(Options{ToolTimeout: 5 * time.Second}))
	require.NoError(t, err)
	assert.NotNil(t, ec.Tools)
	assert.NotNil(t, ec.Events)
	assert.IsType(t, NopMetrics{}, ec.Metrics)
	assert.Equal(t, 5*time.Second, ec.Options.ToolTimeout)

	assert.Equal(t, "writer-model", ec.ClientFor("writer-model", nil).Model())
	assert.Equal(t, "base", ec.ClientFor("", nil).Model())
}

func TestEmitter_SeqIsPerRun(t *testing.T) {
	em := NewEmitter(nil, false)

	var mu sync.Mutex
	var got []Event
	unsubscribe := em.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	run1 := types.WithRunID(context.Background(), "run-1")
	run2 := types.WithRunID(context.Background(), "run-2")
	em.Emit(run1, EventTaskStarted, map[string]any{"task": "a"})
	em.Emit(run2, EventTaskStarted, map[string]any{"task": "x"})
	em.Emit(run1, EventTaskCompleted, map[string]any{"task": "a"})

	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(1), got[1].Seq)
	assert.Equal(t, uint64(2), got[2].Seq)
	assert.Equal(t, "run-1", got[2].RunID)
	assert.Equal(t, "a", got[2].Fields["task"])

	unsubscribe()
	em.Emit(run1, EventTaskStarted, nil)
	assert.Len(t, got, 3)

	em.Forget("run-1")
	var after Event
	em.Subscribe(func(ev Event) { after = ev })
	em.Emit(run1, EventTaskStarted, nil)
	assert.Equal(t, uint64(1), after.Seq)
}

func TestEmitter_LogLevelFollowsVerbose(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := types.WithRunID(context.Background(), "r")

	NewEmitter(zap.New(core), false).Emit(ctx, EventAgentIteration, map[string]any{"agent": "writer", "iteration": 1})
	NewEmitter(zap.New(core), true).Emit(ctx, EventAgentIteration, nil)
	NewEmitter(zap.New(core), false).EmitVerbose(ctx, true, EventToolInvoked, nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "agent.iteration", entries[0].Message)
	assert.Equal(t, "writer", entries[0].ContextMap()["agent"])
	assert.Equal(t, "r", entries[0].ContextMap()["run_id"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[2].Level)
}

func TestEmitter_HandlerPanicIsContained(t *testing.T) {
	em := NewEmitter(nil, false)
	calls := 0
	em.Subscribe(func(Event) { panic("bad handler") })
	em.Subscribe(func(Event) { calls++ })

	assert.NotPanics(t, func() { em.Emit(context.Background(), EventFlowRouted, nil) })
	assert.Equal(t, 1, calls)
}
