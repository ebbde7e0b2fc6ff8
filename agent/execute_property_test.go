package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/schema"
	"github.com/BaSui01/crewflow/testutil/mocks"
	"github.com/BaSui01/crewflow/types"
)

// Feature: agent loop, Property: an execution makes at most MaxIterations+1
// LLM calls, and fails with AGENT_ITERATION_LIMIT only when the model keeps
// asking for tools after the cap.
func TestProperty_Execute_IterationBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxIter := rapid.IntRange(1, 6).Draw(rt, "maxIter")
		toolTurns := rapid.IntRange(0, 10).Draw(rt, "toolTurns")

		p := mocks.NewMockProvider().
			Then(mocks.Repeat(toolTurns, mocks.ToolCalls(mocks.Call("noop", nil)))...).
			ThenText("answer")

		reg := tools.NewRegistry()
		reg.MustRegister(tools.New("noop", "does nothing", schema.Object(), func(context.Context, map[string]any) (any, error) {
			return "ok", nil
		}))
		ec, err := engine.New(llm.NewClient(p, llm.ClientConfig{Model: "m"}),
			engine.WithTools(reg),
			engine.WithOptions(engine.Options{MaxIterations: maxIter}),
		)
		require.NoError(t, err)

		out, err := MustNew(Config{Role: "r", Tools: []string{"noop"}}).
			Execute(context.Background(), ec, ExecuteRequest{Description: "x"})

		assert.LessOrEqual(t, p.CallCount(), maxIter+1)
		switch {
		case toolTurns < maxIter:
			require.NoError(t, err)
			assert.Equal(t, toolTurns+1, p.CallCount())
			assert.Equal(t, toolTurns, out.ToolCalls)
		case toolTurns == maxIter:
			require.NoError(t, err)
			assert.Equal(t, "answer", out.Raw)
			assert.Equal(t, maxIter+1, p.CallCount())
		default:
			assert.Equal(t, types.ErrAgentIterationLimit, types.GetErrorCode(err))
			assert.Equal(t, maxIter+1, p.CallCount())
		}
	})
}
