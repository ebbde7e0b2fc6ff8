package metrics

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/testutil/mocks"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector, reg := newTestCollector(t)

	assert.NotNil(t, collector.llmRequestsTotal)
	assert.NotNil(t, collector.toolInvocationsTotal)
	assert.NotNil(t, collector.runsTotal)

	// 同一 registry 重复注册会 panic
	assert.Panics(t, func() { NewCollector("test", reg, nil) })
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordLLMRequest("openai", "gpt-4o", "success", 500*time.Millisecond, 100, 50)
	collector.RecordLLMRequest("openai", "gpt-4o", "LLM_TRANSIENT", time.Second, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4o", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4o", "LLM_TRANSIENT")))
	assert.Equal(t, 100.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")))
	assert.Equal(t, 50.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4o", "completion")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.llmRequestDuration))
}

func TestCollector_RecordToolInvocation(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordToolInvocation("search", "success", 20*time.Millisecond)
	collector.RecordToolInvocation("search", "timeout", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.toolInvocationsTotal.WithLabelValues("search", "timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.toolInvocationsTotal))
}

func TestCollector_EngineMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordAgentIteration("Writer")
	collector.RecordAgentIteration("Writer")
	collector.RecordTaskExecution("draft", "Writer", "succeeded", time.Second)
	collector.RecordRun("flow", "failed", time.Minute)
	collector.RecordFlowStep("self_eval", "write", "succeeded", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.agentIterationsTotal.WithLabelValues("Writer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.taskExecutionsTotal.WithLabelValues("draft", "Writer", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runsTotal.WithLabelValues("flow", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.flowStepsTotal.WithLabelValues("self_eval", "write", "succeeded")))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordDBConnections("sqlite", 10, 5)
	collector.RecordDBConnections("sqlite", 4, 3)

	assert.Equal(t, 4.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("sqlite")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("sqlite")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordLLMRequest("openai", "gpt-4o", "success", 500*time.Millisecond, 100, 50)
			collector.RecordToolInvocation("search", "success", time.Millisecond)
			collector.RecordAgentIteration("Writer")
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4o", "success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.toolInvocationsTotal.WithLabelValues("search", "success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.agentIterationsTotal.WithLabelValues("Writer")))
}

func TestCollector_Handler(t *testing.T) {
	collector, _ := newTestCollector(t)
	collector.RecordRun("crew", "succeeded", time.Second)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_runs_total{kind="crew",status="succeeded"} 1`)
}

// 一次完整的 crew 运行经过 llm、tools 与 engine 三个记录点
func TestCollector_WiredThroughEngine(t *testing.T) {
	collector, _ := newTestCollector(t)

	type echoArgs struct {
		Text string `json:"text"`
	}
	reg := tools.NewRegistry(tools.WithRecorder(collector))
	reg.MustRegister(tools.Func("echo", "echoes text", func(_ context.Context, a echoArgs) (string, error) {
		return a.Text, nil
	}))

	p := mocks.NewMockProvider().
		ThenToolCall("echo", map[string]any{"text": "hi"}).
		ThenText("done")
	client := llm.NewClient(p, llm.ClientConfig{Model: "test-model"}, llm.WithRecorder(collector))
	ec, err := engine.New(client, engine.WithTools(reg), engine.WithMetrics(collector))
	require.NoError(t, err)

	writer := agent.MustNew(agent.Config{Role: "Writer", Tools: []string{"echo"}})
	crew, err := crews.NewCrewBuilder("metrics", ec).
		AddTask(&crews.Task{ID: "draft", Description: "Say hi", Agent: writer}).
		Build()
	require.NoError(t, err)

	_, err = crew.Kickoff(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("mock", "test-model", "success")))
	assert.Greater(t, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("mock", "test-model", "prompt")), 0.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.toolInvocationsTotal.WithLabelValues("echo", "success")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(collector.agentIterationsTotal.WithLabelValues("Writer")), 1.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.taskExecutionsTotal.WithLabelValues("draft", "Writer", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runsTotal.WithLabelValues("crew", "succeeded")))
}
