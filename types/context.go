package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID         contextKey = "trace_id"
	keyRunID           contextKey = "run_id"
	keyFlowID          contextKey = "flow_id"
	keyTaskID          contextKey = "task_id"
	keyAgentRole       contextKey = "agent_role"
	keyDelegationDepth contextKey = "delegation_depth"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRunID adds the flow-run (or standalone crew-run) ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithFlowID adds flow ID to context.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	return context.WithValue(ctx, keyFlowID, flowID)
}

// FlowID extracts flow ID from context.
func FlowID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyFlowID).(string)
	return v, ok && v != ""
}

// WithTaskID adds the currently executing task ID to context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, keyTaskID, taskID)
}

// TaskID extracts task ID from context.
func TaskID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTaskID).(string)
	return v, ok && v != ""
}

// WithAgentRole adds the acting agent's role to context.
func WithAgentRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, keyAgentRole, role)
}

// AgentRole extracts agent role from context.
func AgentRole(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAgentRole).(string)
	return v, ok && v != ""
}

// WithDelegationDepth records how many delegation hops led to the current agent.
func WithDelegationDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, keyDelegationDepth, depth)
}

// DelegationDepth returns the current delegation depth (0 at the top level).
func DelegationDepth(ctx context.Context) int {
	v, _ := ctx.Value(keyDelegationDepth).(int)
	return v
}
