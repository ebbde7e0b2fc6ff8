package crews

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/BaSui01/crewflow/llm"
)

// ErrBlackboardEntryExists 表示任务输出已经写入过黑板，不能覆盖。
var ErrBlackboardEntryExists = errors.New("crews: blackboard entry already exists")

// Output is the validated result of one task.
type Output struct {
	TaskID string        `json:"task_id"`
	Raw    string        `json:"raw"`
	Value  any           `json:"value,omitempty"`
	Agent  string        `json:"agent"`
	Usage  llm.ChatUsage `json:"usage"`
}

// Text returns the human-readable form used in prompts: structured values
// pretty-printed, free text as is.
func (o Output) Text() string {
	if o.Value == nil {
		return o.Raw
	}
	return formatValue(o.Value)
}

// Blackboard is the ordered, append-only map of task outputs owned by one
// crew run.
type Blackboard struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Output
}

// NewBlackboard creates an empty blackboard.
func NewBlackboard() *Blackboard {
	return &Blackboard{entries: make(map[string]Output)}
}

// Put records out under out.TaskID.
func (b *Blackboard) Put(out Output) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[out.TaskID]; ok {
		return fmt.Errorf("%w: %q", ErrBlackboardEntryExists, out.TaskID)
	}
	b.entries[out.TaskID] = out
	b.order = append(b.order, out.TaskID)
	return nil
}

// Get returns the output of a task.
func (b *Blackboard) Get(taskID string) (Output, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out, ok := b.entries[taskID]
	return out, ok
}

// Has reports whether a task has produced output.
func (b *Blackboard) Has(taskID string) bool {
	_, ok := b.Get(taskID)
	return ok
}

// Previous returns the most recently written output.
func (b *Blackboard) Previous() (Output, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.order) == 0 {
		return Output{}, false
	}
	return b.entries[b.order[len(b.order)-1]], true
}

// Outputs returns all outputs in insertion order.
func (b *Blackboard) Outputs() []Output {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Output, len(b.order))
	for i, id := range b.order {
		out[i] = b.entries[id]
	}
	return out
}

// Keys returns the task ids in insertion order.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// Len returns the number of entries.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// formatValue 字符串原样输出，其余值输出缩进 JSON
func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
