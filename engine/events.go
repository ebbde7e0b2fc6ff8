// Copyright (c) crewflow Authors.
// Licensed under the MIT License.

package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/crewflow/types"
)

// EventType 事件类型
type EventType string

const (
	EventCrewStarted       EventType = "crew.started"
	EventCrewCompleted     EventType = "crew.completed"
	EventTaskStarted       EventType = "task.started"
	EventTaskCompleted     EventType = "task.completed"
	EventToolInvoked       EventType = "tool.invoked"
	EventToolFailed        EventType = "tool.failed"
	EventAgentIteration    EventType = "agent.iteration"
	EventFlowStarted       EventType = "flow.started"
	EventFlowStepCompleted EventType = "flow.step.completed"
	EventFlowRouted        EventType = "flow.routed"
	EventFlowCompleted     EventType = "flow.completed"
)

// Event is a structured progress record. Seq is monotonic per RunID.
type Event struct {
	Type   EventType      `json:"type"`
	RunID  string         `json:"run_id"`
	Seq    uint64         `json:"seq"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Handler receives events synchronously on the emitting goroutine.
type Handler func(Event)

// Emitter logs events through zap and fans them out to subscribers.
//
// Events are logged at debug level, or info when verbose. Handlers run
// synchronously in subscription order, so a handler must not block.
type Emitter struct {
	logger  *zap.Logger
	verbose bool

	mu     sync.RWMutex
	subs   map[int]Handler
	nextID int

	seqs sync.Map // run_id -> *atomic.Uint64
}

// NewEmitter creates an emitter. A nil logger discards log output.
func NewEmitter(logger *zap.Logger, verbose bool) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		logger:  logger.With(zap.String("component", "events")),
		verbose: verbose,
		subs:    make(map[int]Handler),
	}
}

// Subscribe registers h and returns a function that removes it.
func (e *Emitter) Subscribe(h Handler) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = h
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit records an event for the run carried by ctx.
func (e *Emitter) Emit(ctx context.Context, typ EventType, fields map[string]any) {
	e.emit(ctx, e.verbose, typ, fields)
}

// EmitVerbose is Emit with an extra verbosity switch, used for agents
// configured with Verbose.
func (e *Emitter) EmitVerbose(ctx context.Context, verbose bool, typ EventType, fields map[string]any) {
	e.emit(ctx, e.verbose || verbose, typ, fields)
}

func (e *Emitter) emit(ctx context.Context, verbose bool, typ EventType, fields map[string]any) {
	if e == nil {
		return
	}
	runID, _ := types.RunID(ctx)
	ev := Event{
		Type:   typ,
		RunID:  runID,
		Seq:    e.next(runID),
		Time:   time.Now(),
		Fields: fields,
	}

	level := zapcore.DebugLevel
	if verbose {
		level = zapcore.InfoLevel
	}
	if ce := e.logger.Check(level, string(typ)); ce != nil {
		ce.Write(ev.zapFields()...)
	}

	e.mu.RLock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, e.subs[id])
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		e.dispatch(h, ev)
	}
}

func (e *Emitter) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", zap.Any("recover", r), zap.String("event", string(ev.Type)))
		}
	}()
	h(ev)
}

func (e *Emitter) next(runID string) uint64 {
	v, _ := e.seqs.LoadOrStore(runID, new(atomic.Uint64))
	return v.(*atomic.Uint64).Add(1)
}

// Forget drops the sequence counter of a finished run.
func (e *Emitter) Forget(runID string) {
	if e != nil {
		e.seqs.Delete(runID)
	}
}

func (ev Event) zapFields() []zap.Field {
	out := make([]zap.Field, 0, len(ev.Fields)+2)
	out = append(out, zap.String("run_id", ev.RunID), zap.Uint64("seq", ev.Seq))
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, zap.Any(k, ev.Fields[k]))
	}
	return out
}
