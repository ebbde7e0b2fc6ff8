package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrCheckpointNotFound is returned by stores when no record exists for
// a run id.
var ErrCheckpointNotFound = errors.New("workflow: checkpoint not found")

// RunStatus is the lifecycle state of a flow run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further step will run.
func (s RunStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Completion records one completed step.
type Completion struct {
	Name        string          `json:"name"`
	ReturnValue json.RawMessage `json:"return_value"`
	Timestamp   time.Time       `json:"timestamp"`
}

// StepFailure records a step error that was routed to its failure label.
type StepFailure struct {
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Cursor is the scheduler position: the pending queue, labels fired but
// not yet consumed, and the number of steps executed so far.
type Cursor struct {
	Pending []string `json:"pending"`
	Labels  []string `json:"labels,omitempty"`
	Steps   int      `json:"steps"`
}

// Checkpoint is the persisted record of a flow run, written after every
// step and at termination.
type Checkpoint struct {
	FlowID         string         `json:"flow_id"`
	RunID          string         `json:"run_id"`
	State          map[string]any `json:"state"`
	CompletedSteps []Completion   `json:"completed_steps"`
	Status         RunStatus      `json:"status"`
	Cursor         Cursor         `json:"cursor"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Failures       []StepFailure  `json:"failures,omitempty"`
	Error          string         `json:"error,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a deep copy through a JSON round trip.
func (c *Checkpoint) Clone() (*Checkpoint, error) {
	data, err := c.marshal()
	if err != nil {
		return nil, err
	}
	return decodeCheckpoint(data)
}

func (c *Checkpoint) marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}

// CheckpointStore persists flow checkpoints keyed by run id.
type CheckpointStore interface {
	// Save inserts or replaces the record of cp.RunID.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load returns ErrCheckpointNotFound when runID is unknown.
	Load(ctx context.Context, runID string) (*Checkpoint, error)

	// List returns the runs of one flow, most recently updated first.
	List(ctx context.Context, flowID string) ([]*Checkpoint, error)

	Delete(ctx context.Context, runID string) error
}

// ====== 内存实现 ======

// MemoryCheckpointStore keeps checkpoints in process memory. Records are
// copied on the way in and out, so callers never share them.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	flows   map[string]string // run_id -> flow_id
	updated map[string]time.Time
}

// NewMemoryCheckpointStore creates an empty store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		records: make(map[string][]byte),
		flows:   make(map[string]string),
		updated: make(map[string]time.Time),
	}
}

func (s *MemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	data, err := cp.marshal()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[cp.RunID] = data
	s.flows[cp.RunID] = cp.FlowID
	s.updated[cp.RunID] = cp.UpdatedAt
	return nil
}

func (s *MemoryCheckpointStore) Load(_ context.Context, runID string) (*Checkpoint, error) {
	s.mu.RLock()
	data, ok := s.records[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, runID)
	}
	return decodeCheckpoint(data)
}

func (s *MemoryCheckpointStore) List(ctx context.Context, flowID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	var ids []string
	for runID, fid := range s.flows {
		if fid == flowID {
			ids = append(ids, runID)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := s.updated[ids[i]], s.updated[ids[j]]
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.After(tj)
	})
	s.mu.RUnlock()

	out := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryCheckpointStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, runID)
	delete(s.flows, runID)
	delete(s.updated, runID)
	return nil
}

func decodeCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
