package crews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/crewflow/types"
)

// TrainingRecord is one training iteration: the final output of a run.
type TrainingRecord struct {
	Crew      string         `json:"crew"`
	Iteration int            `json:"iteration"`
	RunID     string         `json:"run_id"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Raw       string         `json:"raw"`
	Value     any            `json:"value,omitempty"`
	Tasks     []Output       `json:"tasks"`
	Time      time.Time      `json:"time"`
}

// TrainingLog appends training records as JSON lines.
type TrainingLog struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewTrainingLog writes records to w.
func NewTrainingLog(w io.Writer) *TrainingLog {
	return &TrainingLog{enc: json.NewEncoder(w)}
}

// Append writes one record.
func (l *TrainingLog) Append(rec TrainingRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(rec)
}

// ReadTrainingLog decodes every record from r.
func ReadTrainingLog(r io.Reader) ([]TrainingRecord, error) {
	dec := json.NewDecoder(r)
	var out []TrainingRecord
	for {
		var rec TrainingRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, rec)
	}
}

// TrainOption configures Train.
type TrainOption func(*trainConfig)

type trainConfig struct {
	log *TrainingLog
}

// WithTrainingLog appends every record to log.
func WithTrainingLog(log *TrainingLog) TrainOption {
	return func(c *trainConfig) { c.log = log }
}

// Train runs the crew n times with the same inputs and records each final
// output. No model is updated; the records are the artifact. On failure the
// records of the completed iterations are returned with the error.
func (c *Crew) Train(ctx context.Context, n int, inputs map[string]any, opts ...TrainOption) ([]TrainingRecord, error) {
	if n <= 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "crew %q: training iterations must be > 0, got %d", c.name, n)
	}
	var cfg trainConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	records := make([]TrainingRecord, 0, n)
	for i := 1; i <= n; i++ {
		out, err := c.Kickoff(ctx, inputs)
		if err != nil {
			return records, err
		}
		rec := TrainingRecord{
			Crew:      c.name,
			Iteration: i,
			RunID:     out.RunID,
			Inputs:    inputs,
			Raw:       out.Raw,
			Value:     out.Value,
			Tasks:     out.TasksOutput,
			Time:      time.Now().UTC(),
		}
		if cfg.log != nil {
			if err := cfg.log.Append(rec); err != nil {
				return records, fmt.Errorf("write training log: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// KickoffForEach runs one independent crew run per input, at most
// concurrency at a time (0 means unbounded), and returns the outputs in
// input order. The first failure cancels the remaining runs.
func (c *Crew) KickoffForEach(ctx context.Context, inputs []map[string]any, concurrency int) ([]*CrewOutput, error) {
	outputs := make([]*CrewOutput, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, in := range inputs {
		g.Go(func() error {
			out, err := c.Kickoff(gctx, in)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}
