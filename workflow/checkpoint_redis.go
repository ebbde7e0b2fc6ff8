package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix is the key prefix of RedisCheckpointStore.
const DefaultRedisPrefix = "crewflow:flow"

// ====== Redis 实现 ======

// RedisCheckpointStore stores one JSON record per run under
// "<prefix>:<run_id>" and indexes the runs of a flow in a sorted set
// "<prefix>:index:<flow_id>" scored by update time.
type RedisCheckpointStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// RedisStoreOption configures a RedisCheckpointStore.
type RedisStoreOption func(*RedisCheckpointStore)

// WithRedisPrefix overrides DefaultRedisPrefix.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCheckpointStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisTTL expires records ttl after their last save. Zero keeps them.
func WithRedisTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisCheckpointStore) { s.ttl = ttl }
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger *zap.Logger) RedisStoreOption {
	return func(s *RedisCheckpointStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisCheckpointStore 创建 Redis 检查点存储
func NewRedisCheckpointStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisCheckpointStore {
	s := &RedisCheckpointStore{client: client, prefix: DefaultRedisPrefix, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("store", "redis_checkpoint"))
	return s
}

// Save 保存检查点，记录与索引在同一事务中写入
func (s *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := cp.marshal()
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(cp.RunID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(cp.FlowID), redis.Z{
		Score:  float64(cp.UpdatedAt.UnixMilli()),
		Member: cp.RunID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.RunID, err)
	}

	s.logger.Debug("checkpoint saved to redis",
		zap.String("run_id", cp.RunID),
		zap.String("flow_id", cp.FlowID),
		zap.String("status", string(cp.Status)),
	)
	return nil
}

// Load 加载检查点
func (s *RedisCheckpointStore) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	return decodeCheckpoint(data)
}

// List 按更新时间倒序列出 flow 的运行，已过期的记录从索引中清除
func (s *RedisCheckpointStore) List(ctx context.Context, flowID string) ([]*Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(flowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints of %s: %w", flowID, err)
	}

	out := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if errors.Is(err, ErrCheckpointNotFound) {
			s.client.ZRem(ctx, s.indexKey(flowID), id)
			continue
		}
		if err != nil {
			s.logger.Warn("failed to load checkpoint", zap.String("run_id", id), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete 删除检查点及其索引项
func (s *RedisCheckpointStore) Delete(ctx context.Context, runID string) error {
	cp, err := s.Load(ctx, runID)
	if errors.Is(err, ErrCheckpointNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.runKey(runID))
	pipe.ZRem(ctx, s.indexKey(cp.FlowID), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", runID, err)
	}
	return nil
}

func (s *RedisCheckpointStore) runKey(runID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, runID)
}

func (s *RedisCheckpointStore) indexKey(flowID string) string {
	return fmt.Sprintf("%s:index:%s", s.prefix, flowID)
}
