package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/workflow"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.DefaultRedisConfig()
	cfg.Addr = mr.Addr()

	m, err := NewManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestOptions(t *testing.T) {
	cfg := config.RedisConfig{Addr: "redis.internal:6380", DB: 2, PoolSize: 7}
	opts := Options(cfg)
	assert.Equal(t, "redis.internal:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Nil(t, opts.TLSConfig)

	cfg.TLS = true
	opts = Options(cfg)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "redis.internal", opts.TLSConfig.ServerName)
}

func TestNewManager(t *testing.T) {
	_, m := setupTestRedis(t)
	assert.NoError(t, m.Ping(context.Background()))
	assert.NotNil(t, m.Stats())
}

func TestNewManager_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewManager(ctx, config.RedisConfig{Addr: addr}, nil)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestManager_Close(t *testing.T) {
	_, m := setupTestRedis(t)
	require.NoError(t, m.Close())
	assert.NoError(t, m.Close())
	assert.Error(t, m.Ping(context.Background()))
}

func TestManager_BacksCheckpointStore(t *testing.T) {
	mr, m := setupTestRedis(t)
	store := workflow.NewRedisCheckpointStore(m.Client(), workflow.WithRedisPrefix("test:flow"))

	cp := &workflow.Checkpoint{
		RunID:     "run-1",
		FlowID:    "flow-1",
		Status:    workflow.StatusRunning,
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(context.Background(), cp))
	assert.True(t, mr.Exists("test:flow:run-1"))

	got, err := store.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "flow-1", got.FlowID)
}
