package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/internal/cache"
	"github.com/BaSui01/crewflow/internal/database"
	"github.com/BaSui01/crewflow/internal/metrics"
	"github.com/BaSui01/crewflow/internal/telemetry"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/providers/openaicompat"
	"github.com/BaSui01/crewflow/llm/retry"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/workflow"
)

// =============================================================================
// 🧩 命令共享的运行时装配
// =============================================================================

// app 持有一次命令执行所需的配置、日志、指标与待释放资源
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	closers   []func(context.Context) error

	// ready 供 /healthz 检查外部依赖
	ready []func(context.Context) error
}

// newApp 加载配置并初始化日志与遥测
func newApp(ctx context.Context, configPath string) (*app, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newAppFromConfig(ctx, cfg)
}

func newAppFromConfig(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		collector: metrics.NewCollector(metrics.DefaultNamespace, reg, logger),
	}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		// 遥测失败不阻断运行
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		a.closers = append(a.closers, providers.Shutdown)
	}
	return a, nil
}

// Close 逆序释放资源
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// Ready 依次检查外部依赖
func (a *app) Ready(ctx context.Context) error {
	for _, check := range a.ready {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// 🤖 LLM 与引擎
// =============================================================================

// newProvider 按 llm 配置创建 OpenAI 兼容 provider
func (a *app) newProvider() llm.Provider {
	c := a.cfg.LLM
	return openaicompat.New(openaicompat.Config{
		ProviderName: c.Provider,
		APIKey:       c.APIKey,
		BaseURL:      c.BaseURL,
		DefaultModel: c.Model,
		Timeout:      c.Timeout,
	}, a.logger)
}

// newEngine 组装 engine.Context：LLM client、工具注册表与指标都接入同一 collector
func (a *app) newEngine(p llm.Provider, ts ...tools.Tool) (*engine.Context, error) {
	c := a.cfg.LLM
	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = c.MaxRetries

	client := llm.NewClient(p, llm.ClientConfig{
		Model:       c.Model,
		Timeout:     a.cfg.Engine.LLMTimeout,
		Retry:       policy,
		MaxRPM:      c.MaxRPM,
		MaxTokens:   c.MaxTokens,
		Temperature: float32(c.Temperature),
	}, llm.WithLogger(a.logger), llm.WithRecorder(a.collector))

	reg := tools.NewRegistry(
		tools.WithLogger(a.logger),
		tools.WithRecorder(a.collector),
		tools.WithDefaultTimeout(a.cfg.Engine.ToolTimeout),
	)
	for _, t := range ts {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}

	return engine.New(client,
		engine.WithLogger(a.logger),
		engine.WithTools(reg),
		engine.WithMetrics(a.collector),
		engine.WithOptions(a.cfg.Engine.Options()),
	)
}

// =============================================================================
// 💾 检查点存储
// =============================================================================

// checkpointStore 按 checkpoint.backend 打开存储，连接在 Close 时释放
func (a *app) checkpointStore(ctx context.Context) (workflow.CheckpointStore, error) {
	switch a.cfg.Checkpoint.Backend {
	case config.CheckpointMemory:
		return workflow.NewMemoryCheckpointStore(), nil

	case config.CheckpointRedis:
		m, err := cache.NewManager(ctx, a.cfg.Redis, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return m.Close() })
		a.ready = append(a.ready, m.Ping)
		return workflow.NewRedisCheckpointStore(m.Client(),
			workflow.WithRedisPrefix(a.cfg.Checkpoint.Prefix),
			workflow.WithRedisTTL(a.cfg.Checkpoint.TTL),
			workflow.WithRedisLogger(a.logger),
		), nil

	case config.CheckpointSQL:
		pm, err := database.Open(a.cfg.Database, a.logger, database.WithStatsRecorder(a.collector))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return pm.Close() })
		a.ready = append(a.ready, pm.Ping)
		return workflow.NewSQLCheckpointStore(pm.DB(), a.logger), nil

	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", a.cfg.Checkpoint.Backend)
	}
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// newLogger 按日志配置构建 zap logger；console 格式使用开发模式编码
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.With(zap.String("service", "crewflow")), nil
}
