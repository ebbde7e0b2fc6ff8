package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/crewflow/types"
)

// Checkpoint backends.
const (
	CheckpointMemory = "memory"
	CheckpointRedis  = "redis"
	CheckpointSQL    = "sql"
)

// Validate 验证配置，所有问题合并为一个 INVALID_CONFIG 错误
func (c *Config) Validate() error {
	var errs []string

	if err := c.Engine.Options().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Engine.MaxIterations < 0 || c.Engine.MaxSteps < 0 || c.Engine.MaxDelegationDepth < 0 {
		errs = append(errs, "engine limits must not be negative")
	}

	if c.LLM.BaseURL == "" {
		errs = append(errs, "llm.base_url is required")
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, "llm.max_retries must not be negative")
	}
	if c.LLM.MaxRPM < 0 {
		errs = append(errs, "llm.max_rpm must not be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}

	switch c.Checkpoint.Backend {
	case CheckpointMemory:
	case CheckpointRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis checkpoint backend")
		}
	case CheckpointSQL:
		if c.Database.DSN() == "" {
			errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown checkpoint backend %q, use memory, redis or sql", c.Checkpoint.Backend))
	}
	if c.Checkpoint.TTL < 0 {
		errs = append(errs, "checkpoint.ttl must not be negative")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format %q", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return types.Errorf(types.ErrInvalidConfig, "config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
