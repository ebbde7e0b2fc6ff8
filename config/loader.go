// =============================================================================
// 📦 crewflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML / TOML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("crewflow.yaml").
//	    WithEnvPrefix("CREWFLOW").
//	    Load()
//
// 配置优先级: 默认值 → 配置文件 → 环境变量 → Validate
// =============================================================================
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/crewflow/engine"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 crewflow 的完整配置结构
type Config struct {
	// Engine 引擎选项，映射到 engine.Options
	Engine EngineConfig `yaml:"engine" toml:"engine" env:"ENGINE"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" toml:"llm" env:"LLM"`

	// Checkpoint flow 检查点存储
	Checkpoint CheckpointConfig `yaml:"checkpoint" toml:"checkpoint" env:"CHECKPOINT"`

	// Redis 配置（checkpoint.backend = redis 时使用）
	Redis RedisConfig `yaml:"redis" toml:"redis" env:"REDIS"`

	// Database 数据库配置（checkpoint.backend = sql 时使用）
	Database DatabaseConfig `yaml:"database" toml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" toml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry" env:"TELEMETRY"`
}

// EngineConfig 引擎配置
type EngineConfig struct {
	// 流程: sequential, hierarchical
	Process            string        `yaml:"process" toml:"process" env:"PROCESS"`
	Verbose            bool          `yaml:"verbose" toml:"verbose" env:"VERBOSE"`
	MaxIterations      int           `yaml:"max_iterations" toml:"max_iterations" env:"MAX_ITERATIONS"`
	MaxRetries         int           `yaml:"max_retries" toml:"max_retries" env:"MAX_RETRIES"`
	MaxDelegationDepth int           `yaml:"max_delegation_depth" toml:"max_delegation_depth" env:"MAX_DELEGATION_DEPTH"`
	MaxSteps           int           `yaml:"max_steps" toml:"max_steps" env:"MAX_STEPS"`
	LLMTimeout         time.Duration `yaml:"llm_timeout" toml:"llm_timeout" env:"LLM_TIMEOUT"`
	ToolTimeout        time.Duration `yaml:"tool_timeout" toml:"tool_timeout" env:"TOOL_TIMEOUT"`
	// 0 表示不限
	CrewTimeout time.Duration `yaml:"crew_timeout" toml:"crew_timeout" env:"CREW_TIMEOUT"`
	FlowTimeout time.Duration `yaml:"flow_timeout" toml:"flow_timeout" env:"FLOW_TIMEOUT"`
}

// Options 转换为 engine.Options
func (e EngineConfig) Options() engine.Options {
	return engine.Options{
		Process:            engine.Process(e.Process),
		Verbose:            e.Verbose,
		MaxIterations:      e.MaxIterations,
		MaxRetries:         e.MaxRetries,
		MaxDelegationDepth: e.MaxDelegationDepth,
		LLMTimeout:         e.LLMTimeout,
		ToolTimeout:        e.ToolTimeout,
		MaxSteps:           e.MaxSteps,
		CrewTimeout:        e.CrewTimeout,
		FlowTimeout:        e.FlowTimeout,
	}.WithDefaults()
}

// LLMConfig LLM 配置（OpenAI 兼容端点）
type LLMConfig struct {
	// Provider 名称，仅用于日志与指标
	Provider string `yaml:"provider" toml:"provider" env:"PROVIDER"`
	// API Key，本地服务可为空
	APIKey string `yaml:"api_key" toml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" toml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" toml:"max_retries" env:"MAX_RETRIES"`
	// 每分钟请求上限，0 表示不限
	MaxRPM      int     `yaml:"max_rpm" toml:"max_rpm" env:"MAX_RPM"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens" env:"MAX_TOKENS"`
	Temperature float64 `yaml:"temperature" toml:"temperature" env:"TEMPERATURE"`
}

// CheckpointConfig 检查点存储配置
type CheckpointConfig struct {
	// 后端: memory, redis, sql
	Backend string `yaml:"backend" toml:"backend" env:"BACKEND"`
	// Redis 键前缀
	Prefix string `yaml:"prefix" toml:"prefix" env:"PREFIX"`
	// Redis 记录过期时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" toml:"ttl" env:"TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" toml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" toml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" toml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" toml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" toml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 启用 TLS（TLS 1.2+，仅 AEAD 套件）
	TLS bool `yaml:"tls" toml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" toml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" toml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" toml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" toml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" toml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" toml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" toml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" toml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" toml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" toml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" toml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CREWFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径，按扩展名选择 YAML 或 TOML
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器，在 Validate 之后运行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 校验
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 或 TOML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(l.configPath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config file: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(l.configPath))
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
