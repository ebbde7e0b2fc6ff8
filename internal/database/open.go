package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/types"
)

// Dialector 按驱动名选择 gorm 方言
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unsupported database driver %q, use postgres, mysql or sqlite", cfg.Driver)
	}
}

// Open 打开配置的数据库并返回带连接池的 PoolManager
func Open(cfg config.DatabaseConfig, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	d, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	return OpenWith(d, PoolConfigFrom(cfg), logger, append([]PoolOption{WithName(cfg.Driver)}, opts...)...)
}

// OpenWith 用给定方言打开数据库，测试中可传入基于 sqlmock 的方言
func OpenWith(d gorm.Dialector, pc PoolConfig, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(d, &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d.Name(), err)
	}
	return NewPoolManager(db, pc, logger, opts...)
}

// gorm 日志写入 zap，只记录慢查询与错误
func newGormLogger(logger *zap.Logger) gormlogger.Interface {
	std := zap.NewStdLog(logger.Named("gorm").WithOptions(zap.AddCallerSkip(2)))
	return gormlogger.New(std, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
