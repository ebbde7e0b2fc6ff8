package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// migrateArgs 描述每个子命令需要的位置参数个数
var migrateArgs = map[string]int{
	"up":      0,
	"down":    0,
	"status":  0,
	"version": 0,
	"info":    0,
	"steps":   1,
	"goto":    1,
	"force":   1,
}

// runMigrate 处理 migrate 及其子命令
func runMigrate(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printMigrateUsage(stderr)
		return errUsage
	}
	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage(stdout)
		return nil
	}
	want, ok := migrateArgs[sub]
	if !ok {
		fmt.Fprintf(stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage(stderr)
		return errUsage
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := parseFlags(fs, args[1:]); err != nil {
		return err
	}
	if fs.NArg() != want {
		fmt.Fprintf(stderr, "migrate %s: expected %d argument(s), got %d\n", sub, want, fs.NArg())
		return errUsage
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator, stdout)
	ctx := context.Background()

	switch sub {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		return cli.RunDown(ctx)
	case "status":
		return cli.RunStatus(ctx)
	case "version":
		return cli.RunVersion(ctx)
	case "info":
		return cli.RunInfo(ctx)
	case "steps":
		n, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("invalid step count %q: %w", fs.Arg(0), err)
		}
		return cli.RunSteps(ctx, n)
	case "goto":
		v, err := strconv.ParseUint(fs.Arg(0), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", fs.Arg(0), err)
		}
		return cli.RunGoto(ctx, uint(v))
	default: // force
		v, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", fs.Arg(0), err)
		}
		return cli.RunForce(ctx, v)
	}
}

// createMigrator 优先使用 --db-type 与 --db-url，否则读取配置文件
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, zap.NewNop())
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprint(w, `Database Migration Commands

Usage:
  crewflow migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  steps <n>   Apply n migrations, or roll back when n is negative
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  status      Show migration status
  version     Show current migration version
  info        Show a migration summary
  help        Show this help message

Options:
  --config <path>     Path to configuration file (.yaml, .yml or .toml)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  crewflow migrate up --config crewflow.yaml
  crewflow migrate status --db-type sqlite --db-url "file:crewflow.db?mode=rwc"
  crewflow migrate goto 1
  crewflow migrate force 0
`)
}
