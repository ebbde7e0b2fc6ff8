// =============================================================================
// crewflow 命令行入口
// =============================================================================
// 使用方法:
//
//	crewflow run --crew ./crew --input topic=agents    # 运行声明式 crew
//	crewflow validate --crew ./crew                     # 只校验定义
//	crewflow checkpoints list --flow research           # 查看 flow 检查点
//	crewflow migrate up                                 # 创建 flow_checkpoints 表
//	crewflow version
// =============================================================================

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// exitCode 把错误映射为退出码，用法错误为 2
type exitCode int

const (
	exitOK exitCode = iota
	exitFailure
	exitUsage
)

var errUsage = errors.New("usage")

func main() {
	// .env 可选，不存在时静默忽略
	_ = godotenv.Load()
	os.Exit(int(run(os.Args[1:], os.Stdout, os.Stderr)))
}

func run(args []string, stdout, stderr io.Writer) exitCode {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	var err error
	switch args[0] {
	case "run":
		err = runCrewCommand(args[1:], stdout, stderr)
	case "validate":
		err = runValidate(args[1:], stdout, stderr)
	case "checkpoints":
		err = runCheckpoints(args[1:], stdout, stderr)
	case "migrate":
		err = runMigrate(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitUsage
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return exitUsage
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "crewflow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `crewflow - multi-agent crews and event-driven flows

Usage:
  crewflow <command> [options]

Commands:
  run           Run a declarative crew (agents.yaml + tasks.yaml)
  validate      Load and validate a declarative crew without running it
  checkpoints   List, show or delete flow checkpoints
  migrate       Database migration commands
  version       Show version information
  help          Show this help message

Options for 'run':
  --config <path>        Configuration file (.yaml, .yml or .toml)
  --crew <dir>           Directory with agents, tasks and optional crew file
  --input key=value      Crew input, repeatable
  --inputs <path>        JSON or YAML file with crew inputs
  --process <name>       Override the process: sequential or hierarchical
  --output <format>      text or json (default text)
  --metrics-addr <addr>  Serve /metrics and /healthz while running

Examples:
  crewflow run --crew ./examples/research --input topic="AI agents"
  crewflow checkpoints list --flow research --config crewflow.yaml
  crewflow migrate up --config crewflow.yaml
`)
}

// parseFlags 解析参数，解析失败视为用法错误
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}
