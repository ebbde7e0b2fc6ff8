package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/agent/declarative"
	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/internal/server"
)

// inputFlags 收集重复的 --input key=value
type inputFlags map[string]any

func (f inputFlags) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (f inputFlags) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	f[key] = value
	return nil
}

// runOptions 是 run 子命令解析后的参数
type runOptions struct {
	configPath  string
	crewDir     string
	inputsFile  string
	process     string
	output      string
	metricsAddr string
	inputs      inputFlags
}

func parseRunFlags(args []string, stderr io.Writer) (*runOptions, error) {
	o := &runOptions{inputs: inputFlags{}}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Configuration file")
	fs.StringVar(&o.crewDir, "crew", "", "Directory with agents, tasks and optional crew file")
	fs.Var(o.inputs, "input", "Crew input key=value, repeatable")
	fs.StringVar(&o.inputsFile, "inputs", "", "JSON or YAML file with crew inputs")
	fs.StringVar(&o.process, "process", "", "Override the process: sequential or hierarchical")
	fs.StringVar(&o.output, "output", "text", "Output format: text or json")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address while running")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}

	if o.crewDir == "" {
		fmt.Fprintln(stderr, "run: --crew is required")
		return nil, errUsage
	}
	switch o.output {
	case "text", "json":
	default:
		fmt.Fprintf(stderr, "run: unknown output format %q\n", o.output)
		return nil, errUsage
	}
	switch engine.Process(o.process) {
	case "", engine.ProcessSequential, engine.ProcessHierarchical:
	default:
		fmt.Fprintf(stderr, "run: unknown process %q\n", o.process)
		return nil, errUsage
	}
	return o, nil
}

// loadInputs 合并 --inputs 文件与 --input 参数，命令行参数优先
func (o *runOptions) loadInputs() (map[string]any, error) {
	inputs := map[string]any{}
	if o.inputsFile != "" {
		data, err := os.ReadFile(o.inputsFile)
		if err != nil {
			return nil, fmt.Errorf("read inputs: %w", err)
		}
		// YAML 是 JSON 的超集，一个解码器覆盖两种格式
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("parse inputs %s: %w", o.inputsFile, err)
		}
	}
	for k, v := range o.inputs {
		inputs[k] = v
	}
	return inputs, nil
}

// =============================================================================
// ▶️ run 子命令
// =============================================================================

func runCrewCommand(args []string, stdout, stderr io.Writer) error {
	o, err := parseRunFlags(args, stderr)
	if err != nil {
		return err
	}
	inputs, err := o.loadInputs()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, o.configPath)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			fmt.Fprintf(stderr, "Warning: %v\n", err)
		}
	}()

	out, err := a.runCrew(ctx, o, inputs)
	if err != nil {
		return err
	}
	return writeCrewOutput(stdout, out, o.output)
}

// runCrew 加载定义、组装 crew 并执行
func (a *app) runCrew(ctx context.Context, o *runOptions, inputs map[string]any) (*crews.CrewOutput, error) {
	def, err := declarative.NewLoader(a.logger).LoadDir(o.crewDir)
	if err != nil {
		return nil, err
	}

	ec, err := a.newEngine(a.newProvider())
	if err != nil {
		return nil, err
	}

	opts := []declarative.BuildOption{declarative.WithLogger(a.logger)}
	if o.process != "" {
		opts = append(opts, declarative.WithProcess(engine.Process(o.process)))
	}
	crew, err := def.BuildCrew("", ec, opts...)
	if err != nil {
		return nil, err
	}

	if o.metricsAddr != "" {
		stopOps, err := a.startOpsServer(o.metricsAddr)
		if err != nil {
			return nil, err
		}
		defer stopOps()
	}

	a.logger.Info("kicking off crew",
		zap.String("crew", crew.Name()),
		zap.Int("inputs", len(inputs)),
	)
	return crew.Kickoff(ctx, inputs)
}

// startOpsServer 在运行期间暴露 /metrics 与 /healthz
func (a *app) startOpsServer(addr string) (func(), error) {
	cfg := server.DefaultConfig()
	cfg.Addr = addr
	ready := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return a.Ready(ctx)
	}
	m := server.NewManager(server.NewOpsMux(a.collector.Handler(), ready), cfg, a.logger)
	if err := m.Start(); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}, nil
}

func writeCrewOutput(w io.Writer, out *crews.CrewOutput, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, t := range out.TasksOutput {
		fmt.Fprintf(w, "## %s (%s)\n\n%s\n\n", t.TaskID, t.Agent, t.Text())
	}
	fmt.Fprintln(w, "## Final output")
	fmt.Fprintln(w)
	fmt.Fprintln(w, out.Raw)
	fmt.Fprintf(w, "\nrun_id=%s tokens=%d\n", out.RunID, out.Usage.TotalTokens)
	return nil
}
