package main

import (
	"flag"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent/declarative"
	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/providers/openaicompat"
)

// runValidate 加载并构建 crew，但不调用任何模型
func runValidate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	crewDir := fs.String("crew", "", "Directory with agents, tasks and optional crew file")
	process := fs.String("process", "", "Override the process: sequential or hierarchical")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *crewDir == "" {
		fmt.Fprintln(stderr, "validate: --crew is required")
		return errUsage
	}

	def, err := declarative.NewLoader(zap.NewNop()).LoadDir(*crewDir)
	if err != nil {
		return err
	}

	// 构建需要 engine，但校验过程不会发出请求
	client := llm.NewClient(openaicompat.New(openaicompat.Config{ProviderName: "validate"}, nil), llm.ClientConfig{})
	ec, err := engine.New(client)
	if err != nil {
		return err
	}
	var opts []declarative.BuildOption
	if *process != "" {
		opts = append(opts, declarative.WithProcess(engine.Process(*process)))
	}
	crew, err := def.BuildCrew("", ec, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "crew %q is valid: process=%s agents=%d tasks=%d\n",
		crew.Name(), crew.Process(), len(crew.Agents()), len(crew.Tasks()))
	return nil
}
