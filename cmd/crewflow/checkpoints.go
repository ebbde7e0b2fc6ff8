package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/BaSui01/crewflow/workflow"
)

// runCheckpoints 查看或删除 flow 检查点
//
//	crewflow checkpoints list --flow <id>
//	crewflow checkpoints show <run-id>
//	crewflow checkpoints delete <run-id>
func runCheckpoints(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printCheckpointsUsage(stderr)
		return errUsage
	}
	sub := args[0]

	fs := flag.NewFlagSet("checkpoints "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Configuration file")
	flowID := fs.String("flow", "", "Flow id (list)")
	if err := parseFlags(fs, args[1:]); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	store, err := a.checkpointStore(ctx)
	if err != nil {
		return err
	}

	switch sub {
	case "list":
		if *flowID == "" {
			fmt.Fprintln(stderr, "checkpoints list: --flow is required")
			return errUsage
		}
		cps, err := store.List(ctx, *flowID)
		if err != nil {
			return err
		}
		return printCheckpointList(stdout, cps)

	case "show", "delete":
		if fs.NArg() != 1 {
			fmt.Fprintf(stderr, "checkpoints %s: exactly one run id is required\n", sub)
			return errUsage
		}
		runID := fs.Arg(0)
		if sub == "delete" {
			if err := store.Delete(ctx, runID); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "deleted checkpoint %s\n", runID)
			return nil
		}
		cp, err := store.Load(ctx, runID)
		if errors.Is(err, workflow.ErrCheckpointNotFound) {
			return fmt.Errorf("no checkpoint for run %s", runID)
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cp)

	default:
		fmt.Fprintf(stderr, "Unknown checkpoints command: %s\n", sub)
		printCheckpointsUsage(stderr)
		return errUsage
	}
}

func printCheckpointList(w io.Writer, cps []*workflow.Checkpoint) error {
	if len(cps) == 0 {
		fmt.Fprintln(w, "No checkpoints found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTATUS\tSTEPS\tPENDING\tUPDATED")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			cp.RunID, cp.Status, len(cp.CompletedSteps), len(cp.Cursor.Pending),
			cp.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printCheckpointsUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: crewflow checkpoints <command> [options]

Commands:
  list --flow <id>     List checkpoints of a flow, newest first
  show <run-id>        Print one checkpoint as JSON
  delete <run-id>      Delete one checkpoint

Options:
  --config <path>      Configuration file selecting the checkpoint backend
`)
}
