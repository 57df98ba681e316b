// Command tracectl is a read-only CLI over a trace store directory. It is
// an external collaborator, not part of the core library: it opens a
// TraceStore and prints SummaryEventLog projections for a given trace_id.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "tracectl",
		Usage: "inspect an Agent Trace & Artifact Store directory",
		Commands: []*cli.Command{
			summaryCommand(),
			toolCallsCommand(),
			errorsCommand(),
			exportCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dirFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "dir",
		Sources:  cli.EnvVars("TRACECTL_DIR"),
		Usage:    "Trace store root directory",
		Required: true,
	}
}

func traceIDFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "trace-id",
		Usage:    "Trace to inspect",
		Required: true,
	}
}
