package main

import (
	"context"
	"fmt"

	tracestore "github.com/jhacksman/compymac-sub001"
	"github.com/jhacksman/compymac-sub001/trace"
	"github.com/urfave/cli/v3"
)

func openSummaryLog(dir string) (*tracestore.TraceStore, *tracestore.SummaryEventLog, error) {
	ts, _, err := tracestore.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	return ts, tracestore.NewSummaryEventLog(ts), nil
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "print aggregate span counts and wall-clock span for a trace",
		Flags: []cli.Flag{dirFlag(), traceIDFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ts, summaryLog, err := openSummaryLog(cmd.String("dir"))
			if err != nil {
				return err
			}
			defer func() { _ = ts.Close() }()

			summary, err := summaryLog.Summary(ctx, cmd.String("trace-id"))
			if err != nil {
				return err
			}

			fmt.Printf("trace_id:    %s\n", summary.TraceID)
			fmt.Printf("span_count:  %d\n", summary.SpanCount)
			fmt.Printf("error_count: %d\n", summary.ErrorCount)
			fmt.Printf("started_at:  %s\n", summary.StartedAt)
			if summary.EndedAt.IsZero() {
				fmt.Println("ended_at:    (open)")
			} else {
				fmt.Printf("ended_at:    %s\n", summary.EndedAt)
			}
			return nil
		},
	}
}

func toolCallsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tool-calls",
		Usage: "list every ToolCall span in a trace",
		Flags: []cli.Flag{dirFlag(), traceIDFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ts, summaryLog, err := openSummaryLog(cmd.String("dir"))
			if err != nil {
				return err
			}
			defer func() { _ = ts.Close() }()

			calls, err := summaryLog.ToolCalls(ctx, cmd.String("trace-id"))
			if err != nil {
				return err
			}

			for _, span := range calls {
				fmt.Printf("%s\t%s\t%s\t%s\n", span.SpanID, span.Name, span.ActorID, span.Status)
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write every span in a trace to a JSON file under out-dir",
		Flags: []cli.Flag{
			dirFlag(),
			traceIDFlag(),
			&cli.StringFlag{Name: "out-dir", Usage: "directory to write <trace-id>.json into", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ts, summaryLog, err := openSummaryLog(cmd.String("dir"))
			if err != nil {
				return err
			}
			defer func() { _ = ts.Close() }()

			traceID := cmd.String("trace-id")
			if err := summaryLog.Export(ctx, traceID, trace.NewFileRepository(cmd.String("out-dir"))); err != nil {
				return err
			}

			fmt.Printf("wrote %s/%s.json\n", cmd.String("out-dir"), traceID)
			return nil
		},
	}
}

func errorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "errors",
		Usage: "list every span that ended in error status",
		Flags: []cli.Flag{dirFlag(), traceIDFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ts, summaryLog, err := openSummaryLog(cmd.String("dir"))
			if err != nil {
				return err
			}
			defer func() { _ = ts.Close() }()

			errored, err := summaryLog.Errors(ctx, cmd.String("trace-id"))
			if err != nil {
				return err
			}

			for _, span := range errored {
				fmt.Printf("%s\t%s\t%s: %s\n", span.SpanID, span.Name, span.ErrorClass, span.ErrorMessage)
			}
			return nil
		},
	}
}
