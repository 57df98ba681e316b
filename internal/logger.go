package internal

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/ctxlog"
)

var testLogger *slog.Logger

func init() {
	testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	if os.Getenv("TRACESTORE_TEST_LOG") == "1" {
		testLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
}

func TestLogger() *slog.Logger {
	return testLogger
}

// TestContext returns a background context carrying the test logger, so
// that setting TRACESTORE_TEST_LOG=1 surfaces the ctxlog.From debug lines
// every package already emits on the hot paths (span start/end, artifact
// writes, tool invocation failures) during `go test`.
func TestContext() context.Context {
	return ctxlog.With(context.Background(), testLogger)
}
