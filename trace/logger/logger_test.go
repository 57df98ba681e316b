package logger_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jhacksman/compymac-sub001/trace"
	"github.com/jhacksman/compymac-sub001/trace/logger"
	"github.com/m-mizutani/gt"
)

// logEntry captures a single slog record for testing.
type logEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// testHandler is a slog.Handler that captures log records for assertions.
type testHandler struct {
	mu      sync.Mutex
	entries []logEntry
}

func (h *testHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }
func (h *testHandler) WithAttrs(_ []slog.Attr) slog.Handler         { return h }
func (h *testHandler) WithGroup(_ string) slog.Handler              { return h }
func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.entries = append(h.entries, logEntry{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

func (h *testHandler) getEntries() []logEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]logEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func newTestLogger() (*slog.Logger, *testHandler) {
	th := &testHandler{}
	return slog.New(th), th
}

func TestSpanLifecycleLogging(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger))
	ctx := context.Background()

	h.OnSpanStart(ctx, trace.SpanStart{TraceID: "t1", SpanID: "s1", Kind: "AgentTurn", Name: "turn", ActorID: "agent"})
	h.OnSpanEnd(ctx, trace.SpanEnd{TraceID: "t1", SpanID: "s1", Kind: "AgentTurn", Status: "Ok", Duration: time.Second})

	entries := th.getEntries()
	gt.Equal(t, len(entries), 2)
	gt.Equal(t, entries[0].Message, "span started")
	gt.Equal(t, entries[0].Attrs["kind"], "AgentTurn")
	gt.Equal(t, entries[1].Message, "span ended")
	gt.Value(t, entries[1].Attrs["duration"]).NotNil()
}

func TestSpanEndWithErrorIncludesErrorAttrs(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger))
	ctx := context.Background()

	h.OnSpanEnd(ctx, trace.SpanEnd{
		SpanID: "s1", Kind: "ToolCall", Status: "Error",
		ErrorClass: "ToolError", ErrorMessage: "boom",
	})

	entries := th.getEntries()
	gt.Equal(t, len(entries), 1)
	gt.Equal(t, entries[0].Attrs["error_class"], "ToolError")
	gt.Equal(t, entries[0].Attrs["error_message"], "boom")
}

func TestWithEventsNarrowsLoggedKinds(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger), logger.WithEvents(logger.ToolCall))
	ctx := context.Background()

	h.OnSpanStart(ctx, trace.SpanStart{SpanID: "s1", Kind: "AgentTurn"})
	h.OnSpanStart(ctx, trace.SpanStart{SpanID: "s2", Kind: "ToolCall"})

	entries := th.getEntries()
	gt.Equal(t, len(entries), 1)
	gt.Equal(t, entries[0].Attrs["span_id"], "s2")
}

func TestUnrecognizedKindIsLoggedByDefault(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger), logger.WithEvents(logger.ToolCall))
	ctx := context.Background()

	h.OnSpanStart(ctx, trace.SpanStart{SpanID: "s1", Kind: "SomeFutureKind"})

	entries := th.getEntries()
	gt.Equal(t, len(entries), 1)
}
