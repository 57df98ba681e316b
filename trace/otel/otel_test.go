package otel_test

import (
	"context"
	"testing"

	"github.com/jhacksman/compymac-sub001/trace"
	traceOtel "github.com/jhacksman/compymac-sub001/trace/otel"
	"github.com/m-mizutani/gt"
	sdkTrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestHandler() (trace.Handler, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdkTrace.NewTracerProvider(
		sdkTrace.WithSyncer(exporter),
	)
	h := traceOtel.New(traceOtel.WithTracerProvider(tp))
	return h, exporter
}

func TestOTelHandlerImplementsHandler(t *testing.T) {
	h, _ := setupTestHandler()
	_ = trace.Handler(h)
}

func TestOTelHandlerEmitsOneSpanPerLifecycle(t *testing.T) {
	h, exporter := setupTestHandler()
	ctx := context.Background()

	h.OnSpanStart(ctx, trace.SpanStart{TraceID: "t1", SpanID: "s1", Kind: "AgentTurn", Name: "turn"})
	h.OnSpanEnd(ctx, trace.SpanEnd{TraceID: "t1", SpanID: "s1", Kind: "AgentTurn", Status: "Ok"})

	spans := exporter.GetSpans()
	gt.Equal(t, len(spans), 1)
	gt.Equal(t, spans[0].Name, "AgentTurn:turn")
}

func TestOTelHandlerRecordsErrorStatus(t *testing.T) {
	h, exporter := setupTestHandler()
	ctx := context.Background()

	h.OnSpanStart(ctx, trace.SpanStart{SpanID: "s1", Kind: "ToolCall", Name: "fs.write"})
	h.OnSpanEnd(ctx, trace.SpanEnd{SpanID: "s1", Kind: "ToolCall", Status: "Error", ErrorMessage: "disk full"})

	spans := exporter.GetSpans()
	gt.Equal(t, len(spans), 1)
	gt.Equal(t, len(spans[0].Events), 1) // error event recorded
}

func TestOTelHandlerTracksConcurrentSpansIndependently(t *testing.T) {
	h, exporter := setupTestHandler()
	ctx := context.Background()

	h.OnSpanStart(ctx, trace.SpanStart{SpanID: "parent", Kind: "AgentTurn", Name: "turn"})
	h.OnSpanStart(ctx, trace.SpanStart{SpanID: "child-a", Kind: "ToolCall", Name: "fs.read"})
	h.OnSpanStart(ctx, trace.SpanStart{SpanID: "child-b", Kind: "ToolCall", Name: "fs.write"})
	h.OnSpanEnd(ctx, trace.SpanEnd{SpanID: "child-a", Kind: "ToolCall", Status: "Ok"})
	h.OnSpanEnd(ctx, trace.SpanEnd{SpanID: "child-b", Kind: "ToolCall", Status: "Ok"})
	h.OnSpanEnd(ctx, trace.SpanEnd{SpanID: "parent", Kind: "AgentTurn", Status: "Ok"})

	spans := exporter.GetSpans()
	gt.Equal(t, len(spans), 3)
}

func TestOTelHandlerIgnoresEndForUnknownSpan(t *testing.T) {
	h, exporter := setupTestHandler()
	ctx := context.Background()

	h.OnSpanEnd(ctx, trace.SpanEnd{SpanID: "never-started", Status: "Ok"})

	gt.Equal(t, len(exporter.GetSpans()), 0)
}
