// Package otel bridges span lifecycle notifications to OpenTelemetry
// spans, so they can be exported to any OTel-compatible backend (Jaeger,
// Zipkin, OTLP, etc.) alongside a trace's durable EventLog record.
//
// Basic usage with the global TracerProvider:
//
//	ts, _, _ := tracestore.Open(dir, tracestore.WithHandler(otel.New()))
//
// With an explicit TracerProvider:
//
//	ts, _, _ := tracestore.Open(dir, tracestore.WithHandler(
//	    otel.New(otel.WithTracerProvider(tp)),
//	))
package otel

import (
	"context"
	"errors"
	"sync"

	"github.com/jhacksman/compymac-sub001/trace"
	otelAPI "go.opentelemetry.io/otel"
	otelTrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jhacksman/compymac-sub001"

// Option configures the OTel handler.
type Option func(*handler)

// WithTracerProvider sets an explicit TracerProvider.
// If not set, the global TracerProvider is used.
func WithTracerProvider(tp otelTrace.TracerProvider) Option {
	return func(h *handler) {
		h.tracerProvider = tp
	}
}

// handler implements trace.Handler by bridging span notifications to
// OpenTelemetry spans. Unlike a single-process call-stack tracer, spans
// here may be closed well after being opened by an unrelated goroutine,
// so open OTel spans are tracked in a map keyed by span_id rather than
// threaded through context values.
type handler struct {
	tracerProvider otelTrace.TracerProvider
	tracer         otelTrace.Tracer

	mu    sync.Mutex
	spans map[string]otelTrace.Span
}

// New creates an OTel-backed trace.Handler.
// If no TracerProvider is given via options, the global TracerProvider is used.
func New(opts ...Option) trace.Handler {
	h := &handler{spans: make(map[string]otelTrace.Span)}
	for _, opt := range opts {
		opt(h)
	}

	if h.tracerProvider == nil {
		h.tracerProvider = otelAPI.GetTracerProvider()
	}
	h.tracer = h.tracerProvider.Tracer(tracerName)

	return h
}

func (h *handler) OnSpanStart(ctx context.Context, span trace.SpanStart) {
	_, otelSpan := h.tracer.Start(ctx, span.Kind+":"+span.Name,
		otelTrace.WithSpanKind(otelTrace.SpanKindInternal),
	)
	otelSpan.SetAttributes(
		traceIDAttr(span.TraceID),
		actorIDAttr(span.ActorID),
	)

	h.mu.Lock()
	h.spans[span.SpanID] = otelSpan
	h.mu.Unlock()
}

func (h *handler) OnSpanEnd(_ context.Context, span trace.SpanEnd) {
	h.mu.Lock()
	otelSpan, ok := h.spans[span.SpanID]
	if ok {
		delete(h.spans, span.SpanID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	if span.Status == "Error" {
		otelSpan.RecordError(errors.New(span.ErrorMessage))
	}
	otelSpan.End()
}
