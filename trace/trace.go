// Package trace is a side-channel notification layer for the trace store:
// an optional Handler observes span lifecycle events as they are durably
// recorded, for logging, metrics, or bridging to an external tracing
// backend. The durable record of a trace is always the EventLog; a
// Handler never affects what TraceStore persists or how a Span folds.
package trace

import (
	"context"
	"time"
)

// SpanStart is the information available when a span opens.
type SpanStart struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Kind         string
	Name         string
	ActorID      string
	Attributes   map[string]any
}

// SpanEnd is the information available when a span closes.
type SpanEnd struct {
	TraceID      string
	SpanID       string
	Kind         string
	Status       string
	ErrorClass   string
	ErrorMessage string
	Duration     time.Duration
}

// Handler receives span lifecycle notifications as a TraceStore durably
// records them. Implementations must key their own state by SpanID: unlike
// a single in-process call stack, spans here can be opened by one worker
// goroutine and closed by another, or never closed before a crash, and a
// Handler must tolerate both.
type Handler interface {
	OnSpanStart(ctx context.Context, span SpanStart)
	OnSpanEnd(ctx context.Context, span SpanEnd)
}
