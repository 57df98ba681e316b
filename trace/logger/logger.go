// Package logger implements a trace.Handler that logs span lifecycle
// events via slog, selectively by span kind.
package logger

import (
	"context"
	"log/slog"

	"github.com/jhacksman/compymac-sub001/trace"
)

// Event identifies a span kind that can be selectively enabled for logging.
type Event int

const (
	AgentTurn Event = iota
	ToolCall
	LlmCall
	Reasoning
	ContextAssembly
	ParallelGroup

	eventCount // sentinel for iteration
)

var kindToEvent = map[string]Event{
	"AgentTurn":       AgentTurn,
	"ToolCall":        ToolCall,
	"LlmCall":         LlmCall,
	"Reasoning":       Reasoning,
	"ContextAssembly": ContextAssembly,
	"ParallelGroup":   ParallelGroup,
}

type config struct {
	logger *slog.Logger
	events map[Event]bool
}

// Option configures the logger handler.
type Option func(*config)

// WithLogger sets a custom slog.Logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithEvents enables logging for only the given span kinds.
// When not specified, every kind is logged.
func WithEvents(events ...Event) Option {
	return func(c *config) {
		c.events = make(map[Event]bool, len(events))
		for _, e := range events {
			c.events[e] = true
		}
	}
}

// handler implements trace.Handler by logging span events via slog.
type handler struct {
	cfg config
}

// New creates a trace.Handler that logs span lifecycle events via slog.
// By default every span kind is logged; use WithEvents to narrow that.
func New(opts ...Option) trace.Handler {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.events == nil {
		cfg.events = make(map[Event]bool, eventCount)
		for i := Event(0); i < eventCount; i++ {
			cfg.events[i] = true
		}
	}

	return &handler{cfg: cfg}
}

func (h *handler) logger() *slog.Logger {
	if h.cfg.logger != nil {
		return h.cfg.logger
	}
	return slog.Default()
}

// enabled reports whether kind should be logged. A kind outside the
// closed set this package knows about is logged by default, since
// silently dropping an unrecognized kind would hide real data.
func (h *handler) enabled(kind string) bool {
	e, ok := kindToEvent[kind]
	if !ok {
		return true
	}
	return h.cfg.events[e]
}

func (h *handler) OnSpanStart(ctx context.Context, span trace.SpanStart) {
	if !h.enabled(span.Kind) {
		return
	}
	h.logger().InfoContext(ctx, "span started",
		slog.String("trace_id", span.TraceID),
		slog.String("span_id", span.SpanID),
		slog.String("parent_span_id", span.ParentSpanID),
		slog.String("kind", span.Kind),
		slog.String("name", span.Name),
		slog.String("actor_id", span.ActorID),
	)
}

func (h *handler) OnSpanEnd(ctx context.Context, span trace.SpanEnd) {
	if !h.enabled(span.Kind) {
		return
	}

	attrs := []any{
		slog.String("trace_id", span.TraceID),
		slog.String("span_id", span.SpanID),
		slog.String("kind", span.Kind),
		slog.String("status", span.Status),
		slog.Duration("duration", span.Duration),
	}
	if span.Status == "Error" {
		attrs = append(attrs,
			slog.String("error_class", span.ErrorClass),
			slog.String("error_message", span.ErrorMessage),
		)
	}

	h.logger().InfoContext(ctx, "span ended", attrs...)
}
