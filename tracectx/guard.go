package tracectx

import (
	"context"

	tracestore "github.com/jhacksman/compymac-sub001"
)

// Guard closes the span it was opened for exactly once, on Close. It is
// returned by WithSpan so callers can guarantee EndSpan fires on every
// exit path, including panics recovered higher up the call stack and
// early returns on error.
type Guard struct {
	ctx    context.Context
	parent *TraceContext
	spanID string
	status tracestore.SpanStatus
	errClass,
	errMessage,
	outputHash string
	closed bool
}

// SpanID returns the span this guard will close.
func (g *Guard) SpanID() string { return g.spanID }

// Fail marks the span to close with SpanStatusError and the given error
// detail. Call before Close; Close itself does not inspect a returned
// error value.
func (g *Guard) Fail(errClass, errMessage string) {
	g.status = tracestore.SpanStatusError
	g.errClass = errClass
	g.errMessage = errMessage
}

// Cancel marks the span to close with SpanStatusCancelled.
func (g *Guard) Cancel() {
	g.status = tracestore.SpanStatusCancelled
}

// SetOutputArtifactHash attaches the produced artifact's hash to the
// span's eventual SpanEnd event.
func (g *Guard) SetOutputArtifactHash(hash string) {
	g.outputHash = hash
}

// Close ends the span with whatever status was last set (Ok by default).
// Close is idempotent: calling it more than once is a no-op after the
// first call succeeds or fails.
func (g *Guard) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	return g.parent.EndSpan(g.ctx, g.status, g.errClass, g.errMessage, g.outputHash)
}

// WithSpan opens a span on c and returns a Guard defaulting to
// SpanStatusOk on Close. The idiomatic call site is:
//
//	g, err := c.WithSpan(ctx, tracestore.SpanKindToolCall, "fs.read", "executor", nil, nil, nil)
//	if err != nil {
//	    return err
//	}
//	defer g.Close()
//	... do work, calling g.Fail(...) on the error path ...
func (c *TraceContext) WithSpan(ctx context.Context, kind tracestore.SpanKind, name, actorID string, attributes map[string]any, toolProvenance *tracestore.ToolProvenance, toolArgs []byte) (*Guard, error) {
	spanID, err := c.StartSpan(ctx, kind, name, actorID, attributes, toolProvenance, toolArgs)
	if err != nil {
		return nil, err
	}
	return &Guard{ctx: ctx, parent: c, spanID: spanID, status: tracestore.SpanStatusOk}, nil
}
