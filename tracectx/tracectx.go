// Package tracectx implements TraceContext: the per-worker handle that
// carries an implicit current-span stack and issues convenience calls
// into a TraceStore.
//
// A TraceContext is deliberately not safe for concurrent use: its span
// stack is owned, mutable, and thread-local by design. This avoids the
// parentage corruption that follows from sharing one implicit tracing
// handle across goroutines. Parallelism is achieved by Fork, never by
// sharing a TraceContext.
package tracectx

import (
	"context"
	"errors"

	tracestore "github.com/jhacksman/compymac-sub001"
	"github.com/jhacksman/compymac-sub001/artifact"
	"github.com/m-mizutani/goerr/v2"
)

// ErrStackEmpty is returned by EndSpan when the span stack is empty.
var ErrStackEmpty = errors.New("span stack is empty")

// TraceContext carries a trace_id, a reference to the backing TraceStore,
// and a private span stack. The zero value is not usable; construct with
// New or Fork.
type TraceContext struct {
	store   *tracestore.TraceStore
	traceID string
	stack   []string // owned; never shared across TraceContext values

	// rootParent is the parent_span_id used when stack is empty. It is
	// set by Fork to the forking context's span at fork time (or an
	// explicit override) and is never pushed onto, or popped from,
	// stack: a fork must never be able to end a span it did not itself
	// start.
	rootParent string
}

// New creates a TraceContext for traceID with an empty span stack.
func New(store *tracestore.TraceStore, traceID string) *TraceContext {
	return &TraceContext{store: store, traceID: traceID}
}

// TraceID returns the trace this context operates on.
func (c *TraceContext) TraceID() string { return c.traceID }

// CurrentSpanID returns the top of the span stack, falling back to the
// fork's root parent (if any) when the stack is empty.
func (c *TraceContext) CurrentSpanID() string {
	if len(c.stack) == 0 {
		return c.rootParent
	}
	return c.stack[len(c.stack)-1]
}

// StartSpan calls TraceStore.StartSpan with parent_span_id set to
// CurrentSpanID (the stack top, or the fork's root parent when the stack
// is empty), then pushes the new span_id.
func (c *TraceContext) StartSpan(ctx context.Context, kind tracestore.SpanKind, name, actorID string, attributes map[string]any, toolProvenance *tracestore.ToolProvenance, toolArgs []byte) (string, error) {
	spanID, err := c.store.StartSpan(ctx, tracestore.StartSpanInput{
		TraceID:        c.traceID,
		ParentSpanID:   c.CurrentSpanID(),
		Kind:           kind,
		Name:           name,
		ActorID:        actorID,
		Attributes:     attributes,
		ToolProvenance: toolProvenance,
		ToolArgs:       toolArgs,
	})
	if err != nil {
		return "", err
	}
	c.stack = append(c.stack, spanID)
	return spanID, nil
}

// EndSpan pops the stack top and calls TraceStore.EndSpan with that
// span_id. It is an error to call EndSpan on an empty stack.
func (c *TraceContext) EndSpan(ctx context.Context, status tracestore.SpanStatus, errorClass, errorMessage, outputArtifactHash string) error {
	if len(c.stack) == 0 {
		return goerr.Wrap(ErrStackEmpty, "cannot end span: stack is empty", goerr.V("trace_id", c.traceID))
	}
	spanID := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]

	return c.store.EndSpan(ctx, tracestore.EndSpanInput{
		TraceID:            c.traceID,
		SpanID:             spanID,
		Status:             status,
		ErrorClass:         errorClass,
		ErrorMessage:       errorMessage,
		OutputArtifactHash: outputArtifactHash,
	})
}

// StoreArtifact forwards to TraceStore, attaching the artifact to
// CurrentSpanID: the stack top, or the fork's root parent when the stack
// is empty (no span only if both are empty).
func (c *TraceContext) StoreArtifact(ctx context.Context, data []byte, artifactType, contentType string, metadata map[string]any) (*artifact.Artifact, error) {
	return c.store.StoreArtifact(ctx, c.traceID, c.CurrentSpanID(), data, artifactType, contentType, metadata)
}

// AddProvenance forwards to TraceStore; when subjectSpanID is empty it
// defaults to CurrentSpanID (the stack top, or the fork's root parent).
func (c *TraceContext) AddProvenance(ctx context.Context, subjectSpanID string, relation tracestore.ProvenanceRelation, objectArtifactHash, objectSpanID string) error {
	if subjectSpanID == "" {
		subjectSpanID = c.CurrentSpanID()
	}
	return c.store.AddProvenance(ctx, c.traceID, subjectSpanID, relation, objectArtifactHash, objectSpanID)
}

// Fork produces a new TraceContext sharing this context's trace_id and
// TraceStore reference, with an empty, independent span stack. If
// parentSpanID is given, spans subsequently opened on the fork without
// their own ancestor parent to it; otherwise they parent to this
// context's current stack top at fork time. The fork shares no mutable
// state with its parent: only the TraceStore and ArtifactStore are
// shared, and both are internally concurrency-safe.
func (c *TraceContext) Fork(parentSpanID ...string) *TraceContext {
	root := c.CurrentSpanID()
	if len(parentSpanID) > 0 && parentSpanID[0] != "" {
		root = parentSpanID[0]
	}

	return &TraceContext{store: c.store, traceID: c.traceID, rootParent: root}
}
