// Package tracestore implements the TraceStore facade. It reconstructs
// immutable Span and provenance views from the append-only EventLog, and
// fronts the ArtifactStore so callers have a single entry point for a
// trace's durable state.
//
// TraceStore itself holds no span-parentage state between calls; every
// reconstruction is a fresh fold over EventLog.Query/EventsForSpan. The
// only mutable, implicit state in the system is the caller's current span
// stack, and that belongs to tracectx.TraceContext, not to TraceStore.
package tracestore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/jhacksman/compymac-sub001/artifact"
	"github.com/jhacksman/compymac-sub001/eventlog"
	"github.com/jhacksman/compymac-sub001/trace"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// TraceStore is the facade over an EventLog and an ArtifactStore rooted at
// the same directory. It is safe for concurrent use.
type TraceStore struct {
	log      *eventlog.Log
	artifact *artifact.Store
	clock    Clock
	handler  trace.Handler
}

// Option configures a TraceStore at Open time.
type Option func(*TraceStore)

// WithClock overrides the Clock used to stamp events. Intended for tests.
func WithClock(c Clock) Option {
	return func(ts *TraceStore) { ts.clock = c }
}

// WithHandler registers a trace.Handler that is notified of every span's
// start and end, alongside (never instead of) the durable EventLog write.
// A Handler failure never affects what TraceStore persists.
func WithHandler(h trace.Handler) Option {
	return func(ts *TraceStore) { ts.handler = h }
}

// Open opens (creating if necessary) a TraceStore rooted at dir: an
// EventLog at dir/traces.db and an ArtifactStore at dir/artifacts. It
// returns both the TraceStore and the underlying artifact.Store, since
// some callers (e.g. toolexec harnesses) need direct artifact access.
func Open(dir string, opts ...Option) (*TraceStore, *artifact.Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create trace store root", goerr.V("dir", dir))
	}

	log, err := eventlog.Open(filepath.Join(dir, "traces.db"))
	if err != nil {
		return nil, nil, err
	}

	store, err := artifact.Open(filepath.Join(dir, "artifacts"))
	if err != nil {
		_ = log.Close()
		return nil, nil, err
	}

	ts := &TraceStore{log: log, artifact: store, clock: SystemClock{}}
	for _, opt := range opts {
		opt(ts)
	}
	return ts, store, nil
}

// Close releases the underlying EventLog handle.
func (ts *TraceStore) Close() error {
	return ts.log.Close()
}

// NewTrace mints a fresh trace_id. Callers start the trace's root span
// with StartSpan using this trace_id and an empty ParentSpanID.
func (ts *TraceStore) NewTrace() (string, error) {
	return newTraceID()
}

// StartSpanInput is the input to StartSpan.
type StartSpanInput struct {
	TraceID        string
	ParentSpanID   string // empty for a root span
	Kind           SpanKind
	Name           string
	ActorID        string
	Attributes     map[string]any
	ToolProvenance *ToolProvenance

	// ToolArgs, when ToolProvenance.ArgSchema is set, is validated against
	// that schema before the span is durably started. A validation
	// failure returns an error without writing a SpanStart event.
	ToolArgs json.RawMessage
}

// StartSpan mints a span_id, validates tool-call arguments against
// ToolProvenance.ArgSchema when present, and appends a SpanStart event.
func (ts *TraceStore) StartSpan(ctx context.Context, in StartSpanInput) (string, error) {
	if in.ToolProvenance != nil && len(in.ToolProvenance.ArgSchema) > 0 {
		if err := validateJSONSchema(in.ToolProvenance.ArgSchema, in.ToolArgs); err != nil {
			return "", err
		}
	}

	spanID, err := newSpanID()
	if err != nil {
		return "", goerr.Wrap(ErrInternal, "failed to mint span id", goerr.V("cause", err.Error()))
	}

	payload := eventlog.SpanStartPayload{
		SpanID:       spanID,
		ParentSpanID: in.ParentSpanID,
		Kind:         string(in.Kind),
		Name:         in.Name,
		ActorID:      in.ActorID,
		Attributes:   in.Attributes,
	}
	if in.ToolProvenance != nil {
		payload.ToolProvenance = &eventlog.ToolProvenancePayload{
			ToolName:            in.ToolProvenance.ToolName,
			SchemaHash:          in.ToolProvenance.SchemaHash,
			ImplVersion:         in.ToolProvenance.ImplVersion,
			ExternalFingerprint: in.ToolProvenance.ExternalFingerprint,
			ArgSchema:           in.ToolProvenance.ArgSchema,
		}
	}

	if err := ts.appendEvent(ctx, in.TraceID, spanID, eventlog.SpanStart, payload); err != nil {
		return "", err
	}

	ctxlog.From(ctx).Debug("span started", "trace_id", in.TraceID, "span_id", spanID, "kind", in.Kind, "name", in.Name)

	if ts.handler != nil {
		ts.handler.OnSpanStart(ctx, trace.SpanStart{
			TraceID:      in.TraceID,
			SpanID:       spanID,
			ParentSpanID: in.ParentSpanID,
			Kind:         string(in.Kind),
			Name:         in.Name,
			ActorID:      in.ActorID,
			Attributes:   in.Attributes,
		})
	}
	return spanID, nil
}

// EndSpanInput is the input to EndSpan.
type EndSpanInput struct {
	TraceID            string
	SpanID             string
	Status             SpanStatus
	ErrorClass         string
	ErrorMessage       string
	OutputArtifactHash string
}

// EndSpan appends a SpanEnd event. It returns ErrUnknownSpan if the span
// was never started, and ErrDoubleClose if it has already ended.
func (ts *TraceStore) EndSpan(ctx context.Context, in EndSpanInput) error {
	span, err := ts.ReconstructSpan(ctx, in.TraceID, in.SpanID)
	if err != nil {
		return err
	}
	if !span.EndedAt.IsZero() {
		return goerr.Wrap(ErrDoubleClose, "span already ended", goerr.V("span_id", in.SpanID))
	}

	payload := eventlog.SpanEndPayload{
		SpanID:             in.SpanID,
		Status:             string(in.Status),
		ErrorClass:         in.ErrorClass,
		ErrorMessage:       in.ErrorMessage,
		OutputArtifactHash: in.OutputArtifactHash,
	}
	if err := ts.appendEvent(ctx, in.TraceID, in.SpanID, eventlog.SpanEnd, payload); err != nil {
		return err
	}

	ctxlog.From(ctx).Debug("span ended", "trace_id", in.TraceID, "span_id", in.SpanID, "status", in.Status)

	if ts.handler != nil {
		ts.handler.OnSpanEnd(ctx, trace.SpanEnd{
			TraceID:      in.TraceID,
			SpanID:       in.SpanID,
			Kind:         string(span.Kind),
			Status:       string(in.Status),
			ErrorClass:   in.ErrorClass,
			ErrorMessage: in.ErrorMessage,
			Duration:     ts.clock.Now().Sub(span.StartedAt),
		})
	}
	return nil
}

// AddSpanLink records a directed link from fromSpanID to toSpanID. Links
// are informational cross-references (e.g. "retried as"), distinct from
// parentage and from provenance edges.
func (ts *TraceStore) AddSpanLink(ctx context.Context, traceID, fromSpanID, toSpanID string) error {
	if _, err := ts.ReconstructSpan(ctx, traceID, fromSpanID); err != nil {
		return err
	}
	payload := eventlog.SpanLinkPayload{FromSpanID: fromSpanID, ToSpanID: toSpanID}
	return ts.appendEvent(ctx, traceID, fromSpanID, eventlog.SpanLink, payload)
}

// AddProvenance records a PROV-style edge. subjectSpanID must already
// exist. Exactly one of objectArtifactHash or objectSpanID must be set,
// consistent with Relation: Used and WasGeneratedBy take an artifact
// object; WasInformedBy takes a span object.
func (ts *TraceStore) AddProvenance(ctx context.Context, traceID, subjectSpanID string, relation ProvenanceRelation, objectArtifactHash, objectSpanID string) error {
	if _, err := ts.ReconstructSpan(ctx, traceID, subjectSpanID); err != nil {
		return err
	}

	switch relation {
	case RelationUsed, RelationWasGeneratedBy:
		if objectArtifactHash == "" || objectSpanID != "" {
			return goerr.Wrap(ErrInvalidRelation, "relation requires an artifact object only", goerr.V("relation", relation))
		}
	case RelationWasInformedBy:
		if objectSpanID == "" || objectArtifactHash != "" {
			return goerr.Wrap(ErrInvalidRelation, "relation requires a span object only", goerr.V("relation", relation))
		}
	default:
		return goerr.Wrap(ErrInvalidRelation, "unrecognized provenance relation", goerr.V("relation", relation))
	}

	payload := eventlog.ProvenancePayload{
		Relation:           string(relation),
		SubjectSpanID:      subjectSpanID,
		ObjectArtifactHash: objectArtifactHash,
		ObjectSpanID:       objectSpanID,
	}
	return ts.appendEvent(ctx, traceID, subjectSpanID, eventlog.Provenance, payload)
}

// ReconstructSpan folds every event touching spanID into a Span. It
// returns ErrUnknownSpan if the span has no SpanStart event.
func (ts *TraceStore) ReconstructSpan(ctx context.Context, traceID, spanID string) (Span, error) {
	events, err := ts.log.EventsForSpan(ctx, traceID, spanID)
	if err != nil {
		return Span{}, err
	}
	return foldSpan(traceID, spanID, events)
}

// GetTraceSpans reconstructs every span in traceID, ordered by each
// span's first (SpanStart) event seq.
func (ts *TraceStore) GetTraceSpans(ctx context.Context, traceID string) ([]Span, error) {
	events, err := ts.log.Query(ctx, traceID, eventlog.QueryOptions{})
	if err != nil {
		return nil, err
	}

	order := make([]string, 0)
	bySpan := make(map[string][]eventlog.TraceEvent)
	for _, e := range events {
		if e.SpanID == "" {
			continue
		}
		if _, seen := bySpan[e.SpanID]; !seen {
			order = append(order, e.SpanID)
		}
		bySpan[e.SpanID] = append(bySpan[e.SpanID], e)
	}

	spans := make([]Span, 0, len(order))
	for _, spanID := range order {
		span, err := foldSpan(traceID, spanID, bySpan[spanID])
		if err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	return spans, nil
}

// StoreArtifact stores data content-addressed and records an ArtifactRef
// event attaching it to spanID (empty spanID is allowed for trace-level
// artifacts with no owning span).
func (ts *TraceStore) StoreArtifact(ctx context.Context, traceID, spanID string, data []byte, artifactType, contentType string, metadata map[string]any) (*artifact.Artifact, error) {
	a, err := ts.artifact.Store(ctx, data, artifactType, contentType, metadata)
	if err != nil {
		return nil, err
	}
	payload := eventlog.ArtifactRefPayload{SpanID: spanID, ArtifactHash: a.Hash, ArtifactType: a.ArtifactType}
	if err := ts.appendEvent(ctx, traceID, spanID, eventlog.ArtifactRef, payload); err != nil {
		return nil, err
	}
	return a, nil
}

// StoreVideo streams r into the artifact store and records an ArtifactRef
// event attaching the resulting artifact to spanID.
func (ts *TraceStore) StoreVideo(ctx context.Context, traceID, spanID string, r io.Reader, video artifact.VideoMetadata) (*artifact.Artifact, error) {
	video.SpanID = spanID
	a, err := ts.artifact.StoreVideo(ctx, r, video)
	if err != nil {
		return nil, err
	}
	payload := eventlog.ArtifactRefPayload{SpanID: spanID, ArtifactHash: a.Hash, ArtifactType: a.ArtifactType}
	if err := ts.appendEvent(ctx, traceID, spanID, eventlog.ArtifactRef, payload); err != nil {
		return nil, err
	}
	return a, nil
}

// GetArtifact retrieves artifact content by hash, verifying integrity.
func (ts *TraceStore) GetArtifact(ctx context.Context, hash string) ([]byte, error) {
	return ts.artifact.Retrieve(ctx, hash)
}

func (ts *TraceStore) appendEvent(ctx context.Context, traceID, spanID string, eventType eventlog.EventType, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return goerr.Wrap(ErrCorrupted, "failed to marshal event payload", goerr.V("event_type", eventType))
	}
	eventID, err := newEventID()
	if err != nil {
		return goerr.Wrap(ErrInternal, "failed to mint event id", goerr.V("cause", err.Error()))
	}
	_, err = ts.log.Append(ctx, eventlog.AppendInput{
		EventID:   eventID,
		TraceID:   traceID,
		SpanID:    spanID,
		EventType: eventType,
		Timestamp: ts.clock.Now(),
		Payload:   b,
	})
	return err
}

func wrapCorrupted(cause error, msg string) error {
	if cause != nil {
		return goerr.Wrap(ErrCorrupted, msg, goerr.V("cause", cause.Error()))
	}
	return goerr.Wrap(ErrCorrupted, msg)
}

// validateJSONSchema validates argsJSON against the given JSON Schema
// document. An empty argsJSON validates against the schema's handling of
// "null"/absent input, consistent with jsonschema's own semantics.
func validateJSONSchema(schemaDoc, argsJSON json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	schema, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaDoc))
	if err != nil {
		return goerr.Wrap(ErrCorrupted, "failed to parse tool arg schema")
	}
	const resourceURL = "mem://tool-arg-schema.json"
	if err := compiler.AddResource(resourceURL, schema); err != nil {
		return goerr.Wrap(ErrCorrupted, "failed to register tool arg schema")
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return goerr.Wrap(ErrCorrupted, "failed to compile tool arg schema")
	}

	var instance any
	if len(argsJSON) == 0 {
		argsJSON = []byte("null")
	}
	if err := json.Unmarshal(argsJSON, &instance); err != nil {
		return goerr.Wrap(ErrCorrupted, "failed to parse tool call arguments")
	}

	if err := compiled.Validate(instance); err != nil {
		return goerr.Wrap(ErrSchemaValidation, "tool call arguments do not satisfy schema", goerr.V("validation_error", err.Error()))
	}
	return nil
}
