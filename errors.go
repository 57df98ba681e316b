package tracestore

import "errors"

// Sentinel errors for the TraceStore error taxonomy. Lower
// layers (eventlog, artifact) have their own sentinels; TraceStore wraps
// them and adds the errors specific to span/provenance reconstruction.
var (
	// ErrUnknownSpan is returned when an operation references a span_id
	// that has no SpanStart event in the trace.
	ErrUnknownSpan = errors.New("unknown span")

	// ErrDoubleClose is returned when EndSpan is called on a span that
	// already has a SpanEnd event.
	ErrDoubleClose = errors.New("span already ended")

	// ErrInvalidRelation is returned when AddProvenance is given a
	// relation/object combination the model does not allow.
	ErrInvalidRelation = errors.New("invalid provenance relation")

	// ErrCorrupted is returned when the event log contains structurally
	// invalid data for this layer: an unrecognized event type, a payload
	// that fails to unmarshal into its expected shape, or a SpanEnd with
	// no preceding SpanStart.
	ErrCorrupted = errors.New("trace data is corrupted")

	// ErrNotFound is the generic not-found kind of this layer. TraceStore's
	// own lookups report a missing span as ErrUnknownSpan, and a missing
	// artifact surfaces from GetArtifact as artifact.ErrNotFound.
	ErrNotFound = errors.New("not found")

	// ErrSchemaValidation is returned when a ToolCall span's arguments
	// fail validation against its ToolProvenance.ArgSchema.
	ErrSchemaValidation = errors.New("tool call arguments failed schema validation")

	// ErrInternal wraps unexpected low-level failures (e.g. entropy
	// exhaustion during ID generation) that are not part of the ordinary
	// error taxonomy.
	ErrInternal = errors.New("internal error")
)
