package eventlog

import "encoding/json"

// SpanStartPayload is the payload of a SpanStart event.
type SpanStartPayload struct {
	SpanID         string                 `json:"span_id"`
	ParentSpanID   string                 `json:"parent_span_id,omitempty"`
	Kind           string                 `json:"kind"`
	Name           string                 `json:"name"`
	ActorID        string                 `json:"actor_id"`
	Attributes     map[string]any         `json:"attributes,omitempty"`
	ToolProvenance *ToolProvenancePayload `json:"tool_provenance,omitempty"`
}

// ToolProvenancePayload identifies the exact tool implementation invoked by
// a ToolCall span.
type ToolProvenancePayload struct {
	ToolName            string            `json:"tool_name"`
	SchemaHash          string            `json:"schema_hash"`
	ImplVersion         string            `json:"impl_version"`
	ExternalFingerprint map[string]string `json:"external_fingerprint,omitempty"`

	// ArgSchema is an optional JSON Schema used to validate the tool's
	// arguments before a ToolCall span is durably started.
	ArgSchema json.RawMessage `json:"arg_schema,omitempty"`
}

// SpanEndPayload is the payload of a SpanEnd event.
type SpanEndPayload struct {
	SpanID             string `json:"span_id"`
	Status             string `json:"status"`
	ErrorClass         string `json:"error_class,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	OutputArtifactHash string `json:"output_artifact_hash,omitempty"`
}

// SpanLinkPayload is the payload of a SpanLink event. Links are directed
// from the span on which they were added to the linked span.
type SpanLinkPayload struct {
	FromSpanID string `json:"from_span_id"`
	ToSpanID   string `json:"to_span_id"`
}

// ProvenancePayload is the payload of a Provenance event: a labeled PROV
// edge whose subject is always a span and whose object is either another
// span or an artifact, depending on Relation.
type ProvenancePayload struct {
	Relation           string `json:"relation"`
	SubjectSpanID      string `json:"subject_span_id"`
	ObjectArtifactHash string `json:"object_artifact_hash,omitempty"`
	ObjectSpanID       string `json:"object_span_id,omitempty"`
}

// ArtifactRefPayload is the payload of an ArtifactRef event, recorded only
// when an artifact is stored or referenced through a trace context.
type ArtifactRefPayload struct {
	SpanID       string `json:"span_id,omitempty"`
	ArtifactHash string `json:"artifact_hash"`
	ArtifactType string `json:"artifact_type"`
}
