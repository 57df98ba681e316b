package tracestore

import (
	"encoding/json"
	"time"

	"github.com/jhacksman/compymac-sub001/eventlog"
)

// SpanKind is the closed set of span kinds a trace may record.
type SpanKind string

const (
	SpanKindAgentTurn       SpanKind = "AgentTurn"
	SpanKindToolCall        SpanKind = "ToolCall"
	SpanKindLLMCall         SpanKind = "LlmCall"
	SpanKindReasoning       SpanKind = "Reasoning"
	SpanKindContextAssembly SpanKind = "ContextAssembly"
	SpanKindParallelGroup   SpanKind = "ParallelGroup"
)

// SpanStatus is the terminal (or non-terminal) state of a span.
type SpanStatus string

const (
	// SpanStatusStarted is not a terminal status: it is what
	// ReconstructSpan reports for a span whose SpanEnd event never
	// arrived, e.g. because the process crashed mid-span.
	SpanStatusStarted   SpanStatus = "Started"
	SpanStatusOk        SpanStatus = "Ok"
	SpanStatusError     SpanStatus = "Error"
	SpanStatusCancelled SpanStatus = "Cancelled"
)

// ProvenanceRelation is the closed set of PROV-style relations a
// Provenance event may assert.
type ProvenanceRelation string

const (
	// RelationUsed: subject span consumed an artifact as input.
	RelationUsed ProvenanceRelation = "Used"
	// RelationWasGeneratedBy: an artifact was produced by the subject span.
	RelationWasGeneratedBy ProvenanceRelation = "WasGeneratedBy"
	// RelationWasInformedBy: subject span's behavior was causally informed
	// by another span, without a mediating artifact.
	RelationWasInformedBy ProvenanceRelation = "WasInformedBy"
)

// ToolProvenance identifies the exact tool implementation a ToolCall span
// invoked, for audit and replay fidelity.
type ToolProvenance struct {
	ToolName            string
	SchemaHash          string
	ImplVersion         string
	ExternalFingerprint map[string]string

	// ArgSchema, if set, is a JSON Schema that StartSpan validates the
	// span's tool-call arguments against before the span is durably
	// started.
	ArgSchema json.RawMessage
}

// ProvenanceEdge is one PROV-style edge recorded against a span, returned
// as part of a reconstructed Span.
type ProvenanceEdge struct {
	Relation           ProvenanceRelation
	ObjectArtifactHash string
	ObjectSpanID       string
}

// Span is the read-only, reconstructed view of a span: the fold of every
// event that named it as SpanID, in seq order. Spans are never mutated in
// place; calling ReconstructSpan again after new events arrive returns a
// new value.
type Span struct {
	SpanID       string
	TraceID      string
	ParentSpanID string
	Kind         SpanKind
	Name         string
	ActorID      string
	Attributes   map[string]any

	ToolProvenance *ToolProvenance

	StartedAt time.Time
	EndedAt   time.Time // zero value if the span has not ended

	Status       SpanStatus
	ErrorClass   string
	ErrorMessage string

	OutputArtifactHash string

	// InputArtifactHashes and OutputArtifactHashes are every artifact hash
	// attached to this span, folded from its ArtifactRef events and from
	// the object side of Used/WasGeneratedBy Provenance edges. An artifact
	// stored through StoreArtifact/StoreVideo with no accompanying
	// provenance edge is counted as an output: the span is the one that
	// attached it.
	InputArtifactHashes  []string
	OutputArtifactHashes []string

	// LinkedSpanIDs are the spans this span links to, directed outward:
	// it points from the span on which the link was added to the linked span.
	LinkedSpanIDs []string

	Provenance []ProvenanceEdge
}

// Duration returns EndedAt.Sub(StartedAt), or 0 if the span has not ended.
func (s Span) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

func appendUniqueHash(hashes []string, hash string) []string {
	if hash == "" {
		return hashes
	}
	for _, h := range hashes {
		if h == hash {
			return hashes
		}
	}
	return append(hashes, hash)
}

// foldSpan reconstructs a Span from the ordered events touching spanID.
// A SpanEnd seen before any SpanStart is ErrCorrupted; events with no
// SpanStart among them at all are ErrUnknownSpan.
func foldSpan(traceID, spanID string, events []eventlog.TraceEvent) (Span, error) {
	if len(events) == 0 {
		return Span{}, ErrUnknownSpan
	}

	span := Span{SpanID: spanID, TraceID: traceID, Status: SpanStatusStarted}

	var refHashes []string
	started := false
	for _, e := range events {
		switch e.EventType {
		case eventlog.SpanStart:
			var p eventlog.SpanStartPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return Span{}, wrapCorrupted(err, "span_start payload")
			}
			span.ParentSpanID = p.ParentSpanID
			span.Kind = SpanKind(p.Kind)
			span.Name = p.Name
			span.ActorID = p.ActorID
			span.Attributes = p.Attributes
			span.StartedAt = e.Timestamp
			if p.ToolProvenance != nil {
				span.ToolProvenance = &ToolProvenance{
					ToolName:            p.ToolProvenance.ToolName,
					SchemaHash:          p.ToolProvenance.SchemaHash,
					ImplVersion:         p.ToolProvenance.ImplVersion,
					ExternalFingerprint: p.ToolProvenance.ExternalFingerprint,
					ArgSchema:           p.ToolProvenance.ArgSchema,
				}
			}
			started = true

		case eventlog.SpanEnd:
			if !started {
				return Span{}, wrapCorrupted(nil, "span_end with no matching span_start")
			}
			var p eventlog.SpanEndPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return Span{}, wrapCorrupted(err, "span_end payload")
			}
			span.EndedAt = e.Timestamp
			span.Status = SpanStatus(p.Status)
			span.ErrorClass = p.ErrorClass
			span.ErrorMessage = p.ErrorMessage
			span.OutputArtifactHash = p.OutputArtifactHash
			span.OutputArtifactHashes = appendUniqueHash(span.OutputArtifactHashes, p.OutputArtifactHash)

		case eventlog.SpanLink:
			var p eventlog.SpanLinkPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return Span{}, wrapCorrupted(err, "span_link payload")
			}
			if p.FromSpanID == spanID {
				span.LinkedSpanIDs = append(span.LinkedSpanIDs, p.ToSpanID)
			}

		case eventlog.Provenance:
			var p eventlog.ProvenancePayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return Span{}, wrapCorrupted(err, "provenance payload")
			}
			if p.SubjectSpanID == spanID {
				relation := ProvenanceRelation(p.Relation)
				span.Provenance = append(span.Provenance, ProvenanceEdge{
					Relation:           relation,
					ObjectArtifactHash: p.ObjectArtifactHash,
					ObjectSpanID:       p.ObjectSpanID,
				})
				switch relation {
				case RelationUsed:
					span.InputArtifactHashes = appendUniqueHash(span.InputArtifactHashes, p.ObjectArtifactHash)
				case RelationWasGeneratedBy:
					span.OutputArtifactHashes = appendUniqueHash(span.OutputArtifactHashes, p.ObjectArtifactHash)
				}
			}

		case eventlog.ArtifactRef:
			var p eventlog.ArtifactRefPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return Span{}, wrapCorrupted(err, "artifact_ref payload")
			}
			// A bare ArtifactRef (no accompanying Provenance edge) is the
			// span attaching an artifact it holds, so after the loop it
			// counts as an output; Used/WasGeneratedBy edges above already
			// cover the provenance-qualified case.
			if p.SpanID == spanID {
				refHashes = appendUniqueHash(refHashes, p.ArtifactHash)
			}

		default:
			return Span{}, wrapCorrupted(nil, "unrecognized event type: "+string(e.EventType))
		}
	}

	if !started {
		return Span{}, ErrUnknownSpan
	}

	for _, h := range refHashes {
		hasEdge := false
		for _, edge := range span.Provenance {
			if edge.ObjectArtifactHash == h {
				hasEdge = true
				break
			}
		}
		if !hasEdge {
			span.OutputArtifactHashes = appendUniqueHash(span.OutputArtifactHashes, h)
		}
	}

	return span, nil
}
