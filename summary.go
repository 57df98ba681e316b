package tracestore

import (
	"context"
	"time"

	"github.com/jhacksman/compymac-sub001/trace"
)

// TraceSummary is an aggregate, read-only projection over a trace's spans,
// the kind of view an auditor or the tracectl CLI wants without walking
// every span individually.
type TraceSummary struct {
	TraceID    string
	SpanCount  int
	ErrorCount int
	StartedAt  time.Time
	EndedAt    time.Time // zero if any span in the trace is still open
}

// SummaryEventLog is a read-only aggregation layer over a TraceStore. It
// never mutates trace state; every method recomputes its projection from
// GetTraceSpans.
type SummaryEventLog struct {
	ts *TraceStore
}

// NewSummaryEventLog returns a SummaryEventLog backed by ts.
func NewSummaryEventLog(ts *TraceStore) *SummaryEventLog {
	return &SummaryEventLog{ts: ts}
}

// Summary returns aggregate counts and the trace's wall-clock span.
func (s *SummaryEventLog) Summary(ctx context.Context, traceID string) (TraceSummary, error) {
	spans, err := s.ts.GetTraceSpans(ctx, traceID)
	if err != nil {
		return TraceSummary{}, err
	}

	summary := TraceSummary{TraceID: traceID, SpanCount: len(spans)}
	open := false
	for i, span := range spans {
		if span.Status == SpanStatusError {
			summary.ErrorCount++
		}
		if i == 0 || span.StartedAt.Before(summary.StartedAt) {
			summary.StartedAt = span.StartedAt
		}
		if span.EndedAt.IsZero() {
			open = true
			continue
		}
		if span.EndedAt.After(summary.EndedAt) {
			summary.EndedAt = span.EndedAt
		}
	}
	if open {
		summary.EndedAt = time.Time{}
	}
	return summary, nil
}

// ToolCalls returns every ToolCall-kind span in the trace, in the order
// GetTraceSpans produces them (first-event seq order).
func (s *SummaryEventLog) ToolCalls(ctx context.Context, traceID string) ([]Span, error) {
	spans, err := s.ts.GetTraceSpans(ctx, traceID)
	if err != nil {
		return nil, err
	}
	var calls []Span
	for _, span := range spans {
		if span.Kind == SpanKindToolCall {
			calls = append(calls, span)
		}
	}
	return calls, nil
}

// Export writes a JSON snapshot of every span in traceID via repo. The
// snapshot is a read-side projection only: the EventLog remains the sole
// durable source of truth, and the same snapshot can always be
// regenerated by calling Export again.
func (s *SummaryEventLog) Export(ctx context.Context, traceID string, repo trace.Repository) error {
	spans, err := s.ts.GetTraceSpans(ctx, traceID)
	if err != nil {
		return err
	}

	records := make([]trace.SpanRecord, 0, len(spans))
	for _, span := range spans {
		records = append(records, trace.SpanRecord{
			SpanID:               span.SpanID,
			ParentSpanID:         span.ParentSpanID,
			Kind:                 string(span.Kind),
			Name:                 span.Name,
			ActorID:              span.ActorID,
			Attributes:           span.Attributes,
			StartedAt:            span.StartedAt,
			EndedAt:              span.EndedAt,
			Status:               string(span.Status),
			ErrorClass:           span.ErrorClass,
			ErrorMessage:         span.ErrorMessage,
			OutputArtifactHash:   span.OutputArtifactHash,
			InputArtifactHashes:  span.InputArtifactHashes,
			OutputArtifactHashes: span.OutputArtifactHashes,
		})
	}

	return repo.Save(ctx, &trace.Export{TraceID: traceID, Spans: records})
}

// Errors returns every span in the trace whose terminal status is Error.
func (s *SummaryEventLog) Errors(ctx context.Context, traceID string) ([]Span, error) {
	spans, err := s.ts.GetTraceSpans(ctx, traceID)
	if err != nil {
		return nil, err
	}
	var errored []Span
	for _, span := range spans {
		if span.Status == SpanStatusError {
			errored = append(errored, span)
		}
	}
	return errored, nil
}
