// Package tracediff implements a read-only differential-analysis
// projection over two traces recorded in the same store. It answers the
// question a rollout-selection workflow asks after running several
// independent attempts at the same goal: where did these executions
// first diverge, and which one did better overall.
package tracediff

import (
	"context"
	"time"

	tracestore "github.com/jhacksman/compymac-sub001"
)

// Divergence describes the first point at which two traces' span
// sequences disagree.
type Divergence struct {
	Index  int // position in both traces' span orderings; equals the shorter trace's length when only the lengths differ
	Reason string
	SpanA  *tracestore.Span
	SpanB  *tracestore.Span
}

// Report is the outcome of comparing two traces.
type Report struct {
	TraceAID string
	TraceBID string

	SpanCountA int
	SpanCountB int

	ErrorCountA int
	ErrorCountB int

	DurationA time.Duration
	DurationB time.Duration

	// FirstDivergence is nil only if both traces have the same number of
	// spans and every pair matches by kind, name, and actor.
	FirstDivergence *Divergence
}

// ScoreA ranks trace A for rollout selection: higher is better. The score
// is 100 minus 5 per errored span, floored at 0; a trace with no spans
// scores 0. Only errors are penalized.
func (r *Report) ScoreA() float64 { return score(r.SpanCountA, r.ErrorCountA) }

// ScoreB is ScoreA's counterpart for trace B.
func (r *Report) ScoreB() float64 { return score(r.SpanCountB, r.ErrorCountB) }

func score(spanCount, errorCount int) float64 {
	if spanCount == 0 {
		return 0
	}
	s := 100.0
	s -= float64(errorCount) * 5.0
	if s < 0 {
		return 0
	}
	return s
}

// Compare walks both traces' spans in first-event seq order and reports
// their first divergence, plus each trace's error count and the duration
// of its longest single span.
func Compare(ctx context.Context, ts *tracestore.TraceStore, traceAID, traceBID string) (*Report, error) {
	spansA, err := ts.GetTraceSpans(ctx, traceAID)
	if err != nil {
		return nil, err
	}
	spansB, err := ts.GetTraceSpans(ctx, traceBID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		TraceAID:   traceAID,
		TraceBID:   traceBID,
		SpanCountA: len(spansA),
		SpanCountB: len(spansB),
	}

	for _, s := range spansA {
		if s.Status == tracestore.SpanStatusError {
			report.ErrorCountA++
		}
		if d := s.Duration(); d > report.DurationA {
			report.DurationA = d
		}
	}
	for _, s := range spansB {
		if s.Status == tracestore.SpanStatusError {
			report.ErrorCountB++
		}
		if d := s.Duration(); d > report.DurationB {
			report.DurationB = d
		}
	}

	n := len(spansA)
	if len(spansB) < n {
		n = len(spansB)
	}

	for i := 0; i < n; i++ {
		a, b := spansA[i], spansB[i]
		if a.Kind != b.Kind || a.Name != b.Name || a.ActorID != b.ActorID {
			report.FirstDivergence = &Divergence{
				Index:  i,
				Reason: "kind/name/actor mismatch",
				SpanA:  &spansA[i],
				SpanB:  &spansB[i],
			}
			return report, nil
		}
	}

	if len(spansA) != len(spansB) {
		report.FirstDivergence = &Divergence{
			Index:  n,
			Reason: "trace lengths differ past the common prefix",
		}
	}

	return report, nil
}
