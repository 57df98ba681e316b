package eventlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jhacksman/compymac-sub001/eventlog"
	"github.com/jhacksman/compymac-sub001/internal"
	"github.com/m-mizutani/gt"
)

func newTestLog(t *testing.T) *eventlog.Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traces.db")
	log, err := eventlog.Open(path)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func spanStartPayload(t *testing.T, spanID string) []byte {
	t.Helper()
	b, err := json.Marshal(eventlog.SpanStartPayload{
		SpanID:  spanID,
		Kind:    "ToolCall",
		Name:    "fs.read",
		ActorID: "executor",
	})
	gt.NoError(t, err)
	return b
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	log := newTestLog(t)
	ctx := internal.TestContext()

	traceID := "trace-1"
	for i := 0; i < 5; i++ {
		seq, err := log.Append(ctx, eventlog.AppendInput{
			EventID:   "event-" + string(rune('a'+i)),
			TraceID:   traceID,
			SpanID:    "span-1",
			EventType: eventlog.SpanStart,
			Timestamp: time.Now(),
			Payload:   spanStartPayload(t, "span-1"),
		})
		gt.NoError(t, err)
		gt.Equal(t, seq, int64(i))
	}

	events, err := log.Query(ctx, traceID, eventlog.QueryOptions{})
	gt.NoError(t, err)
	gt.Equal(t, len(events), 5)
	for i, e := range events {
		gt.Equal(t, e.Seq, int64(i))
	}
}

func TestAppendSeqIsPerTrace(t *testing.T) {
	log := newTestLog(t)
	ctx := internal.TestContext()

	seqA, err := log.Append(ctx, eventlog.AppendInput{
		EventID: "a", TraceID: "trace-a", SpanID: "span-a",
		EventType: eventlog.SpanStart, Timestamp: time.Now(),
		Payload: spanStartPayload(t, "span-a"),
	})
	gt.NoError(t, err)
	gt.Equal(t, seqA, int64(0))

	seqB, err := log.Append(ctx, eventlog.AppendInput{
		EventID: "b", TraceID: "trace-b", SpanID: "span-b",
		EventType: eventlog.SpanStart, Timestamp: time.Now(),
		Payload: spanStartPayload(t, "span-b"),
	})
	gt.NoError(t, err)
	gt.Equal(t, seqB, int64(0))
}

func TestEventsForSpan(t *testing.T) {
	log := newTestLog(t)
	ctx := internal.TestContext()
	traceID := "trace-1"

	_, err := log.Append(ctx, eventlog.AppendInput{
		EventID: "e1", TraceID: traceID, SpanID: "span-1",
		EventType: eventlog.SpanStart, Timestamp: time.Now(),
		Payload: spanStartPayload(t, "span-1"),
	})
	gt.NoError(t, err)

	_, err = log.Append(ctx, eventlog.AppendInput{
		EventID: "e2", TraceID: traceID, SpanID: "span-2",
		EventType: eventlog.SpanStart, Timestamp: time.Now(),
		Payload: spanStartPayload(t, "span-2"),
	})
	gt.NoError(t, err)

	events, err := log.EventsForSpan(ctx, traceID, "span-1")
	gt.NoError(t, err)
	gt.Equal(t, len(events), 1)
	gt.Equal(t, events[0].SpanID, "span-1")
}

func TestQueryFiltersByEventType(t *testing.T) {
	log := newTestLog(t)
	ctx := internal.TestContext()
	traceID := "trace-1"

	_, err := log.Append(ctx, eventlog.AppendInput{
		EventID: "e1", TraceID: traceID, SpanID: "span-1",
		EventType: eventlog.SpanStart, Timestamp: time.Now(),
		Payload: spanStartPayload(t, "span-1"),
	})
	gt.NoError(t, err)

	endPayload, err := json.Marshal(eventlog.SpanEndPayload{SpanID: "span-1", Status: "ok"})
	gt.NoError(t, err)
	_, err = log.Append(ctx, eventlog.AppendInput{
		EventID: "e2", TraceID: traceID, SpanID: "span-1",
		EventType: eventlog.SpanEnd, Timestamp: time.Now(),
		Payload: endPayload,
	})
	gt.NoError(t, err)

	typ := eventlog.SpanEnd
	events, err := log.Query(ctx, traceID, eventlog.QueryOptions{EventType: &typ})
	gt.NoError(t, err)
	gt.Equal(t, len(events), 1)
	gt.Equal(t, events[0].EventType, eventlog.SpanEnd)
}

func TestQuerySinceSeq(t *testing.T) {
	log := newTestLog(t)
	ctx := internal.TestContext()
	traceID := "trace-1"

	var lastSeq int64
	for i := 0; i < 3; i++ {
		seq, err := log.Append(ctx, eventlog.AppendInput{
			EventID: "e", TraceID: traceID, SpanID: "span-1",
			EventType: eventlog.SpanStart, Timestamp: time.Now(),
			Payload: spanStartPayload(t, "span-1"),
		})
		gt.NoError(t, err)
		lastSeq = seq
	}

	since := lastSeq - 1
	events, err := log.Query(ctx, traceID, eventlog.QueryOptions{SinceSeq: &since})
	gt.NoError(t, err)
	gt.Equal(t, len(events), 1)
}

// TestConcurrentAppendsNoWriteLoss checks that with N workers each
// appending K events concurrently, the log ends up with exactly N*K events
// and every seq in [0, N*K) exactly once.
func TestConcurrentAppendsNoWriteLoss(t *testing.T) {
	log := newTestLog(t)
	ctx := internal.TestContext()
	traceID := "trace-contended"

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := log.Append(ctx, eventlog.AppendInput{
					EventID:   "evt",
					TraceID:   traceID,
					SpanID:    "span-1",
					EventType: eventlog.SpanStart,
					Timestamp: time.Now(),
					Payload:   spanStartPayload(t, "span-1"),
				})
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected append error under contention: %v", err)
	}

	events, err := log.Query(ctx, traceID, eventlog.QueryOptions{})
	gt.NoError(t, err)
	gt.Equal(t, len(events), workers*perWorker)

	seen := make(map[int64]bool, len(events))
	for _, e := range events {
		if seen[e.Seq] {
			t.Fatalf("duplicate seq observed: %d", e.Seq)
		}
		seen[e.Seq] = true
	}
	for i := int64(0); i < int64(workers*perWorker); i++ {
		if !seen[i] {
			t.Fatalf("missing seq: %d", i)
		}
	}
}

func TestQueryUnknownTraceReturnsEmpty(t *testing.T) {
	log := newTestLog(t)
	events, err := log.Query(internal.TestContext(), "trace-nonexistent", eventlog.QueryOptions{})
	gt.NoError(t, err)
	gt.Equal(t, len(events), 0)
}

func TestErrorsAreSentinel(t *testing.T) {
	gt.B(t, errors.Is(eventlog.ErrStorageIO, eventlog.ErrStorageIO)).True()
	gt.B(t, errors.Is(eventlog.ErrStorageBusy, eventlog.ErrStorageBusy)).True()
}
