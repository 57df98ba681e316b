package toolexec_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tracestore "github.com/jhacksman/compymac-sub001"
	"github.com/jhacksman/compymac-sub001/internal"
	"github.com/jhacksman/compymac-sub001/tracectx"
	"github.com/jhacksman/compymac-sub001/toolexec"
	"github.com/m-mizutani/gt"
)

// recordingHarness tracks concurrent-invocation overlap per key so tests
// can assert conflicting calls never actually ran at the same time.
type recordingHarness struct {
	mu       sync.Mutex
	active   map[string]int
	overlaps []string
	delay    time.Duration
	block    chan struct{} // closed to release held calls, for cancellation tests
}

func newRecordingHarness(delay time.Duration) *recordingHarness {
	return &recordingHarness{active: make(map[string]int), delay: delay}
}

func keyOf(call toolexec.ToolCall) string {
	if k, ok := call.Args["key"].(string); ok {
		return k
	}
	return call.ToolName
}

func (h *recordingHarness) Invoke(ctx context.Context, call toolexec.ToolCall) ([]byte, error) {
	k := keyOf(call)
	h.mu.Lock()
	for other, count := range h.active {
		if other == k && count > 0 && call.ToolName == "Write" {
			h.overlaps = append(h.overlaps, k)
		}
	}
	h.active[k]++
	h.mu.Unlock()

	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
		h.mu.Lock()
		h.active[k]--
		h.mu.Unlock()
		return nil, ctx.Err()
	}

	h.mu.Lock()
	h.active[k]--
	h.mu.Unlock()

	return []byte(fmt.Sprintf("result:%s", call.ToolName)), nil
}

func classifyByToolName(call toolexec.ToolCall) toolexec.ConflictClass {
	switch call.ToolName {
	case "Read":
		return toolexec.ParallelSafe()
	case "Write":
		return toolexec.ExclusivePerKey(keyOf(call))
	case "Shell":
		return toolexec.ExclusiveGlobal()
	default:
		return toolexec.ParallelSafe()
	}
}

func newTestExecutor(t *testing.T, harness toolexec.Harness, maxWorkers int) *toolexec.ParallelExecutor {
	t.Helper()
	ts, _, err := tracestore.Open(filepath.Join(t.TempDir(), "store"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })

	traceID, err := ts.NewTrace()
	gt.NoError(t, err)
	parent := tracectx.New(ts, traceID)

	model := toolexec.NewToolConflictModel(classifyByToolName)
	return toolexec.NewParallelExecutor(harness, parent, model, maxWorkers)
}

func TestConflictSchedulingSeparatesSameKeyWrites(t *testing.T) {
	// Batch [Read(a), Write(p), Write(p), Read(b)]: the two same-key writes
	// must never overlap each other, while the reads may run alongside both.
	harness := newRecordingHarness(20 * time.Millisecond)
	exec := newTestExecutor(t, harness, 4)

	calls := []toolexec.ToolCall{
		{ToolName: "Read", Args: map[string]any{"key": "a"}},
		{ToolName: "Write", Args: map[string]any{"key": "p"}},
		{ToolName: "Write", Args: map[string]any{"key": "p"}},
		{ToolName: "Read", Args: map[string]any{"key": "b"}},
	}

	results, err := exec.ExecuteParallel(internal.TestContext(), calls, "")
	gt.NoError(t, err)
	gt.Equal(t, len(results), 4)

	for i, r := range results {
		gt.NoError(t, r.Err)
		gt.Equal(t, string(r.Output), fmt.Sprintf("result:%s", calls[i].ToolName))
	}

	gt.Equal(t, len(harness.overlaps), 0)
}

func TestCanRunParallelReflectsConflicts(t *testing.T) {
	model := toolexec.NewToolConflictModel(classifyByToolName)

	safe := []toolexec.ToolCall{
		{ToolName: "Read", Args: map[string]any{"key": "a"}},
		{ToolName: "Read", Args: map[string]any{"key": "b"}},
	}
	gt.B(t, model.CanRunParallel(safe)).True()

	conflicting := []toolexec.ToolCall{
		{ToolName: "Write", Args: map[string]any{"key": "p"}},
		{ToolName: "Write", Args: map[string]any{"key": "p"}},
	}
	gt.B(t, model.CanRunParallel(conflicting)).False()
}

func TestExclusiveGlobalBatchCompletesWithoutErrors(t *testing.T) {
	harness := newRecordingHarness(20 * time.Millisecond)
	exec := newTestExecutor(t, harness, 8)

	calls := []toolexec.ToolCall{
		{ToolName: "Shell", Args: map[string]any{"key": "s1"}},
		{ToolName: "Shell", Args: map[string]any{"key": "s2"}},
		{ToolName: "Read", Args: map[string]any{"key": "a"}},
	}

	results, err := exec.ExecuteParallel(internal.TestContext(), calls, "")
	gt.NoError(t, err)
	gt.Equal(t, len(results), 3)
	for _, r := range results {
		gt.NoError(t, r.Err)
	}
}

func TestResultsPreserveInputOrder(t *testing.T) {
	harness := newRecordingHarness(time.Millisecond)
	exec := newTestExecutor(t, harness, 4)

	calls := make([]toolexec.ToolCall, 0, 8)
	for i := 0; i < 8; i++ {
		calls = append(calls, toolexec.ToolCall{ToolName: "Read", Args: map[string]any{"key": fmt.Sprintf("k%d", i)}})
	}

	results, err := exec.ExecuteParallel(internal.TestContext(), calls, "")
	gt.NoError(t, err)
	for i, r := range results {
		gt.Equal(t, r.Call.Args["key"], calls[i].Args["key"])
	}
}

func TestCancellationClosesInFlightSpansAsCancelled(t *testing.T) {
	// Every span opened by an in-flight worker must still close durably,
	// with status Cancelled, once the caller's context is done.
	harness := newRecordingHarness(200 * time.Millisecond)
	ts, _, err := tracestore.Open(filepath.Join(t.TempDir(), "store"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })

	traceID, err := ts.NewTrace()
	gt.NoError(t, err)
	parent := tracectx.New(ts, traceID)
	model := toolexec.NewToolConflictModel(classifyByToolName)
	exec := toolexec.NewParallelExecutor(harness, parent, model, 4)

	calls := []toolexec.ToolCall{
		{ToolName: "Read", Args: map[string]any{"key": "a"}},
		{ToolName: "Read", Args: map[string]any{"key": "b"}},
		{ToolName: "Read", Args: map[string]any{"key": "c"}},
	}

	ctx, cancel := context.WithTimeout(internal.TestContext(), 20*time.Millisecond)
	defer cancel()

	results, err := exec.ExecuteParallel(ctx, calls, "")
	gt.B(t, err != nil).True()

	for _, r := range results {
		if r.SpanID == "" {
			continue
		}
		span, err := ts.ReconstructSpan(internal.TestContext(), traceID, r.SpanID)
		gt.NoError(t, err)
		gt.Equal(t, span.Status, tracestore.SpanStatusCancelled)
	}
}

func TestSubsequentLayersNotStartedAfterCancellation(t *testing.T) {
	harness := newRecordingHarness(100 * time.Millisecond)
	ts, _, err := tracestore.Open(filepath.Join(t.TempDir(), "store"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })

	traceID, err := ts.NewTrace()
	gt.NoError(t, err)
	parent := tracectx.New(ts, traceID)
	model := toolexec.NewToolConflictModel(classifyByToolName)
	exec := toolexec.NewParallelExecutor(harness, parent, model, 4)

	// Two Writes to the same key force at least two layers.
	calls := []toolexec.ToolCall{
		{ToolName: "Write", Args: map[string]any{"key": "p"}},
		{ToolName: "Write", Args: map[string]any{"key": "p"}},
	}

	var invocations int32
	countingHarness := countFunc(func(ctx context.Context, call toolexec.ToolCall) ([]byte, error) {
		atomic.AddInt32(&invocations, 1)
		return harness.Invoke(ctx, call)
	})
	exec = toolexec.NewParallelExecutor(countingHarness, parent, model, 4)

	ctx, cancel := context.WithTimeout(internal.TestContext(), 30*time.Millisecond)
	defer cancel()

	_, err = exec.ExecuteParallel(ctx, calls, "")
	gt.B(t, err != nil).True()
	gt.B(t, atomic.LoadInt32(&invocations) <= 1).True()
}

type countFunc func(ctx context.Context, call toolexec.ToolCall) ([]byte, error)

func (f countFunc) Invoke(ctx context.Context, call toolexec.ToolCall) ([]byte, error) {
	return f(ctx, call)
}
