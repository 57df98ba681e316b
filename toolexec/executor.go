package toolexec

import (
	"context"
	"errors"

	tracestore "github.com/jhacksman/compymac-sub001"
	"github.com/jhacksman/compymac-sub001/tracectx"
	"github.com/m-mizutani/ctxlog"
	"golang.org/x/sync/errgroup"
)

// ErrCancelled is returned in a Result's Err field (and as
// ExecuteParallel's own error) when the executor is cancelled mid-batch.
var ErrCancelled = errors.New("parallel execution cancelled")

// Harness is the external tool-invocation contract. The core does not
// know how any tool works; it only classifies and traces calls, then
// dispatches them through Harness. Implementations must be safe for
// concurrent use, since ParallelExecutor invokes them from multiple
// workers.
type Harness interface {
	Invoke(ctx context.Context, call ToolCall) ([]byte, error)
}

// Result is one call's outcome, always returned in the input batch's
// order regardless of completion order.
type Result struct {
	Call   ToolCall
	SpanID string
	Output []byte
	Err    error
}

// ParallelExecutor dispatches a batch of tool calls with the maximum
// concurrency each call's ConflictClass allows, through trace contexts
// forked per worker.
type ParallelExecutor struct {
	harness    Harness
	parent     *tracectx.TraceContext
	model      *ToolConflictModel
	maxWorkers int
}

// NewParallelExecutor constructs a ParallelExecutor. maxWorkers bounds
// concurrency within any single layer; layers larger than maxWorkers are
// chunked internally by errgroup's SetLimit.
func NewParallelExecutor(harness Harness, parent *tracectx.TraceContext, model *ToolConflictModel, maxWorkers int) *ParallelExecutor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &ParallelExecutor{harness: harness, parent: parent, model: model, maxWorkers: maxWorkers}
}

// ExecuteParallel classifies calls, partitions them into conflict-free
// layers, and dispatches each layer in turn. If ctx is cancelled
// mid-layer, in-flight workers close their spans with status=Cancelled,
// already-completed spans in that layer are unaffected, and subsequent
// layers are never started.
func (p *ParallelExecutor) ExecuteParallel(ctx context.Context, calls []ToolCall, parentSpanID string) ([]Result, error) {
	layers := layer(calls, p.model.Classify)
	results := make([]Result, len(calls))

	for _, idxs := range layers {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.maxWorkers)

		for _, idx := range idxs {
			idx := idx
			call := calls[idx]
			g.Go(func() error {
				fork := p.parent.Fork(parentSpanID)
				results[idx] = p.runOne(gctx, fork, call)
				return nil
			})
		}

		// g.Wait's own error is always nil: runOne never returns an error
		// to the errgroup, since an individual tool failure must not
		// cancel its layer-mates. Only genuine context cancellation
		// (checked below) stops subsequent layers.
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return results, ErrCancelled
		}
	}

	return results, nil
}

func (p *ParallelExecutor) runOne(ctx context.Context, fork *tracectx.TraceContext, call ToolCall) Result {
	// Trace writes use a detached context: a span must be durably closed
	// even when ctx (the caller's cancellation signal) is already done.
	traceCtx := context.Background()

	toolProv := &tracestore.ToolProvenance{ToolName: call.ToolName}
	spanID, err := fork.StartSpan(traceCtx, tracestore.SpanKindToolCall, call.ToolName, "executor", nil, toolProv, call.ArgsJSON)
	if err != nil {
		return Result{Call: call, Err: err}
	}

	if len(call.ArgsJSON) > 0 {
		if inputArtifact, err := fork.StoreArtifact(traceCtx, call.ArgsJSON, "tool_input", "application/json", nil); err == nil {
			_ = fork.AddProvenance(traceCtx, spanID, tracestore.RelationUsed, inputArtifact.Hash, "")
		}
	}

	output, invokeErr := p.harness.Invoke(ctx, call)

	if ctx.Err() != nil {
		_ = fork.EndSpan(traceCtx, tracestore.SpanStatusCancelled, "", "", "")
		return Result{Call: call, SpanID: spanID, Err: errors.Join(ErrCancelled, ctx.Err())}
	}

	if invokeErr != nil {
		errClass := "ToolError"
		if errors.Is(invokeErr, context.DeadlineExceeded) {
			errClass = "Timeout"
		}
		ctxlog.From(traceCtx).Warn("tool invocation failed", "tool_name", call.ToolName, "span_id", spanID, "error", invokeErr)
		_ = fork.EndSpan(traceCtx, tracestore.SpanStatusError, errClass, invokeErr.Error(), "")
		return Result{Call: call, SpanID: spanID, Err: invokeErr}
	}

	var outputHash string
	if len(output) > 0 {
		if outputArtifact, err := fork.StoreArtifact(traceCtx, output, "tool_output", "application/octet-stream", nil); err == nil {
			outputHash = outputArtifact.Hash
			_ = fork.AddProvenance(traceCtx, spanID, tracestore.RelationWasGeneratedBy, outputArtifact.Hash, "")
		}
	}

	if err := fork.EndSpan(traceCtx, tracestore.SpanStatusOk, "", "", outputHash); err != nil {
		return Result{Call: call, SpanID: spanID, Err: err}
	}

	return Result{Call: call, SpanID: spanID, Output: output}
}
