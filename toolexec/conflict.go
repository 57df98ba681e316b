// Package toolexec implements ParallelExecutor and ToolConflictModel:
// conflict-aware parallel dispatch of a batch of tool invocations, each
// traced through a forked tracectx.TraceContext.
package toolexec

// ConflictClass is the result of classifying one tool call.
type ConflictClass struct {
	kind conflictKind
	key  string // meaningful only when kind == classExclusivePerKey
}

type conflictKind int

const (
	classParallelSafe conflictKind = iota
	classExclusivePerKey
	classExclusiveGlobal
)

// ParallelSafe classifies a read-only call over disjoint or idempotent
// state: it may run alongside anything.
func ParallelSafe() ConflictClass { return ConflictClass{kind: classParallelSafe} }

// ExclusivePerKey classifies a call that may run in parallel with other
// tools, but not with another invocation sharing the same key (e.g. a
// normalized file path for a write).
func ExclusivePerKey(key string) ConflictClass {
	return ConflictClass{kind: classExclusivePerKey, key: key}
}

// ExclusiveGlobal classifies a call that must be serialized with every
// other ExclusiveGlobal invocation (e.g. a stateful shell session).
func ExclusiveGlobal() ConflictClass { return ConflictClass{kind: classExclusiveGlobal} }

// conflictsWith reports whether a and b may not run concurrently.
func (a ConflictClass) conflictsWith(b ConflictClass) bool {
	if a.kind == classExclusiveGlobal && b.kind == classExclusiveGlobal {
		return true
	}
	if a.kind == classExclusivePerKey && b.kind == classExclusivePerKey {
		// Both ExclusivePerKey: conflict only if they share a key.
		return a.key == b.key
	}
	return false
}

// ToolCall is one invocation to classify and dispatch.
type ToolCall struct {
	ToolName string
	Args     map[string]any
	ArgsJSON []byte // raw JSON; when non-empty, stored as a tool_input artifact with a Used edge on the call's span, and passed to StartSpan for ArgSchema validation
}

// Classifier assigns a ConflictClass to a ToolCall. Implementations are
// supplied by the collaborator embedding toolexec, since only it knows
// tool semantics (classification is typically by tool name plus
// arguments, e.g. a Write tool keyed by the path it writes).
type Classifier func(call ToolCall) ConflictClass

// ToolConflictModel wraps a Classifier with the batch-level scheduling
// helper kept as a test convenience; the scheduler itself never calls it.
type ToolConflictModel struct {
	Classify Classifier
}

// NewToolConflictModel returns a ToolConflictModel using classify.
func NewToolConflictModel(classify Classifier) *ToolConflictModel {
	return &ToolConflictModel{Classify: classify}
}

// CanRunParallel reports whether every call in batch is pairwise
// non-conflicting. The scheduler itself never consults this: it operates
// directly on classes via layering. This is a convenience query for
// tests and callers that want a quick yes/no without dispatching.
func (m *ToolConflictModel) CanRunParallel(batch []ToolCall) bool {
	classes := make([]ConflictClass, len(batch))
	for i, call := range batch {
		classes[i] = m.Classify(call)
	}
	for i := range classes {
		for j := i + 1; j < len(classes); j++ {
			if classes[i].conflictsWith(classes[j]) {
				return false
			}
		}
	}
	return true
}

// layer partitions batch into conflict-free layers via greedy graph
// coloring: each call joins the first existing layer with no conflicting
// member, or starts a new layer. Order within and across layers follows
// input batch position, keeping the partition deterministic for a given
// input batch order.
func layer(batch []ToolCall, classify Classifier) [][]int {
	classes := make([]ConflictClass, len(batch))
	for i, call := range batch {
		classes[i] = classify(call)
	}

	var layers [][]int
	for i := range batch {
		placed := false
		for l := range layers {
			conflict := false
			for _, j := range layers[l] {
				if classes[i].conflictsWith(classes[j]) {
					conflict = true
					break
				}
			}
			if !conflict {
				layers[l] = append(layers[l], i)
				placed = true
				break
			}
		}
		if !placed {
			layers = append(layers, []int{i})
		}
	}
	return layers
}
