package envelope

import (
	"encoding/json"
	"fmt"

	"tracelens/internal/intern"
)

// Empty is the metadata for record kinds that carry everything in the
// continuation payload; the field itself is just a sentinel `{}`.
type Empty struct{}

// InternEntry is the side-channel string interning record, logged as a
// two-element array `["the string", id]`.
type InternEntry struct {
	Value string
	ID    uint32
}

// UnmarshalJSON decodes the `[string, id]` pair form.
func (ie *InternEntry) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("intern entry: expected 2 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &ie.Value); err != nil {
		return fmt.Errorf("intern entry value: %w", err)
	}
	if err := json.Unmarshal(parts[1], &ie.ID); err != nil {
		return fmt.Errorf("intern entry id: %w", err)
	}
	return nil
}

// Frame is one entry of a logged stack summary. The filename is usually an
// intern table reference; old log producers inline it instead.
type Frame struct {
	InternedFilename   uint32  `json:"filename"`
	UninternedFilename *string `json:"uninterned_filename,omitempty"`
	Line               int     `json:"line"`
	Name               string  `json:"name"`
	Loc                *string `json:"loc,omitempty"`
}

// Filename resolves the frame's filename through the pass intern table.
func (f *Frame) Filename(table *intern.Table) string {
	if f.UninternedFilename != nil {
		return *f.UninternedFilename
	}
	return table.Resolve(f.InternedFilename)
}

// StackSummary is an ordered outermost-first stack.
type StackSummary []Frame

// DynamoStart marks the beginning of a frame compilation and carries the user
// stack at that point.
type DynamoStart struct {
	Stack StackSummary `json:"stack,omitempty"`
}

// GraphDump is a generically named graph artifact.
type GraphDump struct {
	Name string `json:"name"`
}

// InductorOutputCode points at the generated code file for a graph.
type InductorOutputCode struct {
	Filename *string `json:"filename,omitempty"`
}

// OptimizeDdpSplitChild names one child submodule of a DDP-split graph.
type OptimizeDdpSplitChild struct {
	Name string `json:"name"`
}

// LinkMetadata is an external reference to surface in the compile directory.
type LinkMetadata struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ArtifactMetadata describes a free-form named artifact whose body rides in
// the continuation payload.
type ArtifactMetadata struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
}

// DumpFile names a source dump whose body rides in the continuation payload.
type DumpFile struct {
	Name string `json:"name"`
}

// CompilationMetrics is decoded only for the handful of fields the pass
// inspects; the full object is re-emitted verbatim from Raw.
type CompilationMetrics struct {
	CoName                *string  `json:"co_name,omitempty"`
	CoFilename            *string  `json:"co_filename,omitempty"`
	CoFirstlineno         *int     `json:"co_firstlineno,omitempty"`
	FailType              *string  `json:"fail_type,omitempty"`
	FailReason            *string  `json:"fail_reason,omitempty"`
	FailUserFrameFilename *string  `json:"fail_user_frame_filename,omitempty"`
	FailUserFrameLineno   *int     `json:"fail_user_frame_lineno,omitempty"`
	RestartReasons        []string `json:"restart_reasons,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// SymbolicShapeSpecialization records a symbolic dimension collapsing to a
// concrete value; consumed destructively by the compilation metrics handler.
type SymbolicShapeSpecialization struct {
	Symbol    *string      `json:"symbol,omitempty"`
	Sources   []string     `json:"sources,omitempty"`
	Value     *string      `json:"value,omitempty"`
	UserStack StackSummary `json:"user_stack,omitempty"`
	Stack     StackSummary `json:"stack,omitempty"`
}

// GuardAddedFast records a fast-path guard; consumed destructively by the
// compilation metrics handler.
type GuardAddedFast struct {
	Expr      *string      `json:"expr,omitempty"`
	UserStack StackSummary `json:"user_stack,omitempty"`
	Stack     StackSummary `json:"stack,omitempty"`
}

// GuardInfo covers guard_added and propagate_real_tensors_provenance records.
type GuardInfo struct {
	Expr        *string                    `json:"expr,omitempty"`
	Result      *string                    `json:"result,omitempty"`
	Prefix      *string                    `json:"prefix,omitempty"`
	ExprNodeID  *uint64                    `json:"expr_node_id,omitempty"`
	UserStack   StackSummary               `json:"user_stack,omitempty"`
	Stack       StackSummary               `json:"stack,omitempty"`
	FrameLocals map[string]json.RawMessage `json:"frame_locals,omitempty"`
}

// SymExprInfo describes one node of the symbolic expression arena.
type SymExprInfo struct {
	Result      *string      `json:"result,omitempty"`
	ResultID    *uint64      `json:"result_id,omitempty"`
	Method      *string      `json:"method,omitempty"`
	Arguments   []string     `json:"arguments,omitempty"`
	ArgumentIDs []uint64     `json:"argument_ids,omitempty"`
	UserStack   StackSummary `json:"user_stack,omitempty"`
	Stack       StackSummary `json:"stack,omitempty"`
}

// UnbackedSymbol records creation of an unbacked symbol; it enters the
// symbolic expression arena under its node id.
type UnbackedSymbol struct {
	Symbol    *string      `json:"symbol,omitempty"`
	NodeID    *uint64      `json:"node_id,omitempty"`
	UserStack StackSummary `json:"user_stack,omitempty"`
	Stack     StackSummary `json:"stack,omitempty"`
}

// MissingFakeKernel flags an operator without a fake kernel implementation.
type MissingFakeKernel struct {
	Op *string `json:"op,omitempty"`
}

// MismatchedFakeKernel flags an operator whose fake kernel disagrees with the
// real one.
type MismatchedFakeKernel struct {
	Op     *string `json:"op,omitempty"`
	Reason *string `json:"reason,omitempty"`
}

// DynamoGuard is one guard entry of a dynamo_guards payload.
type DynamoGuard struct {
	Code string `json:"code"`
}
