// Package envelope models one decoded trace log record: the fixed-grammar
// line prefix, the JSON metadata object that follows it, and the structured
// compile id key. Exactly which of the optional "kind" fields is populated
// determines which handlers fire on the record; fields this package does not
// know about are captured generically for diagnostics instead of dropped.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Envelope is the decoded JSON object of one log record. Normally zero or one
// kind field is populated; the interpreter runs every handler whose field is
// present, so records carrying several kinds fan out to several handlers.
type Envelope struct {
	Rank       *uint32
	CompileID  *CompileID
	Str        *InternEntry
	HasPayload string // expected MD5 of the continuation payload, hex

	DynamoStart           *DynamoStart
	Stack                 StackSummary
	GraphDump             *GraphDump
	DynamoOutputGraph     *Empty
	DynamoGuards          *Empty
	InductorOutputCode    *InductorOutputCode
	OptimizeDdpSplitGraph *Empty
	OptimizeDdpSplitChild *OptimizeDdpSplitChild
	CompiledAutogradGraph *Empty
	AOTForwardGraph       *Empty
	AOTBackwardGraph      *Empty
	AOTInferenceGraph     *Empty
	AOTJointGraph         *Empty
	InductorPreGradGraph  *Empty
	InductorPostGradGraph *Empty
	DynamoCppGuardsStr    *Empty
	ExportedProgram       *Empty

	CompilationMetrics                    *CompilationMetrics
	BwdCompilationMetrics                 json.RawMessage
	AOTAutogradBackwardCompilationMetrics json.RawMessage

	TraceEvent *Empty
	Link       *LinkMetadata
	Artifact   *ArtifactMetadata
	DumpFile   *DumpFile

	SymbolicShapeSpecialization *SymbolicShapeSpecialization
	GuardAddedFast              *GuardAddedFast
	GuardAdded                  *GuardInfo
	PropagateRealTensors        *GuardInfo
	MissingFakeKernel           *MissingFakeKernel
	MismatchedFakeKernel        *MismatchedFakeKernel
	ExpressionCreated           *SymExprInfo
	CreateUnbackedSymbol        *UnbackedSymbol

	// Other holds fields this build does not recognize, so that newer log
	// producers degrade to a diagnostic instead of silent data loss.
	Other map[string]json.RawMessage

	// Fields retains the raw decoded object for side-log augmentation.
	Fields map[string]json.RawMessage
}

func decodeInto(key string, data json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	return nil
}

// Decode parses the JSON metadata portion of a log line. It fails if the
// payload is not a JSON object or if a recognized field has the wrong shape;
// both cases are counted by the caller as JSON failures.
func Decode(payload []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	e := &Envelope{
		Other:  make(map[string]json.RawMessage),
		Fields: fields,
	}
	for key, raw := range fields {
		var err error
		switch key {
		case "rank":
			err = decodeInto(key, raw, &e.Rank)
		case "compile_id":
			err = decodeInto(key, raw, &e.CompileID)
		case "str":
			err = decodeInto(key, raw, &e.Str)
		case "has_payload":
			err = decodeInto(key, raw, &e.HasPayload)
		case "dynamo_start":
			err = decodeInto(key, raw, &e.DynamoStart)
		case "stack":
			err = decodeInto(key, raw, &e.Stack)
		case "graph_dump":
			err = decodeInto(key, raw, &e.GraphDump)
		case "dynamo_output_graph":
			err = decodeInto(key, raw, &e.DynamoOutputGraph)
		case "dynamo_guards":
			err = decodeInto(key, raw, &e.DynamoGuards)
		case "inductor_output_code":
			err = decodeInto(key, raw, &e.InductorOutputCode)
		case "optimize_ddp_split_graph":
			err = decodeInto(key, raw, &e.OptimizeDdpSplitGraph)
		case "optimize_ddp_split_child":
			err = decodeInto(key, raw, &e.OptimizeDdpSplitChild)
		case "compiled_autograd_graph":
			err = decodeInto(key, raw, &e.CompiledAutogradGraph)
		case "aot_forward_graph":
			err = decodeInto(key, raw, &e.AOTForwardGraph)
		case "aot_backward_graph":
			err = decodeInto(key, raw, &e.AOTBackwardGraph)
		case "aot_inference_graph":
			err = decodeInto(key, raw, &e.AOTInferenceGraph)
		case "aot_joint_graph":
			err = decodeInto(key, raw, &e.AOTJointGraph)
		case "inductor_pre_grad_graph":
			err = decodeInto(key, raw, &e.InductorPreGradGraph)
		case "inductor_post_grad_graph":
			err = decodeInto(key, raw, &e.InductorPostGradGraph)
		case "dynamo_cpp_guards_str":
			err = decodeInto(key, raw, &e.DynamoCppGuardsStr)
		case "exported_program":
			err = decodeInto(key, raw, &e.ExportedProgram)
		case "compilation_metrics":
			err = decodeInto(key, raw, &e.CompilationMetrics)
			if err == nil && e.CompilationMetrics != nil {
				e.CompilationMetrics.Raw = raw
			}
		case "bwd_compilation_metrics":
			e.BwdCompilationMetrics = raw
		case "aot_autograd_backward_compilation_metrics":
			e.AOTAutogradBackwardCompilationMetrics = raw
		case "chromium_event":
			err = decodeInto(key, raw, &e.TraceEvent)
		case "link":
			err = decodeInto(key, raw, &e.Link)
		case "artifact":
			err = decodeInto(key, raw, &e.Artifact)
		case "dump_file":
			err = decodeInto(key, raw, &e.DumpFile)
		case "symbolic_shape_specialization":
			err = decodeInto(key, raw, &e.SymbolicShapeSpecialization)
		case "guard_added_fast":
			err = decodeInto(key, raw, &e.GuardAddedFast)
		case "guard_added":
			err = decodeInto(key, raw, &e.GuardAdded)
		case "propagate_real_tensors_provenance":
			err = decodeInto(key, raw, &e.PropagateRealTensors)
		case "missing_fake_kernel":
			err = decodeInto(key, raw, &e.MissingFakeKernel)
		case "mismatched_fake_kernel":
			err = decodeInto(key, raw, &e.MismatchedFakeKernel)
		case "expression_created":
			err = decodeInto(key, raw, &e.ExpressionCreated)
		case "create_unbacked_symbol":
			err = decodeInto(key, raw, &e.CreateUnbackedSymbol)
		default:
			e.Other[key] = raw
		}
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}
