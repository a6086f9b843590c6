package parse

import (
	"tracelens/internal/envelope"
)

// Parser is one (predicate, handler) entry of the dispatch registry.
//
// Metadata acts as the predicate: it returns the envelope field this parser
// consumes, or nil when the record is not for it. Every registered parser
// whose Metadata is non-nil runs on the record — dispatch is independent
// multi-dispatch, not mutual exclusion. Parse errors are isolated by the
// pass: logged, counted under Name, and the pass moves on.
//
// Implement this interface and pass instances through Options.CustomParsers
// to add analyses without touching this package.
type Parser interface {
	Name() string
	Metadata(e *envelope.Envelope) any
	Parse(lineno int, metadata any, rank *uint32, compileID *envelope.CompileID, payload string) ([]Output, error)
}

// DefaultParsers returns the built-in handler set. Export mode registers only
// the exported-program dump; the export-specific guard analyses are driven
// directly by the pass because they need the pass-scoped expression arena.
func DefaultParsers(export bool) []Parser {
	if export {
		return []Parser{
			&sentinelParser{name: "exported_program", pick: func(e *envelope.Envelope) *envelope.Empty { return e.ExportedProgram }},
		}
	}
	return []Parser{
		&sentinelParser{name: "optimize_ddp_split_graph", pick: func(e *envelope.Envelope) *envelope.Empty { return e.OptimizeDdpSplitGraph }},
		&sentinelParser{name: "compiled_autograd_graph", pick: func(e *envelope.Envelope) *envelope.Empty { return e.CompiledAutogradGraph }},
		&sentinelParser{name: "aot_forward_graph", pick: func(e *envelope.Envelope) *envelope.Empty { return e.AOTForwardGraph }},
		&sentinelParser{name: "aot_backward_graph", pick: func(e *envelope.Envelope) *envelope.Empty { return e.AOTBackwardGraph }},
		&sentinelParser{name: "aot_inference_graph", pick: func(e *envelope.Envelope) *envelope.Empty { return e.AOTInferenceGraph }},
		&sentinelParser{name: "aot_joint_graph", pick: func(e *envelope.Envelope) *envelope.Empty { return e.AOTJointGraph }},
		&sentinelParser{name: "inductor_post_grad_graph", pick: func(e *envelope.Envelope) *envelope.Empty { return e.InductorPostGradGraph }},
		&sentinelParser{name: "inductor_pre_grad_graph", pick: func(e *envelope.Envelope) *envelope.Empty { return e.InductorPreGradGraph }},
		&sentinelParser{name: "dynamo_cpp_guards_str", pick: func(e *envelope.Envelope) *envelope.Empty { return e.DynamoCppGuardsStr }},
		&graphDumpParser{},
		&dynamoOutputGraphParser{},
		&dynamoGuardsParser{},
		&inductorOutputCodeParser{},
		&optimizeDdpSplitChildParser{},
		&bwdCompilationMetricsParser{},
		&aotAutogradBackwardMetricsParser{},
		&linkParser{},
		&artifactParser{},
		&dumpFileParser{},
	}
}
