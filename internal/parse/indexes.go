package parse

import (
	"encoding/json"
	"fmt"
	"strings"

	"tracelens/internal/envelope"
	"tracelens/internal/intern"
)

// indexes is the pass-scoped shared state built up from specific record kinds
// and consumed — in places destructively — by later handlers. It is owned by
// exactly one pass; handlers receive it for the duration of a call and must
// not retain it.
type indexes struct {
	intern *intern.Table

	// stacks maps a compile id bucket key to the stack captured at
	// compilation start.
	stacks map[string]envelope.StackSummary

	// specializations and guardsAddedFast are single-owner arenas keyed by
	// bucket: the compilation metrics handler takes (removes and returns)
	// the entries for its compile id.
	specializations map[string][]envelope.SymbolicShapeSpecialization
	guardsAddedFast map[string][]envelope.GuardAddedFast

	// symExprs is the symbolic expression arena, keyed by node id.
	symExprs map[uint64]*envelope.SymExprInfo
}

func newIndexes(table *intern.Table) *indexes {
	return &indexes{
		intern:          table,
		stacks:          make(map[string]envelope.StackSummary),
		specializations: make(map[string][]envelope.SymbolicShapeSpecialization),
		guardsAddedFast: make(map[string][]envelope.GuardAddedFast),
		symExprs:        make(map[uint64]*envelope.SymExprInfo),
	}
}

func (ix *indexes) takeSpecializations(key string) []envelope.SymbolicShapeSpecialization {
	specs := ix.specializations[key]
	delete(ix.specializations, key)
	return specs
}

func (ix *indexes) takeGuardsAddedFast(key string) []envelope.GuardAddedFast {
	guards := ix.guardsAddedFast[key]
	delete(ix.guardsAddedFast, key)
	return guards
}

// resolvedFrame is the JSON shape of a stack frame with its filename resolved
// through the intern table.
type resolvedFrame struct {
	Filename string  `json:"filename"`
	Line     int     `json:"line"`
	Name     string  `json:"name"`
	Loc      *string `json:"loc,omitempty"`
}

func resolveStack(stack envelope.StackSummary, table *intern.Table) []resolvedFrame {
	frames := make([]resolvedFrame, 0, len(stack))
	for i := range stack {
		f := &stack[i]
		frames = append(frames, resolvedFrame{
			Filename: f.Filename(table),
			Line:     f.Line,
			Name:     f.Name,
			Loc:      f.Loc,
		})
	}
	return frames
}

// convertFrameSuffixes lists the framework wrapper frames trimmed from the
// tail of a compilation-start stack before indexing, so that user code stays
// at the bottom of the rendered stack.
var convertFrameSuffixes = [][][2]string{
	{
		{"torch/_dynamo/convert_frame.py", "catch_errors"},
		{"torch/_dynamo/convert_frame.py", "_convert_frame"},
		{"torch/_dynamo/convert_frame.py", "_convert_frame_assert"},
	},
	{
		{"torch/_dynamo/convert_frame.py", "__call__"},
		{"torch/_dynamo/convert_frame.py", "__call__"},
		{"torch/_dynamo/convert_frame.py", "__call__"},
	},
}

// simplifyFilename strips site-packages style prefixes so suffix matching
// works on installed and in-tree layouts alike.
func simplifyFilename(name string) string {
	for _, marker := range []string{"site-packages/", "dist-packages/"} {
		if i := strings.LastIndex(name, marker); i >= 0 {
			name = name[i+len(marker):]
		}
	}
	return name
}

// trimConvertFrameSuffixes removes known framework wrapper suffixes from the
// stack, at most one per known pattern.
func trimConvertFrameSuffixes(stack envelope.StackSummary, table *intern.Table) envelope.StackSummary {
	for _, target := range convertFrameSuffixes {
		if len(stack) < len(target) {
			continue
		}
		suffix := stack[len(stack)-len(target):]
		match := true
		for i := range suffix {
			if simplifyFilename(suffix[i].Filename(table)) != target[i][0] || suffix[i].Name != target[i][1] {
				match = false
				break
			}
		}
		if match {
			stack = stack[:len(stack)-len(target)]
		}
	}
	return stack
}

// compilationMetricsParser joins one compilation's metrics with the indexed
// stack, the destructively-consumed specialization and guard arenas, and the
// artifact listing the bucket has accumulated so far. It is constructed per
// record because it snapshots the bucket.
type compilationMetricsParser struct {
	indexes     *indexes
	bucketFiles []*OutputFile
}

func (compilationMetricsParser) Name() string { return "compilation_metrics" }

func (p *compilationMetricsParser) Metadata(e *envelope.Envelope) any {
	if e.CompilationMetrics != nil {
		return e.CompilationMetrics
	}
	return nil
}

// stripBucketPrefix removes the leading compile-id directory from an artifact
// URL; the metrics page sits inside that directory already.
func stripBucketPrefix(url string) string {
	if i := strings.IndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}

func (p *compilationMetricsParser) Parse(lineno int, md any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	m, ok := md.(*envelope.CompilationMetrics)
	if !ok {
		return nil, fmt.Errorf("expected compilation_metrics metadata")
	}
	key := UnknownBucket
	id := "(unknown)"
	if cid != nil {
		key = cid.DirectoryName()
		id = cid.String()
	}

	artifacts := make([]*OutputFile, 0, len(p.bucketFiles))
	for _, f := range p.bucketFiles {
		readable := f.ReadableURL
		if readable != nil {
			r := stripBucketPrefix(*readable)
			readable = &r
		}
		artifacts = append(artifacts, &OutputFile{
			URL:         stripBucketPrefix(f.URL),
			Name:        stripBucketPrefix(f.Name),
			Number:      f.Number,
			Suffix:      f.Suffix,
			ReadableURL: readable,
		})
	}

	doc := map[string]any{
		"compile_id": id,
		"metrics":    m.Raw,
		"artifacts":  artifacts,
	}
	if stack, ok := p.indexes.stacks[key]; ok {
		doc["stack"] = resolveStack(stack, p.indexes.intern)
	}
	if specs := p.indexes.takeSpecializations(key); len(specs) > 0 {
		doc["symbolic_shape_specializations"] = resolveSpecializations(specs, p.indexes.intern)
	}
	if guards := p.indexes.takeGuardsAddedFast(key); len(guards) > 0 {
		doc["guards_added_fast"] = resolveGuardsAddedFast(guards, p.indexes.intern)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return simpleFile("compilation_metrics.json", lineno, cid, string(out)), nil
}

func resolveSpecializations(specs []envelope.SymbolicShapeSpecialization, table *intern.Table) []map[string]any {
	out := make([]map[string]any, 0, len(specs))
	for _, s := range specs {
		out = append(out, map[string]any{
			"symbol":     deref(s.Symbol),
			"sources":    s.Sources,
			"value":      deref(s.Value),
			"user_stack": resolveStack(s.UserStack, table),
			"stack":      resolveStack(s.Stack, table),
		})
	}
	return out
}

func resolveGuardsAddedFast(guards []envelope.GuardAddedFast, table *intern.Table) []map[string]any {
	out := make([]map[string]any, 0, len(guards))
	for _, g := range guards {
		out = append(out, map[string]any{
			"expr":       deref(g.Expr),
			"user_stack": resolveStack(g.UserStack, table),
			"stack":      resolveStack(g.Stack, table),
		})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
