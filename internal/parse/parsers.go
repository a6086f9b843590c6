package parse

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"tracelens/internal/envelope"
)

// compileIDDir returns the output subdirectory for a record: the normalized
// compile id's directory name, or a line-keyed unknown directory.
func compileIDDir(lineno int, cid *envelope.CompileID) string {
	if cid == nil {
		return fmt.Sprintf("unknown_%d", lineno)
	}
	return cid.DirectoryName()
}

func buildFilePath(filename string, lineno int, cid *envelope.CompileID) string {
	return path.Join(compileIDDir(lineno, cid), filename)
}

func payloadFile(filename string, lineno int, cid *envelope.CompileID) []Output {
	return []Output{PayloadFileOutput(buildFilePath(filename, lineno, cid))}
}

func simpleFile(filename string, lineno int, cid *envelope.CompileID, content string) []Output {
	return []Output{FileOutput(buildFilePath(filename, lineno, cid), content)}
}

func payloadReformatFile(filename string, lineno int, cid *envelope.CompileID, fn ReformatFunc) []Output {
	return []Output{PayloadReformatOutput(buildFilePath(filename, lineno, cid), fn)}
}

// formatJSONPretty re-indents a JSON payload; a payload that is not JSON is
// passed through untouched.
func formatJSONPretty(payload string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return payload, nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// sentinelParser handles record kinds whose metadata is an empty sentinel and
// whose interesting bytes ride in the continuation payload.
type sentinelParser struct {
	name string
	pick func(e *envelope.Envelope) *envelope.Empty
}

func (p *sentinelParser) Name() string { return p.name }

func (p *sentinelParser) Metadata(e *envelope.Envelope) any {
	if m := p.pick(e); m != nil {
		return m
	}
	return nil
}

func (p *sentinelParser) Parse(lineno int, _ any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	return payloadFile(p.name+".txt", lineno, cid), nil
}

type graphDumpParser struct{}

func (graphDumpParser) Name() string { return "graph_dump" }

func (graphDumpParser) Metadata(e *envelope.Envelope) any {
	if e.GraphDump != nil {
		return e.GraphDump
	}
	return nil
}

func (graphDumpParser) Parse(lineno int, md any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	m, ok := md.(*envelope.GraphDump)
	if !ok {
		return nil, fmt.Errorf("expected graph_dump metadata")
	}
	return payloadFile(m.Name+".txt", lineno, cid), nil
}

type dynamoOutputGraphParser struct{}

func (dynamoOutputGraphParser) Name() string { return "dynamo_output_graph" }

func (dynamoOutputGraphParser) Metadata(e *envelope.Envelope) any {
	if e.DynamoOutputGraph != nil {
		return e.DynamoOutputGraph
	}
	return nil
}

func (dynamoOutputGraphParser) Parse(lineno int, _ any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	return payloadFile("dynamo_output_graph.txt", lineno, cid), nil
}

// dynamoGuardsParser validates the guards payload and re-emits it as indented
// JSON. A malformed guards payload is this parser's failure, counted under
// its own name like any other handler error.
type dynamoGuardsParser struct{}

func (dynamoGuardsParser) Name() string { return "dynamo_guards" }

func (dynamoGuardsParser) Metadata(e *envelope.Envelope) any {
	if e.DynamoGuards != nil {
		return e.DynamoGuards
	}
	return nil
}

func (dynamoGuardsParser) Parse(lineno int, _ any, _ *uint32, cid *envelope.CompileID, payload string) ([]Output, error) {
	var guards []envelope.DynamoGuard
	if err := json.Unmarshal([]byte(payload), &guards); err != nil {
		return nil, fmt.Errorf("guards json: %w", err)
	}
	out, err := json.MarshalIndent(guards, "", "  ")
	if err != nil {
		return nil, err
	}
	return simpleFile("dynamo_guards.json", lineno, cid, string(out)), nil
}

// inductorOutputCodeParser dumps generated code, named after the code file's
// stem when the log provides one. Rendering with syntax highlighting belongs
// to the external report renderer; the pass always keeps plain text.
type inductorOutputCodeParser struct{}

func (inductorOutputCodeParser) Name() string { return "inductor_output_code" }

func (inductorOutputCodeParser) Metadata(e *envelope.Envelope) any {
	if e.InductorOutputCode != nil {
		return e.InductorOutputCode
	}
	return nil
}

func (inductorOutputCodeParser) Parse(lineno int, md any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	m, ok := md.(*envelope.InductorOutputCode)
	if !ok {
		return nil, fmt.Errorf("expected inductor_output_code metadata")
	}
	filename := "inductor_output_code.txt"
	if m.Filename != nil {
		base := path.Base(*m.Filename)
		stem := strings.TrimSuffix(base, path.Ext(base))
		if stem != "" {
			filename = fmt.Sprintf("inductor_output_code_%s.txt", stem)
		}
	}
	return payloadFile(filename, lineno, cid), nil
}

type optimizeDdpSplitChildParser struct{}

func (optimizeDdpSplitChildParser) Name() string { return "optimize_ddp_split_child" }

func (optimizeDdpSplitChildParser) Metadata(e *envelope.Envelope) any {
	if e.OptimizeDdpSplitChild != nil {
		return e.OptimizeDdpSplitChild
	}
	return nil
}

func (optimizeDdpSplitChildParser) Parse(lineno int, md any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	m, ok := md.(*envelope.OptimizeDdpSplitChild)
	if !ok {
		return nil, fmt.Errorf("expected optimize_ddp_split_child metadata")
	}
	return payloadFile(fmt.Sprintf("optimize_ddp_split_child_%s.txt", m.Name), lineno, cid), nil
}

type linkParser struct{}

func (linkParser) Name() string { return "link" }

func (linkParser) Metadata(e *envelope.Envelope) any {
	if e.Link != nil {
		return e.Link
	}
	return nil
}

func (linkParser) Parse(_ int, md any, _ *uint32, _ *envelope.CompileID, _ string) ([]Output, error) {
	m, ok := md.(*envelope.LinkMetadata)
	if !ok {
		return nil, fmt.Errorf("expected link metadata")
	}
	return []Output{LinkOutput(m.Name, m.URL)}, nil
}

// artifactParser handles the open-ended named-artifact kind: string-encoded
// payloads become .txt files, json-encoded payloads are re-indented.
type artifactParser struct{}

func (artifactParser) Name() string { return "artifact" }

func (artifactParser) Metadata(e *envelope.Envelope) any {
	if e.Artifact != nil {
		return e.Artifact
	}
	return nil
}

func (artifactParser) Parse(lineno int, md any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	m, ok := md.(*envelope.ArtifactMetadata)
	if !ok {
		return nil, fmt.Errorf("expected artifact metadata")
	}
	switch m.Encoding {
	case "string":
		return payloadFile(m.Name+".txt", lineno, cid), nil
	case "json":
		return payloadReformatFile(m.Name+".json", lineno, cid, formatJSONPretty), nil
	default:
		return nil, fmt.Errorf("unsupported artifact encoding %q", m.Encoding)
	}
}

var evalWithKeyRe = regexp.MustCompile(`eval_with_key_(\d+)`)

// dumpFileParser emits source dumps as global files keyed by name so that
// repeated dumps of the same module overwrite instead of multiplying.
type dumpFileParser struct{}

func (dumpFileParser) Name() string { return "dump_file" }

func (dumpFileParser) Metadata(e *envelope.Envelope) any {
	if e.DumpFile != nil {
		return e.DumpFile
	}
	return nil
}

func (dumpFileParser) Parse(_ int, md any, _ *uint32, _ *envelope.CompileID, payload string) ([]Output, error) {
	m, ok := md.(*envelope.DumpFile)
	if !ok {
		return nil, fmt.Errorf("expected dump_file metadata")
	}
	filename := m.Name + ".txt"
	if matches := evalWithKeyRe.FindStringSubmatch(m.Name); matches != nil {
		filename = fmt.Sprintf("eval_with_key_%s.txt", matches[1])
	}
	return []Output{GlobalFileOutput(path.Join("dump_file", filename), anchorSource(payload))}, nil
}

// anchorSource prefixes each payload line with its 1-based line number so the
// dump stays navigable without the HTML renderer.
func anchorSource(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "L%d: %s\n", i+1, line)
	}
	return b.String()
}

// bwdCompilationMetricsParser re-emits backward compilation metrics verbatim
// as indented JSON.
type bwdCompilationMetricsParser struct{}

func (bwdCompilationMetricsParser) Name() string { return "bwd_compilation_metrics" }

func (bwdCompilationMetricsParser) Metadata(e *envelope.Envelope) any {
	if e.BwdCompilationMetrics != nil {
		return e.BwdCompilationMetrics
	}
	return nil
}

func (bwdCompilationMetricsParser) Parse(lineno int, md any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	return rawMetricsFile("bwd_compilation_metrics", lineno, cid, md)
}

type aotAutogradBackwardMetricsParser struct{}

func (aotAutogradBackwardMetricsParser) Name() string {
	return "aot_autograd_backward_compilation_metrics"
}

func (aotAutogradBackwardMetricsParser) Metadata(e *envelope.Envelope) any {
	if e.AOTAutogradBackwardCompilationMetrics != nil {
		return e.AOTAutogradBackwardCompilationMetrics
	}
	return nil
}

func (aotAutogradBackwardMetricsParser) Parse(lineno int, md any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	return rawMetricsFile("aot_autograd_backward_compilation_metrics", lineno, cid, md)
}

func rawMetricsFile(name string, lineno int, cid *envelope.CompileID, md any) ([]Output, error) {
	raw, ok := md.(json.RawMessage)
	if !ok {
		return nil, fmt.Errorf("expected %s metadata", name)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s json: %w", name, err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return simpleFile(name+".json", lineno, cid, string(out)), nil
}
