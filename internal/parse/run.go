package parse

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"tracelens/internal/config"
	"tracelens/internal/envelope"
	"tracelens/internal/intern"
)

// Options configures one interpreter pass over a single rank's log.
type Options struct {
	Config config.ParseConfig

	// CustomParsers run in addition to the default catalog.
	CustomParsers []Parser

	// Progress, when set, is called with (lines processed, total lines).
	Progress func(done, total int)

	Logger *zap.Logger
}

// failureEntry is one row of failures_and_restarts.json.
type failureEntry struct {
	CompileID     string  `json:"compile_id"`
	FailureType   *string `json:"failure_type,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	UserFrame     *string `json:"user_frame,omitempty"`
	RestartReason *string `json:"restart_reason,omitempty"`
}

// exportFailure is one row of export_failures.json.
type exportFailure struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// pass is the state of one single-threaded interpreter run. Everything in it
// is scoped to the run; two logs never share a pass.
type pass struct {
	cfg     config.ParseConfig
	log     *zap.Logger
	parsers []Parser

	intern    *intern.Table
	indexes   *indexes
	directory *Directory
	stats     Stats

	files []File
	seq   int

	expectedRank *uint32
	year         int

	shortraw       []string
	traceEvents    []json.RawMessage
	failures       []failureEntry
	exportFailures []exportFailure
	unknownFields  map[string]struct{}
}

// Run interprets one trace log and returns the files of the rank's report
// directory, all paths relative to the (caller-chosen) output root. Failures
// inside the log never abort the pass; in strict modes they surface as an
// error after every output has been assembled, alongside the files.
func Run(logPath string, opts Options) ([]File, Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("reading log: %w", err)
	}

	table := intern.NewTable()
	p := &pass{
		cfg:           opts.Config,
		log:           logger,
		parsers:       append(DefaultParsers(opts.Config.Export), opts.CustomParsers...),
		intern:        table,
		indexes:       newIndexes(table),
		directory:     NewDirectory(),
		year:          time.Now().Year(),
		unknownFields: make(map[string]struct{}),
	}

	lines := strings.Split(string(raw), "\n")
	for i := 0; i < len(lines); i++ {
		if opts.Progress != nil {
			opts.Progress(i, len(lines))
		}
		i = p.interpret(lines, i)
	}

	if len(p.unknownFields) > 0 {
		names := make([]string, 0, len(p.unknownFields))
		for name := range p.unknownFields {
			names = append(names, name)
		}
		logger.Warn("unrecognized metadata fields", zap.Strings("fields", names))
	}

	if opts.Config.Export {
		if len(p.exportFailures) > 0 {
			p.writeJSON("export_failures.json", p.exportFailures)
			p.addFile("raw.log", string(raw))
			return p.files, p.stats, nil
		}
	}

	p.finish(string(raw))

	logger.Info("pass complete", zap.String("stats", p.stats.String()))

	if opts.Config.Strict {
		if total := p.stats.FailureTotal(); total > 0 {
			return p.files, p.stats, fmt.Errorf("strict mode: %d failures (%s)", total, p.stats.String())
		}
	}
	if opts.Config.StrictCompileID && p.directory.HasUnknown() {
		return p.files, p.stats, fmt.Errorf("strict compile id: records without a compile id were seen")
	}
	return p.files, p.stats, nil
}

// interpret processes the envelope line at index i, consuming any following
// continuation lines, and returns the index of the last line it consumed.
func (p *pass) interpret(lines []string, i int) int {
	line := lines[i]
	lineno := i + 1
	if strings.TrimSpace(line) == "" {
		return i
	}

	prefix, ok := envelope.ParseLinePrefix(line)
	if !ok {
		p.stats.GlogFailures++
		p.log.Debug("line grammar mismatch", zap.Int("lineno", lineno))
		return i
	}

	env, err := envelope.Decode([]byte(line[prefix.PayloadStart:]))
	if err != nil {
		p.stats.JSONFailures++
		p.log.Debug("envelope decode failed", zap.Int("lineno", lineno), zap.Error(err))
		// A record that fails the typed decode may still be a JSON object;
		// it belongs in the side log either way.
		var fields map[string]json.RawMessage
		if json.Unmarshal([]byte(line[prefix.PayloadStart:]), &fields) == nil {
			p.appendShortRaw(fields, prefix, lineno, nil)
		}
		return i
	}

	for name := range env.Other {
		p.stats.UnknownFields++
		p.unknownFields[name] = struct{}{}
	}

	// Intern records are a pure side channel; they carry no payload and
	// are not subject to the rank check.
	if env.Str != nil {
		p.intern.Insert(env.Str.ID, env.Str.Value)
		return i
	}

	// The continuation payload belongs to this record even when the record
	// is later skipped; it must be consumed either way so the following
	// lines are not misread as envelopes.
	payload, end := p.consumePayload(lines, i, env, lineno)
	i = end

	switch {
	case p.expectedRank == nil:
		// Early records may predate distributed init and carry no rank;
		// the first ranked record fixes the pass's rank.
		if env.Rank != nil {
			p.expectedRank = env.Rank
			p.log.Info("rank fixed", zap.Uint32("rank", *env.Rank))
		}
	case env.Rank == nil || *env.Rank != *p.expectedRank:
		p.stats.OtherRank++
		p.appendShortRaw(env.Fields, prefix, lineno, nil)
		return i
	}
	p.stats.OK++

	if env.CompileID != nil {
		env.CompileID.Normalize()
	}

	p.index(env)

	payloadFilename := p.runParsers(env, lineno, payload)

	if env.TraceEvent != nil {
		p.collectTraceEvent(payload, lineno)
		return i
	}

	if payload != "" && payloadFilename == nil {
		// Named by the declared digest, even when the content disagrees.
		fallback := path.Join("payloads", env.HasPayload+".txt")
		p.addFile(fallback, payload)
		payloadFilename = &fallback
	}

	p.appendShortRaw(env.Fields, prefix, lineno, payloadFilename)
	return i
}

// consumePayload gathers the tab-prefixed continuation lines following i,
// verifies them against the declared digest, and returns the payload plus the
// index of the last consumed line.
func (p *pass) consumePayload(lines []string, i int, env *envelope.Envelope, lineno int) (string, int) {
	if env.HasPayload == "" {
		return "", i
	}
	var parts []string
	for i+1 < len(lines) && strings.HasPrefix(lines[i+1], "\t") {
		i++
		parts = append(parts, lines[i][1:])
	}
	payload := strings.Join(parts, "\n")

	expected, err := hex.DecodeString(env.HasPayload)
	sum := md5.Sum([]byte(payload))
	if err != nil || string(expected) != string(sum[:]) {
		p.stats.PayloadMismatches++
		p.log.Warn("payload digest mismatch", zap.Int("lineno", lineno))
	}
	return payload, i
}

// index routes the record into the pass-scoped indexes before dispatch.
func (p *pass) index(env *envelope.Envelope) {
	key := UnknownBucket
	if env.CompileID != nil {
		key = env.CompileID.DirectoryName()
	}

	if env.DynamoStart != nil {
		p.directory.Touch(key)
		if len(env.DynamoStart.Stack) > 0 {
			p.indexes.stacks[key] = trimConvertFrameSuffixes(env.DynamoStart.Stack, p.intern)
		}
	}
	if env.SymbolicShapeSpecialization != nil {
		p.indexes.specializations[key] = append(p.indexes.specializations[key], *env.SymbolicShapeSpecialization)
	}
	if env.GuardAddedFast != nil {
		p.indexes.guardsAddedFast[key] = append(p.indexes.guardsAddedFast[key], *env.GuardAddedFast)
	}

	if !p.cfg.Export {
		return
	}
	if env.ExpressionCreated != nil && env.ExpressionCreated.ResultID != nil {
		p.indexes.symExprs[*env.ExpressionCreated.ResultID] = env.ExpressionCreated
	}
	if env.CreateUnbackedSymbol != nil && env.CreateUnbackedSymbol.NodeID != nil {
		p.indexes.symExprs[*env.CreateUnbackedSymbol.NodeID] = &envelope.SymExprInfo{
			Result:    env.CreateUnbackedSymbol.Symbol,
			UserStack: env.CreateUnbackedSymbol.UserStack,
			Stack:     env.CreateUnbackedSymbol.Stack,
		}
	}
	if env.MissingFakeKernel != nil {
		p.exportFailures = append(p.exportFailures, exportFailure{
			Kind:   "missing_fake_kernel",
			Detail: deref(env.MissingFakeKernel.Op),
		})
	}
	if env.MismatchedFakeKernel != nil {
		p.exportFailures = append(p.exportFailures, exportFailure{
			Kind:   "mismatched_fake_kernel",
			Detail: fmt.Sprintf("%s: %s", deref(env.MismatchedFakeKernel.Op), deref(env.MismatchedFakeKernel.Reason)),
		})
	}
	if env.PropagateRealTensors != nil {
		p.exportFailures = append(p.exportFailures, exportFailure{
			Kind:   "data_dependent_error",
			Detail: deref(env.PropagateRealTensors.Expr),
		})
	}
}

// runParsers dispatches the record to every matching parser; the pass-driven
// handlers that need pass state (compilation metrics, symbolic guards) run
// alongside the stateless catalog. Returns the path of the last file that
// materialized the continuation payload, if any.
func (p *pass) runParsers(env *envelope.Envelope, lineno int, payload string) *string {
	var payloadFilename *string

	run := func(parser Parser, md any) {
		outputs, err := parser.Parse(lineno, md, env.Rank, env.CompileID, payload)
		if err != nil {
			p.stats.ParserFailure(parser.Name())
			p.log.Warn("parser failed",
				zap.String("parser", parser.Name()),
				zap.Int("lineno", lineno),
				zap.Error(err))
			return
		}
		for _, out := range outputs {
			if name := p.materialize(out, env, lineno, payload, parser.Name()); name != nil {
				payloadFilename = name
			}
		}
	}

	for _, parser := range p.parsers {
		if md := parser.Metadata(env); md != nil {
			run(parser, md)
		}
	}

	if env.CompilationMetrics != nil {
		key := UnknownBucket
		if env.CompileID != nil {
			key = env.CompileID.DirectoryName()
		}
		cm := &compilationMetricsParser{
			indexes:     p.indexes,
			bucketFiles: append([]*OutputFile(nil), p.directory.Files(key)...),
		}
		run(cm, env.CompilationMetrics)
		p.collectFailures(env)
	}

	if p.cfg.Export && env.GuardAdded != nil {
		sg := &symbolicGuardParser{indexes: p.indexes}
		run(sg, env.GuardAdded)
	}

	return payloadFilename
}

// materialize applies one parser output: resolves content, assigns the unique
// suffix, records the artifact, and tracks whether the payload was consumed.
func (p *pass) materialize(out Output, env *envelope.Envelope, lineno int, payload, parserName string) *string {
	key := UnknownBucket
	if env.CompileID != nil {
		key = env.CompileID.DirectoryName()
	}

	switch out.Kind {
	case KindLink:
		p.seq++
		p.directory.Append(key, &OutputFile{
			URL:    out.URL,
			Name:   out.Name,
			Number: p.seq,
		})
		return nil
	case KindGlobalFile:
		// Global files keep their verbatim name but still claim an output
		// number and an index entry like any other artifact.
		p.seq++
		p.addFile(out.Path, out.Content)
		p.directory.Append(key, &OutputFile{
			URL:    out.Path,
			Name:   out.Path,
			Number: p.seq,
			Suffix: statusSuffix(path.Base(out.Path)),
		})
		return nil
	}

	content := out.Content
	fromPayload := false
	switch out.Kind {
	case KindPayloadFile:
		content = payload
		fromPayload = true
	case KindPayloadReformatFile:
		reformatted, err := out.Reformat(payload)
		if err != nil {
			p.stats.ParserFailure(parserName)
			p.log.Warn("payload reformat failed",
				zap.String("parser", parserName),
				zap.Int("lineno", lineno),
				zap.Error(err))
			return nil
		}
		content = reformatted
		fromPayload = true
	}

	p.seq++
	finalPath := uniqueSuffix(out.Path, p.seq)
	p.addFile(finalPath, content)

	artifact := &OutputFile{
		URL:    finalPath,
		Name:   finalPath,
		Number: p.seq,
		Suffix: statusSuffix(path.Base(finalPath)),
	}
	if readable := p.readableAlternate(finalPath, content); readable != nil {
		artifact.ReadableURL = readable
	}
	p.directory.Append(key, artifact)

	if fromPayload {
		return &finalPath
	}
	return nil
}

// readableAlternate writes a plain-text twin next to kernel stack trace
// provenance artifacts, whose embedded stacks are unreadable as JSON string
// literals.
func (p *pass) readableAlternate(finalPath, content string) *string {
	base := path.Base(finalPath)
	if !strings.HasPrefix(base, "inductor_provenance_tracking_kernel_stack_traces") ||
		!strings.HasSuffix(base, ".json") {
		return nil
	}
	readablePath := strings.TrimSuffix(finalPath, ".json") + "_readable.txt"
	p.addFile(readablePath, strings.ReplaceAll(content, `\n`, "\n"))
	return &readablePath
}

func (p *pass) collectFailures(env *envelope.Envelope) {
	m := env.CompilationMetrics
	id := "(unknown)"
	if env.CompileID != nil {
		id = env.CompileID.String()
	}
	if m.FailType != nil {
		var frame *string
		if m.FailUserFrameFilename != nil && m.FailUserFrameLineno != nil {
			f := fmt.Sprintf("%s:%d", *m.FailUserFrameFilename, *m.FailUserFrameLineno)
			frame = &f
		}
		p.failures = append(p.failures, failureEntry{
			CompileID:     id,
			FailureType:   m.FailType,
			FailureReason: m.FailReason,
			UserFrame:     frame,
		})
	}
	for i := range m.RestartReasons {
		p.failures = append(p.failures, failureEntry{
			CompileID:     id,
			RestartReason: &m.RestartReasons[i],
		})
	}
}

func (p *pass) collectTraceEvent(payload string, lineno int) {
	var event json.RawMessage
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		p.stats.ParserFailure("trace_event")
		p.log.Warn("trace event payload is not valid JSON", zap.Int("lineno", lineno), zap.Error(err))
		return
	}
	p.traceEvents = append(p.traceEvents, event)
}

// appendShortRaw augments the record's original fields with line provenance
// and queues it for raw.jsonl. A key collision with the original record drops
// the whole line rather than guessing which value wins.
func (p *pass) appendShortRaw(fields map[string]json.RawMessage, prefix *envelope.LinePrefix, lineno int, payloadFilename *string) {
	augmented := make(map[string]json.RawMessage, len(fields)+5)
	for k, v := range fields {
		augmented[k] = v
	}

	extras := map[string]any{
		"timestamp": prefix.Timestamp(p.year),
		"thread":    prefix.Thread,
		"pathname":  prefix.Pathname,
		"lineno":    lineno,
	}
	if payloadFilename != nil {
		extras["payload_filename"] = *payloadFilename
	}
	for k, v := range extras {
		if _, exists := augmented[k]; exists {
			p.stats.KeyConflicts++
			p.log.Warn("side log key conflict", zap.String("key", k), zap.Int("lineno", lineno))
			return
		}
		raw, err := json.Marshal(v)
		if err != nil {
			p.stats.SerializationFailures++
			return
		}
		augmented[k] = raw
	}

	line, err := json.Marshal(augmented)
	if err != nil {
		p.stats.SerializationFailures++
		p.log.Warn("side log serialization failed", zap.Int("lineno", lineno), zap.Error(err))
		return
	}
	p.shortraw = append(p.shortraw, string(line))
}

// finish assembles the pass-end side outputs.
func (p *pass) finish(raw string) {
	index, err := p.directory.MarshalIndex()
	if err != nil {
		p.stats.SerializationFailures++
	} else {
		p.addFile("compile_directory.json", string(index))
	}

	if p.failures == nil {
		p.failures = []failureEntry{}
	}
	if p.traceEvents == nil {
		p.traceEvents = []json.RawMessage{}
	}
	p.writeJSON("failures_and_restarts.json", p.failures)
	p.writeJSON("trace_events.json", p.traceEvents)
	p.addFile("raw.log", raw)

	var b strings.Builder
	stringTable, err := json.Marshal(map[string][]*string{"string_table": p.intern.Dense()})
	if err != nil {
		p.stats.SerializationFailures++
	} else {
		b.Write(stringTable)
		b.WriteByte('\n')
	}
	for _, line := range p.shortraw {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	p.addFile("raw.jsonl", b.String())
}

func (p *pass) writeJSON(name string, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		p.stats.SerializationFailures++
		p.log.Warn("output serialization failed", zap.String("file", name), zap.Error(err))
		return
	}
	p.addFile(name, string(out))
}

func (p *pass) addFile(path, content string) {
	p.files = append(p.files, File{Path: path, Content: content})
}
