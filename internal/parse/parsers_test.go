package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelens/internal/envelope"
	"tracelens/internal/intern"
)

func TestArtifactParserEncodings(t *testing.T) {
	p := &artifactParser{}
	compileID := &envelope.CompileID{}

	outputs, err := p.Parse(1, &envelope.ArtifactMetadata{Name: "notes", Encoding: "string"}, nil, compileID, "")
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, KindPayloadFile, outputs[0].Kind)
	assert.Equal(t, "-_-_-_-/notes.txt", outputs[0].Path)

	outputs, err = p.Parse(1, &envelope.ArtifactMetadata{Name: "meta", Encoding: "json"}, nil, compileID, "")
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, KindPayloadReformatFile, outputs[0].Kind)
	assert.Equal(t, "-_-_-_-/meta.json", outputs[0].Path)

	_, err = p.Parse(1, &envelope.ArtifactMetadata{Name: "blob", Encoding: "base85"}, nil, compileID, "")
	assert.Error(t, err)
}

func TestInductorOutputCodeNaming(t *testing.T) {
	p := &inductorOutputCodeParser{}

	tests := []struct {
		name     string
		filename *string
		want     string
	}{
		{"no_filename", nil, "inductor_output_code.txt"},
		{"with_filename", str("/tmp/torchinductor/ck/ckrrwz3.py"), "inductor_output_code_ckrrwz3.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputs, err := p.Parse(7, &envelope.InductorOutputCode{Filename: tt.filename}, nil, nil, "code")
			require.NoError(t, err)
			require.Len(t, outputs, 1)
			assert.Equal(t, "unknown_7/"+tt.want, outputs[0].Path)
		})
	}
}

func TestDumpFileParser(t *testing.T) {
	p := &dumpFileParser{}

	outputs, err := p.Parse(1, &envelope.DumpFile{Name: "module.eval_with_key_3.code"}, nil, nil, "x = 1\ny = 2")
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, KindGlobalFile, outputs[0].Kind)
	assert.Equal(t, "dump_file/eval_with_key_3.txt", outputs[0].Path)
	assert.Equal(t, "L1: x = 1\nL2: y = 2\n", outputs[0].Content)
}

func TestFormatJSONPretty(t *testing.T) {
	got, err := formatJSONPretty(`{"b":1,"a":[2,3]}`)
	require.NoError(t, err)
	assert.Contains(t, got, "\n  \"a\"")

	// Non-JSON payloads pass through untouched.
	got, err = formatJSONPretty("plain text")
	require.NoError(t, err)
	assert.Equal(t, "plain text", got)
}

func TestTrimConvertFrameSuffixes(t *testing.T) {
	table := intern.NewTable()
	table.Insert(0, "site-packages/torch/_dynamo/convert_frame.py")
	table.Insert(1, "train.py")

	frame := func(file uint32, name string) envelope.Frame {
		return envelope.Frame{InternedFilename: file, Name: name}
	}

	stack := envelope.StackSummary{
		frame(1, "main"),
		frame(0, "catch_errors"),
		frame(0, "_convert_frame"),
		frame(0, "_convert_frame_assert"),
	}
	trimmed := trimConvertFrameSuffixes(stack, table)
	require.Len(t, trimmed, 1)
	assert.Equal(t, "main", trimmed[0].Name)

	// A stack without the wrapper suffix is left alone.
	plain := envelope.StackSummary{frame(1, "main"), frame(1, "helper")}
	assert.Len(t, trimConvertFrameSuffixes(plain, table), 2)
}

func TestSymbolicGuardExpressionTree(t *testing.T) {
	ix := newIndexes(intern.NewTable())
	ix.symExprs[1] = &envelope.SymExprInfo{Result: str("s0 + s1"), Method: str("add"), ArgumentIDs: []uint64{2, 3}}
	ix.symExprs[2] = &envelope.SymExprInfo{Result: str("s0")}
	// Node 3 references node 2 again; the walk must not loop.
	ix.symExprs[3] = &envelope.SymExprInfo{Result: str("s1"), ArgumentIDs: []uint64{2, 1}}

	tree := buildExprTree(ix, 1, make(map[uint64]bool))
	require.NotNil(t, tree)
	assert.Equal(t, "s0 + s1", tree.Result)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "s0", tree.Children[0].Result)
	assert.Equal(t, "s1", tree.Children[1].Result)
	// The cycle back to node 1 terminates as a leaf.
	for _, child := range tree.Children[1].Children {
		if child.Result == "s0 + s1" {
			assert.Empty(t, child.Children)
		}
	}
}
