package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKinds(t *testing.T) {
	env, err := Decode([]byte(`{"dynamo_start": {"stack": [{"filename": 2, "line": 10, "name": "fn"}]}, "rank": 1, "compile_id": {"frame_id": 0, "frame_compile_id": 0, "attempt": 0}}`))
	require.NoError(t, err)

	require.NotNil(t, env.Rank)
	assert.Equal(t, uint32(1), *env.Rank)
	require.NotNil(t, env.CompileID)
	require.NotNil(t, env.DynamoStart)
	require.Len(t, env.DynamoStart.Stack, 1)
	assert.Equal(t, uint32(2), env.DynamoStart.Stack[0].InternedFilename)
	assert.Empty(t, env.Other)
}

func TestDecodeInternEntry(t *testing.T) {
	env, err := Decode([]byte(`{"str": ["torch/nn/module.py", 42]}`))
	require.NoError(t, err)

	require.NotNil(t, env.Str)
	assert.Equal(t, "torch/nn/module.py", env.Str.Value)
	assert.Equal(t, uint32(42), env.Str.ID)
}

func TestDecodeUnknownFieldCapture(t *testing.T) {
	env, err := Decode([]byte(`{"rank": 0, "brand_new_kind": {"x": 1}, "another": true}`))
	require.NoError(t, err)

	assert.Len(t, env.Other, 2)
	assert.Contains(t, env.Other, "brand_new_kind")
	assert.Contains(t, env.Other, "another")
	// The raw object is retained in full for side-log augmentation.
	assert.Len(t, env.Fields, 3)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not_json", `this is not json`},
		{"not_object", `[1, 2, 3]`},
		{"bad_known_field_shape", `{"rank": "zero"}`},
		{"bad_intern_entry", `{"str": ["only-one-element"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestDecodeCompilationMetricsKeepsRaw(t *testing.T) {
	raw := `{"co_name": "forward", "fail_type": "Unsupported", "some_counter": 99}`
	env, err := Decode([]byte(`{"compilation_metrics": ` + raw + `}`))
	require.NoError(t, err)

	require.NotNil(t, env.CompilationMetrics)
	assert.Equal(t, "Unsupported", *env.CompilationMetrics.FailType)
	assert.JSONEq(t, raw, string(env.CompilationMetrics.Raw))
}

func TestFrameFilenameResolution(t *testing.T) {
	uninterned := "inline.py"
	frame := Frame{InternedFilename: 5, UninternedFilename: &uninterned}
	// The inline filename wins over the intern reference when both exist.
	assert.Equal(t, "inline.py", frame.Filename(nil))
}
