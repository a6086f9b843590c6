package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLine = `V0806 14:21:42.600000 1588756 torch/_dynamo/convert_frame.py:1011] {"dynamo_start": {"stack": []}, "rank": 0}`

func TestParseLinePrefix(t *testing.T) {
	prefix, ok := ParseLinePrefix(sampleLine)
	require.True(t, ok)

	assert.Equal(t, byte('V'), prefix.Level)
	assert.Equal(t, 8, prefix.Month)
	assert.Equal(t, 6, prefix.Day)
	assert.Equal(t, 14, prefix.Hour)
	assert.Equal(t, 21, prefix.Minute)
	assert.Equal(t, 42, prefix.Second)
	assert.Equal(t, 600000, prefix.Micros)
	assert.Equal(t, uint64(1588756), prefix.Thread)
	assert.Equal(t, " torch/_dynamo/convert_frame.py", prefix.Pathname)
	assert.Equal(t, 1011, prefix.Line)
	assert.Equal(t, `{"dynamo_start": {"stack": []}, "rank": 0}`, sampleLine[prefix.PayloadStart:])
}

func TestParseLinePrefixWrappedLine(t *testing.T) {
	// Launchers like torchrun prepend their own tag to every line.
	line := `[rank0]: V0806 14:21:42.600000 1588756 f.py:10] {"rank": 0}`
	prefix, ok := ParseLinePrefix(line)
	require.True(t, ok)

	assert.Equal(t, byte('V'), prefix.Level)
	assert.Equal(t, uint64(1588756), prefix.Thread)
	assert.Equal(t, 10, prefix.Line)
	assert.Equal(t, `{"rank": 0}`, line[prefix.PayloadStart:])
}

func TestParseLinePrefixRejects(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"plain_text", "some random log output"},
		{"bad_severity", `X0806 14:21:42.600000 1588756 f.py:1] {}`},
		{"missing_brackets", `V0806 14:21:42.600000 1588756 f.py:1 {}`},
		{"short_micros", `V0806 14:21:42.600 1588756 f.py:1] {}`},
		{"no_payload", `V0806 14:21:42.600000 1588756 f.py:1] `},
		{"continuation", "\t{\"inner\": 1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseLinePrefix(tt.line)
			assert.False(t, ok)
		})
	}
}

func TestTimestamp(t *testing.T) {
	prefix, ok := ParseLinePrefix(sampleLine)
	require.True(t, ok)
	assert.Equal(t, "2024-08-06T14:21:42.600000Z", prefix.Timestamp(2024))
}
