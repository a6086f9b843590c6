package intern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRoundTrip(t *testing.T) {
	table := NewTable()
	table.Insert(0, "alpha")
	table.Insert(3, "beta")

	assert.Equal(t, "alpha", table.Resolve(0))
	assert.Equal(t, "beta", table.Resolve(3))
	assert.Equal(t, 2, table.Len())
}

func TestResolveUnknownID(t *testing.T) {
	table := NewTable()
	table.Insert(1, "only")

	// Missing ids resolve to a sentinel, never an error; a half-written
	// log must not make stack rendering fall over.
	assert.Equal(t, "unknown_7", table.Resolve(7))
}

func TestDense(t *testing.T) {
	tests := []struct {
		name    string
		entries map[uint32]string
		want    []*string
	}{
		{
			name:    "empty",
			entries: nil,
			want:    []*string{nil},
		},
		{
			name:    "contiguous",
			entries: map[uint32]string{0: "a", 1: "b"},
			want:    []*string{ptr("a"), ptr("b")},
		},
		{
			name:    "holes",
			entries: map[uint32]string{0: "a", 3: "d"},
			want:    []*string{ptr("a"), nil, nil, ptr("d")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable()
			for id, s := range tt.entries {
				table.Insert(id, s)
			}
			got := table.Dense()
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				if tt.want[i] == nil {
					assert.Nil(t, got[i], "index %d", i)
				} else {
					require.NotNil(t, got[i], "index %d", i)
					assert.Equal(t, *tt.want[i], *got[i], "index %d", i)
				}
			}
		})
	}
}

func ptr(s string) *string { return &s }
