package diverge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGroupBySignature(t *testing.T) {
	tests := []struct {
		name       string
		signatures map[uint32]string
		want       []Group
		diverged   bool
	}{
		{
			name:       "all_equal",
			signatures: map[uint32]string{0: "miss,hit", 1: "miss,hit"},
			want:       []Group{{Signature: "miss,hit", Ranks: []uint32{0, 1}}},
			diverged:   false,
		},
		{
			name:       "split",
			signatures: map[uint32]string{2: "a", 0: "a", 1: "b"},
			want: []Group{
				{Signature: "a", Ranks: []uint32{0, 2}},
				{Signature: "b", Ranks: []uint32{1}},
			},
			diverged: true,
		},
		{
			name:       "empty",
			signatures: nil,
			want:       []Group{},
			diverged:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GroupBySignature(tt.signatures)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("groups mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.diverged, Diverged(got))
		})
	}
}

func graphs(ns ...float64) []GraphRuntime {
	out := make([]GraphRuntime, 0, len(ns))
	for i, n := range ns {
		out = append(out, GraphRuntime{
			Graph: fmt.Sprintf("-_%d_0_0", i),
			Ops:   []OpRuntime{{Name: "op", EstimatedRuntimeNs: n}},
		})
	}
	return out
}

func TestAnalyzeGraphRuntimeDeltas(t *testing.T) {
	analysis := AnalyzeGraphRuntimeDeltas(map[uint32][]GraphRuntime{
		0: graphs(100000),
		1: graphs(300000),
	})

	require.False(t, analysis.Mismatched)
	require.Len(t, analysis.Graphs, 1)
	d := analysis.Graphs[0]
	assert.Equal(t, uint32(0), d.FastestRank)
	assert.Equal(t, 0.1, d.FastestMs)
	assert.Equal(t, uint32(1), d.SlowestRank)
	assert.Equal(t, 0.3, d.SlowestMs)
	assert.Equal(t, 0.2, d.DeltaMs)
}

func TestAnalyzeGraphRuntimeDeltasMismatchedCounts(t *testing.T) {
	analysis := AnalyzeGraphRuntimeDeltas(map[uint32][]GraphRuntime{
		0: graphs(100000, 200000),
		1: graphs(300000),
	})

	assert.True(t, analysis.Mismatched)
	assert.Empty(t, analysis.Graphs)
}

func TestAnalyzeGraphRuntimeDeltasTies(t *testing.T) {
	analysis := AnalyzeGraphRuntimeDeltas(map[uint32][]GraphRuntime{
		0: graphs(100000),
		1: graphs(100000),
		2: graphs(100000),
	})

	require.Len(t, analysis.Graphs, 1)
	d := analysis.Graphs[0]
	// On a full tie the highest rank takes both titles.
	assert.Equal(t, uint32(2), d.FastestRank)
	assert.Equal(t, uint32(2), d.SlowestRank)
	assert.Zero(t, d.DeltaMs)
}

func TestGraphRuntimeDeltaRounding(t *testing.T) {
	analysis := AnalyzeGraphRuntimeDeltas(map[uint32][]GraphRuntime{
		0: graphs(0),
		1: graphs(1234567),
	})

	require.Len(t, analysis.Graphs, 1)
	assert.Equal(t, 1.235, analysis.Graphs[0].DeltaMs)
}

func TestGraphTIDDeterminism(t *testing.T) {
	a := graphTID(0, "-_0_0_0")
	b := graphTID(0, "-_0_0_0")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, graphTID(1, "-_0_0_0"))
	assert.NotEqual(t, a, graphTID(0, "-_1_0_0"))
}

func TestBuildRuntimeTraceEvents(t *testing.T) {
	events := BuildRuntimeTraceEvents([]GraphRuntime{
		{
			Rank:  0,
			Graph: "-_0_0_0",
			Ops: []OpRuntime{
				{Name: "all_reduce", EstimatedRuntimeNs: 2500},
				{Name: "mm", EstimatedRuntimeNs: 100},
			},
		},
	})

	require.Len(t, events, 4) // process meta, thread meta, two ops
	assert.Equal(t, "process_name", events[0].Name)
	assert.Equal(t, "thread_name", events[1].Name)

	first, second := events[2], events[3]
	assert.Equal(t, "all_reduce", first.Name)
	assert.Equal(t, uint64(0), first.Ts)
	assert.Equal(t, uint64(3), first.Dur) // 2500ns rounds up to 3us
	assert.Equal(t, "mm", second.Name)
	assert.Equal(t, uint64(3), second.Ts)
	assert.Equal(t, uint64(1), second.Dur) // floor of 1us keeps it visible
	assert.Equal(t, first.TID, second.TID)
}

// writeRankDir materializes a minimal rank report directory for the post-hoc
// readers.
func writeRankDir(t *testing.T, root string, rank uint32, cacheSuffix string, ops []map[string]any, schedule []string) string {
	t.Helper()
	rankDir := filepath.Join(root, fmt.Sprintf("rank_%d", rank))
	bucket := "-_0_0_0"
	require.NoError(t, os.MkdirAll(filepath.Join(rankDir, bucket), 0o755))

	runtimeName := fmt.Sprintf("%s/inductor_runtime_and_tensor_meta_cache_%s_1.json", bucket, cacheSuffix)
	runtimeDoc, err := json.Marshal(map[string]any{"ops": ops})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rankDir, filepath.FromSlash(runtimeName)), runtimeDoc, 0o644))

	scheduleName := bucket + "/inductor_collective_schedule_2.json"
	scheduleDoc, err := json.Marshal(schedule)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rankDir, filepath.FromSlash(scheduleName)), scheduleDoc, 0o644))

	index := map[string]directoryEntry{
		bucket: {Artifacts: []artifactRef{
			{URL: runtimeName, Name: runtimeName, Number: 1, Suffix: cacheSuffix},
			{URL: scheduleName, Name: scheduleName, Number: 2},
		}},
	}
	indexDoc, err := json.Marshal(index)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rankDir, "compile_directory.json"), indexDoc, 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(rankDir, "trace_events.json"),
		[]byte(`[{"name": "compile", "ph": "B", "ts": 1}]`), 0o644))
	return rankDir
}

func op(runtimeNs float64, shape string) map[string]any {
	return map[string]any{
		"name":                 "all_reduce",
		"estimated_runtime_ns": runtimeNs,
		"tensor_meta":          map[string]any{"shape": shape, "dtype": "float32"},
	}
}

func TestExtractRankMetadata(t *testing.T) {
	root := t.TempDir()
	rankDir := writeRankDir(t, root, 0, "hit", []map[string]any{op(100, "8x8")}, []string{"all_reduce"})

	md, err := ExtractRankMetadata(rankDir, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"-_0_0_0"}, md.CompileIDs)
	assert.Equal(t, "hit", md.CacheSequence)
}

func TestTensorMetaFingerprintIgnoresFormatting(t *testing.T) {
	root := t.TempDir()

	// Same tensor metadata, different key order and spacing.
	dirA := filepath.Join(root, "a")
	require.NoError(t, os.MkdirAll(filepath.Join(dirA, "-_0_0_0"), 0o755))
	writeFingerprintFixture(t, dirA, `{"ops": [{"name": "all_reduce", "estimated_runtime_ns": 1, "tensor_meta": {"shape": "8x8", "dtype": "float32"}}]}`)

	dirB := filepath.Join(root, "b")
	require.NoError(t, os.MkdirAll(filepath.Join(dirB, "-_0_0_0"), 0o755))
	writeFingerprintFixture(t, dirB, `{"ops":[{"name":"all_reduce","estimated_runtime_ns":1,"tensor_meta":{"dtype":"float32","shape":"8x8"}}]}`)

	fpA, err := ReadTensorMetaFingerprints(dirA, 0)
	require.NoError(t, err)
	fpB, err := ReadTensorMetaFingerprints(dirB, 1)
	require.NoError(t, err)
	assert.Equal(t, fpA["-_0_0_0"], fpB["-_0_0_0"])
}

func writeFingerprintFixture(t *testing.T, rankDir, content string) {
	t.Helper()
	name := "-_0_0_0/inductor_runtime_and_tensor_meta_1.json"
	require.NoError(t, os.WriteFile(filepath.Join(rankDir, filepath.FromSlash(name)), []byte(content), 0o644))
	index := map[string]directoryEntry{
		"-_0_0_0": {Artifacts: []artifactRef{{URL: name, Name: name, Number: 1}}},
	}
	doc, err := json.Marshal(index)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rankDir, "compile_directory.json"), doc, 0o644))
}

func TestAnalyzeRanks(t *testing.T) {
	root := t.TempDir()
	writeRankDir(t, root, 0, "miss", []map[string]any{op(100000, "8x8")}, []string{"all_reduce", "all_gather"})
	writeRankDir(t, root, 1, "hit", []map[string]any{op(300000, "8x8")}, []string{"all_reduce", "all_gather"})

	diag, err := AnalyzeRanks(root, []uint32{0, 1}, "test-run", nil)
	require.NoError(t, err)

	assert.Equal(t, "test-run", diag.RunID)
	assert.Equal(t, []uint32{0, 1}, diag.Ranks)

	// Cache sequences differ, everything else agrees.
	assert.True(t, diag.CacheDivergence)
	assert.Len(t, diag.CacheGroups, 2)
	assert.False(t, diag.ScheduleDivergence)
	assert.False(t, diag.TensorMetaDivergence)
	assert.False(t, diag.CompileIDDivergence)

	require.Len(t, diag.Runtime.Graphs, 1)
	assert.Equal(t, 0.2, diag.Runtime.Graphs[0].DeltaMs)

	for _, name := range []string{
		"diagnostics.json",
		"runtime_estimations.json",
		"collective_schedules.json",
		"trace_events.json",
		"trace_with_runtime.json",
	} {
		_, err := os.Stat(filepath.Join(root, name))
		assert.NoError(t, err, name)
	}

	// The merged raw trace carries each rank as its pid.
	raw, err := os.ReadFile(filepath.Join(root, "trace_events.json"))
	require.NoError(t, err)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(raw, &events))
	require.Len(t, events, 2)
	pids := map[float64]bool{}
	for _, ev := range events {
		pids[ev["pid"].(float64)] = true
	}
	assert.True(t, pids[0] && pids[1])
}

func TestDiscoverRankLogs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"dedicated_log_torch_trace_rank_0_abc123.log",
		"dedicated_log_torch_trace_rank_1_def456.log",
		"unrelated.log",
		"dedicated_log_torch_trace_rank_2.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(""), 0o644))
	}

	logs, err := DiscoverRankLogs(dir)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Contains(t, logs[0], "rank_0_abc123")
	assert.Contains(t, logs[1], "rank_1_def456")
}

func TestDiscoverRankLogsDuplicateRank(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"dedicated_log_torch_trace_rank_0_a.log",
		"dedicated_log_torch_trace_rank_0_b.log",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(""), 0o644))
	}

	_, err := DiscoverRankLogs(dir)
	assert.Error(t, err)
}

func TestDiscoverRankLogsEmpty(t *testing.T) {
	_, err := DiscoverRankLogs(t.TempDir())
	assert.Error(t, err)
}
