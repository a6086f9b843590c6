package diverge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	rankLogPrefix = "dedicated_log_torch_trace_rank_"
	rankLogSuffix = ".log"
)

// DiscoverRankLogs finds the per-rank trace logs in dir, keyed by rank
// number. Filenames carry the rank right after the fixed prefix; whatever
// follows the digits (attempt hashes, timestamps) is ignored.
func DiscoverRankLogs(dir string) (map[uint32]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning for rank logs: %w", err)
	}
	logs := make(map[uint32]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, rankLogPrefix) || !strings.HasSuffix(name, rankLogSuffix) {
			continue
		}
		rest := name[len(rankLogPrefix):]
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 {
			continue
		}
		var rank uint32
		if _, err := fmt.Sscanf(rest[:i], "%d", &rank); err != nil {
			continue
		}
		if prev, ok := logs[rank]; ok {
			return nil, fmt.Errorf("rank %d has multiple logs: %s and %s", rank, prev, name)
		}
		logs[rank] = filepath.Join(dir, name)
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("no %s*%s files found in %s", rankLogPrefix, rankLogSuffix, dir)
	}
	return logs, nil
}

// Diagnostics is the cross-rank analysis bundle written as diagnostics.json
// and handed to the renderer.
type Diagnostics struct {
	RunID string   `json:"run_id"`
	Ranks []uint32 `json:"ranks"`

	CacheDivergence      bool    `json:"cache_divergence"`
	CacheGroups          []Group `json:"cache_groups"`
	ScheduleDivergence   bool    `json:"collective_schedule_divergence"`
	ScheduleGroups       []Group `json:"collective_schedule_groups"`
	TensorMetaDivergence bool    `json:"tensor_meta_divergence"`
	TensorMetaGroups     []Group `json:"tensor_meta_groups"`
	CompileIDDivergence  bool    `json:"compile_id_divergence"`
	CompileIDGroups      []Group `json:"compile_id_groups"`

	Runtime RuntimeAnalysis `json:"runtime"`
}

// AnalyzeRanks runs the full cross-rank pass over already-materialized
// rank_<N> report directories under outDir, writes the aggregate artifacts
// next to them, and returns the diagnostics bundle.
func AnalyzeRanks(outDir string, ranks []uint32, runID string, logger *zap.Logger) (*Diagnostics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := append([]uint32(nil), ranks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	cacheSigs := make(map[uint32]string, len(sorted))
	compileIDSigs := make(map[uint32]string, len(sorted))
	scheduleSigs := make(map[uint32]string, len(sorted))
	metaSigs := make(map[uint32]string, len(sorted))
	perRankRuntimes := make(map[uint32][]GraphRuntime, len(sorted))

	var allSchedules []CollectiveSchedule
	var allRuntimes []GraphRuntime
	var allEvents []map[string]json.RawMessage

	for _, rank := range sorted {
		rankDir := filepath.Join(outDir, fmt.Sprintf("rank_%d", rank))

		md, err := ExtractRankMetadata(rankDir, rank)
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", rank, err)
		}
		cacheSigs[rank] = md.CacheSequence
		compileIDSigs[rank] = strings.Join(md.CompileIDs, ",")

		schedules, err := ReadCollectiveSchedules(rankDir, rank)
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", rank, err)
		}
		scheduleSigs[rank] = ScheduleSignature(schedules)
		allSchedules = append(allSchedules, schedules...)

		fingerprints, err := ReadTensorMetaFingerprints(rankDir, rank)
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", rank, err)
		}
		metaSigs[rank] = FingerprintSignature(fingerprints)

		runtimes, err := ReadRuntimeEstimations(rankDir, rank)
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", rank, err)
		}
		perRankRuntimes[rank] = runtimes
		allRuntimes = append(allRuntimes, runtimes...)

		events, err := ReadTraceEventsWithPID(rankDir, rank)
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", rank, err)
		}
		allEvents = append(allEvents, events...)
	}

	diag := &Diagnostics{
		RunID:            runID,
		Ranks:            sorted,
		CacheGroups:      GroupBySignature(cacheSigs),
		ScheduleGroups:   GroupBySignature(scheduleSigs),
		TensorMetaGroups: GroupBySignature(metaSigs),
		CompileIDGroups:  GroupBySignature(compileIDSigs),
		Runtime:          AnalyzeGraphRuntimeDeltas(perRankRuntimes),
	}
	diag.CacheDivergence = Diverged(diag.CacheGroups)
	diag.ScheduleDivergence = Diverged(diag.ScheduleGroups)
	diag.TensorMetaDivergence = Diverged(diag.TensorMetaGroups)
	diag.CompileIDDivergence = Diverged(diag.CompileIDGroups)

	if diag.CacheDivergence || diag.ScheduleDivergence || diag.TensorMetaDivergence || diag.CompileIDDivergence {
		logger.Warn("cross-rank divergence detected",
			zap.Bool("cache", diag.CacheDivergence),
			zap.Bool("collective_schedule", diag.ScheduleDivergence),
			zap.Bool("tensor_meta", diag.TensorMetaDivergence),
			zap.Bool("compile_id", diag.CompileIDDivergence))
	}

	if allSchedules == nil {
		allSchedules = []CollectiveSchedule{}
	}
	if allRuntimes == nil {
		allRuntimes = []GraphRuntime{}
	}
	if allEvents == nil {
		allEvents = []map[string]json.RawMessage{}
	}
	runtimeTrace := BuildRuntimeTraceEvents(allRuntimes)
	if runtimeTrace == nil {
		runtimeTrace = []TraceEvent{}
	}

	outputs := []struct {
		name string
		v    any
	}{
		{"collective_schedules.json", allSchedules},
		{"runtime_estimations.json", allRuntimes},
		{"trace_events.json", allEvents},
		{"trace_with_runtime.json", runtimeTrace},
		{"diagnostics.json", diag},
	}
	for _, out := range outputs {
		data, err := json.MarshalIndent(out.v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("serializing %s: %w", out.name, err)
		}
		if err := os.WriteFile(filepath.Join(outDir, out.name), data, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", out.name, err)
		}
		logger.Debug("wrote aggregate artifact", zap.String("file", out.name))
	}

	return diag, nil
}
