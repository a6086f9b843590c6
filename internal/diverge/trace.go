package diverge

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// TraceEvent is one Chrome trace viewer event. Unused fields marshal away.
type TraceEvent struct {
	Name  string         `json:"name"`
	Phase string         `json:"ph"`
	Ts    uint64         `json:"ts"`
	Dur   uint64         `json:"dur,omitempty"`
	PID   uint32         `json:"pid"`
	TID   uint32         `json:"tid,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
}

// ReadTraceEventsWithPID loads a rank's raw trace events and tags each with
// the rank as pid, so events from different ranks stay distinguishable after
// the merge.
func ReadTraceEventsWithPID(rankDir string, rank uint32) ([]map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(filepath.Join(rankDir, "trace_events.json"))
	if err != nil {
		return nil, fmt.Errorf("reading trace events: %w", err)
	}
	var events []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decoding trace events: %w", err)
	}
	pid, err := json.Marshal(rank)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		ev["pid"] = pid
	}
	return events, nil
}

// graphTID derives a stable thread id for a (rank, graph) lane.
func graphTID(rank uint32, graph string) uint32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%s", rank, graph)
	return h.Sum32()
}

// ceilMicros converts nanoseconds to whole microseconds, rounding up with a
// floor of 1 so zero-length ops stay visible in the trace viewer.
func ceilMicros(ns float64) uint64 {
	us := uint64(math.Ceil(ns / 1000))
	if us == 0 {
		return 1
	}
	return us
}

// BuildRuntimeTraceEvents renders the estimated op runtimes as a synthetic
// trace: one process per rank, one thread per graph, ops laid out
// sequentially within their graph's lane.
func BuildRuntimeTraceEvents(runtimes []GraphRuntime) []TraceEvent {
	sorted := append([]GraphRuntime(nil), runtimes...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].Graph < sorted[j].Graph
	})

	var events []TraceEvent
	seenRanks := make(map[uint32]bool)
	for _, g := range sorted {
		if !seenRanks[g.Rank] {
			seenRanks[g.Rank] = true
			events = append(events, TraceEvent{
				Name:  "process_name",
				Phase: "M",
				PID:   g.Rank,
				Args:  map[string]any{"name": fmt.Sprintf("rank %d", g.Rank)},
			})
		}
		tid := graphTID(g.Rank, g.Graph)
		events = append(events, TraceEvent{
			Name:  "thread_name",
			Phase: "M",
			PID:   g.Rank,
			TID:   tid,
			Args:  map[string]any{"name": g.Graph},
		})
		var ts uint64
		for _, op := range g.Ops {
			dur := ceilMicros(op.EstimatedRuntimeNs)
			events = append(events, TraceEvent{
				Name:  op.Name,
				Phase: "X",
				Ts:    ts,
				Dur:   dur,
				PID:   g.Rank,
				TID:   tid,
			})
			ts += dur
		}
	}
	return events
}
