package diverge

import (
	"math"
	"sort"
)

// GraphRuntimeDelta is the cross-rank runtime spread of one graph.
type GraphRuntimeDelta struct {
	Graph       string  `json:"graph"`
	FastestRank uint32  `json:"fastest_rank"`
	FastestMs   float64 `json:"fastest_ms"`
	SlowestRank uint32  `json:"slowest_rank"`
	SlowestMs   float64 `json:"slowest_ms"`
	DeltaMs     float64 `json:"delta_ms"`
}

// RuntimeAnalysis is the cross-rank runtime comparison result. Mismatched is
// set when ranks compiled different numbers of graphs, in which case no
// per-graph comparison is meaningful and Graphs is empty.
type RuntimeAnalysis struct {
	Graphs     []GraphRuntimeDelta `json:"graphs"`
	Mismatched bool                `json:"mismatched"`
}

func roundMs(ns float64) float64 {
	return math.Round(ns/1e6*1000) / 1000
}

// AnalyzeGraphRuntimeDeltas aligns each rank's graphs by position and reports
// the fastest and slowest rank per graph. When several ranks tie, the highest
// rank number wins both titles; with a tie the choice is arbitrary anyway and
// keeping it fixed keeps output diffable.
func AnalyzeGraphRuntimeDeltas(perRank map[uint32][]GraphRuntime) RuntimeAnalysis {
	if len(perRank) == 0 {
		return RuntimeAnalysis{Graphs: []GraphRuntimeDelta{}}
	}

	ranks := make([]uint32, 0, len(perRank))
	for rank := range perRank {
		ranks = append(ranks, rank)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })

	count := len(perRank[ranks[0]])
	for _, rank := range ranks {
		if len(perRank[rank]) != count {
			return RuntimeAnalysis{Graphs: []GraphRuntimeDelta{}, Mismatched: true}
		}
	}

	deltas := make([]GraphRuntimeDelta, 0, count)
	for i := 0; i < count; i++ {
		d := GraphRuntimeDelta{Graph: perRank[ranks[0]][i].Graph}
		first := true
		var minNs, maxNs float64
		for _, rank := range ranks {
			total := perRank[rank][i].TotalNs()
			if first || total <= minNs {
				minNs = total
				d.FastestRank = rank
			}
			if first || total >= maxNs {
				maxNs = total
				d.SlowestRank = rank
			}
			first = false
		}
		d.FastestMs = roundMs(minNs)
		d.SlowestMs = roundMs(maxNs)
		d.DeltaMs = roundMs(maxNs - minNs)
		deltas = append(deltas, d)
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Graph < deltas[j].Graph })
	return RuntimeAnalysis{Graphs: deltas}
}
