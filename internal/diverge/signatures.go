package diverge

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"
)

// CollectiveSchedule is the ordered collective-op list of one compiled graph.
type CollectiveSchedule struct {
	Rank  uint32   `json:"rank"`
	Graph string   `json:"graph"`
	Ops   []string `json:"ops"`
}

// ReadCollectiveSchedules extracts the per-graph collective schedules a rank
// logged, ordered by artifact sequence number.
func ReadCollectiveSchedules(rankDir string, rank uint32) ([]CollectiveSchedule, error) {
	arts, err := readArtifacts(rankDir, "inductor_collective_schedule")
	if err != nil {
		return nil, err
	}
	var out []CollectiveSchedule
	for _, a := range arts {
		var ops []string
		if err := json.Unmarshal(a.Data, &ops); err != nil {
			return nil, fmt.Errorf("decoding collective schedule %s: %w", a.Name, err)
		}
		out = append(out, CollectiveSchedule{Rank: rank, Graph: a.Bucket, Ops: ops})
	}
	return out, nil
}

// ScheduleSignature flattens a rank's collective schedules into one
// comparable string: graphs in sorted order, each with its op sequence.
func ScheduleSignature(schedules []CollectiveSchedule) string {
	sorted := append([]CollectiveSchedule(nil), schedules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Graph < sorted[j].Graph })
	parts := make([]string, 0, len(sorted))
	for _, s := range sorted {
		parts = append(parts, s.Graph+":"+strings.Join(s.Ops, ","))
	}
	return strings.Join(parts, ";")
}

// OpRuntime is one op's estimated runtime inside a graph.
type OpRuntime struct {
	Name               string  `json:"name"`
	EstimatedRuntimeNs float64 `json:"estimated_runtime_ns"`
}

// runtimeArtifact is the decoded shape of an
// inductor_runtime_and_tensor_meta artifact.
type runtimeArtifact struct {
	Ops []struct {
		Name               string          `json:"name"`
		EstimatedRuntimeNs float64         `json:"estimated_runtime_ns"`
		TensorMeta         json.RawMessage `json:"tensor_meta"`
	} `json:"ops"`
}

// GraphRuntime is one graph's per-op estimated runtimes on one rank.
type GraphRuntime struct {
	Rank  uint32      `json:"rank"`
	Graph string      `json:"graph"`
	Ops   []OpRuntime `json:"ops"`
}

// TotalNs sums the graph's op runtimes.
func (g *GraphRuntime) TotalNs() float64 {
	var total float64
	for _, op := range g.Ops {
		total += op.EstimatedRuntimeNs
	}
	return total
}

// ReadRuntimeEstimations extracts per-graph op runtime lists from a rank's
// runtime-and-tensor-meta artifacts, ordered by artifact sequence number.
func ReadRuntimeEstimations(rankDir string, rank uint32) ([]GraphRuntime, error) {
	arts, err := readArtifacts(rankDir, "inductor_runtime_and_tensor_meta")
	if err != nil {
		return nil, err
	}
	var out []GraphRuntime
	for _, a := range arts {
		var decoded runtimeArtifact
		if err := json.Unmarshal(a.Data, &decoded); err != nil {
			return nil, fmt.Errorf("decoding runtime estimation %s: %w", a.Name, err)
		}
		g := GraphRuntime{Rank: rank, Graph: a.Bucket}
		for _, op := range decoded.Ops {
			g.Ops = append(g.Ops, OpRuntime{Name: op.Name, EstimatedRuntimeNs: op.EstimatedRuntimeNs})
		}
		out = append(out, g)
	}
	return out, nil
}

// ReadTensorMetaFingerprints computes one fingerprint per graph from the
// tensor metadata embedded in the runtime artifacts. The metadata is
// canonicalized (RFC 8785) before hashing, so key order and number formatting
// differences between producers cannot fake a divergence.
func ReadTensorMetaFingerprints(rankDir string, rank uint32) (map[string]string, error) {
	arts, err := readArtifacts(rankDir, "inductor_runtime_and_tensor_meta")
	if err != nil {
		return nil, err
	}
	fingerprints := make(map[string]string, len(arts))
	for _, a := range arts {
		var decoded runtimeArtifact
		if err := json.Unmarshal(a.Data, &decoded); err != nil {
			return nil, fmt.Errorf("decoding tensor meta %s: %w", a.Name, err)
		}
		metas := make([]json.RawMessage, 0, len(decoded.Ops))
		for _, op := range decoded.Ops {
			if op.TensorMeta != nil {
				metas = append(metas, op.TensorMeta)
			}
		}
		combined, err := json.Marshal(metas)
		if err != nil {
			return nil, err
		}
		canonical, err := jcs.Transform(combined)
		if err != nil {
			return nil, fmt.Errorf("canonicalizing tensor meta %s: %w", a.Name, err)
		}
		sum := md5.Sum(canonical)
		fingerprints[a.Bucket] = hex.EncodeToString(sum[:])
	}
	return fingerprints, nil
}

// FingerprintSignature flattens a rank's per-graph fingerprints into one
// comparable string.
func FingerprintSignature(fingerprints map[string]string) string {
	graphs := make([]string, 0, len(fingerprints))
	for g := range fingerprints {
		graphs = append(graphs, g)
	}
	sort.Strings(graphs)
	parts := make([]string, 0, len(graphs))
	for _, g := range graphs {
		parts = append(parts, g+":"+fingerprints[g])
	}
	return strings.Join(parts, ";")
}
