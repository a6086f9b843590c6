// Package diverge implements the cross-rank analysis pass: it works post hoc
// from the report directories the parse pass materialized, extracts per-rank
// behavioral signatures, groups ranks by signature, and quantifies estimated
// runtime differences between ranks.
package diverge

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// directoryEntry mirrors one bucket of a rank's compile_directory.json.
type directoryEntry struct {
	Artifacts []artifactRef `json:"artifacts"`
}

type artifactRef struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Number int    `json:"number"`
	Suffix string `json:"suffix"`
}

// artifact is one materialized file pulled back out of a rank directory.
type artifact struct {
	Bucket string
	Name   string
	Number int
	Data   []byte
}

// readDirectory loads and decodes a rank's compile_directory.json.
func readDirectory(rankDir string) (map[string]directoryEntry, error) {
	raw, err := os.ReadFile(filepath.Join(rankDir, "compile_directory.json"))
	if err != nil {
		return nil, fmt.Errorf("reading compile directory: %w", err)
	}
	var index map[string]directoryEntry
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("decoding compile directory: %w", err)
	}
	return index, nil
}

// readArtifacts returns the contents of every artifact whose basename starts
// with prefix, ordered by sequence number so results are deterministic.
func readArtifacts(rankDir, prefix string) ([]artifact, error) {
	index, err := readDirectory(rankDir)
	if err != nil {
		return nil, err
	}
	var out []artifact
	for bucket, entry := range index {
		for _, ref := range entry.Artifacts {
			if !strings.HasPrefix(path.Base(ref.Name), prefix) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(rankDir, filepath.FromSlash(ref.URL)))
			if err != nil {
				return nil, fmt.Errorf("reading artifact %s: %w", ref.URL, err)
			}
			out = append(out, artifact{
				Bucket: bucket,
				Name:   ref.Name,
				Number: ref.Number,
				Data:   data,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// RankMetadata is a rank's coarse identity for divergence checks: which
// compilations it performed and what its cache interaction sequence was.
type RankMetadata struct {
	Rank uint32
	// CompileIDs is the sorted set of compile-id bucket keys, excluding the
	// synthetic unknown buckets.
	CompileIDs []string
	// CacheSequence is the ordered concatenation of non-empty cache status
	// suffixes across all artifacts.
	CacheSequence string
}

// ExtractRankMetadata derives a rank's metadata from its materialized
// compile_directory.json.
func ExtractRankMetadata(rankDir string, rank uint32) (*RankMetadata, error) {
	index, err := readDirectory(rankDir)
	if err != nil {
		return nil, err
	}

	var ids []string
	var all []artifactRef
	for bucket, entry := range index {
		if bucket != "unknown" && !strings.HasPrefix(bucket, "unknown_") {
			ids = append(ids, bucket)
		}
		all = append(all, entry.Artifacts...)
	}
	sort.Strings(ids)
	sort.Slice(all, func(i, j int) bool { return all[i].Number < all[j].Number })

	var seq []string
	for _, ref := range all {
		if ref.Suffix != "" {
			seq = append(seq, ref.Suffix)
		}
	}

	return &RankMetadata{
		Rank:          rank,
		CompileIDs:    ids,
		CacheSequence: strings.Join(seq, ","),
	}, nil
}
