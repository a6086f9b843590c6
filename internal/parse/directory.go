package parse

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
)

// Status suffixes attached to cache-related artifacts. The closed set is
// {none, hit, miss, bypass}; concatenated in sequence order they form a
// rank's cache sequence.
const (
	SuffixHit    = "hit"
	SuffixMiss   = "miss"
	SuffixBypass = "bypass"
)

// UnknownBucket is the directory key for records without a compile id.
const UnknownBucket = "unknown"

// OutputFile is one artifact entry of the compile directory. Identity is the
// (bucket, Number) pair; Number is the process-wide arrival order.
type OutputFile struct {
	URL         string  `json:"url"`
	Name        string  `json:"name"`
	Number      int     `json:"number"`
	Suffix      string  `json:"suffix"`
	ReadableURL *string `json:"readable_url"`
}

// Directory aggregates artifacts into insertion-ordered per-compile-id
// buckets. Records with equal normalized compile ids always share a bucket,
// whatever order they arrived in.
type Directory struct {
	keys    []string
	buckets map[string][]*OutputFile
}

// NewDirectory returns an empty compile directory.
func NewDirectory() *Directory {
	return &Directory{buckets: make(map[string][]*OutputFile)}
}

// Append adds an artifact to the bucket for key, creating the bucket on
// first touch.
func (d *Directory) Append(key string, f *OutputFile) {
	if _, ok := d.buckets[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.buckets[key] = append(d.buckets[key], f)
}

// Touch ensures a bucket exists for key even if no artifact lands in it.
func (d *Directory) Touch(key string) {
	if _, ok := d.buckets[key]; !ok {
		d.keys = append(d.keys, key)
		d.buckets[key] = nil
	}
}

// Keys returns the bucket keys in insertion order.
func (d *Directory) Keys() []string {
	return d.keys
}

// Files returns the artifacts of one bucket in insertion order.
func (d *Directory) Files(key string) []*OutputFile {
	return d.buckets[key]
}

// HasUnknown reports whether any record landed in the unknown bucket.
func (d *Directory) HasUnknown() bool {
	_, ok := d.buckets[UnknownBucket]
	return ok
}

// statusSuffix derives the artifact's cache status from its filename.
func statusSuffix(filename string) string {
	switch {
	case strings.Contains(filename, "cache_miss"):
		return SuffixMiss
	case strings.Contains(filename, "cache_hit"):
		return SuffixHit
	case strings.Contains(filename, "cache_bypass"):
		return SuffixBypass
	default:
		return ""
	}
}

type directoryEntry struct {
	Artifacts []*OutputFile `json:"artifacts"`
}

// MarshalIndex serializes the directory as the compile_directory.json
// artifact index: compile-id-string -> artifact list, names reduced to their
// basename since the URL carries the path.
func (d *Directory) MarshalIndex() ([]byte, error) {
	index := make(map[string]directoryEntry, len(d.keys))
	for _, key := range d.keys {
		files := d.buckets[key]
		arts := make([]*OutputFile, 0, len(files))
		for _, f := range files {
			arts = append(arts, &OutputFile{
				URL:         f.URL,
				Name:        path.Base(f.Name),
				Number:      f.Number,
				Suffix:      f.Suffix,
				ReadableURL: f.ReadableURL,
			})
		}
		index[key] = directoryEntry{Artifacts: arts}
	}
	return json.MarshalIndent(index, "", "  ")
}

// SortedKeys returns the bucket keys sorted lexically, for deterministic
// iteration where insertion order is not wanted.
func (d *Directory) SortedKeys() []string {
	keys := append([]string(nil), d.keys...)
	sort.Strings(keys)
	return keys
}
