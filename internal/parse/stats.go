package parse

import (
	"fmt"
	"sort"
	"strings"
)

// Stats accumulates the pass-scoped failure counters. Failures never abort
// ingestion; they are summed at pass end and, in strict mode only, converted
// into a hard error. The pass is single-threaded, so plain counters suffice;
// anyone parallelizing ingestion must serialize updates.
type Stats struct {
	// OK counts records that survived grammar, JSON and rank checks.
	OK uint64
	// GlogFailures counts lines that did not match the line grammar.
	GlogFailures uint64
	// JSONFailures counts payloads that were not a decodable JSON object.
	JSONFailures uint64
	// PayloadMismatches counts continuation payloads whose MD5 did not match
	// the declared digest. Non-fatal; the payload is still used.
	PayloadMismatches uint64
	// KeyConflicts counts side-log lines dropped because an augmentation key
	// already existed in the original record.
	KeyConflicts uint64
	// SerializationFailures counts side-log lines dropped because the
	// augmented record could not be re-serialized.
	SerializationFailures uint64
	// OtherRank counts records skipped after the expected rank was fixed.
	OtherRank uint64
	// UnknownFields counts generically captured fields across all records.
	UnknownFields uint64
	// ParserFailures counts handler errors per handler name.
	ParserFailures map[string]uint64
}

// ParserFailure records one handler failure under the handler's name.
func (s *Stats) ParserFailure(name string) {
	if s.ParserFailures == nil {
		s.ParserFailures = make(map[string]uint64)
	}
	s.ParserFailures[name]++
}

// FailureTotal is the sum evaluated by strict mode. Side-log-only failures
// (key conflicts, re-serialization) do not fail a strict pass: the main
// output is unaffected by them. Off-rank records do count, since a properly
// captured log contains a single rank.
func (s *Stats) FailureTotal() uint64 {
	total := s.GlogFailures + s.JSONFailures + s.PayloadMismatches + s.OtherRank
	for _, n := range s.ParserFailures {
		total += n
	}
	return total
}

// String renders a compact summary for progress reporting and logs.
func (s *Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ok=%d glog=%d json=%d payload=%d other_rank=%d unknown=%d",
		s.OK, s.GlogFailures, s.JSONFailures, s.PayloadMismatches, s.OtherRank, s.UnknownFields)
	if len(s.ParserFailures) > 0 {
		names := make([]string, 0, len(s.ParserFailures))
		for name := range s.ParserFailures {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, " %s=%d", name, s.ParserFailures[name])
		}
	}
	return b.String()
}
