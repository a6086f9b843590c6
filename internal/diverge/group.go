package diverge

import "sort"

// Group is one set of ranks sharing a signature.
type Group struct {
	Signature string   `json:"signature"`
	Ranks     []uint32 `json:"ranks"`
}

// GroupBySignature partitions ranks by signature equality. Ranks within a
// group come back ascending and groups are ordered by signature, so equal
// inputs always produce equal output. More than one group means the ranks
// diverged on whatever the signature encodes.
func GroupBySignature(signatures map[uint32]string) []Group {
	bySig := make(map[string][]uint32)
	for rank, sig := range signatures {
		bySig[sig] = append(bySig[sig], rank)
	}
	groups := make([]Group, 0, len(bySig))
	for sig, ranks := range bySig {
		sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
		groups = append(groups, Group{Signature: sig, Ranks: ranks})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Signature < groups[j].Signature })
	return groups
}

// Diverged reports whether the grouping found more than one distinct
// signature.
func Diverged(groups []Group) bool {
	return len(groups) > 1
}
