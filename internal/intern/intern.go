// Package intern holds the per-pass string intern table. Trace logs
// de-duplicate repeated strings (mostly source filenames) by emitting a
// dedicated side-channel record once and referencing it by integer id
// afterwards. The table is owned by a single interpreter pass and is never
// shared across passes or goroutines.
package intern

import "fmt"

// Table is an append-only mapping from intern id to string. The zero value is
// not usable; construct with NewTable.
type Table struct {
	entries  map[uint32]string
	maxID    uint32
	nonEmpty bool
}

// NewTable returns an empty intern table.
func NewTable() *Table {
	return &Table{entries: make(map[uint32]string)}
}

// Insert records the string for the given id. Later inserts for the same id
// overwrite earlier ones, matching the append-only log semantics (the log
// writer never reuses ids, so in practice this never happens).
func (t *Table) Insert(id uint32, s string) {
	t.entries[id] = s
	if id > t.maxID {
		t.maxID = id
	}
	t.nonEmpty = true
}

// Resolve returns the string for id. An id that was never inserted resolves
// to a stable sentinel rather than failing: a dangling reference in the log
// must not abort the pass.
func (t *Table) Resolve(id uint32) string {
	if s, ok := t.entries[id]; ok {
		return s
	}
	return fmt.Sprintf("unknown_%d", id)
}

// Len returns the number of inserted entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Dense returns the table as an array sized max-id+1, with nil at indices
// that were never inserted. This is the shape serialized as the string_table
// header of the machine-readable side log, so external tools can resolve
// references by index without replaying the stream.
func (t *Table) Dense() []*string {
	if !t.nonEmpty {
		return []*string{nil}
	}
	dense := make([]*string, t.maxID+1)
	for id, s := range t.entries {
		v := s
		dense[id] = &v
	}
	return dense
}
