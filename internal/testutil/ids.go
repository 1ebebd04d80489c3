package testutil

import "fmt"

// SequentialIDs generates "<prefix>-1", "<prefix>-2", ...
//
// Unlike UUIDs the ids are stable across runs, so they can appear in
// golden files. Safe for concurrent use.
type SequentialIDs struct {
	prefix string
	seq    *Sequence
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix, seq: NewSequence()}
}

// Next returns the next id.
func (g *SequentialIDs) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.seq.Next())
}

// Reset restarts numbering at 1.
func (g *SequentialIDs) Reset() {
	g.seq.Reset()
}
