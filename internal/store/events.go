package store

import "github.com/roach88/notesync/internal/ir"

// Source tags where a mutation came from.
type Source int

const (
	// SourceLocal is an in-app edit on this replica.
	SourceLocal Source = iota + 1
	// SourceRemote is a delta received from a peer over the broadcast channel.
	SourceRemote
	// SourceFile is an edit read back from the notes directory.
	SourceFile
	// SourceSeed is cold-start hydration from the backing database.
	SourceSeed
)

// String returns the metric/log label for the source.
func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	case SourceFile:
		return "file"
	case SourceSeed:
		return "seed"
	default:
		return "unknown"
	}
}

// RowChanged describes one row touched by a merge.
type RowChanged struct {
	Table  string
	RowID  string
	Source Source

	// Deleted is true when the row is not visible after the merge.
	Deleted bool

	// Changes holds the stamped changes that were actually applied.
	Changes ir.Delta

	// Previous is the visible row before the merge (nil if it did not exist).
	Previous ir.Row
}

// Listener receives row-changed events.
// Listeners must not block and must not write to the store.
type Listener func(RowChanged)
