package store

import (
	"maps"
	"slices"

	"github.com/roach88/notesync/internal/ir"
)

// GetCell returns a visible cell value.
func (s *Store) GetCell(table, rowID, column string) (ir.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.lookup(table, rowID)
	if r == nil {
		return nil, false
	}
	c, ok := r.cells[column]
	if !ok {
		return nil, false
	}
	return c.value, true
}

// GetRow returns a copy of a visible row, or nil.
func (s *Store) GetRow(table, rowID string) ir.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.lookup(table, rowID)
	if r == nil {
		return nil
	}
	return r.snapshot()
}

// HasRow reports whether a row is visible.
func (s *Store) HasRow(table, rowID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.lookup(table, rowID)
	return r != nil && r.visible()
}

// RowIDs returns the ids of visible rows in a table, sorted.
// Returns an empty slice (not nil) for an empty table.
func (s *Store) RowIDs(table string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.tables[table]))
	for id, r := range s.tables[table] {
		if r.visible() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// GetTable returns copies of every visible row in a table.
func (s *Store) GetTable(table string) map[string]ir.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ir.Row, len(s.tables[table]))
	for id, r := range s.tables[table] {
		if r.visible() {
			out[id] = r.snapshot()
		}
	}
	return out
}

// AllRows returns copies of every visible row, keyed by table then row id.
// Tables without visible rows are omitted.
func (s *Store) AllRows() map[string]map[string]ir.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]ir.Row)
	for name, rows := range s.tables {
		for id, r := range rows {
			if !r.visible() {
				continue
			}
			if out[name] == nil {
				out[name] = make(map[string]ir.Row)
			}
			out[name][id] = r.snapshot()
		}
	}
	return out
}

// Tables returns the names of every table holding stored state, sorted.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.tables))
}

// VersionVector returns the highest counter seen per client id.
func (s *Store) VersionVector() ir.VersionVector {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.vv.Clone()
}

// GetChangesSince returns every stored cell change and tombstone that vv
// does not cover, in deterministic order. A nil vector returns everything.
func (s *Store) GetChangesSince(vv ir.VersionVector) ir.Delta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := ir.Delta{}
	for table, rows := range s.tables {
		for rowID, r := range rows {
			for _, c := range rowState(table, rowID, r) {
				if !vv.Covers(c.Clock) {
					out = append(out, c)
				}
			}
		}
	}
	out.Sort()
	return out
}

// RowChanges returns the full stamped state of one row: its tombstone, if
// any, and every stored cell. Merging it into a peer brings that peer's
// copy of the row up to date.
func (s *Store) RowChanges(table, rowID string) ir.Delta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.lookup(table, rowID)
	if r == nil {
		return ir.Delta{}
	}
	out := rowState(table, rowID, r)
	out.Sort()
	return out
}

func (s *Store) lookup(table, rowID string) *row {
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	return t[rowID]
}

func rowState(table, rowID string, r *row) ir.Delta {
	out := make(ir.Delta, 0, len(r.cells)+1)
	if r.deleted {
		out = append(out, ir.CellChange{Table: table, RowID: rowID, Clock: r.tombstone, Tombstone: true})
	}
	for col, c := range r.cells {
		out = append(out, ir.CellChange{Table: table, RowID: rowID, Column: col, Value: c.value, Clock: c.stamp})
	}
	return out
}
