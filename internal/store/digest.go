package store

import "github.com/roach88/notesync/internal/ir"

// RowDigests returns a hash of every stored row version in a table,
// tombstoned rows included.
func (s *Store) RowDigests(table string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rowDigestsLocked(table)
}

// TableDigests returns one hash per table. Two replicas with equal table
// digests hold identical stored state for that table.
func (s *Store) TableDigests() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.tables))
	for table, rows := range s.tables {
		if len(rows) == 0 {
			continue
		}
		out[table] = ir.TableHash(s.rowDigestsLocked(table))
	}
	return out
}

func (s *Store) rowDigestsLocked(table string) map[string]string {
	rows := s.tables[table]
	out := make(map[string]string, len(rows))
	for rowID, r := range rows {
		h, err := ir.RowHash(rowState(table, rowID, r))
		if err != nil {
			// Stored values are always valid cell values.
			s.log.Error("row digest failed", "table", table, "row_id", rowID, "error", err)
			continue
		}
		out[rowID] = h
	}
	return out
}

// Compact drops tombstoned rows holding no cells whose tombstone counter is
// at or below horizon. It returns the number of rows removed.
//
// A change older than a compacted tombstone that arrives later will
// resurrect the row, so horizon must trail the slowest peer.
func (s *Store) Compact(horizon int64) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for table, rows := range s.tables {
		for rowID, r := range rows {
			if r.deleted && !r.visible() && r.tombstone.Counter <= horizon {
				delete(rows, rowID)
				removed++
			}
		}
		if len(rows) == 0 {
			delete(s.tables, table)
		}
	}
	if removed > 0 {
		s.log.Info("compacted tombstones", "removed", removed, "horizon", horizon)
	}
	return removed
}
