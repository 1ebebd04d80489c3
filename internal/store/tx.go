package store

import "github.com/roach88/notesync/internal/ir"

type cellKey struct {
	table, rowID, column string
}

type rowKey struct {
	table, rowID string
}

// Tx batches local writes into a single delta. Writes whose value equals
// the visible value are skipped, so a Tx built from a full desired state
// only stamps what actually changed.
type Tx struct {
	s       *Store
	delta   ir.Delta
	pending map[cellKey]ir.Value
	deleted map[rowKey]bool
}

// Transact runs fn, stamps the collected writes with the local clock and
// merges them as one delta tagged with src. Listeners see the result after
// fn returns.
func (s *Store) Transact(src Source, fn func(tx *Tx)) ApplyResult {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &Tx{
		s:       s,
		pending: make(map[cellKey]ir.Value),
		deleted: make(map[rowKey]bool),
	}
	fn(tx)
	if len(tx.delta) == 0 {
		return ApplyResult{}
	}

	res, events := s.merge(src, tx.delta)
	s.dispatch(events)
	return res
}

// SetCell stages a cell write. A nil value is ignored.
func (tx *Tx) SetCell(table, rowID, column string, v ir.Value) {
	if v == nil {
		return
	}
	if current, ok := tx.Cell(table, rowID, column); ok && ir.ValueEqual(current, v) {
		return
	}

	tx.delta = append(tx.delta, ir.CellChange{
		Table:  table,
		RowID:  rowID,
		Column: column,
		Value:  v,
		Clock:  tx.s.clock.Tick(),
	})
	tx.pending[cellKey{table, rowID, column}] = v
	delete(tx.deleted, rowKey{table, rowID})
}

// SetRow stages a write of every cell in r.
func (tx *Tx) SetRow(table, rowID string, r ir.Row) {
	for _, col := range r.SortedKeys() {
		tx.SetCell(table, rowID, col, r[col])
	}
}

// DeleteRow stages a tombstone. Deleting a row that is not visible is a no-op.
func (tx *Tx) DeleteRow(table, rowID string) {
	if !tx.HasRow(table, rowID) {
		return
	}

	tx.delta = append(tx.delta, ir.CellChange{
		Table:     table,
		RowID:     rowID,
		Clock:     tx.s.clock.Tick(),
		Tombstone: true,
	})
	for k := range tx.pending {
		if k.table == table && k.rowID == rowID {
			delete(tx.pending, k)
		}
	}
	tx.deleted[rowKey{table, rowID}] = true
}

// Cell returns the value as seen by this transaction.
func (tx *Tx) Cell(table, rowID, column string) (ir.Value, bool) {
	if v, ok := tx.pending[cellKey{table, rowID, column}]; ok {
		return v, true
	}
	if tx.deleted[rowKey{table, rowID}] {
		return nil, false
	}
	return tx.s.GetCell(table, rowID, column)
}

// Row returns the row as seen by this transaction, or nil.
func (tx *Tx) Row(table, rowID string) ir.Row {
	var out ir.Row
	if !tx.deleted[rowKey{table, rowID}] {
		out = tx.s.GetRow(table, rowID)
	}
	for k, v := range tx.pending {
		if k.table == table && k.rowID == rowID {
			if out == nil {
				out = ir.Row{}
			}
			out[k.column] = v
		}
	}
	return out
}

// HasRow reports whether the row is visible to this transaction.
func (tx *Tx) HasRow(table, rowID string) bool {
	return len(tx.Row(table, rowID)) > 0
}

// Len returns the number of staged changes.
func (tx *Tx) Len() int {
	return len(tx.delta)
}
