package store

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/metrics"
)

type cell struct {
	value ir.Value
	stamp ir.Stamp
}

// row holds the stored state of one row. Every stored cell is newer than
// the tombstone; older ones are purged when the tombstone lands.
type row struct {
	cells     map[string]cell
	tombstone ir.Stamp
	deleted   bool
}

func (r *row) visible() bool {
	return len(r.cells) > 0
}

func (r *row) snapshot() ir.Row {
	if !r.visible() {
		return nil
	}
	out := make(ir.Row, len(r.cells))
	for col, c := range r.cells {
		out[col] = c.value
	}
	return out
}

// Store is the MergeableStore.
type Store struct {
	// writeMu serializes merge + listener dispatch so events are delivered
	// in program order.
	writeMu sync.Mutex

	mu     sync.RWMutex
	tables map[string]map[string]*row
	vv     ir.VersionVector

	clock *Clock

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int

	log *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the replica clock. Defaults to a fresh clock with a UUIDv7 client id.
func WithClock(c *Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithClientID sets the replica id on a fresh clock.
func WithClientID(id string) Option {
	return func(s *Store) {
		s.clock = NewClock(id)
	}
}

// WithLogger sets the logger for merge anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		tables:    make(map[string]map[string]*row),
		vv:        ir.VersionVector{},
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = NewClock(NewClientID())
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "store", "client_id", s.clock.ClientID())
	return s
}

// ClientID returns this replica's id.
func (s *Store) ClientID() string {
	return s.clock.ClientID()
}

// Clock returns the replica clock.
func (s *Store) Clock() *Clock {
	return s.clock
}

// Subscribe registers a row-changed listener and returns its cancel func.
func (s *Store) Subscribe(l Listener) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners, id)
	}
}

// ApplyResult summarizes one merge.
type ApplyResult struct {
	Applied   int
	Stale     int
	Malformed int
}

// ApplyDelta merges stamped changes. It never fails: malformed changes are
// logged and dropped, changes older than the stored state are ignored.
func (s *Store) ApplyDelta(src Source, d ir.Delta) ApplyResult {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, events := s.merge(src, d)
	s.dispatch(events)
	return res
}

// SetCell writes one cell on this replica.
func (s *Store) SetCell(table, rowID, column string, v ir.Value) {
	s.Transact(SourceLocal, func(tx *Tx) {
		tx.SetCell(table, rowID, column, v)
	})
}

// SetRow writes every cell of row on this replica. Existing cells not in
// row are left untouched.
func (s *Store) SetRow(table, rowID string, r ir.Row) {
	s.Transact(SourceLocal, func(tx *Tx) {
		tx.SetRow(table, rowID, r)
	})
}

// DeleteRow tombstones a row on this replica.
func (s *Store) DeleteRow(table, rowID string) {
	s.Transact(SourceLocal, func(tx *Tx) {
		tx.DeleteRow(table, rowID)
	})
}

// merge applies d under the data lock and returns the events to dispatch.
// Caller must hold writeMu.
func (s *Store) merge(src Source, d ir.Delta) (ApplyResult, []RowChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type touchedKey struct{ table, rowID string }
	var (
		res     ApplyResult
		order   []touchedKey
		touched = make(map[touchedKey]*RowChanged)
	)

	for _, c := range d {
		if err := c.Validate(); err != nil {
			res.Malformed++
			metrics.ChangesDropped.WithLabelValues("malformed").Inc()
			s.log.Warn("dropping malformed change",
				"source", src.String(),
				"table", c.Table,
				"row_id", c.RowID,
				"column", c.Column,
				"error", err)
			continue
		}

		s.vv.Observe(c.Clock)
		s.clock.Observe(c.Clock)

		t, ok := s.tables[c.Table]
		if !ok {
			t = make(map[string]*row)
			s.tables[c.Table] = t
		}
		r, ok := t[c.RowID]
		if !ok {
			r = &row{cells: make(map[string]cell)}
			t[c.RowID] = r
		}

		key := touchedKey{c.Table, c.RowID}
		ev, seen := touched[key]
		if !seen {
			ev = &RowChanged{Table: c.Table, RowID: c.RowID, Source: src, Previous: r.snapshot()}
		}

		if !applyChange(r, c) {
			res.Stale++
			metrics.ChangesDropped.WithLabelValues("stale").Inc()
			s.log.Debug("ignoring stale change",
				"table", c.Table, "row_id", c.RowID, "column", c.Column, "clock", c.Clock.String())
			if !r.visible() && !r.deleted {
				delete(t, c.RowID)
			}
			continue
		}

		res.Applied++
		if !seen {
			touched[key] = ev
			order = append(order, key)
		}
		ev.Changes = append(ev.Changes, c)
	}

	if res.Applied > 0 {
		metrics.ChangesApplied.WithLabelValues(src.String()).Add(float64(res.Applied))
	}

	events := make([]RowChanged, 0, len(order))
	for _, key := range order {
		ev := touched[key]
		ev.Deleted = !s.tables[key.table][key.rowID].visible()
		events = append(events, *ev)
	}
	return res, events
}

// applyChange merges one validated change into r and reports whether it won.
func applyChange(r *row, c ir.CellChange) bool {
	if r.deleted && !c.Clock.After(r.tombstone) {
		return false
	}

	if c.Tombstone {
		r.deleted = true
		r.tombstone = c.Clock
		for col, existing := range r.cells {
			if existing.stamp.Compare(c.Clock) < 0 {
				delete(r.cells, col)
			}
		}
		return true
	}

	if existing, ok := r.cells[c.Column]; ok && !c.Clock.After(existing.stamp) {
		return false
	}
	r.cells[c.Column] = cell{value: c.Value, stamp: c.Clock}
	return true
}

// dispatch delivers events to listeners in subscription order.
// Caller must hold writeMu and must not hold mu.
func (s *Store) dispatch(events []RowChanged) {
	if len(events) == 0 {
		return
	}

	s.listenerMu.Lock()
	ids := slices.Sorted(maps.Keys(s.listeners))
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenerMu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}
