package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/notesync/internal/ir"
)

func set(table, rowID, col string, v ir.Value, counter int64, client string) ir.CellChange {
	return ir.CellChange{Table: table, RowID: rowID, Column: col, Value: v, Clock: ir.Stamp{Counter: counter, ClientID: client}}
}

func tomb(table, rowID string, counter int64, client string) ir.CellChange {
	return ir.CellChange{Table: table, RowID: rowID, Clock: ir.Stamp{Counter: counter, ClientID: client}, Tombstone: true}
}

// recorder collects row-changed events.
type recorder struct {
	mu     sync.Mutex
	events []RowChanged
}

func (r *recorder) listen(ev RowChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []RowChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RowChanged(nil), r.events...)
}

func TestSetCellAndRead(t *testing.T) {
	s := New(WithClientID("W1"))

	s.SetCell("sessions", "s1", "title", ir.String("Standup"))

	v, ok := s.GetCell("sessions", "s1", "title")
	require.True(t, ok)
	assert.Equal(t, ir.String("Standup"), v)
	assert.True(t, s.HasRow("sessions", "s1"))
	assert.Equal(t, ir.Row{"title": ir.String("Standup")}, s.GetRow("sessions", "s1"))
	assert.Equal(t, []string{"s1"}, s.RowIDs("sessions"))
	assert.Empty(t, s.RowIDs("humans"))
	assert.NotNil(t, s.RowIDs("humans"))
	assert.Equal(t, "W1", s.ClientID())

	_, ok = s.GetCell("sessions", "s1", "missing")
	assert.False(t, ok)
	assert.Nil(t, s.GetRow("sessions", "nope"))
}

func TestConcurrentTitleEditTieBreak(t *testing.T) {
	// W1 and W2 both edit at counter 5; the higher client id wins on every replica.
	w1 := set("sessions", "s1", "title", ir.String("Standup"), 5, "W1")
	w2 := set("sessions", "s1", "title", ir.String("Sync"), 5, "W2")

	a := New(WithClientID("W1"))
	a.ApplyDelta(SourceRemote, ir.Delta{w1})
	a.ApplyDelta(SourceRemote, ir.Delta{w2})

	b := New(WithClientID("W2"))
	b.ApplyDelta(SourceRemote, ir.Delta{w2})
	b.ApplyDelta(SourceRemote, ir.Delta{w1})

	for _, s := range []*Store{a, b} {
		v, _ := s.GetCell("sessions", "s1", "title")
		assert.Equal(t, ir.String("Sync"), v)
	}
	assert.Equal(t, a.TableDigests(), b.TableDigests())
}

func TestApplyDeltaConvergesInAnyOrder(t *testing.T) {
	changes := ir.Delta{
		set("sessions", "s1", "title", ir.String("a"), 1, "A"),
		set("sessions", "s1", "title", ir.String("b"), 3, "B"),
		set("sessions", "s1", "user_id", ir.String("u1"), 2, "A"),
		tomb("sessions", "s1", 4, "C"),
		set("sessions", "s1", "title", ir.String("c"), 5, "A"),
		set("humans", "h1", "full_name", ir.String("Ann"), 1, "B"),
		tomb("humans", "h2", 2, "A"),
		set("humans", "h2", "full_name", ir.String("Bob"), 1, "B"),
	}

	reference := New(WithClientID("ref"))
	reference.ApplyDelta(SourceRemote, changes)
	want := reference.TableDigests()

	// Reverse, interleaved and duplicated deliveries.
	orders := []ir.Delta{
		reversed(changes),
		{changes[3], changes[0], changes[5], changes[1], changes[7], changes[2], changes[6], changes[4]},
		append(append(ir.Delta{}, changes...), changes...),
	}
	for i, order := range orders {
		s := New(WithClientID("other"))
		for _, c := range order {
			s.ApplyDelta(SourceRemote, ir.Delta{c})
		}
		assert.Equal(t, want, s.TableDigests(), "order %d", i)
	}

	assert.Equal(t, ir.Row{"title": ir.String("c")}, reference.GetRow("sessions", "s1"))
	assert.False(t, reference.HasRow("humans", "h2"))
	assert.True(t, reference.HasRow("humans", "h1"))
}

func reversed(d ir.Delta) ir.Delta {
	out := make(ir.Delta, 0, len(d))
	for i := len(d) - 1; i >= 0; i-- {
		out = append(out, d[i])
	}
	return out
}

func TestApplyDeltaIdempotent(t *testing.T) {
	s := New(WithClientID("W1"))
	d := ir.Delta{set("sessions", "s1", "title", ir.String("Sync"), 2, "W2")}

	first := s.ApplyDelta(SourceRemote, d)
	digest := s.TableDigests()
	second := s.ApplyDelta(SourceRemote, d)

	assert.Equal(t, 1, first.Applied)
	assert.Equal(t, 0, second.Applied)
	assert.Equal(t, 1, second.Stale)
	assert.Equal(t, digest, s.TableDigests())
}

func TestTombstoneIgnoresOlderWrites(t *testing.T) {
	s := New(WithClientID("W1"))
	s.ApplyDelta(SourceRemote, ir.Delta{
		set("sessions", "s1", "title", ir.String("Standup"), 1, "W2"),
		tomb("sessions", "s1", 3, "W2"),
	})
	require.False(t, s.HasRow("sessions", "s1"))

	res := s.ApplyDelta(SourceRemote, ir.Delta{set("sessions", "s1", "title", ir.String("late"), 2, "W3")})
	assert.Equal(t, 1, res.Stale)
	assert.False(t, s.HasRow("sessions", "s1"))

	res = s.ApplyDelta(SourceRemote, ir.Delta{set("sessions", "s1", "title", ir.String("revived"), 4, "W3")})
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, ir.Row{"title": ir.String("revived")}, s.GetRow("sessions", "s1"))
}

func TestTombstonePurgesOlderCellsOnly(t *testing.T) {
	s := New(WithClientID("W1"))
	s.ApplyDelta(SourceRemote, ir.Delta{
		set("sessions", "s1", "title", ir.String("new"), 5, "W2"),
		set("sessions", "s1", "user_id", ir.String("u1"), 1, "W2"),
		tomb("sessions", "s1", 3, "W3"),
	})

	assert.Equal(t, ir.Row{"title": ir.String("new")}, s.GetRow("sessions", "s1"))
}

func TestApplyDeltaDropsMalformed(t *testing.T) {
	s := New(WithClientID("W1"))
	res := s.ApplyDelta(SourceRemote, ir.Delta{
		{Table: "", RowID: "s1", Column: "title", Value: ir.String("x"), Clock: ir.Stamp{Counter: 1, ClientID: "A"}},
		{Table: "sessions", RowID: "s1", Column: "title", Value: nil, Clock: ir.Stamp{Counter: 1, ClientID: "A"}},
		{Table: "sessions", RowID: "s1", Column: "title", Value: ir.String("x")},
		set("sessions", "s1", "title", ir.String("ok"), 2, "A"),
	})

	assert.Equal(t, 3, res.Malformed)
	assert.Equal(t, 1, res.Applied)
	v, _ := s.GetCell("sessions", "s1", "title")
	assert.Equal(t, ir.String("ok"), v)
}

func TestLocalWriteAfterRemoteWins(t *testing.T) {
	s := New(WithClientID("A"))
	s.ApplyDelta(SourceRemote, ir.Delta{set("sessions", "s1", "title", ir.String("remote"), 40, "Z")})

	s.SetCell("sessions", "s1", "title", ir.String("local"))

	v, _ := s.GetCell("sessions", "s1", "title")
	assert.Equal(t, ir.String("local"), v)
	assert.Equal(t, int64(41), s.Clock().Current())
}

func TestSetCellSkipsUnchanged(t *testing.T) {
	s := New(WithClientID("W1"))
	rec := &recorder{}
	s.Subscribe(rec.listen)

	s.SetCell("sessions", "s1", "title", ir.String("Standup"))
	s.SetCell("sessions", "s1", "title", ir.String("Standup"))
	s.DeleteRow("sessions", "missing")

	assert.Len(t, rec.all(), 1)
	assert.Equal(t, int64(1), s.Clock().Current())
}

func TestRowChangedEvents(t *testing.T) {
	s := New(WithClientID("W1"))
	rec := &recorder{}
	cancel := s.Subscribe(rec.listen)

	s.SetRow("sessions", "s1", ir.Row{"title": ir.String("Standup"), "user_id": ir.String("u1")})
	s.SetCell("sessions", "s1", "title", ir.String("Sync"))
	s.DeleteRow("sessions", "s1")

	events := rec.all()
	require.Len(t, events, 3)

	assert.Equal(t, SourceLocal, events[0].Source)
	assert.Nil(t, events[0].Previous)
	assert.Len(t, events[0].Changes, 2)
	assert.False(t, events[0].Deleted)

	assert.Equal(t, ir.String("Standup"), events[1].Previous["title"])

	assert.True(t, events[2].Deleted)
	assert.Equal(t, ir.String("Sync"), events[2].Previous["title"])
	assert.True(t, events[2].Changes[0].Tombstone)

	cancel()
	s.SetCell("sessions", "s2", "title", ir.String("after cancel"))
	assert.Len(t, rec.all(), 3)
}

func TestListenerMayReadStore(t *testing.T) {
	s := New(WithClientID("W1"))
	var seen ir.Value
	s.Subscribe(func(ev RowChanged) {
		seen, _ = s.GetCell(ev.Table, ev.RowID, "title")
	})

	s.SetCell("sessions", "s1", "title", ir.String("Sync"))
	assert.Equal(t, ir.String("Sync"), seen)
}

func TestTransactBatchesOneEventPerRow(t *testing.T) {
	s := New(WithClientID("W1"))
	rec := &recorder{}
	s.Subscribe(rec.listen)

	res := s.Transact(SourceFile, func(tx *Tx) {
		tx.SetCell("sessions", "s1", "title", ir.String("a"))
		tx.SetCell("sessions", "s1", "user_id", ir.String("u1"))
		tx.SetCell("humans", "h1", "full_name", ir.String("Ann"))
		assert.Equal(t, ir.Row{"title": ir.String("a"), "user_id": ir.String("u1")}, tx.Row("sessions", "s1"))
		assert.Equal(t, 3, tx.Len())
	})

	assert.Equal(t, 3, res.Applied)
	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, SourceFile, events[0].Source)
	assert.Equal(t, "sessions", events[0].Table)
	assert.Equal(t, "humans", events[1].Table)
}

func TestTransactDeleteThenRecreate(t *testing.T) {
	s := New(WithClientID("W1"))
	s.SetRow("sessions", "s1", ir.Row{"title": ir.String("a"), "user_id": ir.String("u1")})

	s.Transact(SourceLocal, func(tx *Tx) {
		tx.DeleteRow("sessions", "s1")
		assert.False(t, tx.HasRow("sessions", "s1"))
		tx.SetCell("sessions", "s1", "title", ir.String("a"))
	})

	assert.Equal(t, ir.Row{"title": ir.String("a")}, s.GetRow("sessions", "s1"))
}

func TestGetChangesSince(t *testing.T) {
	s := New(WithClientID("W1"))
	s.ApplyDelta(SourceSeed, ir.Delta{set("humans", "h1", "full_name", ir.String("Ann"), 0, ir.BaselineStamp.ClientID)})
	s.SetCell("sessions", "s1", "title", ir.String("a"))
	s.SetCell("sessions", "s2", "title", ir.String("b"))

	all := s.GetChangesSince(nil)
	assert.Len(t, all, 3)

	vv := s.VersionVector()
	assert.Empty(t, s.GetChangesSince(vv))

	s.DeleteRow("sessions", "s1")
	since := s.GetChangesSince(vv)
	require.Len(t, since, 1)
	assert.True(t, since[0].Tombstone)

	peer := New(WithClientID("W2"))
	peer.ApplyDelta(SourceRemote, s.GetChangesSince(nil))
	assert.Equal(t, s.TableDigests(), peer.TableDigests())
}

func TestRowChangesCarriesFullState(t *testing.T) {
	s := New(WithClientID("W1"))
	s.ApplyDelta(SourceRemote, ir.Delta{
		tomb("sessions", "s1", 1, "W2"),
		set("sessions", "s1", "title", ir.String("x"), 2, "W2"),
	})

	rc := s.RowChanges("sessions", "s1")
	require.Len(t, rc, 2)
	assert.True(t, rc[0].Tombstone)
	assert.Equal(t, "title", rc[1].Column)
	assert.Empty(t, s.RowChanges("sessions", "missing"))
}

func TestDigestsDetectDivergence(t *testing.T) {
	a := New(WithClientID("A"))
	b := New(WithClientID("B"))
	d := ir.Delta{set("sessions", "s1", "title", ir.String("x"), 1, "A")}
	a.ApplyDelta(SourceRemote, d)
	b.ApplyDelta(SourceRemote, d)
	assert.Equal(t, a.TableDigests(), b.TableDigests())
	assert.Equal(t, a.RowDigests("sessions"), b.RowDigests("sessions"))

	b.ApplyDelta(SourceRemote, ir.Delta{set("sessions", "s2", "title", ir.String("y"), 2, "B")})
	assert.NotEqual(t, a.TableDigests()["sessions"], b.TableDigests()["sessions"])
	assert.Len(t, b.RowDigests("sessions"), 2)
}

func TestCompact(t *testing.T) {
	s := New(WithClientID("W1"))
	s.ApplyDelta(SourceRemote, ir.Delta{
		tomb("sessions", "old", 2, "A"),
		tomb("sessions", "recent", 9, "A"),
		set("sessions", "live", "title", ir.String("x"), 1, "A"),
	})

	removed := s.Compact(5)
	assert.Equal(t, 1, removed)

	rc := s.RowChanges("sessions", "old")
	assert.Empty(t, rc)
	assert.NotEmpty(t, s.RowChanges("sessions", "recent"))
	assert.True(t, s.HasRow("sessions", "live"))
	assert.Equal(t, []string{"sessions"}, s.Tables())
}

func TestAllRowsSkipsDeleted(t *testing.T) {
	s := New(WithClientID("W1"))
	s.SetCell("sessions", "s1", "title", ir.String("Standup"))
	s.SetCell("sessions", "s2", "title", ir.String("Retro"))
	s.SetCell("organizations", "o1", "name", ir.String("Acme"))
	s.DeleteRow("sessions", "s2")
	s.DeleteRow("organizations", "o1")

	all := s.AllRows()
	assert.Equal(t, map[string]map[string]ir.Row{
		"sessions": {"s1": {"title": ir.String("Standup")}},
	}, all)
}
