package relationships

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/store"
)

func newIndex(t *testing.T) (*store.Store, *Index) {
	t.Helper()
	s := store.New(store.WithClientID("W1"))
	idx := New(s)
	t.Cleanup(idx.Close)
	return s, idx
}

func TestDefineRelationshipBuildsFromExistingRows(t *testing.T) {
	s, idx := newIndex(t)
	s.SetRow("organizations", "o1", ir.Row{"name": ir.String("Acme")})
	s.SetRow("humans", "h1", ir.Row{"full_name": ir.String("Ann"), "organization_id": ir.String("o1")})
	s.SetRow("humans", "h2", ir.Row{"full_name": ir.String("Bob"), "organization_id": ir.String("o1")})

	idx.DefineRelationship("humanOrganization", "humans", "organizations", "organization_id")

	remote, ok := idx.RemoteRowID("humanOrganization", "h1")
	require.True(t, ok)
	assert.Equal(t, "o1", remote)
	assert.Equal(t, []string{"h1", "h2"}, idx.LocalRowIDs("humanOrganization", "o1"))
}

func TestDefineRelationshipDuringWrites(t *testing.T) {
	s, idx := newIndex(t)
	const n = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			s.SetRow("humans", fmt.Sprintf("h%03d", i), ir.Row{"organization_id": ir.String("o1")})
		}
	}()
	for range 20 {
		idx.DefineRelationship("humanOrganization", "humans", "organizations", "organization_id")
	}
	wg.Wait()

	assert.Len(t, idx.LocalRowIDs("humanOrganization", "o1"), n)
}

func TestRecomputesOnForeignKeyChange(t *testing.T) {
	s, idx := newIndex(t)
	idx.DefineRelationship("humanOrganization", "humans", "organizations", "organization_id")
	s.SetRow("organizations", "o1", ir.Row{"name": ir.String("Acme")})
	s.SetRow("organizations", "o2", ir.Row{"name": ir.String("Globex")})

	s.SetRow("humans", "h1", ir.Row{"organization_id": ir.String("o1")})
	assert.Equal(t, []string{"h1"}, idx.LocalRowIDs("humanOrganization", "o1"))

	s.SetCell("humans", "h1", "organization_id", ir.String("o2"))
	assert.Empty(t, idx.LocalRowIDs("humanOrganization", "o1"))
	assert.Equal(t, []string{"h1"}, idx.LocalRowIDs("humanOrganization", "o2"))

	remote, ok := idx.RemoteRowID("humanOrganization", "h1")
	require.True(t, ok)
	assert.Equal(t, "o2", remote)
}

func TestRemovesDeletedLocalRows(t *testing.T) {
	s, idx := newIndex(t)
	idx.DefineRelationship("participantSession", "mapping_session_participant", "sessions", "session_id")
	s.SetRow("sessions", "s1", ir.Row{"title": ir.String("Sync")})
	s.SetRow("mapping_session_participant", "p1", ir.Row{"session_id": ir.String("s1"), "human_id": ir.String("h1")})
	require.Equal(t, []string{"p1"}, idx.LocalRowIDs("participantSession", "s1"))

	s.DeleteRow("mapping_session_participant", "p1")
	assert.Empty(t, idx.LocalRowIDs("participantSession", "s1"))
	_, ok := idx.RemoteRowID("participantSession", "p1")
	assert.False(t, ok)
}

func TestDanglingForeignKey(t *testing.T) {
	s, idx := newIndex(t)
	idx.DefineRelationship("participantHuman", "mapping_session_participant", "humans", "human_id")
	s.SetRow("mapping_session_participant", "p1", ir.Row{"session_id": ir.String("s1"), "human_id": ir.String("ghost")})

	remote, ok := idx.RemoteRowID("participantHuman", "p1")
	assert.False(t, ok)
	assert.Equal(t, "", remote)
	assert.Equal(t, []string{"p1"}, idx.LocalRowIDs("participantHuman", "ghost"))
	assert.Equal(t, []string{"p1"}, idx.Orphans("participantHuman"))

	s.SetRow("humans", "ghost", ir.Row{"full_name": ir.String("Now Real")})
	remote, ok = idx.RemoteRowID("participantHuman", "p1")
	assert.True(t, ok)
	assert.Equal(t, "ghost", remote)
	assert.Empty(t, idx.Orphans("participantHuman"))
}

func TestIndependentRelationshipsOverSameTable(t *testing.T) {
	s, idx := newIndex(t)
	idx.DefineRelationship("participantHuman", "mapping_session_participant", "humans", "human_id")
	idx.DefineRelationship("participantSession", "mapping_session_participant", "sessions", "session_id")
	s.SetRow("humans", "h1", ir.Row{"full_name": ir.String("Ann")})
	s.SetRow("sessions", "s1", ir.Row{"title": ir.String("Sync")})

	s.SetRow("mapping_session_participant", "p1", ir.Row{"session_id": ir.String("s1"), "human_id": ir.String("h1")})

	assert.Equal(t, []string{"p1"}, idx.LocalRowIDs("participantHuman", "h1"))
	assert.Equal(t, []string{"p1"}, idx.LocalRowIDs("participantSession", "s1"))
}

func TestRemoteMutationsFlowThroughIndex(t *testing.T) {
	s, idx := newIndex(t)
	idx.DefineRelationship("humanSessions", "sessions", "humans", "user_id")

	s.ApplyDelta(store.SourceRemote, ir.Delta{
		{Table: "humans", RowID: "u1", Column: "is_user", Value: ir.Bool(true), Clock: ir.Stamp{Counter: 1, ClientID: "W2"}},
		{Table: "sessions", RowID: "s1", Column: "user_id", Value: ir.String("u1"), Clock: ir.Stamp{Counter: 2, ClientID: "W2"}},
	})

	assert.Equal(t, []string{"s1"}, idx.LocalRowIDs("humanSessions", "u1"))
}

func TestUnknownRelationship(t *testing.T) {
	_, idx := newIndex(t)
	_, ok := idx.RemoteRowID("nope", "x")
	assert.False(t, ok)
	assert.Empty(t, idx.LocalRowIDs("nope", "x"))
	assert.NotNil(t, idx.LocalRowIDs("nope", "x"))
	assert.Empty(t, idx.Orphans("nope"))
}

func TestDefinitions(t *testing.T) {
	_, idx := newIndex(t)
	idx.DefineRelationship("b", "t1", "t2", "fk")
	idx.DefineRelationship("a", "t3", "t4", "fk2")
	idx.DefineRelationship("b", "t1", "t5", "fk")

	defs := idx.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "t5", defs[1].RemoteTable)
}
