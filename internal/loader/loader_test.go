package loader

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/notesync/internal/backing"
	"github.com/roach88/notesync/internal/broadcast"
	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/model"
	"github.com/roach88/notesync/internal/persister"
	"github.com/roach88/notesync/internal/store"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeSource is an in-memory backing database.
type fakeSource struct {
	sessions     []model.Session
	humans       []model.Human
	orgs         []model.Organization
	participants map[string][]model.Human
	err          error
}

func (f *fakeSource) ListSessions(context.Context) ([]model.Session, error) {
	return f.sessions, f.err
}

func (f *fakeSource) ListHumans(context.Context) ([]model.Human, error) {
	return f.humans, nil
}

func (f *fakeSource) ListOrganizations(context.Context) ([]model.Organization, error) {
	return f.orgs, nil
}

func (f *fakeSource) SessionListParticipants(_ context.Context, sessionID string) ([]model.Human, error) {
	return f.participants[sessionID], nil
}

func standupSource() *fakeSource {
	me := model.Human{ID: "u1", IsUser: true, FullName: "Me"}
	ann := model.Human{ID: "h1", OrganizationID: "o1", FullName: "Ann"}
	return &fakeSource{
		orgs:     []model.Organization{{ID: "o1", Name: "Acme"}},
		humans:   []model.Human{ann, me},
		sessions: []model.Session{{ID: "s1", Title: "Standup", UserID: "u1", RawMemoHTML: "notes"}},
		participants: map[string][]model.Human{
			"s1": {ann},
		},
	}
}

func newAdapter(t *testing.T, clientID string, opts Options) *Adapter {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	s := store.New(store.WithClientID(clientID), store.WithLogger(log))
	opts.Logger = log
	if opts.Transport != nil {
		opts.Sync.BatchInterval = tick
		opts.Sync.ReconnectMin = tick
		opts.Sync.ReconnectMax = 4 * tick
	}
	if opts.Persist.Dir != "" {
		opts.Persist.Debounce = tick
		opts.Persist.WatchDebounce = tick
		opts.Persist.RetryBase = time.Millisecond
	}
	a := New(s, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestInitHydratesWithBaselineStamp(t *testing.T) {
	a := newAdapter(t, "W1", Options{Source: standupSource()})
	require.NoError(t, a.Init(context.Background()))

	s := a.Store()
	assert.Equal(t, "Standup", ir.AsString(s.GetRow(model.TableSessions, "s1")[model.ColTitle]))
	assert.True(t, s.HasRow(model.TableOrganizations, "o1"))
	assert.True(t, ir.AsBool(s.GetRow(model.TableHumans, "u1")[model.ColIsUser]))

	key := model.ParticipantKey{SessionID: "s1", HumanID: "h1"}
	assert.True(t, s.HasRow(model.TableParticipants, key.RowID()))

	for _, c := range s.RowChanges(model.TableSessions, "s1") {
		assert.Equal(t, ir.BaselineStamp, c.Clock)
	}
	assert.Equal(t, int64(0), s.Clock().Current())
}

func TestInitDefinesRelationships(t *testing.T) {
	a := newAdapter(t, "W1", Options{Source: standupSource()})
	require.NoError(t, a.Init(context.Background()))

	idx := a.Index()
	require.NotNil(t, idx)
	assert.Len(t, idx.Definitions(), len(model.Relationships))

	key := model.ParticipantKey{SessionID: "s1", HumanID: "h1"}
	assert.Equal(t, []string{key.RowID()}, idx.LocalRowIDs(model.RelParticipantSession, "s1"))
	assert.Equal(t, []string{"s1"}, idx.LocalRowIDs(model.RelHumanSessions, "u1"))
	org, ok := idx.RemoteRowID(model.RelHumanOrganization, "h1")
	require.True(t, ok)
	assert.Equal(t, "o1", org)
}

func TestInitTwice(t *testing.T) {
	a := newAdapter(t, "W1", Options{})
	require.NoError(t, a.Init(context.Background()))
	assert.ErrorIs(t, a.Init(context.Background()), ErrAlreadyInitialized)
}

func TestInitSourceError(t *testing.T) {
	src := standupSource()
	src.err = errors.New("disk on fire")
	a := newAdapter(t, "W1", Options{Source: src})

	err := a.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Nil(t, a.Synchronizer())
}

func TestShutdownIsIdempotent(t *testing.T) {
	a := newAdapter(t, "W1", Options{
		Source:    standupSource(),
		Transport: broadcast.NewMemoryBus(),
		Persist:   persister.Options{Dir: t.TempDir()},
	})
	ctx := context.Background()
	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))
	assert.Equal(t, broadcast.StateStopped, a.Synchronizer().State())
}

func TestShutdownBeforeInit(t *testing.T) {
	a := newAdapter(t, "W1", Options{})
	assert.NoError(t, a.Shutdown(context.Background()))
}

func TestInitWritesNotesForSeededSessions(t *testing.T) {
	dir := t.TempDir()
	a := newAdapter(t, "W1", Options{Source: standupSource(), Persist: persister.Options{Dir: dir}})
	require.NoError(t, a.Init(context.Background()))

	path := filepath.Join(dir, "s1.md")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && len(data) > 0
	}, waitFor, tick)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "title: Standup")
	assert.Contains(t, string(data), "- h1")
}

// A memo edited while the app was closed is newer than the database row.
func TestExternalEditWhileClosedWinsOverBaseline(t *testing.T) {
	dir := t.TempDir()
	edited := "---\n" +
		"id: s1\n" +
		"participants:\n" +
		"  - h1\n" +
		"session_id: s1\n" +
		"title: Standup (edited offline)\n" +
		"type: memo\n" +
		"user_id: u1\n" +
		"---\n\n" +
		"new notes\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.md"), []byte(edited), 0o644))

	a := newAdapter(t, "W1", Options{Source: standupSource(), Persist: persister.Options{Dir: dir}})
	require.NoError(t, a.Init(context.Background()))

	row := a.Store().GetRow(model.TableSessions, "s1")
	assert.Equal(t, "Standup (edited offline)", ir.AsString(row[model.ColTitle]))
	assert.Equal(t, "new notes\n", ir.AsString(row[model.ColRawMemoHTML]))
	assert.Equal(t, "u1", ir.AsString(row[model.ColUserID]))

	changes := a.Store().RowChanges(model.TableSessions, "s1")
	for _, c := range changes {
		if c.Column == model.ColTitle {
			assert.Equal(t, 1, c.Clock.Compare(ir.BaselineStamp))
		}
	}
}

func TestReplicasConvergeOverBus(t *testing.T) {
	bus := broadcast.NewMemoryBus()
	w1 := newAdapter(t, "W1", Options{Source: standupSource(), Transport: bus})
	w2 := newAdapter(t, "W2", Options{Source: standupSource(), Transport: bus})
	ctx := context.Background()
	require.NoError(t, w1.Init(ctx))
	require.NoError(t, w2.Init(ctx))
	require.Eventually(t, func() bool { return bus.Members(broadcast.DefaultChannel) == 2 }, waitFor, tick)

	w1.Store().SetCell(model.TableSessions, "s1", model.ColTitle, ir.String("Daily"))
	w2.Store().SetCell(model.TableSessions, "s1", model.ColTitle, ir.String("Sync"))

	require.Eventually(t, func() bool {
		return w1.Store().TableDigests()[model.TableSessions] == w2.Store().TableDigests()[model.TableSessions]
	}, waitFor, tick)

	// Concurrent writes both carry counter 1 and W2 wins the tie-break on
	// client id. If W2 saw W1's write first its own stamp is higher anyway.
	for _, a := range []*Adapter{w1, w2} {
		assert.Equal(t, "Sync", ir.AsString(a.Store().GetRow(model.TableSessions, "s1")[model.ColTitle]))
	}
}

func TestMaintainPrunesOrphanParticipants(t *testing.T) {
	a := newAdapter(t, "W1", Options{Source: standupSource()})
	require.NoError(t, a.Init(context.Background()))
	s := a.Store()

	ghost := model.SessionParticipant{Key: model.ParticipantKey{SessionID: "gone", HumanID: "h1"}}
	s.SetRow(model.TableParticipants, ghost.Key.RowID(), ghost.Row())
	stranger := model.SessionParticipant{Key: model.ParticipantKey{SessionID: "s1", HumanID: "nobody"}}
	s.SetRow(model.TableParticipants, stranger.Key.RowID(), stranger.Row())

	res := a.Maintain()
	assert.Equal(t, 2, res.OrphansPruned)
	assert.False(t, s.HasRow(model.TableParticipants, ghost.Key.RowID()))
	assert.False(t, s.HasRow(model.TableParticipants, stranger.Key.RowID()))

	kept := model.ParticipantKey{SessionID: "s1", HumanID: "h1"}
	assert.True(t, s.HasRow(model.TableParticipants, kept.RowID()))

	assert.Zero(t, a.Maintain().OrphansPruned)
}

func TestMaintainCompactsOldTombstones(t *testing.T) {
	a := newAdapter(t, "W1", Options{TombstoneHorizon: 2})
	require.NoError(t, a.Init(context.Background()))
	s := a.Store()

	s.SetCell(model.TableOrganizations, "o1", model.ColName, ir.String("Acme"))
	s.DeleteRow(model.TableOrganizations, "o1")
	assert.Zero(t, a.Maintain().TombstonesPruned, "tombstone is within the horizon")

	for i := 0; i < 3; i++ {
		s.SetCell(model.TableOrganizations, "o2", model.ColName, ir.String(string(rune('a'+i))))
	}
	assert.Equal(t, 1, a.Maintain().TombstonesPruned)
	assert.Empty(t, s.RowChanges(model.TableOrganizations, "o1"))
}

func TestInitFromSQLiteDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backing.db")
	db, err := backing.Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, db.PutHuman(ctx, model.Human{ID: "u1", IsUser: true}))
	require.NoError(t, db.PutSession(ctx, model.Session{ID: "s1", Title: "Sync", UserID: "u1"}))
	require.NoError(t, db.AddParticipant(ctx, model.ParticipantKey{SessionID: "s1", HumanID: "u1"}))
	require.NoError(t, db.Close())

	ro, err := backing.OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	a := newAdapter(t, "W1", Options{Source: ro})
	require.NoError(t, a.Init(ctx))
	assert.Equal(t, []string{"s1"}, a.Store().RowIDs(model.TableSessions))
	assert.Equal(t, []string{model.ParticipantKey{SessionID: "s1", HumanID: "u1"}.RowID()},
		a.Store().RowIDs(model.TableParticipants))
}
