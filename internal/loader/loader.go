// Package loader wires the note store to its backing database, its peers
// and the notes directory.
//
// Init hydrates the store from the backing database with the baseline
// stamp, so any edit made since (by a peer or in a file) wins the merge.
// It then defines the relationships, starts the synchroniser and starts
// the persister, in that order. The adapter holds no merge logic.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/notesync/internal/broadcast"
	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/model"
	"github.com/roach88/notesync/internal/persister"
	"github.com/roach88/notesync/internal/relationships"
	"github.com/roach88/notesync/internal/store"
)

// Source is the read-only backing database.
type Source interface {
	ListSessions(ctx context.Context) ([]model.Session, error)
	ListHumans(ctx context.Context) ([]model.Human, error)
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	SessionListParticipants(ctx context.Context, sessionID string) ([]model.Human, error)
}

// ErrAlreadyInitialized is returned by a second Init.
var ErrAlreadyInitialized = errors.New("loader already initialized")

// Options configures an Adapter. Every component is optional: a nil
// Source skips hydration, a nil Transport skips synchronisation and an
// empty Persist.Dir skips persistence.
type Options struct {
	Source    Source
	Transport broadcast.Transport
	Sync      broadcast.Options
	Persist   persister.Options

	// TombstoneHorizon is how many clock ticks Maintain keeps tombstones.
	// Zero disables compaction.
	TombstoneHorizon int64

	Logger *slog.Logger
}

// Adapter is the composition root.
type Adapter struct {
	store *store.Store
	opts  Options
	log   *slog.Logger

	mu          sync.Mutex
	initialized bool
	closed      bool
	index       *relationships.Index
	sync        *broadcast.Synchronizer
	persister   *persister.Persister
}

// New creates an adapter over s. Nothing runs until Init.
func New(s *store.Store, opts Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Sync.Logger == nil {
		opts.Sync.Logger = log
	}
	if opts.Persist.Logger == nil {
		opts.Persist.Logger = log
	}
	return &Adapter{store: s, opts: opts, log: log.With("component", "loader")}
}

// Store returns the note store.
func (a *Adapter) Store() *store.Store {
	return a.store
}

// Index returns the relationship index, or nil before Init.
func (a *Adapter) Index() *relationships.Index {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index
}

// Synchronizer returns the synchroniser, or nil if none is configured.
func (a *Adapter) Synchronizer() *broadcast.Synchronizer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sync
}

// Persister returns the persister, or nil if none is configured.
func (a *Adapter) Persister() *persister.Persister {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persister
}

// Init hydrates the store and starts every configured component. On
// failure the components already started are shut down again.
//
// The background loops outlive ctx; they run until Shutdown.
func (a *Adapter) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return ErrAlreadyInitialized
	}
	a.initialized = true

	if a.opts.Source != nil {
		seeded, err := a.seed(ctx)
		if err != nil {
			return err
		}
		a.log.Info("hydrated from backing database", "changes", seeded)
	}

	a.index = relationships.New(a.store)
	for _, rel := range model.Relationships {
		a.index.DefineRelationship(rel.Name, rel.LocalTable, rel.RemoteTable, rel.ForeignKey)
	}

	runCtx := context.WithoutCancel(ctx)
	if a.opts.Transport != nil {
		a.sync = broadcast.New(a.store, a.opts.Transport, a.opts.Sync)
		if err := a.sync.Start(runCtx); err != nil {
			a.shutdownLocked(ctx)
			return fmt.Errorf("start synchronizer: %w", err)
		}
	}

	if a.opts.Persist.Dir != "" {
		p, err := persister.New(a.store, a.index, a.opts.Persist)
		if err != nil {
			a.shutdownLocked(ctx)
			return fmt.Errorf("create persister: %w", err)
		}
		if err := p.Start(runCtx); err != nil {
			a.shutdownLocked(ctx)
			return fmt.Errorf("start persister: %w", err)
		}
		a.persister = p
	}
	return nil
}

// seed reads the backing database and merges it with the baseline stamp.
func (a *Adapter) seed(ctx context.Context) (int, error) {
	src := a.opts.Source

	orgs, err := src.ListOrganizations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list organizations: %w", err)
	}
	humans, err := src.ListHumans(ctx)
	if err != nil {
		return 0, fmt.Errorf("list humans: %w", err)
	}
	sessions, err := src.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	var d ir.Delta
	for _, o := range orgs {
		d = appendRow(d, model.TableOrganizations, o.ID, o.Row())
	}
	for _, h := range humans {
		d = appendRow(d, model.TableHumans, h.ID, h.Row())
	}
	for _, s := range sessions {
		d = appendRow(d, model.TableSessions, s.ID, s.Row())

		participants, err := src.SessionListParticipants(ctx, s.ID)
		if err != nil {
			return 0, fmt.Errorf("list participants of %s: %w", s.ID, err)
		}
		for _, h := range participants {
			p := model.SessionParticipant{Key: model.ParticipantKey{SessionID: s.ID, HumanID: h.ID}}
			d = appendRow(d, model.TableParticipants, p.Key.RowID(), p.Row())
		}
	}

	res := a.store.ApplyDelta(store.SourceSeed, d)
	return res.Applied, nil
}

// appendRow adds one baseline-stamped change per cell, in column order.
func appendRow(d ir.Delta, table, rowID string, r ir.Row) ir.Delta {
	for _, col := range r.SortedKeys() {
		d = append(d, ir.CellChange{
			Table:  table,
			RowID:  rowID,
			Column: col,
			Value:  r[col],
			Clock:  ir.BaselineStamp,
		})
	}
	return d
}

// Shutdown stops the synchroniser (publishing pending changes), flushes
// and stops the persister, then closes the relationship index. It is
// idempotent; the first error is returned.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutdownLocked(ctx)
}

func (a *Adapter) shutdownLocked(ctx context.Context) error {
	if a.closed || !a.initialized {
		return nil
	}
	a.closed = true

	var errs []error
	if a.sync != nil {
		if err := a.sync.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop synchronizer: %w", err))
		}
	}
	if a.persister != nil {
		if err := a.persister.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop persister: %w", err))
		}
	}
	if a.index != nil {
		a.index.Close()
	}
	a.log.Info("loader shut down")
	return errors.Join(errs...)
}

// MaintainResult reports what Maintain removed.
type MaintainResult struct {
	OrphansPruned    int
	TombstonesPruned int
}

// Maintain deletes participant rows whose session or human no longer
// exists, then compacts tombstones older than the configured horizon.
func (a *Adapter) Maintain() MaintainResult {
	a.mu.Lock()
	idx := a.index
	a.mu.Unlock()

	var res MaintainResult
	if idx != nil {
		orphans := map[string]struct{}{}
		for _, rel := range []string{model.RelParticipantSession, model.RelParticipantHuman} {
			for _, rowID := range idx.Orphans(rel) {
				orphans[rowID] = struct{}{}
			}
		}
		if len(orphans) > 0 {
			a.store.Transact(store.SourceLocal, func(tx *store.Tx) {
				for rowID := range orphans {
					tx.DeleteRow(model.TableParticipants, rowID)
				}
			})
			res.OrphansPruned = len(orphans)
		}
	}

	if h := a.opts.TombstoneHorizon; h > 0 {
		if horizon := a.store.Clock().Current() - h; horizon > 0 {
			res.TombstonesPruned = a.store.Compact(horizon)
		}
	}

	if res.OrphansPruned > 0 || res.TombstonesPruned > 0 {
		a.log.Info("maintenance", "orphans_pruned", res.OrphansPruned, "tombstones_pruned", res.TombstonesPruned)
	}
	return res
}
