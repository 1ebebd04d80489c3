// Package relationships maintains derived foreign-key indexes over the store.
//
// A relationship maps each row of a local table to the row of a remote
// table named by one of its cells, and the reverse. Indexes are rebuilt
// from the store at definition time and then kept current from row-changed
// events, synchronously, on the writing goroutine.
package relationships

import (
	"maps"
	"slices"
	"sync"

	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/store"
)

// Definition names a foreign key: LocalTable.ForeignKey -> RemoteTable row id.
type Definition struct {
	Name        string
	LocalTable  string
	RemoteTable string
	ForeignKey  string
}

type relationship struct {
	def      Definition
	remoteOf map[string]string              // local row -> remote row id
	localsOf map[string]map[string]struct{} // remote row id -> local rows
}

// Index holds every defined relationship.
type Index struct {
	store *store.Store

	mu   sync.RWMutex
	rels map[string]*relationship

	unsubscribe func()
}

// New creates an index subscribed to s.
func New(s *store.Store) *Index {
	idx := &Index{
		store: s,
		rels:  make(map[string]*relationship),
	}
	idx.unsubscribe = s.Subscribe(idx.onRowChanged)
	return idx
}

// Close stops following store changes.
func (idx *Index) Close() {
	if idx.unsubscribe != nil {
		idx.unsubscribe()
		idx.unsubscribe = nil
	}
}

// DefineRelationship registers (or replaces) a relationship and builds it
// from the current store contents. Safe to call while the store is being
// written.
func (idx *Index) DefineRelationship(name, localTable, remoteTable, foreignKey string) {
	rel := &relationship{
		def: Definition{
			Name:        name,
			LocalTable:  localTable,
			RemoteTable: remoteTable,
			ForeignKey:  foreignKey,
		},
		remoteOf: make(map[string]string),
		localsOf: make(map[string]map[string]struct{}),
	}

	// Built under mu so a write merged after the snapshot is dispatched
	// only once the relationship is installed.
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for rowID, r := range idx.store.GetTable(localTable) {
		rel.link(rowID, ir.AsString(r[foreignKey]))
	}
	idx.rels[name] = rel
}

// RemoteRowID returns the remote row the local row points at.
// A dangling or missing foreign key returns ("", false).
func (idx *Index) RemoteRowID(name, localRowID string) (string, bool) {
	idx.mu.RLock()
	rel, ok := idx.rels[name]
	if !ok {
		idx.mu.RUnlock()
		return "", false
	}
	remote, ok := rel.remoteOf[localRowID]
	remoteTable := rel.def.RemoteTable
	idx.mu.RUnlock()

	if !ok || !idx.store.HasRow(remoteTable, remote) {
		return "", false
	}
	return remote, true
}

// LocalRowIDs returns the local rows pointing at remoteRowID, sorted.
// Returns an empty slice (not nil) when there are none.
func (idx *Index) LocalRowIDs(name, remoteRowID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rel, ok := idx.rels[name]
	if !ok {
		return []string{}
	}
	return slices.Sorted(maps.Keys(rel.localsOf[remoteRowID]))
}

// Orphans returns local rows whose foreign key names a remote row that is
// not visible, sorted.
func (idx *Index) Orphans(name string) []string {
	idx.mu.RLock()
	rel, ok := idx.rels[name]
	if !ok {
		idx.mu.RUnlock()
		return []string{}
	}
	pairs := maps.Clone(rel.remoteOf)
	remoteTable := rel.def.RemoteTable
	idx.mu.RUnlock()

	out := []string{}
	for local, remote := range pairs {
		if !idx.store.HasRow(remoteTable, remote) {
			out = append(out, local)
		}
	}
	slices.Sort(out)
	return out
}

// Definitions returns every relationship definition, sorted by name.
func (idx *Index) Definitions() []Definition {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Definition, 0, len(idx.rels))
	for _, name := range slices.Sorted(maps.Keys(idx.rels)) {
		out = append(out, idx.rels[name].def)
	}
	return out
}

func (idx *Index) onRowChanged(ev store.RowChanged) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var fk ir.Row
	loaded := false
	for _, rel := range idx.rels {
		if rel.def.LocalTable != ev.Table {
			continue
		}
		rel.unlink(ev.RowID)
		if ev.Deleted {
			continue
		}
		if !loaded {
			fk = idx.store.GetRow(ev.Table, ev.RowID)
			loaded = true
		}
		rel.link(ev.RowID, ir.AsString(fk[rel.def.ForeignKey]))
	}
}

func (rel *relationship) link(local, remote string) {
	if remote == "" {
		return
	}
	rel.remoteOf[local] = remote
	locals, ok := rel.localsOf[remote]
	if !ok {
		locals = make(map[string]struct{})
		rel.localsOf[remote] = locals
	}
	locals[local] = struct{}{}
}

func (rel *relationship) unlink(local string) {
	remote, ok := rel.remoteOf[local]
	if !ok {
		return
	}
	delete(rel.remoteOf, local)
	delete(rel.localsOf[remote], local)
	if len(rel.localsOf[remote]) == 0 {
		delete(rel.localsOf, remote)
	}
}
