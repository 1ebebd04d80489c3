package persister

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/notesync/internal/metrics"
	"github.com/roach88/notesync/internal/model"
	"github.com/roach88/notesync/internal/store"
)

// scan applies every notes file in the directory and returns how many were
// read.
func (p *Persister) scan() (int, error) {
	paths, err := listNotesFiles(p.opts.Dir)
	if err != nil {
		return 0, fmt.Errorf("read notes directory: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	applied := 0
	for _, path := range paths {
		if p.applyFileLocked(path) {
			applied++
		}
	}
	return applied, nil
}

// watch reads back files changed outside the app, in debounced batches.
func (p *Persister) watch(ctx context.Context, w *fsnotify.Watcher) {
	batch := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if _, known := classifyPath(p.opts.Dir, ev.Name); !known {
				continue
			}
			batch[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(p.opts.WatchDebounce)
				timerC = timer.C
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.log.Warn("watcher error", "error", err)

		case <-timerC:
			paths := slices.Sorted(maps.Keys(batch))
			clear(batch)
			timer, timerC = nil, nil
			for _, path := range paths {
				p.applyFile(path)
			}
		}
	}
}

func (p *Persister) applyFile(path string) bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.applyFileLocked(path)
}

// applyFileLocked merges one notes file into the store and reports whether
// it read anything new. Our own writes and unchanged files are skipped;
// unparsable files are quarantined. Caller must hold writeMu.
//
// A file already known is merged against the state it held when last
// written or read, so only the fields edited outside the app are applied
// and edits made in the app since then are kept.
func (p *Persister) applyFileLocked(path string) bool {
	ref, ok := classifyPath(p.opts.Dir, path)
	if !ok {
		return false
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		p.fileRemoved(path)
		return false
	}
	if err != nil {
		p.log.Warn("cannot read notes file", "path", path, "error", err)
		return false
	}
	h := contentHash(data)

	p.mu.Lock()
	e, known := p.files[path]
	p.mu.Unlock()
	if known && e.hash == h {
		return false
	}
	var base fileState
	if known {
		base = e.state
	}

	var next fileState
	if ref.kind == kindTranscript {
		next, err = p.applyTranscripts(path, ref, data, base)
	} else {
		next, err = p.applyDocument(path, ref, data, base)
	}
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			p.quarantine(path, ref, err)
		} else {
			p.log.Warn("cannot apply notes file", "path", path, "error", err)
		}
		return false
	}

	p.mu.Lock()
	p.files[path] = fileEntry{ref: ref, hash: h, state: next}
	p.mu.Unlock()
	metrics.FilesApplied.WithLabelValues(ref.kind.String()).Inc()
	p.log.Debug("applied notes file", "path", path, "kind", ref.kind.String(), "owner", ref.owner().String(), "merged", base != nil)
	return true
}

func (p *Persister) applyDocument(path string, ref fileRef, data []byte, base fileState) (fileState, error) {
	fm, body, err := p.schema.decodeFile(path, ref, data)
	if err != nil {
		return nil, err
	}

	var next fileState
	switch ref.kind {
	case kindMemo:
		next = memoState(fm.session(body), fm.participants())
	case kindEnhanced:
		next = enhancedState(fm.enhancedNote(body), fm.Position != nil)
	case kindHuman:
		next = humanState(fm.human())
	case kindOrganization:
		next = organizationState(fm.organization(body))
	}

	var stale []rowKey
	switch {
	case base != nil:
		stale = base.removed(next)
	case ref.kind == kindMemo:
		for _, rowID := range p.rel.LocalRowIDs(model.RelParticipantSession, ref.sessionID) {
			stale = append(stale, rowKey{model.TableParticipants, rowID})
		}
	}

	p.store.Transact(store.SourceFile, func(tx *store.Tx) {
		applyState(tx, base, next, stale)
	})
	return next, nil
}

func (p *Persister) applyTranscripts(path string, ref fileRef, data []byte, base fileState) (fileState, error) {
	transcripts, err := decodeTranscripts(path, data)
	if err != nil {
		return nil, err
	}

	next := make(fileState, len(transcripts))
	for _, t := range transcripts {
		t.SessionID = ref.sessionID
		r, err := t.Row()
		if err != nil {
			return nil, newParseError(ErrCodeInvalidJSON, path, "transcript "+t.ID, err)
		}
		next[rowKey{model.TableTranscripts, t.ID}] = r
	}

	var stale []rowKey
	if base != nil {
		stale = base.removed(next)
	} else {
		for _, id := range p.rel.LocalRowIDs(model.RelTranscriptSession, ref.sessionID) {
			stale = append(stale, rowKey{model.TableTranscripts, id})
		}
	}

	p.store.Transact(store.SourceFile, func(tx *store.Tx) {
		applyState(tx, base, next, stale)
	})
	return next, nil
}

// fileRemoved turns the external removal of a known file into a delete.
func (p *Persister) fileRemoved(path string) {
	p.mu.Lock()
	e, known := p.files[path]
	delete(p.files, path)
	p.mu.Unlock()
	if !known {
		return
	}

	owner := e.ref.owner()
	p.log.Info("notes file removed externally", "path", path, "kind", e.ref.kind.String(), "owner", owner.String())

	switch e.ref.kind {
	case kindMemo:
		p.store.Transact(store.SourceFile, func(tx *store.Tx) {
			tx.DeleteRow(model.TableSessions, e.ref.sessionID)
		})
		// The session's other files follow the memo.
		p.schedule(owner)
	case kindEnhanced:
		p.store.Transact(store.SourceFile, func(tx *store.Tx) {
			tx.DeleteRow(model.TableEnhancedNotes, e.ref.noteID)
		})
	case kindTranscript:
		// Transcripts added in the app since the file was last seen stay.
		p.store.Transact(store.SourceFile, func(tx *store.Tx) {
			for _, k := range e.state.keys() {
				tx.DeleteRow(k.table, k.rowID)
			}
		})
		p.schedule(owner)
	case kindHuman, kindOrganization:
		p.store.Transact(store.SourceFile, func(tx *store.Tx) {
			tx.DeleteRow(owner.table, owner.id)
		})
	}
}

// quarantine renames an unparsable file aside and rewrites its owner from
// the store.
func (p *Persister) quarantine(path string, ref fileRef, cause error) {
	aside := path + quarantinedExt

	p.mu.Lock()
	delete(p.files, path)
	p.mu.Unlock()

	if err := os.Rename(path, aside); err != nil {
		p.log.Error("cannot quarantine notes file", "path", path, "error", err)
		aside = path
	}

	p.mu.Lock()
	p.quarantined = append(p.quarantined, aside)
	p.mu.Unlock()

	owner := ref.owner()
	metrics.Quarantined.Inc()
	p.warn(Warning{Kind: WarningQuarantined, SessionID: ref.sessionID, Path: aside, Err: cause})

	if p.store.HasRow(owner.table, owner.id) {
		p.schedule(owner)
	}
}
