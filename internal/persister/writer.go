package persister

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/metrics"
	"github.com/roach88/notesync/internal/model"
	"github.com/roach88/notesync/internal/store"
)

// onRowChanged schedules the targets rendering a changed row. File-origin
// changes already match the files they came from.
func (p *Persister) onRowChanged(ev store.RowChanged) {
	if ev.Source == store.SourceFile {
		return
	}
	switch ev.Table {
	case model.TableHumans, model.TableOrganizations:
		p.schedule(target{table: ev.Table, id: ev.RowID})
		return
	}
	for _, sid := range p.owningSessions(ev) {
		p.schedule(sessionTarget(sid))
	}
}

// owningSessions returns the sessions whose files render the row, before
// and after the change.
func (p *Persister) owningSessions(ev store.RowChanged) []string {
	switch ev.Table {
	case model.TableSessions:
		return []string{ev.RowID}
	case model.TableParticipants, model.TableEnhancedNotes, model.TableTranscripts:
	default:
		return nil
	}

	var out []string
	add := func(v ir.Value) {
		if sid := ir.AsString(v); sid != "" && !slices.Contains(out, sid) {
			out = append(out, sid)
		}
	}
	add(ev.Previous[model.ColSessionID])
	for _, c := range ev.Changes {
		if c.Column == model.ColSessionID {
			add(c.Value)
		}
	}
	if len(out) == 0 {
		add(p.store.GetRow(ev.Table, ev.RowID)[model.ColSessionID])
	}
	return out
}

// schedule (re)starts the idle debounce of a target: the write happens
// once no change has arrived for Debounce, but no later than MaxWait after
// the first unwritten change. A pending retry is never brought forward.
func (p *Persister) schedule(t target) {
	now := time.Now()

	p.mu.Lock()
	w, ok := p.pending[t]
	if !ok {
		w = &pendingWrite{first: now, due: now}
		p.pending[t] = w
	}
	due := now.Add(p.opts.Debounce)
	if limit := w.first.Add(p.opts.MaxWait); due.After(limit) {
		due = limit
	}
	if due.After(w.due) {
		w.due = due
	}
	p.mu.Unlock()

	p.signal()
}

func (p *Persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Persister) nextDue() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var next time.Time
	for _, w := range p.pending {
		if next.IsZero() || w.due.Before(next) {
			next = w.due
		}
	}
	return next, !next.IsZero()
}

func (p *Persister) runWorker(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var timerC <-chan time.Time
		if next, ok := p.nextDue(); ok {
			timer.Reset(max(time.Until(next), 0))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			timer.Stop()
		case <-timerC:
			if err := p.writeDue(ctx, time.Now(), false); err != nil {
				p.log.Debug("write pass failed", "error", err)
			}
		}
	}
}

type dueWrite struct {
	target  target
	attempt int
}

// takeDue removes and returns the targets due at now, or all of them when
// force is set.
func (p *Persister) takeDue(now time.Time, force bool) []dueWrite {
	p.mu.Lock()
	defer p.mu.Unlock()

	var due []dueWrite
	for t, w := range p.pending {
		if force || !w.due.After(now) {
			due = append(due, dueWrite{target: t, attempt: w.attempt})
			delete(p.pending, t)
		}
	}
	slices.SortFunc(due, func(a, b dueWrite) int {
		return compareTargets(a.target, b.target)
	})
	return due
}

func (p *Persister) writeDue(ctx context.Context, now time.Time, force bool) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	due := p.takeDue(now, force)
	var errs []error
	for i, w := range due {
		if err := ctx.Err(); err != nil {
			for _, rest := range due[i:] {
				p.requeue(rest.target, rest.attempt, time.Now())
			}
			errs = append(errs, err)
			break
		}

		start := time.Now()
		err := p.persist(w.target)
		metrics.PersistDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			p.clearDirty(w.target)
			continue
		}
		errs = append(errs, err)
		p.retry(w.target, w.attempt+1, err)
	}
	return errors.Join(errs...)
}

func (p *Persister) requeue(t target, attempt int, due time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.pending[t]; ok {
		w.attempt = max(w.attempt, attempt)
		return
	}
	p.pending[t] = &pendingWrite{first: time.Now(), due: due, attempt: attempt}
}

func (p *Persister) retry(t target, attempt int, cause error) {
	if attempt > p.opts.MaxRetries {
		p.mu.Lock()
		p.dirty[t] = cause
		n := len(p.dirty)
		p.mu.Unlock()

		metrics.DirtySessions.Set(float64(n))
		var path string
		var pe *PersistError
		if errors.As(cause, &pe) {
			path = pe.Path
		}
		p.warn(Warning{Kind: WarningDirty, SessionID: t.String(), Path: path, Err: cause})
		return
	}

	backoff := p.opts.RetryBase << (attempt - 1)
	p.log.Debug("retrying write", "target", t.String(), "attempt", attempt, "backoff", backoff, "error", cause)
	p.requeue(t, attempt, time.Now().Add(backoff))
	p.signal()
}

func (p *Persister) clearDirty(t target) {
	p.mu.Lock()
	_, was := p.dirty[t]
	delete(p.dirty, t)
	n := len(p.dirty)
	p.mu.Unlock()

	if was {
		metrics.DirtySessions.Set(float64(n))
		p.log.Info("dirty target persisted", "target", t.String())
	}
}

// persist brings a target's files in line with the store. Caller must
// hold writeMu.
func (p *Persister) persist(t target) error {
	if !validID(t.id) {
		p.log.Warn("id cannot be used as a file name", "table", t.table, "id", t.id)
		return nil
	}
	if t.table == model.TableSessions {
		return p.persistSession(t.id)
	}
	return p.persistEntity(t)
}

// absorb reads back files of a target that changed on disk since they
// were last written or read, so the write that follows merges them
// instead of overwriting them. Caller must hold writeMu.
func (p *Persister) absorb(paths []string) {
	for _, path := range paths {
		p.mu.Lock()
		e, known := p.files[path]
		p.mu.Unlock()
		if !known {
			continue
		}
		data, err := os.ReadFile(path)
		if err == nil && contentHash(data) == e.hash {
			continue
		}
		p.applyFileLocked(path)
	}
}

// persistSession writes a session's memo, enhanced notes and transcripts
// and removes files it no longer renders.
func (p *Persister) persistSession(sid string) error {
	p.absorb(p.sessionFiles(sid))

	row := p.store.GetRow(model.TableSessions, sid)
	if row == nil {
		return p.removeSession(sid)
	}

	var errs []error
	keep := make(map[string]bool)

	session := model.SessionFromRow(sid, row)
	participants := p.participants(sid)
	memo, err := renderMemo(session, participants)
	if err != nil {
		return &PersistError{Code: ErrCodeRenderFailed, SessionID: sid, Path: memoPath(p.opts.Dir, sid), Err: err}
	}
	path := memoPath(p.opts.Dir, sid)
	keep[path] = true
	errs = append(errs, p.writeFile(path, fileRef{kind: kindMemo, sessionID: sid}, memo, memoState(session, participants)))

	for _, nid := range p.rel.LocalRowIDs(model.RelEnhancedNoteSession, sid) {
		noteRow := p.store.GetRow(model.TableEnhancedNotes, nid)
		if noteRow == nil {
			continue
		}
		if !validID(nid) {
			p.log.Warn("enhanced note id cannot be used as a file name", "session_id", sid, "note_id", nid)
			continue
		}
		path := enhancedPath(p.opts.Dir, sid, nid)
		keep[path] = true
		note := model.EnhancedNoteFromRow(nid, noteRow)
		data, err := renderEnhanced(note)
		if err != nil {
			errs = append(errs, &PersistError{Code: ErrCodeRenderFailed, SessionID: sid, Path: path, Err: err})
			continue
		}
		ref := fileRef{kind: kindEnhanced, sessionID: sid, noteID: nid}
		errs = append(errs, p.writeFile(path, ref, data, enhancedState(note, true)))
	}

	var transcripts []model.Transcript
	rows := make(map[string]ir.Row)
	for _, tid := range p.rel.LocalRowIDs(model.RelTranscriptSession, sid) {
		tRow := p.store.GetRow(model.TableTranscripts, tid)
		if tRow == nil {
			continue
		}
		t, err := model.TranscriptFromRow(tid, tRow)
		if err != nil {
			p.log.Warn("skipping unreadable transcript", "session_id", sid, "transcript_id", tid, "error", err)
			continue
		}
		r, err := t.Row()
		if err != nil {
			p.log.Warn("skipping unreadable transcript", "session_id", sid, "transcript_id", tid, "error", err)
			continue
		}
		transcripts = append(transcripts, t)
		rows[tid] = r
	}
	if len(transcripts) > 0 {
		path := transcriptPath(p.opts.Dir, sid)
		keep[path] = true
		data, err := renderTranscripts(transcripts)
		if err != nil {
			errs = append(errs, &PersistError{Code: ErrCodeRenderFailed, SessionID: sid, Path: path, Err: err})
		} else {
			ref := fileRef{kind: kindTranscript, sessionID: sid}
			errs = append(errs, p.writeFile(path, ref, data, transcriptState(rows)))
		}
	}

	for _, path := range p.sessionFiles(sid) {
		if !keep[path] {
			errs = append(errs, p.removeFile(path, sid))
		}
	}
	return errors.Join(errs...)
}

// persistEntity writes or removes the file of one human or organization.
func (p *Persister) persistEntity(t target) error {
	path := entityPath(p.opts.Dir, t.table, t.id)
	p.absorb([]string{path})

	row := p.store.GetRow(t.table, t.id)
	if row == nil {
		return p.removeFile(path, "")
	}

	var (
		ref   fileRef
		data  []byte
		state fileState
		err   error
	)
	switch t.table {
	case model.TableHumans:
		h := model.HumanFromRow(t.id, row)
		ref = fileRef{kind: kindHuman, entityID: t.id}
		data, err = renderHuman(h)
		state = humanState(h)
	case model.TableOrganizations:
		o := model.OrganizationFromRow(t.id, row)
		ref = fileRef{kind: kindOrganization, entityID: t.id}
		data, err = renderOrganization(o)
		state = organizationState(o)
	default:
		return nil
	}
	if err != nil {
		return &PersistError{Code: ErrCodeRenderFailed, Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &PersistError{Code: ErrCodeWriteFailed, Path: path, Err: err}
	}
	return p.writeFile(path, ref, data, state)
}

// participants returns the human ids joined to a session, sorted.
func (p *Persister) participants(sid string) []string {
	var out []string
	for _, rowID := range p.rel.LocalRowIDs(model.RelParticipantSession, sid) {
		humanID := ir.AsString(p.store.GetRow(model.TableParticipants, rowID)[model.ColHumanID])
		if humanID != "" && !slices.Contains(out, humanID) {
			out = append(out, humanID)
		}
	}
	slices.Sort(out)
	return out
}

// sessionFiles returns every indexed path belonging to a session plus the
// memo and transcript paths.
func (p *Persister) sessionFiles(sid string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := map[string]bool{
		memoPath(p.opts.Dir, sid):       true,
		transcriptPath(p.opts.Dir, sid): true,
	}
	for path, e := range p.files {
		if e.ref.sessionID == sid {
			set[path] = true
		}
	}
	out := make([]string, 0, len(set))
	for path := range set {
		out = append(out, path)
	}
	slices.Sort(out)
	return out
}

func (p *Persister) removeSession(sid string) error {
	var errs []error
	for _, path := range p.sessionFiles(sid) {
		errs = append(errs, p.removeFile(path, sid))
	}
	return errors.Join(errs...)
}

// writeFile writes data unless the indexed content already matches. The
// index, with the state the file now describes, is updated before the
// rename so the watcher recognises the write.
func (p *Persister) writeFile(path string, ref fileRef, data []byte, state fileState) error {
	h := contentHash(data)

	p.mu.Lock()
	prev, known := p.files[path]
	if known && prev.hash == h {
		p.mu.Unlock()
		metrics.PersistWrites.WithLabelValues("unchanged").Inc()
		return nil
	}
	p.files[path] = fileEntry{ref: ref, hash: h, state: state}
	p.mu.Unlock()

	if err := writeAtomic(path, data); err != nil {
		p.mu.Lock()
		if known {
			p.files[path] = prev
		} else {
			delete(p.files, path)
		}
		p.mu.Unlock()
		metrics.PersistWrites.WithLabelValues("error").Inc()
		return &PersistError{Code: ErrCodeWriteFailed, SessionID: ref.sessionID, Path: path, Err: err}
	}

	metrics.PersistWrites.WithLabelValues("written").Inc()
	p.log.Debug("wrote notes file", "path", path, "kind", ref.kind.String())
	return nil
}

// removeFile drops a path from the index, then from disk, so the watcher
// does not mistake the removal for an external delete.
func (p *Persister) removeFile(path, sid string) error {
	p.mu.Lock()
	delete(p.files, path)
	p.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &PersistError{Code: ErrCodeRemoveFailed, SessionID: sid, Path: path, Err: err}
	}
	return nil
}

// writeAtomic writes data to a temp file in the same directory and renames
// it over path.
func writeAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	f, err := os.CreateTemp(dir, base+".*"+tempExt)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Chmod(0o644); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
