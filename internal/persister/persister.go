package persister

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/notesync/internal/model"
	"github.com/roach88/notesync/internal/relationships"
	"github.com/roach88/notesync/internal/store"
)

// Defaults for Options.
const (
	DefaultDebounce      = 250 * time.Millisecond
	DefaultMaxWait       = 2 * time.Second
	DefaultWatchDebounce = 50 * time.Millisecond
	DefaultMaxRetries    = 3
	DefaultRetryBase     = 100 * time.Millisecond
)

// Options configures a Persister.
type Options struct {
	// Dir is the notes directory. It is created if missing.
	Dir string

	// Debounce is the quiet period a session must see before it is
	// written. Every change restarts it, so a burst of edits produces one
	// write.
	Debounce time.Duration

	// MaxWait bounds how long a continuous stream of changes can postpone
	// a write, measured from the first unwritten change. Values below
	// Debounce are raised to Debounce.
	MaxWait time.Duration

	// WatchDebounce batches file-system events before they are read back.
	WatchDebounce time.Duration

	// MaxRetries bounds retries of a failed write before the session is
	// marked dirty. Retry n waits RetryBase << (n-1). Zero selects
	// DefaultMaxRetries; a negative value disables retries.
	MaxRetries int
	RetryBase  time.Duration

	Logger *slog.Logger

	// OnWarning receives quarantine and dirty-session warnings. It is
	// called from the persister's goroutines and must not block.
	OnWarning func(Warning)
}

func (o *Options) applyDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	o.MaxWait = max(o.MaxWait, o.Debounce)
	if o.WatchDebounce <= 0 {
		o.WatchDebounce = DefaultWatchDebounce
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// WarningKind categorizes warnings.
type WarningKind string

const (
	// WarningQuarantined means a file failed to parse and was renamed
	// with an .invalid suffix.
	WarningQuarantined WarningKind = "quarantined"

	// WarningDirty means a session, human or organization could not be
	// written after all retries. The store still holds its state.
	WarningDirty WarningKind = "dirty"
)

// Warning is a non-fatal persistence problem surfaced to the UI. SessionID
// is table/id when the file belongs to a human or organization.
type Warning struct {
	Kind      WarningKind
	SessionID string
	Path      string
	Err       error
}

type fileEntry struct {
	ref   fileRef
	hash  string
	state fileState
}

type pendingWrite struct {
	first   time.Time
	due     time.Time
	attempt int
}

// Persister mirrors sessions, humans and organizations to the notes
// directory and merges external edits back into the store.
//
// Thread-safety model:
//   - the store listener only schedules writes (never blocks on I/O)
//   - files are written under writeMu by the worker or Flush
//   - the watcher goroutine reads files back under writeMu and merges
//     them with Transact(SourceFile, ...), which the listener ignores
type Persister struct {
	store  *store.Store
	rel    *relationships.Index
	opts   Options
	log    *slog.Logger
	schema *frontmatterSchema

	writeMu sync.Mutex

	mu          sync.Mutex
	files       map[string]fileEntry
	pending     map[target]*pendingWrite
	dirty       map[target]error
	quarantined []string

	wake chan struct{}

	lifeMu      sync.Mutex
	running     bool
	unsubscribe func()
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a stopped persister. rel must define the participant,
// enhanced-note and transcript relationships to sessions.
func New(s *store.Store, rel *relationships.Index, opts Options) (*Persister, error) {
	if opts.Dir == "" {
		return nil, errors.New("persister: notes directory is required")
	}
	opts.applyDefaults()

	schema, err := newFrontmatterSchema()
	if err != nil {
		return nil, err
	}

	return &Persister{
		store:   s,
		rel:     rel,
		opts:    opts,
		log:     opts.Logger.With("component", "persister", "dir", opts.Dir),
		schema:  schema,
		files:   make(map[string]fileEntry),
		pending: make(map[target]*pendingWrite),
		dirty:   make(map[target]error),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Start reads every notes file into the store, schedules a reconciling
// write for every session, human and organization, then starts the write
// worker and the watcher.
func (p *Persister) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.running {
		return errors.New("persister already started")
	}
	if err := os.MkdirAll(p.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create notes directory: %w", err)
	}
	for _, sub := range entityDirs {
		if err := os.MkdirAll(filepath.Join(p.opts.Dir, sub), 0o755); err != nil {
			return fmt.Errorf("create notes directory: %w", err)
		}
	}

	applied, err := p.scan()
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, sub := range append([]string{""}, entityDirs...) {
		d := filepath.Join(p.opts.Dir, sub)
		if err := w.Add(d); err != nil {
			_ = w.Close()
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}

	p.unsubscribe = p.store.Subscribe(p.onRowChanged)
	sessions := p.store.RowIDs(model.TableSessions)
	for _, sid := range sessions {
		p.schedule(sessionTarget(sid))
	}
	for _, table := range entityDirs {
		for _, id := range p.store.RowIDs(table) {
			p.schedule(target{table: table, id: id})
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.watcher = w
	p.running = true

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.runWorker(runCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.watch(runCtx, w)
	}()

	p.log.Info("persister started", "files_applied", applied, "sessions", len(sessions))
	return nil
}

// Stop stops accepting changes, writes everything pending, then stops the
// watcher and the worker. Safe to call more than once.
func (p *Persister) Stop(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	p.unsubscribe()
	p.unsubscribe = nil

	flushErr := p.Flush(ctx)

	p.cancel()
	_ = p.watcher.Close()
	p.wg.Wait()

	p.log.Info("persister stopped", "dirty", len(p.Dirty()))
	return flushErr
}

// Flush writes everything scheduled now, ignoring debounce and backoff.
// Failed writes stay scheduled for retry.
func (p *Persister) Flush(ctx context.Context) error {
	return p.writeDue(ctx, time.Now(), true)
}

// Dirty returns the sessions whose latest state could not be written.
// Humans and organizations appear as table/id.
func (p *Persister) Dirty() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.dirty))
	for t := range p.dirty {
		out = append(out, t.String())
	}
	slices.Sort(out)
	return out
}

// Quarantined returns the paths of files renamed aside because they could
// not be parsed.
func (p *Persister) Quarantined() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.quarantined)
}

// Pending returns the number of sessions and people files waiting to be
// written.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Persister) warn(w Warning) {
	p.log.Warn("persistence warning",
		"kind", string(w.Kind),
		"session_id", w.SessionID,
		"path", w.Path,
		"error", w.Err)
	if p.opts.OnWarning != nil {
		p.opts.OnWarning(w)
	}
}
