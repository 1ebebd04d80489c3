package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/metrics"
	"github.com/roach88/notesync/internal/store"
)

// DefaultChannel is the broadcast channel name shared by every replica of
// the persisted document.
const DefaultChannel = "hypr-sync-persisted"

// Defaults for Options.
const (
	DefaultBatchInterval = 50 * time.Millisecond
	DefaultReconnectMin  = 100 * time.Millisecond
	DefaultReconnectMax  = 5 * time.Second
)

// State is the synchroniser lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateSyncing
	StateRecovering
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateSyncing:
		return "syncing"
	case StateRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyStarted is returned by Start on a running synchroniser.
var ErrAlreadyStarted = errors.New("synchronizer already started")

// Options configures a Synchronizer.
type Options struct {
	// Channel is the broadcast channel name. Defaults to DefaultChannel.
	Channel string

	// BatchInterval is the outbox flush tick.
	BatchInterval time.Duration

	// DigestInterval re-announces the digest periodically. Zero disables.
	DigestInterval time.Duration

	// ReconnectMin and ReconnectMax bound the reconnect backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = DefaultBatchInterval
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = DefaultReconnectMin
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = max(DefaultReconnectMax, o.ReconnectMin)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Synchronizer is one replica's actor on the broadcast channel.
//
// Thread-safety model:
//   - the store listener only appends to the outbox (never blocks)
//   - the run goroutine owns the connection: it flushes the outbox on
//     every tick and merges inbound messages into the store
//   - Start/Stop/State are safe from any goroutine
type Synchronizer struct {
	store     *store.Store
	transport Transport
	opts      Options
	log       *slog.Logger

	state  atomic.Int32
	outbox *queue[ir.CellChange]

	mu          sync.Mutex
	running     bool
	unsubscribe func()
	stopCh      chan context.Context
	done        chan struct{}
}

// New creates a stopped synchroniser for s over t.
func New(s *store.Store, t Transport, opts Options) *Synchronizer {
	opts.applyDefaults()
	sy := &Synchronizer{
		store:     s,
		transport: t,
		opts:      opts,
		log:       opts.Logger.With("component", "synchronizer", "client_id", s.ClientID(), "channel", opts.Channel),
		outbox:    newQueue[ir.CellChange](),
	}
	sy.setState(StateStopped)
	return sy
}

// State returns the current lifecycle state.
func (sy *Synchronizer) State() State {
	return State(sy.state.Load())
}

// Pending returns the number of local changes not yet published.
func (sy *Synchronizer) Pending() int {
	return sy.outbox.Len()
}

func (sy *Synchronizer) setState(s State) {
	prev := State(sy.state.Swap(int32(s)))
	metrics.SetSyncState(s.String())
	if prev != s {
		sy.log.Debug("sync state", "from", prev.String(), "to", s.String())
	}
}

// Start subscribes to local mutations and runs the channel loop until ctx
// is cancelled or Stop is called. Joining the channel happens on the loop;
// if it fails the synchroniser goes straight to recovering.
func (sy *Synchronizer) Start(ctx context.Context) error {
	sy.mu.Lock()
	defer sy.mu.Unlock()

	if sy.running {
		return ErrAlreadyStarted
	}
	sy.running = true
	sy.stopCh = make(chan context.Context)
	sy.done = make(chan struct{})
	sy.setState(StateStarting)
	sy.unsubscribe = sy.store.Subscribe(sy.onRowChanged)

	sy.log.Info("sync starting")
	go sy.run(ctx, sy.stopCh, sy.done)
	return nil
}

// Stop flushes pending local changes to the channel, then leaves it.
// It returns once the loop has exited or ctx is done.
func (sy *Synchronizer) Stop(ctx context.Context) error {
	sy.mu.Lock()
	if !sy.running {
		sy.mu.Unlock()
		return nil
	}
	sy.running = false
	stopCh, done := sy.stopCh, sy.done
	if sy.unsubscribe != nil {
		sy.unsubscribe()
		sy.unsubscribe = nil
	}
	sy.mu.Unlock()

	select {
	case stopCh <- ctx:
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onRowChanged queues local and file mutations for publishing. Remote
// changes are not rebroadcast and seeds are hydrated by every replica.
func (sy *Synchronizer) onRowChanged(ev store.RowChanged) {
	switch ev.Source {
	case store.SourceLocal, store.SourceFile:
		sy.outbox.Enqueue(ev.Changes...)
	}
}

func (sy *Synchronizer) run(ctx context.Context, stopCh <-chan context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(sy.opts.BatchInterval)
	defer ticker.Stop()

	var digestTick <-chan time.Time
	if sy.opts.DigestInterval > 0 {
		dt := time.NewTicker(sy.opts.DigestInterval)
		defer dt.Stop()
		digestTick = dt.C
	}

	var conn Conn
	backoff := sy.opts.ReconnectMin

	for {
		if conn == nil {
			c, err := sy.transport.Open(ctx, sy.opts.Channel)
			if err != nil {
				sy.setState(StateRecovering)
				sy.log.Warn("broadcast channel unavailable", "retry_in", backoff, "error", err)
				select {
				case stopCtx := <-stopCh:
					sy.finish(stopCtx, nil)
					return
				case <-ctx.Done():
					sy.finish(ctx, nil)
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, sy.opts.ReconnectMax)
				continue
			}

			conn = c
			backoff = sy.opts.ReconnectMin
			if err := sy.announce(ctx, conn); err != nil {
				conn = sy.lose(conn, err)
				continue
			}
			sy.setState(StateSyncing)
			sy.log.Info("sync joined channel")
		}

		select {
		case stopCtx := <-stopCh:
			sy.finish(stopCtx, conn)
			return

		case <-ctx.Done():
			sy.finish(context.WithoutCancel(ctx), conn)
			return

		case data, ok := <-conn.Receive():
			if !ok {
				conn = sy.lose(conn, ErrConnClosed)
				continue
			}
			if err := sy.handle(ctx, conn, data); err != nil {
				conn = sy.lose(conn, err)
			}

		case <-ticker.C:
			if err := sy.flush(ctx, conn); err != nil {
				conn = sy.lose(conn, err)
			}

		case <-digestTick:
			if err := sy.announce(ctx, conn); err != nil {
				conn = sy.lose(conn, err)
			}
		}
	}
}

// lose drops a broken connection and enters recovery. It returns nil so
// callers can reset their handle in one statement.
func (sy *Synchronizer) lose(conn Conn, cause error) Conn {
	_ = conn.Close()
	metrics.Reconnects.Inc()
	sy.setState(StateRecovering)
	sy.log.Warn("broadcast channel lost", "pending", sy.outbox.Len(), "error", cause)
	return nil
}

// finish flushes the outbox (if connected) and leaves the channel.
func (sy *Synchronizer) finish(ctx context.Context, conn Conn) {
	if conn != nil {
		if err := sy.flush(ctx, conn); err != nil {
			sy.log.Warn("final flush failed", "pending", sy.outbox.Len(), "error", err)
		}
		_ = conn.Close()
	}
	if n := sy.outbox.Len(); n > 0 {
		// Still in the store; peers pick them up from the next digest exchange.
		sy.log.Warn("stopping with unpublished changes", "pending", n)
	}
	sy.setState(StateStopped)
	sy.log.Info("sync stopped")
}

// flush publishes everything in the outbox as one delta.
func (sy *Synchronizer) flush(ctx context.Context, conn Conn) error {
	batch := sy.outbox.Drain()
	if len(batch) == 0 {
		return nil
	}
	if err := sy.send(ctx, conn, Message{Kind: KindDelta, Changes: batch}); err != nil {
		sy.outbox.PushFront(batch)
		return err
	}
	sy.log.Debug("published batch", "changes", len(batch))
	return nil
}

func (sy *Synchronizer) announce(ctx context.Context, conn Conn) error {
	return sy.send(ctx, conn, Message{Kind: KindDigest, Tables: sy.store.TableDigests()})
}

func (sy *Synchronizer) send(ctx context.Context, conn Conn, m Message) error {
	m.From = sy.store.ClientID()
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind, err)
	}
	metrics.BroadcastMessages.WithLabelValues("out", string(m.Kind)).Inc()
	return nil
}

// handle processes one inbound payload. Only send failures are returned;
// undecodable messages are logged and ignored.
func (sy *Synchronizer) handle(ctx context.Context, conn Conn, data []byte) error {
	m, err := Decode(data)
	if err != nil {
		sy.log.Warn("ignoring malformed message", "error", err)
		return nil
	}
	self := sy.store.ClientID()
	if m.From == self || (m.To != "" && m.To != self) {
		return nil
	}
	metrics.BroadcastMessages.WithLabelValues("in", string(m.Kind)).Inc()

	switch m.Kind {
	case KindDelta:
		res := sy.store.ApplyDelta(store.SourceRemote, m.Changes)
		sy.log.Debug("merged delta", "from", m.From, "applied", res.Applied, "stale", res.Stale, "malformed", res.Malformed)
		return nil

	case KindDigest:
		return sy.answerDigest(ctx, conn, m)

	case KindRows:
		return sy.reconcileRows(ctx, conn, m)

	case KindRequest:
		var push ir.Delta
		for _, id := range m.RowIDs {
			push = append(push, sy.store.RowChanges(m.Table, id)...)
		}
		if len(push) == 0 {
			return nil
		}
		return sy.send(ctx, conn, Message{Kind: KindDelta, To: m.From, Changes: push})
	}
	return nil
}

// answerDigest sends per-row hashes for every table whose digest differs.
func (sy *Synchronizer) answerDigest(ctx context.Context, conn Conn, m Message) error {
	ours := sy.store.TableDigests()
	tables := make(map[string]struct{}, len(ours)+len(m.Tables))
	for t := range ours {
		tables[t] = struct{}{}
	}
	for t := range m.Tables {
		tables[t] = struct{}{}
	}

	for _, table := range slices.Sorted(maps.Keys(tables)) {
		if ours[table] == m.Tables[table] {
			continue
		}
		err := sy.send(ctx, conn, Message{
			Kind:  KindRows,
			To:    m.From,
			Table: table,
			Rows:  sy.store.RowDigests(table),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// reconcileRows pushes our versions of rows that differ and requests the
// peer's versions of rows we lack or hold differently.
func (sy *Synchronizer) reconcileRows(ctx context.Context, conn Conn, m Message) error {
	ours := sy.store.RowDigests(m.Table)

	var push ir.Delta
	for _, id := range slices.Sorted(maps.Keys(ours)) {
		if m.Rows[id] != ours[id] {
			push = append(push, sy.store.RowChanges(m.Table, id)...)
		}
	}
	var want []string
	for _, id := range slices.Sorted(maps.Keys(m.Rows)) {
		if ours[id] != m.Rows[id] {
			want = append(want, id)
		}
	}

	if len(push) > 0 {
		if err := sy.send(ctx, conn, Message{Kind: KindDelta, To: m.From, Changes: push}); err != nil {
			return err
		}
	}
	if len(want) > 0 {
		sy.log.Debug("requesting rows", "from", m.From, "table", m.Table, "rows", len(want))
		if err := sy.send(ctx, conn, Message{Kind: KindRequest, To: m.From, Table: m.Table, RowIDs: want}); err != nil {
			return err
		}
	}
	return nil
}
