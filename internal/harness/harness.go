package harness

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/store"
	"github.com/roach88/notesync/internal/testutil"
)

// MaxPermutations caps the orderings tried by DeliveryPermutations. Past
// the cap the in-order, reversed and rotated orderings are tried instead.
const MaxPermutations = 720

// MessageTrace describes one broadcast message of a run.
type MessageTrace struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Changes int    `json:"changes"`
}

// Result is the outcome of a scenario.
type Result struct {
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	// Messages lists every message sent, in send order.
	Messages []MessageTrace `json:"messages"`

	// InFlight counts messages left undelivered when the steps ended.
	InFlight int `json:"in_flight"`

	// Orderings counts the delivery orders checked.
	Orderings int `json:"orderings"`

	// State is the converged visible state: table -> row -> column -> value.
	State map[string]any `json:"state"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

type message struct {
	id    string
	from  string
	delta ir.Delta
}

// world is one run of a scenario: fresh replicas, deterministic clocks.
type world struct {
	scenario *Scenario
	replicas map[string]*store.Store
	ids      map[string]*testutil.SequentialIDs
	sent     []message
	inFlight []message
	capture  ir.Delta
}

func newWorld(s *Scenario) (*world, error) {
	log := slog.New(slog.DiscardHandler)
	w := &world{
		scenario: s,
		replicas: make(map[string]*store.Store, len(s.Replicas)),
		ids:      make(map[string]*testutil.SequentialIDs, len(s.Replicas)),
	}

	var seed ir.Delta
	for _, rs := range s.Seed {
		r, err := toRow(rs.Cells)
		if err != nil {
			return nil, err
		}
		for _, col := range r.SortedKeys() {
			seed = append(seed, ir.CellChange{
				Table: rs.Table, RowID: rs.Row, Column: col, Value: r[col], Clock: ir.BaselineStamp,
			})
		}
	}

	for _, id := range s.Replicas {
		st := store.New(store.WithClientID(id), store.WithLogger(log))
		st.ApplyDelta(store.SourceSeed, seed)
		st.Subscribe(func(ev store.RowChanged) {
			if ev.Source == store.SourceLocal {
				w.capture = append(w.capture, ev.Changes...)
			}
		})
		w.replicas[id] = st
		w.ids[id] = testutil.NewSequentialIDs(id)
	}
	return w, nil
}

// runSteps performs every step. Messages not flushed by a deliver step
// are left in w.inFlight.
func (w *world) runSteps() error {
	for i, step := range w.scenario.Steps {
		if step.Deliver {
			for _, m := range w.inFlight {
				w.deliver(m)
			}
			w.inFlight = nil
			continue
		}

		st := w.replicas[step.Replica]
		var r ir.Row
		if step.Set != nil {
			var err error
			if r, err = toRow(step.Set.Cells); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}

		w.capture = nil
		st.Transact(store.SourceLocal, func(tx *store.Tx) {
			if step.Set != nil {
				tx.SetRow(step.Set.Table, step.Set.Row, r)
			} else {
				tx.DeleteRow(step.Delete.Table, step.Delete.Row)
			}
		})
		if len(w.capture) == 0 {
			// Nothing changed; nothing to send.
			continue
		}
		m := message{id: w.ids[step.Replica].Next(), from: step.Replica, delta: w.capture}
		w.capture = nil
		w.sent = append(w.sent, m)
		w.inFlight = append(w.inFlight, m)
	}
	return nil
}

func (w *world) deliver(m message) {
	for _, id := range w.scenario.Replicas {
		if id != m.from {
			w.replicas[id].ApplyDelta(store.SourceRemote, m.delta)
		}
	}
}

// Run executes a scenario under every delivery ordering it selects.
func Run(s *Scenario) (*Result, error) {
	base, err := newWorld(s)
	if err != nil {
		return nil, err
	}
	if err := base.runSteps(); err != nil {
		return nil, err
	}

	res := &Result{Pass: true, Errors: []string{}, Messages: []MessageTrace{}, InFlight: len(base.inFlight)}
	for _, m := range base.sent {
		res.Messages = append(res.Messages, MessageTrace{ID: m.id, From: m.from, Changes: len(m.delta)})
	}

	var reference []byte
	for _, order := range orderings(s.Delivery, len(base.inFlight)) {
		res.Orderings++

		w, err := newWorld(s)
		if err != nil {
			return nil, err
		}
		if err := w.runSteps(); err != nil {
			return nil, err
		}
		rounds := 1
		if s.Duplicate {
			rounds = 2
		}
		for range rounds {
			for _, i := range order {
				w.deliver(w.inFlight[i])
			}
		}

		label := orderLabel(w.inFlight, order)
		state, ok := w.converged(res, label)
		if !ok {
			continue
		}
		data, err := ir.MarshalCanonical(state)
		if err != nil {
			return nil, fmt.Errorf("marshal state: %w", err)
		}
		if reference == nil {
			reference = data
			res.State = state
		} else if !bytes.Equal(reference, data) {
			res.addError("order %s: state differs from the first ordering", label)
		}

		for _, id := range s.Replicas {
			for _, msg := range checkExpectations(w.replicas[id], s.Expect) {
				res.addError("order %s, replica %s: %s", label, id, msg)
			}
		}
	}
	if res.State == nil {
		res.State = map[string]any{}
	}
	return res, nil
}

// converged checks every replica against the first one by digest and
// returns the first replica's visible state.
func (w *world) converged(res *Result, label string) (map[string]any, bool) {
	first := w.scenario.Replicas[0]
	want := w.replicas[first].TableDigests()
	ok := true
	for _, id := range w.scenario.Replicas[1:] {
		got := w.replicas[id].TableDigests()
		if !mapsEqual(want, got) {
			res.addError("order %s: replica %s diverges from %s", label, id, first)
			ok = false
		}
	}
	return snapshot(w.replicas[first]), ok
}

func snapshot(st *store.Store) map[string]any {
	out := map[string]any{}
	for _, table := range st.Tables() {
		rows := st.GetTable(table)
		if len(rows) == 0 {
			continue
		}
		t := make(map[string]any, len(rows))
		for rowID, r := range rows {
			t[rowID] = r
		}
		out[table] = t
	}
	return out
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func orderLabel(msgs []message, order []int) string {
	ids := make([]string, len(order))
	for i, idx := range order {
		ids[i] = msgs[idx].id
	}
	return "[" + strings.Join(ids, " ") + "]"
}

// orderings returns the delivery orders to try for n in-flight messages.
func orderings(mode string, n int) [][]int {
	identity := make([]int, n)
	for i := range identity {
		identity[i] = i
	}
	reversed := slices.Clone(identity)
	slices.Reverse(reversed)

	switch mode {
	case DeliveryInOrder:
		return [][]int{identity}
	case DeliveryReverse:
		return [][]int{reversed}
	}

	if factorial(n) <= MaxPermutations {
		return permutations(n)
	}
	out := [][]int{identity, reversed}
	for shift := 1; shift < n; shift++ {
		rot := append(slices.Clone(identity[shift:]), identity[:shift]...)
		out = append(out, rot)
	}
	return out
}

func factorial(n int) int {
	f := 1
	for i := 2; i <= n; i++ {
		f *= i
		if f > MaxPermutations {
			return f
		}
	}
	return f
}

// permutations lists every ordering of 0..n-1 in lexicographic order.
func permutations(n int) [][]int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	out := [][]int{slices.Clone(p)}
	for {
		i := n - 2
		for i >= 0 && p[i] >= p[i+1] {
			i--
		}
		if i < 0 {
			return out
		}
		j := n - 1
		for p[j] <= p[i] {
			j--
		}
		p[i], p[j] = p[j], p[i]
		slices.Reverse(p[i+1:])
		out = append(out, slices.Clone(p))
	}
}
