// Package harness runs YAML convergence scenarios against in-memory
// replicas of the note store.
//
// A scenario names a set of replicas, the baseline rows every replica is
// hydrated with, and a sequence of local edits. Each edit becomes one
// broadcast message. Messages still in flight when the steps end are
// delivered to every other replica in each possible order (optionally
// twice), and every ordering must leave all replicas in the same state,
// the same state as every other ordering, and matching the expectations.
//
// Clocks and message ids are deterministic, so the converged state can be
// compared against a golden file.
//
// Scenario format:
//
//	name: standup_sync
//	replicas: [W1, W2]
//	seed:
//	  - {table: sessions, row: s1, cells: {title: Weekly}}
//	steps:
//	  - replica: W1
//	    set: {table: sessions, row: s1, cells: {title: Standup}}
//	  - replica: W2
//	    delete: {table: sessions, row: s1}
//	  - deliver: true
//	expect:
//	  - {table: sessions, row: s1, absent: true}
package harness
