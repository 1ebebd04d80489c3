// Package store implements the MergeableStore: an in-memory relational
// table store whose every cell carries a logical clock.
//
// Merging is last-writer-wins per cell, ordered by (counter, client id).
// Row deletion leaves a tombstone that dominates older cell writes, so
// applying the same set of changes in any order, any number of times,
// yields the same state. ApplyDelta never fails: malformed changes are
// logged and dropped.
//
// Thread-safety: writes are serialized; reads may run concurrently with
// each other. Row-changed listeners run synchronously on the writing
// goroutine after the data lock is released and must not write back.
package store
