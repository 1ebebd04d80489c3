// Package broadcast propagates store mutations between replicas of the same
// document without a server of record.
//
// A Synchronizer owns one replica's side of a named broadcast channel. It
// batches local mutations into delta messages, merges deltas from peers,
// and after joining or losing the channel it exchanges digests so only the
// rows that differ travel.
//
// Transports:
//   - MemoryBus: named in-process channels (windows in one process, tests)
//   - WebSocketTransport + Relay: cross-process channels over a fan-out hub
//
// The channel guarantees nothing about ordering or delivery; convergence
// comes from the store's merge rules plus digest recovery.
package broadcast
