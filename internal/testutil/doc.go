// Package testutil provides deterministic counters and id generators so
// scenario runs and golden snapshots are byte-identical across runs.
package testutil
