// Package metrics holds the Prometheus collectors shared by the sync engine.
//
// Collectors are registered on the default registry at init; the run
// command exposes them with promhttp when a metrics listen address is set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChangesApplied counts cell changes and tombstones merged into the store, by source.
	ChangesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_store_changes_applied_total",
		Help: "Cell changes merged into the store by source",
	}, []string{"source"})

	// ChangesDropped counts changes rejected by the merge, by reason (stale, malformed).
	ChangesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_store_changes_dropped_total",
		Help: "Cell changes dropped during merge by reason",
	}, []string{"reason"})

	// BroadcastMessages counts synchroniser messages by direction and kind.
	BroadcastMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_broadcast_messages_total",
		Help: "Broadcast messages by direction (in/out) and kind",
	}, []string{"direction", "kind"})

	// SyncState reports 1 for the synchroniser's current state and 0 for the others.
	SyncState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notesync_sync_state",
		Help: "Current synchroniser state (1 = active)",
	}, []string{"state"})

	// Reconnects counts channel recoveries.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notesync_broadcast_reconnects_total",
		Help: "Broadcast channel reconnect attempts",
	})

	// PersistWrites counts session write jobs by result (written, unchanged, failed, deleted).
	PersistWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_persist_writes_total",
		Help: "Session persistence jobs by result",
	}, []string{"result"})

	// PersistDuration tracks how long one session write job takes.
	PersistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notesync_persist_duration_seconds",
		Help:    "Session write duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	})

	// FilesApplied counts files merged back into the store, by kind.
	FilesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_files_applied_total",
		Help: "Note files merged into the store by kind",
	}, []string{"kind"})

	// Quarantined counts malformed files set aside.
	Quarantined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notesync_files_quarantined_total",
		Help: "Malformed note files quarantined",
	})

	// DirtySessions reports sessions whose persistence retries are exhausted.
	DirtySessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notesync_dirty_sessions",
		Help: "Sessions marked dirty-unpersisted",
	})
)

// SyncStates lists every label value used by SyncState.
var SyncStates = []string{"stopped", "starting", "syncing", "recovering"}

// SetSyncState marks state as the active synchroniser state.
func SetSyncState(state string) {
	for _, s := range SyncStates {
		v := 0.0
		if s == state {
			v = 1
		}
		SyncState.WithLabelValues(s).Set(v)
	}
}
