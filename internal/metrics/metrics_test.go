package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetSyncState(t *testing.T) {
	SetSyncState("syncing")
	assert.Equal(t, 1.0, testutil.ToFloat64(SyncState.WithLabelValues("syncing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(SyncState.WithLabelValues("recovering")))

	SetSyncState("recovering")
	assert.Equal(t, 0.0, testutil.ToFloat64(SyncState.WithLabelValues("syncing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(SyncState.WithLabelValues("recovering")))
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(ChangesDropped.WithLabelValues("malformed"))
	ChangesDropped.WithLabelValues("malformed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ChangesDropped.WithLabelValues("malformed")))
}
