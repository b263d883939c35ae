package poller

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/storage"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetention_Run(t *testing.T) {
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	for _, age := range []time.Duration{45 * day, 31 * day, 29 * day, time.Hour} {
		require.NoError(t, store.SaveSnapshot(&types.HealthSnapshot{Timestamp: now.Add(-age)}))
	}
	for _, age := range []time.Duration{100 * day, 91 * day, 60 * day, time.Minute} {
		require.NoError(t, store.SaveEvent(&types.Event{
			Timestamp: now.Add(-age),
			Category:  types.CategoryInfo,
			Message:   "event",
		}))
	}

	deletedSnapshots := testutil.ToFloat64(metrics.RetentionDeletedTotal.WithLabelValues("snapshots"))
	deletedEvents := testutil.ToFloat64(metrics.RetentionDeletedTotal.WithLabelValues("events"))

	res, err := Retention{Store: store, Snapshots: 30 * day, Events: 90 * day}.Run(now)
	require.NoError(t, err)
	assert.Equal(t, storage.PruneResult{Snapshots: 2, Events: 2}, res)

	// Each deleted row is counted once
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RetentionDeletedTotal.WithLabelValues("snapshots"))-deletedSnapshots)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RetentionDeletedTotal.WithLabelValues("events"))-deletedEvents)

	snaps, err := store.ListSnapshots(time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	for _, s := range snaps {
		assert.False(t, s.Timestamp.Before(now.Add(-30*day)))
	}

	events, err := store.ListEvents(storage.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.False(t, e.Timestamp.Before(now.Add(-90*day)))
	}
}

func TestRetention_RunClosedStore(t *testing.T) {
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Retention{Store: store, Snapshots: time.Hour, Events: time.Hour}.Run(time.Now())
	assert.Error(t, err)
}
