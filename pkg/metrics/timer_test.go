package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	assert.False(t, timer.start.IsZero())
	assert.Less(t, time.Since(timer.start), time.Second)
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	sleep := 50 * time.Millisecond
	time.Sleep(sleep)

	first := timer.Duration()
	assert.GreaterOrEqual(t, first, sleep)

	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_tick_duration_seconds",
		Help:    "Test duration histogram",
		Buckets: prometheus.DefBuckets,
	})

	NewTimer().ObserveDuration(histogram)

	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_probe_duration_seconds",
			Help:    "Test duration histogram vec",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node", "check"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "primary", "dns")
	timer.ObserveDurationVec(vec, "secondary", "dns")

	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}

func TestSetOneHot(t *testing.T) {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "test_state",
		Help: "Test one-hot gauge",
	}, []string{"node", "state"})

	all := []string{"MASTER", "BACKUP", "FAULT"}
	SetOneHot(gauge, []string{"primary"}, "BACKUP", all)

	assert.Equal(t, 0.0, testutil.ToFloat64(gauge.WithLabelValues("primary", "MASTER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge.WithLabelValues("primary", "BACKUP")))
	assert.Equal(t, 0.0, testutil.ToFloat64(gauge.WithLabelValues("primary", "FAULT")))
}

type fakeStats struct {
	stats StoreStats
	err   error
}

func (f *fakeStats) Stats() (StoreStats, error) { return f.stats, f.err }

func TestCollector_Collect(t *testing.T) {
	c := NewCollector(&fakeStats{stats: StoreStats{Snapshots: 12, Events: 3, SizeBytes: 4096}}, time.Hour)
	c.collect()

	assert.Equal(t, 12.0, testutil.ToFloat64(SnapshotsStored))
	assert.Equal(t, 3.0, testutil.ToFloat64(EventsStored))
	assert.Equal(t, 4096.0, testutil.ToFloat64(DatabaseSizeBytes))

	// Stop is idempotent
	c.Stop()
	c.Stop()
}
