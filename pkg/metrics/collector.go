package metrics

import (
	"sync"
	"time"
)

// StoreStats is the subset of storage statistics exported as gauges
type StoreStats struct {
	Snapshots int
	Events    int
	SizeBytes int64
}

// StatsSource reports storage statistics
type StatsSource interface {
	Stats() (StoreStats, error)
}

// Collector periodically samples storage statistics into gauges
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Collector) collect() {
	stats, err := c.source.Stats()
	if err != nil {
		StorageErrorsTotal.WithLabelValues("stats").Inc()
		return
	}

	SnapshotsStored.Set(float64(stats.Snapshots))
	EventsStored.Set(float64(stats.Events))
	DatabaseSizeBytes.Set(float64(stats.SizeBytes))
}
