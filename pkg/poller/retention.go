package poller

import (
	"fmt"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/storage"
)

// Retention deletes old rows and compacts the database file
type Retention struct {
	Store     storage.Store
	Snapshots time.Duration
	Events    time.Duration
}

// Run prunes everything older than the two windows measured from now, then
// compacts. A failed compaction is reported but the prune stands. Deleted
// rows are counted by the store.
func (r Retention) Run(now time.Time) (storage.PruneResult, error) {
	logger := log.WithComponent("retention")

	res, err := r.Store.Prune(now.Add(-r.Snapshots), now.Add(-r.Events))
	if err != nil {
		metrics.RetentionRunsTotal.WithLabelValues("failure").Inc()
		return res, fmt.Errorf("failed to prune: %w", err)
	}

	if err := r.Store.Compact(); err != nil {
		metrics.RetentionRunsTotal.WithLabelValues("failure").Inc()
		return res, fmt.Errorf("failed to compact: %w", err)
	}

	metrics.RetentionRunsTotal.WithLabelValues("success").Inc()
	logger.Info().
		Int("snapshots_deleted", res.Snapshots).
		Int("events_deleted", res.Events).
		Msg("Retention pass complete")
	return res, nil
}
