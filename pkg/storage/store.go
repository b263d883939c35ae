package storage

import (
	"errors"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("storage: not found")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("storage: closed")
)

// EventQuery filters ListEvents. Zero values mean no filter; results are
// always newest first.
type EventQuery struct {
	Limit    int
	Category types.EventCategory
	Since    time.Time
}

// PruneResult counts the rows removed by one retention pass
type PruneResult struct {
	Snapshots int
	Events    int
}

// Store defines the persistence contract for snapshots and events
type Store interface {
	// Snapshots
	SaveSnapshot(snapshot *types.HealthSnapshot) error
	LatestSnapshot() (*types.HealthSnapshot, error)
	ListSnapshots(since time.Time, limit int) ([]*types.HealthSnapshot, error)

	// Events
	SaveEvent(event *types.Event) error
	ListEvents(query EventQuery) ([]*types.Event, error)

	// Retention
	Prune(snapshotsBefore, eventsBefore time.Time) (PruneResult, error)
	Compact() error

	// Utility
	Ping() error
	Close() error
}
