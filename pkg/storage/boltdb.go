package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSnapshots        = []byte("snapshots")
	bucketEvents           = []byte("events")
	bucketEventsByCategory = []byte("events_by_category")
	bucketMeta             = []byte("meta")

	keySchemaVersion = []byte("schema_version")
)

const (
	schemaVersion = 1

	// timeKeyLen is 8 bytes of big-endian UnixNano followed by an 8 byte sequence
	timeKeyLen = 16

	compactTxMaxSize = 64 * 1024
)

// BoltStore implements Store using BoltDB. Keys in the snapshot and event
// buckets sort by timestamp, so every time-range query is a cursor walk.
type BoltStore struct {
	path string

	// mu guards the db handle, which Compact swaps
	mu sync.RWMutex
	db *bolt.DB

	// detached is set when Compact released the handle but could not open
	// it again; the next operation retries
	detached bool
	open     func(path string) (*bolt.DB, error)
}

// NewBoltStore opens (or creates) the database file at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	return &BoltStore{path: path, db: db, open: openDB}, nil
}

func openDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSnapshots,
			bucketEvents,
			bucketEventsByCategory,
			bucketMeta,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		version := make([]byte, 8)
		binary.BigEndian.PutUint64(version, schemaVersion)
		return tx.Bucket(bucketMeta).Put(keySchemaVersion, version)
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the database
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detached = false
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// acquire read-locks the store with a live handle, reopening the database
// first if a compaction left it detached. The caller must RUnlock.
func (s *BoltStore) acquire() error {
	s.mu.RLock()
	if s.db != nil || !s.detached {
		if s.db == nil {
			s.mu.RUnlock()
			return ErrClosed
		}
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	err := s.reattachLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.acquire()
}

// reattachLocked reopens a detached database. s.mu must be held.
func (s *BoltStore) reattachLocked() error {
	if s.db != nil || !s.detached {
		return nil
	}
	db, err := s.open(s.path)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStorage, false, "database detached: "+err.Error())
		return fmt.Errorf("database unavailable: %w", err)
	}
	s.db = db
	s.detached = false
	metrics.UpdateComponent(metrics.ComponentStorage, true, s.path)
	logger := log.WithComponent("storage")
	logger.Info().Str("path", s.path).Msg("Database reopened")
	return nil
}

// view and update run fn against the current handle
func (s *BoltStore) view(op string, fn func(tx *bolt.Tx) error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	timer := metrics.NewTimer()
	err := s.db.View(fn)
	timer.ObserveDurationVec(metrics.StorageOpDuration, op)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.StorageErrorsTotal.WithLabelValues(op).Inc()
	}
	return err
}

func (s *BoltStore) update(op string, fn func(tx *bolt.Tx) error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	timer := metrics.NewTimer()
	err := s.db.Update(fn)
	timer.ObserveDurationVec(metrics.StorageOpDuration, op)
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues(op).Inc()
	}
	return err
}

// Ping verifies the database can serve a read transaction
func (s *BoltStore) Ping() error {
	return s.view("ping", func(tx *bolt.Tx) error {
		if tx.Bucket(bucketSnapshots) == nil {
			return fmt.Errorf("bucket %s missing", bucketSnapshots)
		}
		return nil
	})
}

// Snapshot operations

// SaveSnapshot appends a snapshot, assigning its ID and defaulting the
// timestamp to now
func (s *BoltStore) SaveSnapshot(snapshot *types.HealthSnapshot) error {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}
	snapshot.Timestamp = snapshot.Timestamp.UTC()

	return s.update("save_snapshot", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		snapshot.ID = seq

		data, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		return b.Put(timeKey(snapshot.Timestamp, seq), data)
	})
}

// LatestSnapshot returns the most recent snapshot or ErrNotFound
func (s *BoltStore) LatestSnapshot() (*types.HealthSnapshot, error) {
	var snapshot types.HealthSnapshot
	err := s.view("latest_snapshot", func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucketSnapshots).Cursor().Last()
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// ListSnapshots returns snapshots at or after since, newest first. A limit
// of zero returns all of them.
func (s *BoltStore) ListSnapshots(since time.Time, limit int) ([]*types.HealthSnapshot, error) {
	var snapshots []*types.HealthSnapshot
	lower := timeKey(since, 0)

	err := s.view("list_snapshots", func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		for k, v := c.Last(); k != nil && bytes.Compare(k, lower) >= 0; k, v = c.Prev() {
			var snapshot types.HealthSnapshot
			if err := json.Unmarshal(v, &snapshot); err != nil {
				return err
			}
			snapshots = append(snapshots, &snapshot)
			if limit > 0 && len(snapshots) >= limit {
				break
			}
		}
		return nil
	})
	return snapshots, err
}

// Event operations

// SaveEvent appends an event and its category index entry
func (s *BoltStore) SaveEvent(event *types.Event) error {
	if !event.Category.Valid() {
		return fmt.Errorf("invalid event category %q", event.Category)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	err := s.update("save_event", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		event.ID = seq

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		key := timeKey(event.Timestamp, seq)
		if err := b.Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(bucketEventsByCategory).Put(categoryKey(event.Category, key), nil)
	})
	if err == nil {
		metrics.EventsTotal.WithLabelValues(string(event.Category), string(event.Kind)).Inc()
	}
	return err
}

// ListEvents returns events matching query, newest first
func (s *BoltStore) ListEvents(query EventQuery) ([]*types.Event, error) {
	var events []*types.Event
	lower := timeKey(query.Since, 0)

	collect := func(v []byte) (bool, error) {
		var event types.Event
		if err := json.Unmarshal(v, &event); err != nil {
			return false, err
		}
		events = append(events, &event)
		return query.Limit > 0 && len(events) >= query.Limit, nil
	}

	err := s.view("list_events", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)

		if query.Category == "" {
			c := b.Cursor()
			for k, v := c.Last(); k != nil && bytes.Compare(k, lower) >= 0; k, v = c.Prev() {
				if done, err := collect(v); err != nil || done {
					return err
				}
			}
			return nil
		}

		prefix := categoryPrefix(query.Category)
		c := tx.Bucket(bucketEventsByCategory).Cursor()
		for k := seekLast(c, prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Prev() {
			key := k[len(prefix):]
			if bytes.Compare(key, lower) < 0 {
				break
			}
			v := b.Get(key)
			if v == nil {
				continue
			}
			if done, err := collect(v); err != nil || done {
				return err
			}
		}
		return nil
	})
	return events, err
}

// Retention

// Prune deletes snapshots older than snapshotsBefore and events older than
// eventsBefore in a single transaction
func (s *BoltStore) Prune(snapshotsBefore, eventsBefore time.Time) (PruneResult, error) {
	var result PruneResult

	err := s.update("prune", func(tx *bolt.Tx) error {
		n, err := deleteBefore(tx.Bucket(bucketSnapshots), timeKey(snapshotsBefore, 0), nil)
		if err != nil {
			return err
		}
		result.Snapshots = n

		index := tx.Bucket(bucketEventsByCategory)
		n, err = deleteBefore(tx.Bucket(bucketEvents), timeKey(eventsBefore, 0), func(k, v []byte) error {
			var event types.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			return index.Delete(categoryKey(event.Category, k))
		})
		if err != nil {
			return err
		}
		result.Events = n
		return nil
	})
	if err != nil {
		return PruneResult{}, err
	}

	metrics.RetentionDeletedTotal.WithLabelValues("snapshots").Add(float64(result.Snapshots))
	metrics.RetentionDeletedTotal.WithLabelValues("events").Add(float64(result.Events))
	return result, nil
}

// deleteBefore removes every key lower than upper, calling onDelete first
func deleteBefore(b *bolt.Bucket, upper []byte, onDelete func(k, v []byte) error) (int, error) {
	var keys [][]byte

	c := b.Cursor()
	for k, v := c.First(); k != nil && bytes.Compare(k, upper) < 0; k, v = c.Next() {
		if onDelete != nil {
			if err := onDelete(k, v); err != nil {
				return 0, err
			}
		}
		keys = append(keys, append([]byte(nil), k...))
	}

	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Compact rewrites the database into a fresh file to return pages freed by
// Prune to the filesystem
func (s *BoltStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reattachLocked(); err != nil {
		return err
	}
	if s.db == nil {
		return ErrClosed
	}

	logger := log.WithComponent("storage")
	timer := metrics.NewTimer()
	tmpPath := s.path + ".compact"
	_ = os.Remove(tmpPath)

	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open compaction target: %w", err)
	}

	if err := bolt.Compact(dst, s.db, compactTxMaxSize); err != nil {
		dst.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to compact database: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close compacted database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	s.detached = true

	if err := os.Rename(tmpPath, s.path); err != nil {
		// Keep serving from the uncompacted file
		_ = os.Remove(tmpPath)
		if openErr := s.reattachLocked(); openErr != nil {
			logger.Error().Err(openErr).Msg("Database left detached after failed compaction")
			return fmt.Errorf("failed to reopen database after rename failure: %w", openErr)
		}
		return fmt.Errorf("failed to replace database: %w", err)
	}

	if err := s.reattachLocked(); err != nil {
		logger.Error().Err(err).Msg("Database left detached after compaction")
		return fmt.Errorf("failed to reopen compacted database: %w", err)
	}

	timer.ObserveDurationVec(metrics.StorageOpDuration, "compact")
	logger.Debug().Dur("duration", timer.Duration()).Msg("Database compacted")
	return nil
}

// Stats reports row counts and the file size
func (s *BoltStore) Stats() (metrics.StoreStats, error) {
	var stats metrics.StoreStats
	err := s.view("stats", func(tx *bolt.Tx) error {
		stats.Snapshots = tx.Bucket(bucketSnapshots).Stats().KeyN
		stats.Events = tx.Bucket(bucketEvents).Stats().KeyN
		stats.SizeBytes = tx.Size()
		return nil
	})
	return stats, err
}

// Keys

func timeKey(t time.Time, seq uint64) []byte {
	key := make([]byte, timeKeyLen)
	var nanos int64
	if !t.IsZero() {
		nanos = t.UnixNano()
	}
	if nanos < 0 {
		nanos = 0
	}
	binary.BigEndian.PutUint64(key[:8], uint64(nanos))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

func categoryPrefix(category types.EventCategory) []byte {
	return append([]byte(category), 0x00)
}

func categoryKey(category types.EventCategory, key []byte) []byte {
	return append(categoryPrefix(category), key...)
}

// seekLast positions c on the last key carrying prefix
func seekLast(c *bolt.Cursor, prefix []byte) []byte {
	upper := append(append([]byte(nil), prefix...), bytes.Repeat([]byte{0xff}, timeKeyLen)...)

	k, _ := c.Seek(upper)
	switch {
	case k == nil:
		k, _ = c.Last()
	case !bytes.Equal(k, upper):
		k, _ = c.Prev()
	}
	return k
}
