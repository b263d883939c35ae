package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/notify"
	"github.com/cuemby/sentinel/pkg/storage"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/rs/zerolog"
)

var (
	allStates    = []string{string(types.StateMaster), string(types.StateBackup), string(types.StateFault), string(types.StateUnknown)}
	allLocations = []string{string(types.VIPPrimary), string(types.VIPSecondary), string(types.VIPNone), string(types.VIPUnknown)}
)

// Recorder persists an event and then publishes it to live subscribers
type Recorder struct {
	store  storage.Store
	broker *events.Broker
}

// NewRecorder creates a recorder; broker may be nil
func NewRecorder(store storage.Store, broker *events.Broker) *Recorder {
	return &Recorder{store: store, broker: broker}
}

// Record saves event and publishes it once durable
func (r *Recorder) Record(ctx context.Context, event *types.Event) error {
	if err := r.store.SaveEvent(event); err != nil {
		return err
	}
	if r.broker != nil {
		r.broker.Publish(event)
	}
	return nil
}

// Notifier sends an event to the notification channels
type Notifier interface {
	Dispatch(ctx context.Context, kind types.EventKind, vars notify.Vars) notify.Result
}

// Reminder re-notifies about unresolved issues
type Reminder interface {
	Reconcile(ctx context.Context, active []types.Issue, vars notify.Vars, now time.Time) []types.Issue
}

// Tracker applies each tick's observation: it persists the snapshot and the
// transition events, then notifies. Only one Apply runs at a time; the last
// status is readable concurrently.
type Tracker struct {
	evaluator *Evaluator
	store     storage.Store
	recorder  *Recorder
	notifier  Notifier
	reminder  Reminder
	logger    zerolog.Logger

	applyMu sync.Mutex

	mu   sync.RWMutex
	mem  *Memory
	last *types.HealthSnapshot
}

// NewTracker creates a tracker. notifier and reminder may be nil.
func NewTracker(evaluator *Evaluator, store storage.Store, recorder *Recorder, notifier Notifier, reminder Reminder) *Tracker {
	return &Tracker{
		evaluator: evaluator,
		store:     store,
		recorder:  recorder,
		notifier:  notifier,
		reminder:  reminder,
		logger:    log.WithComponent("state"),
		mem:       NewMemory(),
	}
}

// Restore seeds the tracker from the latest stored snapshot, if any
func (t *Tracker) Restore() error {
	snap, err := t.store.LatestSnapshot()
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.mem.Restore(snap)
	t.last = snap
	t.logger.Info().
		Str("vip", string(snap.VIP)).
		Time("snapshot", snap.Timestamp).
		Msg("Restored state from last snapshot")
	return nil
}

// Apply evaluates obs and carries out its effects in order: snapshot,
// events, publish, notify, reminders, then the in-memory state.
func (t *Tracker) Apply(ctx context.Context, obs Observation) Evaluation {
	t.applyMu.Lock()
	defer t.applyMu.Unlock()

	t.mu.RLock()
	mem := t.mem
	t.mu.RUnlock()

	eval := t.evaluator.Evaluate(mem, obs)
	snap := eval.Snapshot

	if err := t.store.SaveSnapshot(&snap); err != nil {
		t.logger.Error().Err(err).Msg("Failed to save snapshot, skipping this cycle's write")
	}

	// Only durable events are published and sent
	var durable []*types.Event
	for _, event := range eval.Events {
		if err := t.recorder.Record(ctx, event); err != nil {
			t.logger.Error().Err(err).Str("kind", string(event.Kind)).Msg("Failed to save event, not notifying")
			continue
		}
		t.logEvent(event)
		durable = append(durable, event)
	}

	if t.notifier != nil {
		for _, event := range durable {
			t.notifier.Dispatch(ctx, event.Kind, event.Vars)
		}
	}
	if t.reminder != nil {
		t.reminder.Reconcile(ctx, eval.Issues, eval.Vars, obs.Time)
	}

	t.updateMetrics(&snap)

	t.mu.Lock()
	t.mem = eval.Memory
	t.last = &snap
	t.mu.Unlock()

	eval.Snapshot = snap
	return eval
}

// RecordError stores a monitor_error event for a tick that could not run
func (t *Tracker) RecordError(ctx context.Context, err error) {
	event := &types.Event{
		Timestamp: time.Now(),
		Category:  types.CategoryError,
		Kind:      types.KindMonitorError,
		Message:   "Monitor error: " + err.Error(),
	}
	if rerr := t.recorder.Record(ctx, event); rerr != nil {
		t.logger.Error().Err(rerr).Msg("Failed to save monitor error event")
	}
}

// Last returns the most recent snapshot, stored or not
func (t *Tracker) Last() (*types.HealthSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return nil, false
	}
	snap := *t.last
	return &snap, true
}

// Memory returns a copy of the carried state
func (t *Tracker) Memory() *Memory {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mem.Clone()
}

func (t *Tracker) logEvent(event *types.Event) {
	entry := t.logger.Info()
	switch event.Category {
	case types.CategoryFailover, types.CategoryWarning:
		entry = t.logger.Warn()
	case types.CategoryError:
		entry = t.logger.Error()
	}
	entry.Str("kind", string(event.Kind)).Msg(event.Message)
}

func (t *Tracker) updateMetrics(snap *types.HealthSnapshot) {
	for _, role := range types.Roles {
		metrics.SetOneHot(metrics.NodeState, []string{string(role)}, string(snap.Node(role).State), allStates)
	}
	metrics.SetOneHot(metrics.VIPLocation, nil, string(snap.VIP), allLocations)
	metrics.DHCPLeases.Set(float64(snap.DHCPLeases))
}
