package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/rs/zerolog"
)

// Sender is the part of the Dispatcher the IssueTracker needs
type Sender interface {
	Settings() Settings
	Dispatch(ctx context.Context, kind types.EventKind, vars Vars) Result
}

type issueState struct {
	issue        types.Issue
	firstSeen    time.Time
	lastReminder time.Time
}

// IssueStatus is a read-only view of a tracked issue
type IssueStatus struct {
	Issue        types.Issue `json:"issue"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastReminder time.Time   `json:"last_reminder"`
}

// IssueTracker re-notifies about unresolved issues at the repeat interval
type IssueTracker struct {
	sender Sender
	logger zerolog.Logger

	mu     sync.Mutex
	issues map[string]*issueState
}

// NewIssueTracker creates an empty tracker
func NewIssueTracker(sender Sender) *IssueTracker {
	return &IssueTracker{
		sender: sender,
		logger: log.WithComponent("notify"),
		issues: make(map[string]*issueState),
	}
}

// Reconcile updates the tracked set to active and sends the reminders that
// are due at now. A reminder held back by a snooze is sent on the first
// reconcile after the snooze ends. Returns the issues reminded about.
func (t *IssueTracker) Reconcile(ctx context.Context, active []types.Issue, vars Vars, now time.Time) []types.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(active))
	for _, issue := range active {
		key := issue.Key()
		seen[key] = true
		if _, ok := t.issues[key]; !ok {
			t.issues[key] = &issueState{issue: issue, firstSeen: now, lastReminder: now}
			t.logger.Debug().Str("issue", key).Msg("Tracking issue")
		}
	}
	for key := range t.issues {
		if !seen[key] {
			delete(t.issues, key)
			t.logger.Debug().Str("issue", key).Msg("Issue resolved")
		}
	}

	settings := t.sender.Settings()
	if !settings.Repeat.Enabled || settings.Repeat.IntervalMinutes < 1 {
		return nil
	}
	interval := settings.Repeat.Interval()

	keys := make([]string, 0, len(t.issues))
	for key := range t.issues {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var reminded []types.Issue
	for _, key := range keys {
		st := t.issues[key]
		if now.Sub(st.lastReminder) < interval {
			continue
		}
		if !settings.Events.Enabled(types.EventKind(st.issue.Kind)) {
			continue
		}

		res := t.sender.Dispatch(ctx, types.KindReminder, reminderVars(st, vars, now))
		if res.Suppressed == SuppressedSnoozed {
			continue
		}
		st.lastReminder = now
		reminded = append(reminded, st.issue)
	}
	return reminded
}

// Active returns the tracked issues sorted by key
func (t *IssueTracker) Active() []IssueStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]IssueStatus, 0, len(t.issues))
	for _, st := range t.issues {
		out = append(out, IssueStatus{Issue: st.issue, FirstSeen: st.firstSeen, LastReminder: st.lastReminder})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Issue.Key() < out[j].Issue.Key() })
	return out
}

func reminderVars(st *issueState, vars Vars, now time.Time) Vars {
	out := vars.With("duration", FormatDuration(now.Sub(st.firstSeen)))

	switch st.issue.Kind {
	case types.IssueFailover:
		out = out.With("event", "Failover")
		out = out.With("reason", vars["secondary"]+" still holds the VIP")
	case types.IssueFault:
		name := vars[string(st.issue.Node)]
		out = out.With("event", "Fault on "+name)
		out = out.With("node", string(st.issue.Node))
		out = out.With("node_name", name)
		out = out.With("reason", name+" is still in FAULT state")
	}
	return out
}
