/*
Package notify delivers alerts about the Pi-hole pair to external channels.

Five channels are supported: Telegram, Discord, Pushover, ntfy and a generic
JSON webhook. Their credentials, the per-event switches, message templates,
reminder settings and the snooze window live in one JSON document managed by
SettingsStore and written atomically on every change.

# Dispatch

	Dispatch(kind, vars)
	    │
	    ├─ snoozed?            ──► suppressed (snoozed)
	    ├─ event kind enabled? ──► suppressed (disabled)
	    ├─ any channel ready?  ──► suppressed (no_channels)
	    │
	    ▼
	render template ─► fan out, one goroutine per channel
	                      │
	                      ├─ per-channel rate.Limiter
	                      ├─ retry (exponential, 4xx is permanent)
	                      └─ result recorded as a notification event

A failure on one channel never blocks the others. Every dispatch that reached
at least one channel records a notification event naming the channels that
succeeded and failed.

# Templates

Templates use {placeholder} syntax. Unknown placeholders render empty.
Common variables are time, date, datetime, vip, primary and secondary; the
state package adds master, backup, node_name, reason and the like per event.

# Reminders

IssueTracker re-sends a reminder for each unresolved issue (failover to the
secondary, a node in FAULT) every Repeat.IntervalMinutes. A reminder
suppressed by snooze does not reset the interval, so the first reminder
after a snooze ends goes out at once.

# Test sends

SendTest ignores snooze and the enabled flag, accepts unsaved overrides for
the channel under test and is limited to DefaultTestLimit calls per caller
per DefaultTestWindow.
*/
package notify
