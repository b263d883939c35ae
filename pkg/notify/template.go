package notify

import (
	"fmt"
	"regexp"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

var defaultTemplates = map[types.EventKind]string{
	types.KindStartup: "🔵 Pi-hole Sentinel started\n" +
		"{master} is MASTER, {backup} is BACKUP\n" +
		"VIP: {vip}\n{datetime}",
	types.KindFailover: "🟡 Failover: {master} is now MASTER\n" +
		"Reason: {reason}\n" +
		"VIP: {vip}\n{datetime}",
	types.KindRecovery: "🟢 Recovery: {node_name} is healthy again\n" +
		"{reason}\n{datetime}",
	types.KindFault: "🔴 Fault: {node_name} entered FAULT state\n" +
		"Reason: {reason}\n{datetime}",
	types.KindDHCPMisconfigured: "⚠️ DHCP misconfiguration on {node_name}\n" +
		"{reason}\n{datetime}",
	types.KindReminder: "⏰ Reminder: {event} still unresolved after {duration}\n" +
		"{reason}\n{datetime}",
	types.KindTest: "🧪 Pi-hole Sentinel test notification\n" +
		"Primary: {primary}, Secondary: {secondary}, VIP: {vip}\n" +
		"✅ If you see this, notifications are working!",
}

var titles = map[types.EventKind]string{
	types.KindStartup:           "Pi-hole Sentinel started",
	types.KindFailover:          "Pi-hole failover",
	types.KindRecovery:          "Pi-hole recovered",
	types.KindFault:             "Pi-hole fault",
	types.KindDHCPMisconfigured: "DHCP misconfiguration",
	types.KindReminder:          "Pi-hole issue reminder",
	types.KindTest:              "Pi-hole Sentinel test",
}

// DefaultTemplates returns a fresh copy of the built-in templates
func DefaultTemplates() map[string]string {
	out := make(map[string]string, len(defaultTemplates))
	for kind, tmpl := range defaultTemplates {
		out[string(kind)] = tmpl
	}
	return out
}

// Render substitutes {name} placeholders; unknown names render empty
func Render(tmpl string, vars Vars) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		return vars[m[1:len(m)-1]]
	})
}

// Vars are the template variables for one message
type Vars map[string]string

// BaseVars returns the variables every message carries
func BaseVars(now time.Time, vip, primaryName, secondaryName string) Vars {
	local := now.Local()
	return Vars{
		"vip":       vip,
		"primary":   primaryName,
		"secondary": secondaryName,
		"time":      local.Format("15:04:05"),
		"date":      local.Format("2006-01-02"),
		"datetime":  local.Format("2006-01-02 15:04:05"),
	}
}

// With returns a copy of v with key set
func (v Vars) With(key, value string) Vars {
	out := make(Vars, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	out[key] = value
	return out
}

// Severity grades a message for channels that support priorities
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func severityOf(kind types.EventKind) Severity {
	switch kind {
	case types.KindFault:
		return SeverityCritical
	case types.KindFailover, types.KindDHCPMisconfigured, types.KindReminder:
		return SeverityWarning
	}
	return SeverityInfo
}

// Message is one rendered notification, identical for every channel
type Message struct {
	Kind      types.EventKind
	Title     string
	Body      string
	Severity  Severity
	Timestamp time.Time
	Vars      Vars
}

// NewMessage renders the template for kind from s
func NewMessage(s Settings, kind types.EventKind, vars Vars, now time.Time) Message {
	return Message{
		Kind:      kind,
		Title:     titles[kind],
		Body:      Render(s.Template(kind), vars),
		Severity:  severityOf(kind),
		Timestamp: now,
		Vars:      vars,
	}
}

// FormatDuration renders d as "1h 5m" style text for reminders
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dm", m)
}
