package types

import (
	"strings"
	"time"
)

// NodeRole identifies one of the two Pi-hole nodes
type NodeRole string

const (
	RolePrimary   NodeRole = "primary"
	RoleSecondary NodeRole = "secondary"
)

// Roles lists both node roles in display order
var Roles = []NodeRole{RolePrimary, RoleSecondary}

// Other returns the peer role
func (r NodeRole) Other() NodeRole {
	if r == RolePrimary {
		return RoleSecondary
	}
	return RolePrimary
}

// Title returns the role capitalized for human-readable messages
func (r NodeRole) Title() string {
	if r == "" {
		return ""
	}
	s := string(r)
	return strings.ToUpper(s[:1]) + s[1:]
}

// NodeIdentity is the immutable per-node configuration
type NodeIdentity struct {
	Role     NodeRole `json:"role"`
	Name     string   `json:"name"`
	Address  string   `json:"ip"`
	Password string   `json:"-"` // Pi-hole API password, never serialized
}

// NodeProbe is the raw outcome of probing one node in one cycle
type NodeProbe struct {
	Reachable      bool `json:"reachable"`
	ServiceHealthy bool `json:"service_healthy"`
	DNSHealthy     bool `json:"dns_healthy"`
	DHCPEnabled    bool `json:"dhcp_enabled"`

	DHCPLeases int   `json:"dhcp_leases"`
	Queries    int64 `json:"queries"`
	Blocked    int64 `json:"blocked"`
	Clients    int64 `json:"clients"`

	// Errors maps a sub-check name to the reason it degraded
	Errors map[string]string `json:"errors,omitempty"`
}

// Fail records a degraded sub-check
func (p *NodeProbe) Fail(check string, err error) {
	if err == nil {
		return
	}
	if p.Errors == nil {
		p.Errors = make(map[string]string)
	}
	p.Errors[check] = err.Error()
}

// VIPLocation is where the virtual IP currently answers
type VIPLocation string

const (
	VIPPrimary   VIPLocation = "primary"
	VIPSecondary VIPLocation = "secondary"
	VIPNone      VIPLocation = "none"    // VIP answers with a MAC no node owns
	VIPUnknown   VIPLocation = "unknown" // no neighbor entry after retries
)

// Known reports whether the location names a definite answer
func (l VIPLocation) Known() bool {
	return l != VIPUnknown && l != ""
}

// Holder returns the role holding the VIP, if any
func (l VIPLocation) Holder() (NodeRole, bool) {
	switch l {
	case VIPPrimary:
		return RolePrimary, true
	case VIPSecondary:
		return RoleSecondary, true
	}
	return "", false
}

// LocationOf returns the VIP location for a role
func LocationOf(role NodeRole) VIPLocation {
	if role == RolePrimary {
		return VIPPrimary
	}
	return VIPSecondary
}

// LogicalState is the derived per-node classification
type LogicalState string

const (
	StateMaster  LogicalState = "MASTER"
	StateBackup  LogicalState = "BACKUP"
	StateFault   LogicalState = "FAULT"
	StateUnknown LogicalState = "UNKNOWN"
)

// NodeSnapshot is one node's slice of a HealthSnapshot
type NodeSnapshot struct {
	Reachable      bool         `json:"online"`
	ServiceHealthy bool         `json:"pihole"`
	DNSHealthy     bool         `json:"dns"`
	DHCPEnabled    bool         `json:"dhcp"`
	HoldsVIP       bool         `json:"has_vip"`
	State          LogicalState `json:"state"`
}

// HealthSnapshot is one row of the poll-cycle history. VIP is what the
// locator observed this cycle. When that is unknown, AssumedVIP holds the
// last definite location the node states were derived from.
type HealthSnapshot struct {
	ID                uint64       `json:"id"`
	Timestamp         time.Time    `json:"timestamp"`
	Primary           NodeSnapshot `json:"primary"`
	Secondary         NodeSnapshot `json:"secondary"`
	VIP               VIPLocation  `json:"vip_location"`
	AssumedVIP        VIPLocation  `json:"assumed_vip_location,omitempty"`
	DHCPLeases        int          `json:"dhcp_leases"`
	DHCPMisconfigured bool         `json:"dhcp_misconfigured"`
}

// EffectiveVIP is the location node states are based on
func (s *HealthSnapshot) EffectiveVIP() VIPLocation {
	if !s.VIP.Known() && s.AssumedVIP.Known() {
		return s.AssumedVIP
	}
	return s.VIP
}

// Node returns the snapshot slice for a role
func (s *HealthSnapshot) Node(role NodeRole) NodeSnapshot {
	if role == RolePrimary {
		return s.Primary
	}
	return s.Secondary
}

// EventCategory is the coarse classification stored with every event
type EventCategory string

const (
	CategoryInfo     EventCategory = "info"
	CategoryWarning  EventCategory = "warning"
	CategoryFailover EventCategory = "failover"
	CategoryError    EventCategory = "error"
)

// Valid reports whether c is one of the known categories
func (c EventCategory) Valid() bool {
	switch c {
	case CategoryInfo, CategoryWarning, CategoryFailover, CategoryError:
		return true
	}
	return false
}

// EventKind is the semantic type of an event, used to pick templates
type EventKind string

const (
	KindStartup           EventKind = "startup"
	KindFailover          EventKind = "failover"
	KindRecovery          EventKind = "recovery"
	KindFault             EventKind = "fault"
	KindDHCPMisconfigured EventKind = "dhcp_misconfigured"
	KindNotification      EventKind = "notification"
	KindMonitorError      EventKind = "monitor_error"
	KindReminder          EventKind = "reminder"
	KindTest              EventKind = "test"
)

// Event is a discrete, immutable occurrence in the timeline
type Event struct {
	ID        uint64        `json:"id"`
	Timestamp time.Time     `json:"time"`
	Category  EventCategory `json:"type"`
	Kind      EventKind     `json:"kind,omitempty"`
	Message   string        `json:"message"`

	// Vars carries template variables for notification; not persisted
	Vars map[string]string `json:"-"`
}

// IssueKind is the class of an unresolved condition
type IssueKind string

const (
	IssueFailover IssueKind = "failover"
	IssueFault    IssueKind = "fault"
)

// Issue identifies an unresolved condition tracked for reminders
type Issue struct {
	Kind IssueKind `json:"kind"`
	Node NodeRole  `json:"node,omitempty"`
}

// Key returns a stable string key for the issue
func (i Issue) Key() string {
	if i.Node == "" {
		return string(i.Kind)
	}
	return string(i.Kind) + ":" + string(i.Node)
}
