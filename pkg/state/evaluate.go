package state

import (
	"fmt"
	"time"

	"github.com/cuemby/sentinel/pkg/notify"
	"github.com/cuemby/sentinel/pkg/types"
)

// Observation is everything one tick measured
type Observation struct {
	Time      time.Time
	Primary   types.NodeProbe
	Secondary types.NodeProbe
	VIP       types.VIPLocation
}

// Probe returns the probe for a role
func (o Observation) Probe(role types.NodeRole) types.NodeProbe {
	if role == types.RolePrimary {
		return o.Primary
	}
	return o.Secondary
}

// Memory is the state carried from one tick to the next
type Memory struct {
	Started bool

	// States holds the logical state persisted by the previous tick
	States map[types.NodeRole]types.LogicalState

	// LastVIP is the last definite VIP location; LastHolder the last node
	// seen holding it, which survives intervals where nobody does
	LastVIP    types.VIPLocation
	LastHolder types.NodeRole

	DHCPStreak  map[types.NodeRole]int
	DHCPAlerted map[types.NodeRole]bool
}

// NewMemory returns the memory of a tracker that has seen nothing yet
func NewMemory() *Memory {
	return &Memory{
		States:      make(map[types.NodeRole]types.LogicalState),
		DHCPStreak:  make(map[types.NodeRole]int),
		DHCPAlerted: make(map[types.NodeRole]bool),
	}
}

// Clone returns a deep copy
func (m *Memory) Clone() *Memory {
	out := &Memory{
		Started:     m.Started,
		LastVIP:     m.LastVIP,
		LastHolder:  m.LastHolder,
		States:      make(map[types.NodeRole]types.LogicalState, len(m.States)),
		DHCPStreak:  make(map[types.NodeRole]int, len(m.DHCPStreak)),
		DHCPAlerted: make(map[types.NodeRole]bool, len(m.DHCPAlerted)),
	}
	for k, v := range m.States {
		out.States[k] = v
	}
	for k, v := range m.DHCPStreak {
		out.DHCPStreak[k] = v
	}
	for k, v := range m.DHCPAlerted {
		out.DHCPAlerted[k] = v
	}
	return out
}

// Restore seeds memory from the last stored snapshot so a restart does not
// lose track of who held the VIP
func (m *Memory) Restore(snap *types.HealthSnapshot) {
	for _, role := range types.Roles {
		m.States[role] = snap.Node(role).State
	}
	vip := snap.EffectiveVIP()
	if vip.Known() {
		m.LastVIP = vip
	}
	if holder, ok := vip.Holder(); ok {
		m.LastHolder = holder
	}
}

// Evaluation is the outcome of one tick
type Evaluation struct {
	Snapshot types.HealthSnapshot
	Events   []*types.Event
	Issues   []types.Issue

	// Vars are the base template variables of this tick
	Vars notify.Vars

	// Memory is what the next tick starts from
	Memory *Memory
}

// Evaluator derives logical states and transition events. It holds only
// configuration; all carried state lives in Memory.
type Evaluator struct {
	Primary      types.NodeIdentity
	Secondary    types.NodeIdentity
	VIP          string
	DHCPDebounce int
}

func (e *Evaluator) node(role types.NodeRole) types.NodeIdentity {
	if role == types.RolePrimary {
		return e.Primary
	}
	return e.Secondary
}

// Evaluate computes the snapshot, events, and next memory for obs. mem is
// not modified.
func (e *Evaluator) Evaluate(mem *Memory, obs Observation) Evaluation {
	next := mem.Clone()
	debounce := e.DHCPDebounce
	if debounce < 1 {
		debounce = 1
	}

	observed := obs.VIP
	if !observed.Known() {
		observed = types.VIPUnknown
	}

	// An unresolved lookup keeps the last definite location for deriving
	// states; the snapshot still reports what was observed
	location := observed
	if !location.Known() && mem.LastVIP.Known() {
		location = mem.LastVIP
	}
	holder, hasHolder := location.Holder()
	observedHolder, observedHasHolder := observed.Holder()

	snap := types.HealthSnapshot{
		Timestamp: obs.Time,
		VIP:       observed,
	}
	if location != observed {
		snap.AssumedVIP = location
	}
	states := make(map[types.NodeRole]types.LogicalState, 2)
	for _, role := range types.Roles {
		p := obs.Probe(role)
		state := deriveState(role, p, location)
		states[role] = state

		ns := types.NodeSnapshot{
			Reachable:      p.Reachable,
			ServiceHealthy: p.ServiceHealthy,
			DNSHealthy:     p.DNSHealthy,
			DHCPEnabled:    p.DHCPEnabled,
			HoldsVIP:       observedHasHolder && observedHolder == role,
			State:          state,
		}
		if role == types.RolePrimary {
			snap.Primary = ns
		} else {
			snap.Secondary = ns
		}
		if state == types.StateMaster {
			snap.DHCPLeases = p.DHCPLeases
		}
	}

	vars := notify.BaseVars(obs.Time, e.VIP, e.Primary.Name, e.Secondary.Name)
	if hasHolder {
		vars = vars.With("master", e.node(holder).Name).With("backup", e.node(holder.Other()).Name)
	}

	ev := &eventBuilder{time: obs.Time, vars: vars}

	if !mem.Started {
		if hasHolder {
			ev.add(types.CategoryInfo, types.KindStartup, nil,
				fmt.Sprintf("Monitor started - %s is MASTER", e.node(holder).Name))
		} else {
			ev.add(types.CategoryInfo, types.KindStartup, nil,
				"Monitor started - VIP holder not yet known")
		}
		next.Started = true
	}

	// Failover: the holder differs from the last node seen holding the VIP
	if hasHolder && mem.LastHolder != "" && holder != mem.LastHolder {
		former := mem.LastHolder
		reason := failoverReason(e.node(former), obs.Probe(former))
		ev.add(types.CategoryFailover, types.KindFailover,
			notify.Vars{
				"node":      string(holder),
				"node_name": e.node(holder).Name,
				"reason":    reason,
			},
			fmt.Sprintf("%s became MASTER: %s", e.node(holder).Name, reason))
	}

	for _, role := range types.Roles {
		prev, seen := mem.States[role]
		state := states[role]
		name := e.node(role).Name
		nodeVars := notify.Vars{"node": string(role), "node_name": name}

		switch {
		case mem.Started && state == types.StateFault && (!seen || prev != types.StateFault):
			reason := faultReason(obs.Probe(role))
			nodeVars["reason"] = reason
			ev.add(types.CategoryError, types.KindFault, nodeVars,
				fmt.Sprintf("%s entered FAULT state: %s", name, reason))
		case seen && prev == types.StateFault && state != types.StateFault:
			nodeVars["reason"] = fmt.Sprintf("%s is now %s", name, state)
			ev.add(types.CategoryInfo, types.KindRecovery, nodeVars,
				fmt.Sprintf("%s recovered and is now %s", name, state))
		}
	}

	for _, role := range types.Roles {
		state := states[role]
		if state != types.StateMaster && state != types.StateBackup {
			next.DHCPStreak[role] = 0
			continue
		}

		dhcp := obs.Probe(role).DHCPEnabled
		if (state == types.StateMaster) == dhcp {
			next.DHCPStreak[role] = 0
			next.DHCPAlerted[role] = false
			continue
		}

		next.DHCPStreak[role]++
		if next.DHCPStreak[role] < debounce {
			continue
		}
		snap.DHCPMisconfigured = true
		if next.DHCPAlerted[role] {
			continue
		}
		next.DHCPAlerted[role] = true

		name := e.node(role).Name
		reason := fmt.Sprintf("%s is MASTER but DHCP is DISABLED", name)
		if state == types.StateBackup {
			reason = fmt.Sprintf("%s is BACKUP but DHCP is ENABLED", name)
		}
		ev.add(types.CategoryWarning, types.KindDHCPMisconfigured,
			notify.Vars{"node": string(role), "node_name": name, "reason": reason},
			"DHCP misconfiguration: "+reason)
	}

	var issues []types.Issue
	if hasHolder && holder == types.RoleSecondary {
		issues = append(issues, types.Issue{Kind: types.IssueFailover})
	}
	for _, role := range types.Roles {
		if states[role] == types.StateFault {
			issues = append(issues, types.Issue{Kind: types.IssueFault, Node: role})
		}
	}

	for role, state := range states {
		next.States[role] = state
	}
	if obs.VIP.Known() {
		next.LastVIP = obs.VIP
	}
	if hasHolder {
		next.LastHolder = holder
	}

	return Evaluation{
		Snapshot: snap,
		Events:   ev.events,
		Issues:   issues,
		Vars:     vars,
		Memory:   next,
	}
}

func deriveState(role types.NodeRole, p types.NodeProbe, location types.VIPLocation) types.LogicalState {
	switch {
	case !p.Reachable || !p.ServiceHealthy:
		return types.StateFault
	case !location.Known():
		return types.StateUnknown
	case location == types.LocationOf(role):
		return types.StateMaster
	}
	return types.StateBackup
}

func failoverReason(former types.NodeIdentity, p types.NodeProbe) string {
	switch {
	case !p.Reachable:
		return former.Name + " is offline"
	case !p.ServiceHealthy:
		return "Pi-hole service on " + former.Name + " is down"
	case !p.DNSHealthy:
		return "DNS on " + former.Name + " is not responding"
	}
	return "VIP moved"
}

func faultReason(p types.NodeProbe) string {
	if !p.Reachable {
		return "node is offline"
	}
	return "Pi-hole service is down"
}

type eventBuilder struct {
	time   time.Time
	vars   notify.Vars
	events []*types.Event
}

func (b *eventBuilder) add(category types.EventCategory, kind types.EventKind, extra notify.Vars, message string) {
	vars := b.vars.With("event", string(kind))
	for k, v := range extra {
		vars[k] = v
	}
	b.events = append(b.events, &types.Event{
		Timestamp: b.time,
		Category:  category,
		Kind:      kind,
		Message:   message,
		Vars:      vars,
	})
}
