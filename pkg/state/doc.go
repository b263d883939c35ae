/*
Package state turns raw probe observations into logical node states and
transition events.

Every poll tick produces an Observation: one NodeProbe per node plus the VIP
location. The Evaluator is a pure function of (Memory, Observation); it
derives the MASTER/BACKUP/FAULT/UNKNOWN classification for each node, decides
which transitions happened since the previous tick and returns a new Memory
for the next one. The Tracker owns that Memory and applies each Evaluation:
persist, publish, notify.

# Architecture

	┌─────────────── POLLER ───────────────┐
	│  probe primary ─┐                    │
	│  probe secondary┴─► locate VIP       │
	└──────────────────┬───────────────────┘
	                   │ Observation
	┌──────────────────▼───────────────────┐
	│              Tracker                  │
	│                                       │
	│  Evaluator.Evaluate(mem, obs)         │
	│     │                                 │
	│     ├─► HealthSnapshot ─► store       │
	│     ├─► Events ─► store ─► broker     │
	│     │              └─► dispatcher     │
	│     ├─► Issues ─► reminder tracker    │
	│     └─► Memory (next tick)            │
	└───────────────────────────────────────┘

# Classification

A node is FAULT when it is unreachable or its Pi-hole service is down. A
healthy node is MASTER when it holds the VIP and BACKUP otherwise. When the
VIP location is unknown for a tick, the last known location carries over for
states and failover detection while the snapshot still records unknown, with
the carried location in AssumedVIP. If there is none yet, healthy nodes are
UNKNOWN.

# Events

  - startup: the first evaluated tick after the process starts
  - failover: the VIP holder differs from the last known holder
  - fault / recovery: a node enters or leaves FAULT
  - dhcp_misconfigured: DHCP is enabled on the BACKUP or disabled on the
    MASTER for DHCPDebounce consecutive ticks; reported once per episode

An event is only handed to the notifier after it has been written to the
store. A snapshot write failure is logged and does not block events or the
Memory update, so the next tick does not repeat transitions.

# Restart

Tracker.Restore seeds Memory from the latest stored snapshot, so a restart
while the secondary holds the VIP does not announce a fresh failover.
*/
package state
