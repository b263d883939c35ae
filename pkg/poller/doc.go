/*
Package poller drives the monitoring loop.

Each tick probes both nodes concurrently, then locates the VIP, then hands
the Observation to the state tracker. Each node's probe has its own deadline,
so a hung node is reported with the checks it finished and does not hold up
the other. Probing and location share a deadline of one check interval; a
tick that misses it is abandoned, recorded as a monitor error and retried on
the next interval. Ticks never overlap.

Retention runs once at startup and then on a cron schedule, pruning old
snapshots and events and compacting the database.
*/
package poller
