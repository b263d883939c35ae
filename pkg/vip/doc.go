/*
Package vip finds which Pi-hole node currently answers at the virtual IP.

The locator opens short TCP connections to the VIP and to both node
addresses so the kernel resolves their link-layer addresses, waits a settle
delay, then reads the neighbor table. The VIP belongs to whichever node has
the same MAC:

	VIP MAC == primary MAC   → primary
	VIP MAC == secondary MAC → secondary
	VIP MAC matches neither  → none
	no VIP entry after retries → unknown

On Linux the table is read over netlink, falling back to ip(8) when netlink
is unavailable. Other platforms use ip(8) only.
*/
package vip
