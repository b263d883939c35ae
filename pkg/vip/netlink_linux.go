//go:build linux

package vip

import (
	"context"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// NetlinkTable reads the kernel neighbor table over netlink
type NetlinkTable struct{}

// NewNetlinkTable creates a netlink-backed table
func NewNetlinkTable() *NetlinkTable {
	return &NetlinkTable{}
}

// Lookup implements NeighborTable
func (t *NetlinkTable) Lookup(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	family := netlink.FAMILY_V4
	if ip.To4() == nil {
		family = netlink.FAMILY_V6
	}

	neighs, err := netlink.NeighList(0, family)
	if err != nil {
		return nil, fmt.Errorf("netlink neighbor list: %w", err)
	}

	for _, n := range neighs {
		if !n.IP.Equal(ip) || len(n.HardwareAddr) == 0 {
			continue
		}
		if n.State&(netlink.NUD_FAILED|netlink.NUD_INCOMPLETE) != 0 {
			continue
		}
		return n.HardwareAddr, nil
	}
	return nil, ErrNoEntry
}
