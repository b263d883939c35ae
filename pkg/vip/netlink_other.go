//go:build !linux

package vip

import (
	"context"
	"net"
)

// NetlinkTable is unavailable outside Linux
type NetlinkTable struct{}

// NewNetlinkTable creates a table that always reports ErrUnsupported
func NewNetlinkTable() *NetlinkTable {
	return &NetlinkTable{}
}

// Lookup implements NeighborTable
func (t *NetlinkTable) Lookup(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	return nil, ErrUnsupported
}
