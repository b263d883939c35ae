package vip

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
)

var (
	// ErrNoEntry is returned when the neighbor table has no usable entry
	ErrNoEntry = errors.New("vip: no neighbor entry")

	// ErrUnsupported is returned by tables unavailable on this platform
	ErrUnsupported = errors.New("vip: neighbor table not supported on this platform")
)

// NeighborTable resolves an IP to the link-layer address the host last saw
type NeighborTable interface {
	Lookup(ctx context.Context, ip net.IP) (net.HardwareAddr, error)
}

// CommandRunner runs an external command and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CommandTable reads entries through `ip neigh show <ip>`
type CommandTable struct {
	run CommandRunner
}

// NewCommandTable creates a table backed by the ip(8) command. A nil runner
// executes the real binary.
func NewCommandTable(run CommandRunner) *CommandTable {
	if run == nil {
		run = execRunner
	}
	return &CommandTable{run: run}
}

// Lookup implements NeighborTable
func (t *CommandTable) Lookup(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	out, err := t.run(ctx, "ip", "neigh", "show", ip.String())
	if err != nil {
		return nil, fmt.Errorf("ip neigh show %s: %w", ip, err)
	}
	return parseNeighOutput(out, ip)
}

// parseNeighOutput extracts the address following "lladdr" for ip, e.g.
// "192.168.1.100 dev eth0 lladdr aa:bb:cc:dd:ee:ff REACHABLE"
func parseNeighOutput(out []byte, ip net.IP) (net.HardwareAddr, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if addr := net.ParseIP(fields[0]); addr == nil || !addr.Equal(ip) {
			continue
		}

		state := fields[len(fields)-1]
		if state == "FAILED" || state == "INCOMPLETE" {
			continue
		}

		for i := 0; i < len(fields)-1; i++ {
			if fields[i] != "lladdr" {
				continue
			}
			mac, err := net.ParseMAC(fields[i+1])
			if err != nil {
				return nil, fmt.Errorf("parse lladdr %q: %w", fields[i+1], err)
			}
			return mac, nil
		}
	}
	return nil, ErrNoEntry
}

// FallbackTable tries each table in order until one returns an address.
// ErrNoEntry from every table yields ErrNoEntry.
type FallbackTable []NeighborTable

// Lookup implements NeighborTable
func (f FallbackTable) Lookup(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	var errs []error
	for _, table := range f {
		mac, err := table.Lookup(ctx, ip)
		if err == nil {
			return mac, nil
		}
		if !errors.Is(err, ErrNoEntry) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil, ErrNoEntry
	}
	return nil, errors.Join(append([]error{ErrNoEntry}, errs...)...)
}

// SystemTable returns netlink with the ip(8) command as fallback
func SystemTable() NeighborTable {
	return FallbackTable{NewNetlinkTable(), NewCommandTable(nil)}
}
