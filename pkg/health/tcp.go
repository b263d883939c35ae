package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialFunc opens a network connection; net.Dialer.DialContext satisfies it
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// TCPChecker performs TCP-connect health checks
type TCPChecker struct {
	// Address is the TCP address to connect to (e.g., "192.168.1.10:80")
	Address string

	// Timeout is the connection timeout (default: 2 seconds)
	Timeout time.Duration

	dial DialFunc
}

// NewTCPChecker creates a new TCP health checker
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 2 * time.Second,
	}
}

// Check performs the TCP health check
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	dial := t.dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	conn, err := dial(ctx, "tcp", t.Address)
	if err != nil {
		return unhealthy(start, fmt.Sprintf("connection failed: %v", err), err)
	}
	conn.Close()

	return healthy(start, fmt.Sprintf("TCP connection to %s successful", t.Address))
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the connection timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

// WithDialer replaces the dialer, mainly for tests
func (t *TCPChecker) WithDialer(dial DialFunc) *TCPChecker {
	t.dial = dial
	return t
}
