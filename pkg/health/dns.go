package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// ErrNoAnswer is returned when the server replies without usable records
var ErrNoAnswer = errors.New("no answer")

// DNSChecker sends a single A query directly at a DNS server and is healthy
// only when the server answers NOERROR with at least one record
type DNSChecker struct {
	// Server is the resolver address (e.g., "192.168.1.10:53")
	Server string

	// Domain is the always-resolvable name to query
	Domain string

	// Timeout bounds the whole exchange (default: 5 seconds)
	Timeout time.Duration

	// Net is the transport, "udp" (default) or "tcp"
	Net string
}

// NewDNSChecker creates a new DNS health checker
func NewDNSChecker(server, domain string) *DNSChecker {
	return &DNSChecker{
		Server:  server,
		Domain:  domain,
		Timeout: 5 * time.Second,
		Net:     "udp",
	}
}

// Check performs the DNS health check
func (d *DNSChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(d.Domain), dns.TypeA)
	msg.RecursionDesired = true

	client := &dns.Client{Net: d.Net, Timeout: d.Timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, d.Server)
	if err != nil {
		return unhealthy(start, fmt.Sprintf("query failed: %v", err), err)
	}

	if resp.Rcode != dns.RcodeSuccess {
		err := fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode])
		return unhealthy(start, fmt.Sprintf("query for %s returned %s", d.Domain, dns.RcodeToString[resp.Rcode]), err)
	}
	if len(resp.Answer) == 0 {
		return unhealthy(start, fmt.Sprintf("query for %s returned no records", d.Domain), ErrNoAnswer)
	}

	return healthy(start, fmt.Sprintf("%s resolved %d records", d.Server, len(resp.Answer)))
}

// Type returns the health check type
func (d *DNSChecker) Type() CheckType {
	return CheckTypeDNS
}

// WithTimeout sets the query timeout
func (d *DNSChecker) WithTimeout(timeout time.Duration) *DNSChecker {
	d.Timeout = timeout
	return d
}
