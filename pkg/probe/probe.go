// Package probe gathers one observation of a Pi-hole node: TCP reachability,
// DNS resolution, API health and DHCP state. Check failures are recorded on
// the result rather than returned.
package probe

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/health"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/pihole"
	"github.com/cuemby/sentinel/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Sub-check names used in NodeProbe.Errors and metric labels
const (
	CheckReachability = "reachability"
	CheckService      = "service"
	CheckDNS          = "dns"
	CheckDHCP         = "dhcp"
	CheckLeases       = "leases"
)

// Config bounds the individual sub-checks
type Config struct {
	ManagementPort int
	DNSPort        int
	DNSDomain      string

	ConnectTimeout time.Duration
	HTTPTimeout    time.Duration
	DNSTimeout     time.Duration
}

// DefaultConfig returns the standard ports and timeouts
func DefaultConfig() Config {
	return Config{
		ManagementPort: 80,
		DNSPort:        53,
		DNSDomain:      "google.com",
		ConnectTimeout: 2 * time.Second,
		HTTPTimeout:    10 * time.Second,
		DNSTimeout:     5 * time.Second,
	}
}

// CheckerFactory builds a checker for a node
type CheckerFactory func(node types.NodeIdentity) health.Checker

// Prober runs the per-node sub-checks. It never returns errors: every
// failure degrades its own field and is recorded in NodeProbe.Errors.
type Prober struct {
	cfg  Config
	http *http.Client

	reach CheckerFactory
	dns   CheckerFactory

	mu      sync.Mutex
	clients map[types.NodeRole]*pihole.Client
}

// Option configures a Prober
type Option func(*Prober)

// WithReachability replaces the TCP reachability checker
func WithReachability(f CheckerFactory) Option {
	return func(p *Prober) { p.reach = f }
}

// WithDNS replaces the DNS checker
func WithDNS(f CheckerFactory) Option {
	return func(p *Prober) { p.dns = f }
}

// New creates a Prober sharing httpClient across nodes and ticks
func New(cfg Config, httpClient *http.Client, opts ...Option) *Prober {
	p := &Prober{
		cfg:     cfg,
		http:    httpClient,
		clients: make(map[types.NodeRole]*pihole.Client),
	}

	p.reach = func(node types.NodeIdentity) health.Checker {
		addr := net.JoinHostPort(node.Address, strconv.Itoa(cfg.ManagementPort))
		return health.NewTCPChecker(addr).WithTimeout(cfg.ConnectTimeout)
	}
	p.dns = func(node types.NodeIdentity) health.Checker {
		addr := net.JoinHostPort(node.Address, strconv.Itoa(cfg.DNSPort))
		return health.NewDNSChecker(addr, cfg.DNSDomain).WithTimeout(cfg.DNSTimeout)
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewHTTPClient returns the pooled client shared by probes and notifications
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			MaxConnsPerHost:     8,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Probe checks one node. Reachability gates everything else; DNS and the
// API checks then run concurrently.
func (p *Prober) Probe(ctx context.Context, node types.NodeIdentity) types.NodeProbe {
	logger := log.WithNode("probe", node.Role)
	var result types.NodeProbe

	reach := p.run(ctx, node, CheckReachability, p.reach(node))
	result.Reachable = reach.Healthy
	if !reach.Healthy {
		result.Fail(CheckReachability, reach.Err)
		logger.Debug().Err(reach.Err).Msg("Node unreachable")
		return result
	}

	var (
		dnsResult health.Result
		api       apiResult
		g         errgroup.Group
	)

	g.Go(func() error {
		dnsResult = p.run(ctx, node, CheckDNS, p.dns(node))
		return nil
	})
	g.Go(func() error {
		api = p.probeAPI(ctx, node)
		return nil
	})
	_ = g.Wait()

	result.DNSHealthy = dnsResult.Healthy
	if !dnsResult.Healthy {
		result.Fail(CheckDNS, dnsResult.Err)
	}

	result.ServiceHealthy = api.healthy
	result.DHCPEnabled = api.dhcp
	result.DHCPLeases = api.leases
	result.Queries = api.summary.Queries
	result.Blocked = api.summary.Blocked
	result.Clients = api.summary.Clients
	for check, err := range api.errs {
		result.Fail(check, err)
	}

	if len(result.Errors) > 0 {
		logger.Debug().Interface("errors", result.Errors).Msg("Node degraded")
	}
	return result
}

type apiResult struct {
	healthy bool
	dhcp    bool
	leases  int
	summary pihole.Summary
	errs    map[string]error
}

func (p *Prober) probeAPI(ctx context.Context, node types.NodeIdentity) apiResult {
	res := apiResult{errs: make(map[string]error)}
	client := p.client(node)

	observe := func(check string, err error, timer *metrics.Timer) {
		timer.ObserveDurationVec(metrics.ProbeDuration, string(node.Role), check)
		metrics.NodeCheckUp.WithLabelValues(string(node.Role), check).Set(metrics.BoolGauge(err == nil))
		if err != nil {
			metrics.ProbeFailuresTotal.WithLabelValues(string(node.Role), check).Inc()
			res.errs[check] = err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	summary, err := client.Summary(ctx)
	observe(CheckService, err, timer)
	if err != nil {
		return res
	}
	res.healthy = true
	res.summary = *summary

	timer = metrics.NewTimer()
	res.dhcp, err = client.DHCPActive(ctx)
	observe(CheckDHCP, err, timer)

	timer = metrics.NewTimer()
	res.leases, err = client.DHCPLeaseCount(ctx)
	observe(CheckLeases, err, timer)

	return res
}

func (p *Prober) run(ctx context.Context, node types.NodeIdentity, check string, checker health.Checker) health.Result {
	result := checker.Check(ctx)

	role := string(node.Role)
	metrics.ProbeDuration.WithLabelValues(role, check).Observe(result.Duration.Seconds())
	metrics.NodeCheckUp.WithLabelValues(role, check).Set(metrics.BoolGauge(result.Healthy))
	if !result.Healthy {
		metrics.ProbeFailuresTotal.WithLabelValues(role, check).Inc()
	}
	return result
}

func (p *Prober) client(node types.NodeIdentity) *pihole.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[node.Role]
	if !ok {
		c = pihole.NewClient(node, p.cfg.ManagementPort, p.http)
		p.clients[node.Role] = c
	}
	return c
}

// Close ends any open API sessions
func (p *Prober) Close(ctx context.Context) error {
	p.mu.Lock()
	clients := make([]*pihole.Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, c := range clients {
		c := c
		g.Go(func() error { return c.Logout(ctx) })
	}
	return g.Wait()
}
