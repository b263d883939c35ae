package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/sentinel/pkg/health"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	healthy bool
	delay   time.Duration
	calls   int32
}

func (f *fakeChecker) Check(ctx context.Context) health.Result {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if f.healthy {
		return health.Result{Healthy: true, CheckedAt: time.Now()}
	}
	return health.Result{Healthy: false, Err: errors.New("fake failure"), CheckedAt: time.Now()}
}

func (f *fakeChecker) Type() health.CheckType { return health.CheckTypeDNS }

func fixed(c health.Checker) CheckerFactory {
	return func(types.NodeIdentity) health.Checker { return c }
}

// piholeServer serves a healthy Pi-hole API and returns its host and port
func piholeServer(t *testing.T, dhcpActive bool, apiCalls *int32) (string, int) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(apiCalls, 1)
		_, _ = w.Write([]byte(`{"session":{"valid":true,"sid":"sid-1"}}`))
	})
	mux.HandleFunc("/api/stats/summary", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(apiCalls, 1)
		_, _ = w.Write([]byte(`{"dns_queries_today":10,"ads_blocked_today":2,"unique_clients":4}`))
	})
	mux.HandleFunc("/api/config/dhcp", func(w http.ResponseWriter, r *http.Request) {
		active := "false"
		if dhcpActive {
			active = "true"
		}
		_, _ = w.Write([]byte(`{"config":{"dhcp":{"active":` + active + `}}}`))
	})
	mux.HandleFunc("/api/dhcp/leases", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"leases":[{},{},{}]}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func testConfig(port int) Config {
	cfg := DefaultConfig()
	cfg.ManagementPort = port
	cfg.HTTPTimeout = 2 * time.Second
	cfg.ConnectTimeout = time.Second
	return cfg
}

func TestProber_HealthyNode(t *testing.T) {
	var calls int32
	host, port := piholeServer(t, true, &calls)

	p := New(testConfig(port), http.DefaultClient, WithDNS(fixed(&fakeChecker{healthy: true})))
	node := types.NodeIdentity{Role: types.RolePrimary, Address: host, Password: "pw"}

	result := p.Probe(context.Background(), node)

	assert.True(t, result.Reachable)
	assert.True(t, result.ServiceHealthy)
	assert.True(t, result.DNSHealthy)
	assert.True(t, result.DHCPEnabled)
	assert.Equal(t, 3, result.DHCPLeases)
	assert.Equal(t, int64(10), result.Queries)
	assert.Equal(t, int64(2), result.Blocked)
	assert.Equal(t, int64(4), result.Clients)
	assert.Empty(t, result.Errors)
}

func TestProber_UnreachableShortCircuits(t *testing.T) {
	dns := &fakeChecker{healthy: true}
	p := New(DefaultConfig(), http.DefaultClient,
		WithReachability(fixed(&fakeChecker{healthy: false})),
		WithDNS(fixed(dns)))

	result := p.Probe(context.Background(), types.NodeIdentity{Role: types.RoleSecondary, Address: "192.0.2.1"})

	assert.False(t, result.Reachable)
	assert.False(t, result.ServiceHealthy)
	assert.False(t, result.DNSHealthy)
	assert.False(t, result.DHCPEnabled)
	assert.Contains(t, result.Errors, CheckReachability)
	assert.Equal(t, int32(0), atomic.LoadInt32(&dns.calls))
}

func TestProber_DNSFailureDegradesOnlyDNS(t *testing.T) {
	var calls int32
	host, port := piholeServer(t, false, &calls)

	p := New(testConfig(port), http.DefaultClient, WithDNS(fixed(&fakeChecker{healthy: false})))
	result := p.Probe(context.Background(), types.NodeIdentity{Role: types.RolePrimary, Address: host})

	assert.True(t, result.Reachable)
	assert.True(t, result.ServiceHealthy)
	assert.False(t, result.DNSHealthy)
	assert.False(t, result.DHCPEnabled)
	assert.Contains(t, result.Errors, CheckDNS)
}

func TestProber_ServiceDownSkipsDHCP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)

	p := New(testConfig(port), http.DefaultClient, WithDNS(fixed(&fakeChecker{healthy: true})))
	result := p.Probe(context.Background(), types.NodeIdentity{Role: types.RolePrimary, Address: host})

	assert.True(t, result.Reachable)
	assert.False(t, result.ServiceHealthy)
	assert.True(t, result.DNSHealthy)
	assert.False(t, result.DHCPEnabled)
	assert.Contains(t, result.Errors, CheckService)
	assert.NotContains(t, result.Errors, CheckDHCP)
}

func TestProber_HungAPIDegradesWithinDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)

	cfg := testConfig(port)
	cfg.HTTPTimeout = 10 * time.Second
	p := New(cfg, http.DefaultClient, WithDNS(fixed(&fakeChecker{healthy: true})))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := p.Probe(ctx, types.NodeIdentity{Role: types.RolePrimary, Address: host})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, result.Reachable)
	assert.True(t, result.DNSHealthy)
	assert.False(t, result.ServiceHealthy)
	assert.Contains(t, result.Errors, CheckService)
}

func TestProber_ChecksRunConcurrently(t *testing.T) {
	var calls int32
	host, port := piholeServer(t, true, &calls)

	slowDNS := &fakeChecker{healthy: true, delay: 300 * time.Millisecond}
	p := New(testConfig(port), http.DefaultClient, WithDNS(fixed(slowDNS)))

	start := time.Now()
	result := p.Probe(context.Background(), types.NodeIdentity{Role: types.RolePrimary, Address: host})

	assert.True(t, result.DNSHealthy)
	assert.True(t, result.ServiceHealthy)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProber_ReusesSessionAndCloses(t *testing.T) {
	var calls int32
	host, port := piholeServer(t, true, &calls)

	p := New(testConfig(port), http.DefaultClient, WithDNS(fixed(&fakeChecker{healthy: true})))
	node := types.NodeIdentity{Role: types.RolePrimary, Address: host}

	p.Probe(context.Background(), node)
	p.Probe(context.Background(), node)

	// one auth + two summaries
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.NoError(t, p.Close(context.Background()))
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.Timeout)

	transport, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 8, transport.MaxConnsPerHost)
}
