package pihole

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePihole is a minimal Pi-hole v6 API
type fakePihole struct {
	password string
	sid      string

	authCalls   int32
	logoutCalls int32
	rejectNext  int32 // number of upcoming data calls to reject with 401

	dhcpStatus int
	fullConfig bool
	dhcpActive bool
	leases     string
	summary    string
}

func (f *fakePihole) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON := func(v string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(v))
	}

	if r.URL.Path == "/api/auth" {
		switch r.Method {
		case http.MethodPost:
			atomic.AddInt32(&f.authCalls, 1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["password"] != f.password {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(`{"session":{"valid":true,"sid":"` + f.sid + `"}}`)
		case http.MethodDelete:
			atomic.AddInt32(&f.logoutCalls, 1)
			w.WriteHeader(http.StatusGone)
		}
		return
	}

	if r.Header.Get(sessionHeader) != f.sid || atomic.AddInt32(&f.rejectNext, -1) >= 0 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/api/stats/summary":
		writeJSON(f.summary)
	case "/api/config/dhcp":
		if f.dhcpStatus != 0 {
			w.WriteHeader(f.dhcpStatus)
			return
		}
		writeJSON(`{"config":{"dhcp":{"active":` + boolJSON(f.dhcpActive) + `}}}`)
	case "/api/config":
		if !f.fullConfig {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(`{"config":{"dns":{},"dhcp":{"active":` + boolJSON(f.dhcpActive) + `}}}`)
	case "/api/dhcp/leases":
		writeJSON(f.leases)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func boolJSON(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func newTestClient(t *testing.T, fake *fakePihole) *Client {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	node := types.NodeIdentity{Role: types.RolePrimary, Address: "127.0.0.1", Password: "secret"}
	return NewClient(node, 80, server.Client(), WithBaseURL(server.URL))
}

func TestClient_SummaryLegacyCounters(t *testing.T) {
	fake := &fakePihole{password: "secret", sid: "abc",
		summary: `{"dns_queries_today":1200,"ads_blocked_today":300,"unique_clients":14}`}
	client := newTestClient(t, fake)

	s, err := client.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Summary{Queries: 1200, Blocked: 300, Clients: 14}, s)
}

func TestClient_SummaryNestedCounters(t *testing.T) {
	fake := &fakePihole{password: "secret", sid: "abc",
		summary: `{"queries":{"total":50,"blocked":5},"clients":{"active":3,"total":9}}`}
	client := newTestClient(t, fake)

	s, err := client.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Summary{Queries: 50, Blocked: 5, Clients: 3}, s)
}

func TestClient_ReusesSession(t *testing.T) {
	fake := &fakePihole{password: "secret", sid: "abc", summary: `{}`}
	client := newTestClient(t, fake)

	for i := 0; i < 3; i++ {
		_, err := client.Summary(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.authCalls))
}

func TestClient_ReauthenticatesOnceOnRejectedSession(t *testing.T) {
	fake := &fakePihole{password: "secret", sid: "abc", summary: `{}`}
	client := newTestClient(t, fake)

	_, err := client.Summary(context.Background())
	require.NoError(t, err)

	// Session expires: the next data call is rejected once
	atomic.StoreInt32(&fake.rejectNext, 1)
	_, err = client.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.authCalls))
}

func TestClient_GivesUpAfterSecondRejection(t *testing.T) {
	fake := &fakePihole{password: "secret", sid: "abc", summary: `{}`, rejectNext: 5}
	client := newTestClient(t, fake)

	_, err := client.Summary(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.authCalls))
}

func TestClient_WrongPassword(t *testing.T) {
	fake := &fakePihole{password: "other", sid: "abc", summary: `{}`}
	client := newTestClient(t, fake)

	_, err := client.Summary(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_DHCPActive(t *testing.T) {
	fake := &fakePihole{password: "secret", sid: "abc", dhcpActive: true}
	client := newTestClient(t, fake)

	active, err := client.DHCPActive(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestClient_DHCPActiveFallsBackToFullConfig(t *testing.T) {
	fake := &fakePihole{password: "secret", sid: "abc", dhcpActive: true,
		dhcpStatus: http.StatusInternalServerError, fullConfig: true}
	client := newTestClient(t, fake)

	active, err := client.DHCPActive(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestClient_DHCPActiveBothPathsFail(t *testing.T) {
	fake := &fakePihole{password: "secret", sid: "abc", dhcpActive: true,
		dhcpStatus: http.StatusInternalServerError}
	client := newTestClient(t, fake)

	active, err := client.DHCPActive(context.Background())
	assert.Error(t, err)
	assert.False(t, active)
}

func TestClient_DHCPLeaseCount(t *testing.T) {
	tests := []struct {
		name   string
		leases string
		want   int
	}{
		{"leases list", `{"leases":[{"ip":"a"},{"ip":"b"}]}`, 2},
		{"leases dict", `{"leases":{"aa":{},"bb":{},"cc":{}}}`, 3},
		{"nested dhcp", `{"dhcp":{"leases":[{},{},{},{}]}}`, 4},
		{"data list", `{"data":[{}]}`, 1},
		{"bare list", `[{},{}]`, 2},
		{"empty", `{"leases":[]}`, 0},
		{"unexpected", `{"leases":"none"}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakePihole{password: "secret", sid: "abc", leases: tt.leases}
			client := newTestClient(t, fake)

			n, err := client.DHCPLeaseCount(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestClient_Logout(t *testing.T) {
	fake := &fakePihole{password: "secret", sid: "abc", summary: `{}`}
	client := newTestClient(t, fake)

	// No session yet: nothing to do
	require.NoError(t, client.Logout(context.Background()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&fake.logoutCalls))

	_, err := client.Summary(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.Logout(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.logoutCalls))

	// Next call authenticates again
	_, err = client.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.authCalls))
}
