// Package pihole is a minimal client for the Pi-hole v6 REST API.
package pihole

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/retry"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/rs/zerolog"
)

const sessionHeader = "X-FTL-SID"

var (
	// ErrUnauthorized is returned when the node rejects the password or session
	ErrUnauthorized = errors.New("pihole: unauthorized")

	// ErrNoSession is returned when authentication succeeds without a session id
	ErrNoSession = errors.New("pihole: no session id in auth response")
)

// StatusError is a non-2xx response other than an auth rejection
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pihole: %s %s returned %d", e.Method, e.Path, e.Code)
}

// Summary holds the query counters from the stats endpoint
type Summary struct {
	Queries int64
	Blocked int64
	Clients int64
}

// Client talks to the Pi-hole v6 REST API of one node. The session id is
// cached across calls and renewed when the node rejects it.
type Client struct {
	baseURL  string
	password string
	http     *http.Client
	auth     retry.Policy
	logger   zerolog.Logger

	mu  sync.Mutex
	sid string
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the http://<address>:<port> default
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithAuthRetry sets the policy used when a session is rejected
func WithAuthRetry(p retry.Policy) Option {
	return func(c *Client) { c.auth = p }
}

// NewClient creates a client for node using the shared HTTP client
func NewClient(node types.NodeIdentity, port int, httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		baseURL:  "http://" + net.JoinHostPort(node.Address, strconv.Itoa(port)),
		password: node.Password,
		http:     httpClient,
		auth:     retry.Policy{MaxAttempts: 2},
		logger:   log.WithNode("pihole", node.Role),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summary fetches today's query statistics. Success means the service is up.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var resp summaryResponse
	if err := c.get(ctx, "/api/stats/summary", &resp); err != nil {
		return nil, err
	}
	return resp.summary(), nil
}

// DHCPActive reports whether the node's DHCP server is enabled. The
// dedicated config path is tried first, then the full config document.
func (c *Client) DHCPActive(ctx context.Context) (bool, error) {
	var resp configResponse

	err := c.get(ctx, "/api/config/dhcp", &resp)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		c.logger.Debug().Err(err).Msg("DHCP config path failed, trying full config")

		resp = configResponse{}
		if ferr := c.get(ctx, "/api/config", &resp); ferr != nil {
			return false, fmt.Errorf("dhcp config: %w (fallback: %v)", err, ferr)
		}
	}

	return resp.Config.DHCP.Active, nil
}

// DHCPLeaseCount returns the number of active DHCP leases
func (c *Client) DHCPLeaseCount(ctx context.Context) (int, error) {
	var raw interface{}
	if err := c.get(ctx, "/api/dhcp/leases", &raw); err != nil {
		return 0, err
	}
	return countLeases(raw), nil
}

// Logout ends the cached session, if any
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	sid := c.sid
	c.sid = ""
	c.mu.Unlock()

	if sid == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/auth", nil)
	if err != nil {
		return err
	}
	req.Header.Set(sessionHeader, sid)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	drain(resp)
	return nil
}

// get performs an authenticated GET, renewing the session on 401/403
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return retry.Do(ctx, c.auth, func(ctx context.Context, attempt int) error {
		sid, err := c.session(ctx)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set(sessionHeader, sid)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.Permanent(fmt.Errorf("GET %s: %w", path, err))
		}
		defer drain(resp)

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			c.logger.Debug().Str("path", path).Int("attempt", attempt).Msg("Session rejected, re-authenticating")
			c.dropSession(sid)
			return ErrUnauthorized
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return retry.Permanent(&StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode})
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("GET %s: decode: %w", path, err))
		}
		return nil
	})
}

// session returns the cached session id or authenticates for a new one
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	sid := c.sid
	c.mu.Unlock()
	if sid != "" {
		return sid, nil
	}

	body, err := json.Marshal(map[string]string{"password": c.password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Method: http.MethodPost, Path: "/api/auth", Code: resp.StatusCode}
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("auth: decode: %w", err)
	}
	if auth.Session.SID == "" {
		c.logger.Warn().Msg("Could not get session ID, check password")
		return "", ErrNoSession
	}

	c.mu.Lock()
	c.sid = auth.Session.SID
	c.mu.Unlock()

	return auth.Session.SID, nil
}

func (c *Client) dropSession(sid string) {
	c.mu.Lock()
	if c.sid == sid {
		c.sid = ""
	}
	c.mu.Unlock()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}
