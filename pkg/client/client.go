package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/sentinel/pkg/api"
	"github.com/cuemby/sentinel/pkg/notify"
	"github.com/cuemby/sentinel/pkg/types"
)

// DefaultTimeout bounds each call
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the monitor
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("monitor returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("monitor returned %d: %s", e.StatusCode, e.Detail)
}

// Client talks to a running monitor over its REST API
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client for the monitor at addr, e.g. http://127.0.0.1:8080
func NewClient(addr, apiKey string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid monitor address %q", addr)
	}

	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Status returns the latest evaluated state of both nodes
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns snapshots from the last hours, oldest first
func (c *Client) History(ctx context.Context, hours int) ([]*types.HealthSnapshot, error) {
	q := url.Values{}
	if hours > 0 {
		q.Set("hours", strconv.Itoa(hours))
	}
	var snaps []*types.HealthSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/history", q, nil, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Events returns the newest events, optionally filtered by category
func (c *Client) Events(ctx context.Context, limit int, category types.EventCategory) ([]*types.Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if category != "" {
		q.Set("category", string(category))
	}
	var evs []*types.Event
	if err := c.do(ctx, http.MethodGet, "/api/events", q, nil, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

// NotificationSettings returns the masked notification settings
func (c *Client) NotificationSettings(ctx context.Context) (*notify.Settings, error) {
	var s notify.Settings
	if err := c.do(ctx, http.MethodGet, "/api/notifications/settings", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// TestNotification sends a test message through one channel
func (c *Client) TestNotification(ctx context.Context, service string) (*api.TestResponse, error) {
	var resp api.TestResponse
	req := api.TestRequest{Service: service}
	if err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SnoozeStatus returns the current snooze window
func (c *Client) SnoozeStatus(ctx context.Context) (*notify.SnoozeStatus, error) {
	var s notify.SnoozeStatus
	if err := c.do(ctx, http.MethodGet, "/api/notifications/snooze", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Snooze suppresses notifications for minutes
func (c *Client) Snooze(ctx context.Context, minutes int) (*notify.SnoozeStatus, error) {
	var s notify.SnoozeStatus
	if err := c.do(ctx, http.MethodPost, "/api/notifications/snooze", nil, api.SnoozeRequest{Minutes: minutes}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CancelSnooze ends any active snooze
func (c *Client) CancelSnooze(ctx context.Context) (*notify.SnoozeStatus, error) {
	var s notify.SnoozeStatus
	if err := c.do(ctx, http.MethodDelete, "/api/notifications/snooze", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	req.Header.Set(api.HeaderAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach monitor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var detail api.ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&detail); err == nil {
			apiErr.Detail = detail.Detail
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
