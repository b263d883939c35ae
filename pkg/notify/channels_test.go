package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Path   string
	Header http.Header
	Body   []byte
}

// captureServer records every request and answers with status
type captureServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func newCaptureServer(t *testing.T, status int) *captureServer {
	t.Helper()
	cs := &captureServer{status: status}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.requests = append(cs.requests, capturedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		status := cs.status
		cs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *captureServer) setStatus(status int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.status = status
}

func (cs *captureServer) Requests() []capturedRequest {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]capturedRequest, len(cs.requests))
	copy(out, cs.requests)
	return out
}

// rewriteTransport sends every request to target, keeping the path
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func redirectClient(t *testing.T, server *captureServer) *http.Client {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return &http.Client{Transport: rewriteTransport{target: u}, Timeout: 5 * time.Second}
}

func testMessage() Message {
	return Message{
		Kind:      types.KindFault,
		Title:     "Pi-hole fault",
		Body:      "Primary <down> & out",
		Severity:  SeverityCritical,
		Timestamp: time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
		Vars:      Vars{"node": "primary", "reason": "offline"},
	}
}

func TestTelegram_Send(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK)
	ch := TelegramSettings{Enabled: true, BotToken: "42:TOKEN", ChatID: "-100"}

	require.NoError(t, ch.Send(context.Background(), redirectClient(t, server), testMessage()))

	reqs := server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/bot42:TOKEN/sendMessage", reqs[0].Path)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(reqs[0].Body, &payload))
	assert.Equal(t, "-100", payload["chat_id"])
	assert.Equal(t, "HTML", payload["parse_mode"])
	assert.Equal(t, "<b>Pi-hole fault</b>\n\nPrimary &lt;down&gt; &amp; out", payload["text"])
}

func TestDiscord_Send(t *testing.T) {
	server := newCaptureServer(t, http.StatusNoContent)
	ch := DiscordSettings{Enabled: true, WebhookURL: server.URL + "/api/webhooks/1/x"}

	require.NoError(t, ch.Send(context.Background(), server.Client(), testMessage()))

	reqs := server.Requests()
	require.Len(t, reqs, 1)
	var payload struct {
		Embeds []struct {
			Title       string            `json:"title"`
			Description string            `json:"description"`
			Color       int               `json:"color"`
			Timestamp   string            `json:"timestamp"`
			Footer      map[string]string `json:"footer"`
		} `json:"embeds"`
	}
	require.NoError(t, json.Unmarshal(reqs[0].Body, &payload))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Pi-hole fault", payload.Embeds[0].Title)
	assert.Equal(t, "Primary <down> & out", payload.Embeds[0].Description)
	assert.Equal(t, 15158332, payload.Embeds[0].Color)
	assert.Equal(t, "2025-02-03T04:05:06Z", payload.Embeds[0].Timestamp)
	assert.Equal(t, "Pi-hole Sentinel HA Monitor", payload.Embeds[0].Footer["text"])
}

func TestPushover_Send(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK)
	ch := PushoverSettings{Enabled: true, UserKey: "user", AppToken: "app"}

	require.NoError(t, ch.Send(context.Background(), redirectClient(t, server), testMessage()))

	reqs := server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/1/messages.json", reqs[0].Path)
	assert.Equal(t, "application/x-www-form-urlencoded", reqs[0].Header.Get("Content-Type"))

	form, err := url.ParseQuery(string(reqs[0].Body))
	require.NoError(t, err)
	assert.Equal(t, "app", form.Get("token"))
	assert.Equal(t, "user", form.Get("user"))
	assert.Equal(t, "Pi-hole fault", form.Get("title"))
	assert.Equal(t, "Primary <down> & out", form.Get("message"))
	assert.Equal(t, "1", form.Get("priority"))
}

func TestNtfy_Send(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK)
	ch := NtfySettings{Enabled: true, Topic: "pihole-alerts", Server: server.URL + "/"}

	require.NoError(t, ch.Send(context.Background(), server.Client(), testMessage()))

	reqs := server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/pihole-alerts", reqs[0].Path)
	assert.Equal(t, "Pi-hole fault", reqs[0].Header.Get("Title"))
	assert.Equal(t, "urgent", reqs[0].Header.Get("Priority"))
	assert.Equal(t, "rotating_light", reqs[0].Header.Get("Tags"))
	assert.Equal(t, "Primary <down> & out", string(reqs[0].Body))
}

func TestWebhook_Send(t *testing.T) {
	server := newCaptureServer(t, http.StatusAccepted)
	ch := WebhookSettings{Enabled: true, URL: server.URL + "/hook"}

	require.NoError(t, ch.Send(context.Background(), server.Client(), testMessage()))

	reqs := server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))

	var payload struct {
		Service   string            `json:"service"`
		Event     string            `json:"event"`
		Timestamp string            `json:"timestamp"`
		Severity  string            `json:"severity"`
		Message   string            `json:"message"`
		Details   map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(reqs[0].Body, &payload))
	assert.Equal(t, "pihole-sentinel", payload.Service)
	assert.Equal(t, "fault", payload.Event)
	assert.Equal(t, "2025-02-03T04:05:06Z", payload.Timestamp)
	assert.Equal(t, "critical", payload.Severity)
	assert.Equal(t, "Primary <down> & out", payload.Message)
	assert.Equal(t, map[string]string{"node": "primary", "reason": "offline"}, payload.Details)
}

func TestChannel_StatusError(t *testing.T) {
	server := newCaptureServer(t, http.StatusBadGateway)
	ch := WebhookSettings{Enabled: true, URL: server.URL}

	err := ch.Send(context.Background(), server.Client(), testMessage())

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "webhook", de.Channel)
	assert.Equal(t, http.StatusBadGateway, de.Code)
	assert.Contains(t, err.Error(), "webhook")
}

func TestChannel_Configured(t *testing.T) {
	assert.False(t, TelegramSettings{BotToken: "x"}.Configured())
	assert.True(t, TelegramSettings{BotToken: "x", ChatID: "1"}.Configured())
	assert.False(t, DiscordSettings{}.Configured())
	assert.False(t, PushoverSettings{UserKey: "u"}.Configured())
	assert.True(t, NtfySettings{Topic: "t"}.Configured())
	assert.True(t, WebhookSettings{URL: "http://x"}.Configured())
}

func TestSettings_ChannelLookup(t *testing.T) {
	s := DefaultSettings()

	for _, name := range ChannelNames {
		ch, err := s.Channel(name)
		require.NoError(t, err)
		assert.Equal(t, name, ch.Name())
	}

	_, err := s.Channel("sms")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}
