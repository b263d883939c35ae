package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUnknownChannel is returned for a channel name outside the closed set
	ErrUnknownChannel = errors.New("unknown notification channel")

	// ErrChannelNotConfigured is returned when required credentials are missing
	ErrChannelNotConfigured = errors.New("notification channel not configured")
)

const (
	telegramAPI = "https://api.telegram.org"
	pushoverAPI = "https://api.pushover.net/1/messages.json"
	footer      = "Pi-hole Sentinel HA Monitor"
)

// Channel is one outbound transport
type Channel interface {
	Name() string
	Configured() bool
	Send(ctx context.Context, client *http.Client, msg Message) error
}

// ChannelNames lists the supported channels in dispatch order
var ChannelNames = []string{"telegram", "discord", "pushover", "ntfy", "webhook"}

// Channels returns every channel with its enable flag
func (s Settings) Channels() []EnabledChannel {
	return []EnabledChannel{
		{s.Telegram, s.Telegram.Enabled},
		{s.Discord, s.Discord.Enabled},
		{s.Pushover, s.Pushover.Enabled},
		{s.Ntfy, s.Ntfy.Enabled},
		{s.Webhook, s.Webhook.Enabled},
	}
}

// EnabledChannel pairs a channel with its enable flag
type EnabledChannel struct {
	Channel
	Enabled bool
}

// Channel looks a channel up by name
func (s Settings) Channel(name string) (Channel, error) {
	for _, ch := range s.Channels() {
		if ch.Name() == name {
			return ch.Channel, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

// DeliveryError is a failed send, carrying the HTTP status when there was one
type DeliveryError struct {
	Channel string
	Code    int
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Channel, e.Code)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func post(ctx context.Context, client *http.Client, channel, target, contentType string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Channel: channel, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: channel, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Channel: channel, Code: resp.StatusCode}
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, channel, target string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Channel: channel, Err: err}
	}
	return post(ctx, client, channel, target, "application/json", body, nil)
}

// Telegram

func (t TelegramSettings) Name() string { return "telegram" }

func (t TelegramSettings) Configured() bool { return t.BotToken != "" && t.ChatID != "" }

func (t TelegramSettings) Send(ctx context.Context, client *http.Client, msg Message) error {
	text := "<b>" + html.EscapeString(msg.Title) + "</b>\n\n" + html.EscapeString(msg.Body)
	return postJSON(ctx, client, t.Name(), telegramAPI+"/bot"+t.BotToken+"/sendMessage", map[string]interface{}{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	})
}

// Discord

var discordColors = map[Severity]int{
	SeverityInfo:     3447003,
	SeverityWarning:  16776960,
	SeverityCritical: 15158332,
}

func (d DiscordSettings) Name() string { return "discord" }

func (d DiscordSettings) Configured() bool { return d.WebhookURL != "" }

func (d DiscordSettings) Send(ctx context.Context, client *http.Client, msg Message) error {
	embed := map[string]interface{}{
		"title":       msg.Title,
		"description": msg.Body,
		"color":       discordColors[msg.Severity],
		"timestamp":   msg.Timestamp.UTC().Format(time.RFC3339),
		"footer":      map[string]string{"text": footer},
	}
	return postJSON(ctx, client, d.Name(), d.WebhookURL, map[string]interface{}{
		"embeds": []interface{}{embed},
	})
}

// Pushover

func (p PushoverSettings) Name() string { return "pushover" }

func (p PushoverSettings) Configured() bool { return p.UserKey != "" && p.AppToken != "" }

func (p PushoverSettings) Send(ctx context.Context, client *http.Client, msg Message) error {
	priority := "0"
	if msg.Severity == SeverityCritical {
		priority = "1"
	}
	form := url.Values{
		"token":    {p.AppToken},
		"user":     {p.UserKey},
		"title":    {msg.Title},
		"message":  {msg.Body},
		"priority": {priority},
	}
	return post(ctx, client, p.Name(), pushoverAPI, "application/x-www-form-urlencoded", []byte(form.Encode()), nil)
}

// Ntfy

var ntfyPriority = map[Severity]string{
	SeverityInfo:     "default",
	SeverityWarning:  "high",
	SeverityCritical: "urgent",
}

var ntfyTags = map[Severity]string{
	SeverityInfo:     "information_source",
	SeverityWarning:  "warning",
	SeverityCritical: "rotating_light",
}

func (n NtfySettings) Name() string { return "ntfy" }

func (n NtfySettings) Configured() bool { return n.Topic != "" }

func (n NtfySettings) Send(ctx context.Context, client *http.Client, msg Message) error {
	server := n.Server
	if server == "" {
		server = defaultNtfy
	}
	header := http.Header{}
	header.Set("Title", msg.Title)
	header.Set("Priority", ntfyPriority[msg.Severity])
	header.Set("Tags", ntfyTags[msg.Severity])
	target := strings.TrimRight(server, "/") + "/" + url.PathEscape(n.Topic)
	return post(ctx, client, n.Name(), target, "text/plain; charset=utf-8", []byte(msg.Body), header)
}

// Webhook

func (w WebhookSettings) Name() string { return "webhook" }

func (w WebhookSettings) Configured() bool { return w.URL != "" }

func (w WebhookSettings) Send(ctx context.Context, client *http.Client, msg Message) error {
	details := msg.Vars
	if details == nil {
		details = Vars{}
	}
	return postJSON(ctx, client, w.Name(), w.URL, map[string]interface{}{
		"service":   "pihole-sentinel",
		"event":     msg.Kind,
		"timestamp": msg.Timestamp.Format(time.RFC3339),
		"severity":  msg.Severity,
		"message":   msg.Body,
		"details":   details,
	})
}
