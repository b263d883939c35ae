package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
)

// ErrInvalidSettings wraps every rejected settings update
var ErrInvalidSettings = errors.New("invalid notification settings")

const (
	maskPrefix    = "••••••••"
	shortMask     = "••••"
	defaultNtfy   = "https://ntfy.sh"
	defaultRepeat = 30
)

// EventFlags selects which event kinds are sent at all
type EventFlags struct {
	Failover          bool `json:"failover"`
	Recovery          bool `json:"recovery"`
	Fault             bool `json:"fault"`
	Startup           bool `json:"startup"`
	DHCPMisconfigured bool `json:"dhcp_misconfigured"`
}

// Enabled reports whether kind should reach the channels
func (f EventFlags) Enabled(kind types.EventKind) bool {
	switch kind {
	case types.KindFailover:
		return f.Failover
	case types.KindRecovery:
		return f.Recovery
	case types.KindFault:
		return f.Fault
	case types.KindStartup:
		return f.Startup
	case types.KindDHCPMisconfigured:
		return f.DHCPMisconfigured
	case types.KindReminder, types.KindTest:
		return true
	}
	return false
}

// TelegramSettings configures the Telegram bot channel
type TelegramSettings struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// DiscordSettings configures the Discord webhook channel
type DiscordSettings struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// PushoverSettings configures the Pushover channel
type PushoverSettings struct {
	Enabled  bool   `json:"enabled"`
	UserKey  string `json:"user_key"`
	AppToken string `json:"app_token"`
}

// NtfySettings configures the ntfy channel
type NtfySettings struct {
	Enabled bool   `json:"enabled"`
	Topic   string `json:"topic"`
	Server  string `json:"server"`
}

// WebhookSettings configures the generic JSON webhook channel
type WebhookSettings struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// RepeatSettings controls reminders for unresolved issues
type RepeatSettings struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes"`
}

// Interval returns the reminder period
func (r RepeatSettings) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

// Settings is the mutable notification configuration persisted as JSON
type Settings struct {
	Events    EventFlags        `json:"events"`
	Telegram  TelegramSettings  `json:"telegram"`
	Discord   DiscordSettings   `json:"discord"`
	Pushover  PushoverSettings  `json:"pushover"`
	Ntfy      NtfySettings      `json:"ntfy"`
	Webhook   WebhookSettings   `json:"webhook"`
	Templates map[string]string `json:"templates"`
	Repeat    RepeatSettings    `json:"repeat"`

	SnoozeUntil *time.Time `json:"snooze_until"`
}

// DefaultSettings returns the settings used when no file exists yet
func DefaultSettings() Settings {
	return Settings{
		Events: EventFlags{
			Failover:          true,
			Recovery:          true,
			Fault:             true,
			DHCPMisconfigured: true,
		},
		Ntfy:      NtfySettings{Server: defaultNtfy},
		Templates: DefaultTemplates(),
		Repeat:    RepeatSettings{IntervalMinutes: defaultRepeat},
	}
}

// Clone returns a deep copy
func (s Settings) Clone() Settings {
	out := s
	out.Templates = make(map[string]string, len(s.Templates))
	for k, v := range s.Templates {
		out.Templates[k] = v
	}
	if s.SnoozeUntil != nil {
		t := *s.SnoozeUntil
		out.SnoozeUntil = &t
	}
	return out
}

// Snoozed reports whether notifications are suppressed at now
func (s Settings) Snoozed(now time.Time) bool {
	return s.SnoozeUntil != nil && now.Before(*s.SnoozeUntil)
}

// Template returns the template for kind, falling back to the built-in one
func (s Settings) Template(kind types.EventKind) string {
	if t := s.Templates[string(kind)]; strings.TrimSpace(t) != "" {
		return t
	}
	return defaultTemplates[kind]
}

// Masked returns a copy safe to hand to API clients
func (s Settings) Masked() Settings {
	out := s.Clone()
	out.Telegram.BotToken = mask(out.Telegram.BotToken, 4)
	out.Telegram.ChatID = maskShort(out.Telegram.ChatID)
	out.Discord.WebhookURL = mask(out.Discord.WebhookURL, 8)
	out.Pushover.UserKey = mask(out.Pushover.UserKey, 4)
	out.Pushover.AppToken = mask(out.Pushover.AppToken, 4)
	out.Webhook.URL = mask(out.Webhook.URL, 8)
	return out
}

func mask(value string, keep int) string {
	if value == "" {
		return ""
	}
	r := []rune(value)
	if len(r) <= keep {
		return maskPrefix
	}
	return maskPrefix + string(r[len(r)-keep:])
}

func maskShort(value string) string {
	if value == "" {
		return ""
	}
	r := []rune(value)
	if len(r) <= 4 {
		return shortMask
	}
	return shortMask + string(r[len(r)-4:])
}

// isMasked reports whether a submitted value is a masked echo of a secret
func isMasked(value string) bool {
	return strings.HasPrefix(value, shortMask) || strings.HasPrefix(value, "****")
}

// Validate checks cross-field constraints
func (s Settings) Validate() error {
	if s.Repeat.IntervalMinutes < 1 {
		return fmt.Errorf("%w: repeat.interval_minutes must be at least 1", ErrInvalidSettings)
	}
	for name, raw := range map[string]string{
		"discord.webhook_url": s.Discord.WebhookURL,
		"ntfy.server":         s.Ntfy.Server,
		"webhook.url":         s.Webhook.URL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s must be an http(s) URL", ErrInvalidSettings, name)
		}
	}
	for key := range s.Templates {
		if _, ok := defaultTemplates[types.EventKind(key)]; !ok {
			return fmt.Errorf("%w: unknown template %q", ErrInvalidSettings, key)
		}
	}
	return nil
}

// Patch is a partial settings document as submitted by a client. Absent and
// null fields keep their current value, as do masked secrets.
type Patch map[string]interface{}

// Apply merges p onto s and returns the result; s is not modified.
// snooze_until is owned by the snooze operations and ignored here.
func (s Settings) Apply(p Patch) (Settings, error) {
	current, err := toMap(s)
	if err != nil {
		return Settings{}, err
	}

	patch := make(map[string]interface{}, len(p))
	for k, v := range p {
		if k == "snooze_until" {
			continue
		}
		patch[k] = v
	}
	merge(current, patch)

	data, err := json.Marshal(current)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	var out Settings
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	out.SnoozeUntil = s.Clone().SnoozeUntil
	if out.Templates == nil {
		out.Templates = map[string]string{}
	}

	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}

func toMap(s Settings) (map[string]interface{}, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// merge applies patch onto dst in place, recursing into objects
func merge(dst, patch map[string]interface{}) {
	for key, value := range patch {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			if isMasked(v) {
				if _, ok := dst[key].(string); !ok {
					dst[key] = ""
				}
				continue
			}
			dst[key] = v
		case map[string]interface{}:
			if existing, ok := dst[key].(map[string]interface{}); ok {
				merge(existing, v)
				continue
			}
			dst[key] = v
		default:
			dst[key] = v
		}
	}
}
