// Package config loads monitor settings from the environment and an optional env file.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// DefaultPath is where the env file is looked up when no --config is given
const DefaultPath = "/etc/pihole-sentinel/sentinel.env"

// Config holds all daemon configuration, loaded once at startup
type Config struct {
	Primary   types.NodeIdentity
	Secondary types.NodeIdentity
	VIP       string

	CheckInterval time.Duration

	DBPath           string
	NotifyConfigPath string

	// API server
	APIKey          string
	APIKeyGenerated bool
	APIAddr         string
	StaticDir       string
	CORSOrigins     []string

	// Retention
	SnapshotRetention time.Duration
	EventRetention    time.Duration
	CleanupSchedule   string

	// Probing. ProbeTimeout bounds each node's whole probe; the others
	// bound single calls within it.
	ProbeTimeout   time.Duration
	HTTPTimeout    time.Duration
	ConnectTimeout time.Duration
	DNSTimeout     time.Duration
	ManagementPort int
	DNSPort        int
	DNSTestDomain  string

	// VIP locator
	VIPRetries     int
	VIPRetryDelay  time.Duration
	VIPSettle      time.Duration
	VIPDialTimeout time.Duration

	DHCPDebounceCycles int

	// Logging
	LogLevel string
	LogJSON  bool
	LogFile  string
}

// Node returns the identity for a role
func (c *Config) Node(role types.NodeRole) types.NodeIdentity {
	if role == types.RolePrimary {
		return c.Primary
	}
	return c.Secondary
}

// defaults are expressed in the same units as the env file
var defaults = map[string]interface{}{
	"PRIMARY_NAME":            "Primary Pi-hole",
	"SECONDARY_NAME":          "Secondary Pi-hole",
	"CHECK_INTERVAL":          10,
	"DB_PATH":                 "/opt/pihole-monitor/monitor.db",
	"NOTIFY_CONFIG_PATH":      "/opt/pihole-monitor/notify_settings.json",
	"API_ADDR":                ":8080",
	"CORS_ORIGINS":            "http://localhost:8080,http://127.0.0.1:8080",
	"SNAPSHOT_RETENTION_DAYS": 30,
	"EVENT_RETENTION_DAYS":    90,
	"CLEANUP_SCHEDULE":        "@every 24h",
	"PROBE_TIMEOUT":           4,
	"HTTP_TIMEOUT":            10,
	"CONNECT_TIMEOUT":         2,
	"DNS_TIMEOUT":             5,
	"MANAGEMENT_PORT":         80,
	"DNS_PORT":                53,
	"DNS_TEST_DOMAIN":         "google.com",
	"VIP_RETRIES":             3,
	"VIP_RETRY_DELAY_MS":      1000,
	"VIP_SETTLE_MS":           200,
	"VIP_DIAL_TIMEOUT_MS":     1000,
	"DHCP_DEBOUNCE_CYCLES":    2,
	"LOG_LEVEL":               "info",
	"LOG_JSON":                false,
}

var keys = []string{
	"PRIMARY_IP", "PRIMARY_NAME", "PRIMARY_PASSWORD",
	"SECONDARY_IP", "SECONDARY_NAME", "SECONDARY_PASSWORD",
	"VIP_ADDRESS", "API_KEY", "STATIC_DIR", "LOG_FILE",
}

// DefaultConfig returns a Config with every optional field at its default
func DefaultConfig() *Config {
	v := newViper()
	return fromViper(v)
}

// Load reads the env-style file at path (optional when missing) and applies
// environment variable overrides, then validates the result
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	cfg := fromViper(v)

	if cfg.APIKey == "" {
		key, err := generateAPIKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate API key: %w", err)
		}
		cfg.APIKey = key
		cfg.APIKeyGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
	return v
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Primary: types.NodeIdentity{
			Role:     types.RolePrimary,
			Name:     v.GetString("PRIMARY_NAME"),
			Address:  v.GetString("PRIMARY_IP"),
			Password: v.GetString("PRIMARY_PASSWORD"),
		},
		Secondary: types.NodeIdentity{
			Role:     types.RoleSecondary,
			Name:     v.GetString("SECONDARY_NAME"),
			Address:  v.GetString("SECONDARY_IP"),
			Password: v.GetString("SECONDARY_PASSWORD"),
		},
		VIP: v.GetString("VIP_ADDRESS"),

		CheckInterval: time.Duration(v.GetInt("CHECK_INTERVAL")) * time.Second,

		DBPath:           v.GetString("DB_PATH"),
		NotifyConfigPath: v.GetString("NOTIFY_CONFIG_PATH"),

		APIKey:      v.GetString("API_KEY"),
		APIAddr:     v.GetString("API_ADDR"),
		StaticDir:   v.GetString("STATIC_DIR"),
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),

		SnapshotRetention: days(v.GetInt("SNAPSHOT_RETENTION_DAYS")),
		EventRetention:    days(v.GetInt("EVENT_RETENTION_DAYS")),
		CleanupSchedule:   v.GetString("CLEANUP_SCHEDULE"),

		ProbeTimeout:   time.Duration(v.GetInt("PROBE_TIMEOUT")) * time.Second,
		HTTPTimeout:    time.Duration(v.GetInt("HTTP_TIMEOUT")) * time.Second,
		ConnectTimeout: time.Duration(v.GetInt("CONNECT_TIMEOUT")) * time.Second,
		DNSTimeout:     time.Duration(v.GetInt("DNS_TIMEOUT")) * time.Second,
		ManagementPort: v.GetInt("MANAGEMENT_PORT"),
		DNSPort:        v.GetInt("DNS_PORT"),
		DNSTestDomain:  v.GetString("DNS_TEST_DOMAIN"),

		VIPRetries:     v.GetInt("VIP_RETRIES"),
		VIPRetryDelay:  time.Duration(v.GetInt("VIP_RETRY_DELAY_MS")) * time.Millisecond,
		VIPSettle:      time.Duration(v.GetInt("VIP_SETTLE_MS")) * time.Millisecond,
		VIPDialTimeout: time.Duration(v.GetInt("VIP_DIAL_TIMEOUT_MS")) * time.Millisecond,

		DHCPDebounceCycles: v.GetInt("DHCP_DEBOUNCE_CYCLES"),

		LogLevel: v.GetString("LOG_LEVEL"),
		LogJSON:  v.GetBool("LOG_JSON"),
		LogFile:  v.GetString("LOG_FILE"),
	}
}

// Validate checks required fields and cross-field constraints
func (c *Config) Validate() error {
	var missing []string
	for key, value := range map[string]string{
		"PRIMARY_IP":         c.Primary.Address,
		"PRIMARY_PASSWORD":   c.Primary.Password,
		"SECONDARY_IP":       c.Secondary.Address,
		"SECONDARY_PASSWORD": c.Secondary.Password,
		"VIP_ADDRESS":        c.VIP,
	} {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing required variables: %s", ErrInvalid, strings.Join(missing, ", "))
	}

	for name, addr := range map[string]string{
		"PRIMARY_IP":   c.Primary.Address,
		"SECONDARY_IP": c.Secondary.Address,
		"VIP_ADDRESS":  c.VIP,
	} {
		if net.ParseIP(addr) == nil {
			return fmt.Errorf("%w: %s is not a valid IP address: %q", ErrInvalid, name, addr)
		}
	}
	if c.Primary.Address == c.Secondary.Address || c.VIP == c.Primary.Address || c.VIP == c.Secondary.Address {
		return fmt.Errorf("%w: primary, secondary and VIP addresses must be distinct", ErrInvalid)
	}

	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: CHECK_INTERVAL must be positive", ErrInvalid)
	}
	if c.SnapshotRetention <= 0 || c.EventRetention <= 0 {
		return fmt.Errorf("%w: retention windows must be positive", ErrInvalid)
	}
	if c.VIPRetries < 1 {
		return fmt.Errorf("%w: VIP_RETRIES must be at least 1", ErrInvalid)
	}
	if c.DHCPDebounceCycles < 1 {
		return fmt.Errorf("%w: DHCP_DEBOUNCE_CYCLES must be at least 1", ErrInvalid)
	}

	for name, d := range map[string]time.Duration{
		"PROBE_TIMEOUT":       c.ProbeTimeout,
		"HTTP_TIMEOUT":        c.HTTPTimeout,
		"CONNECT_TIMEOUT":     c.ConnectTimeout,
		"DNS_TIMEOUT":         c.DNSTimeout,
		"VIP_DIAL_TIMEOUT_MS": c.VIPDialTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}
	if c.ConnectTimeout >= c.ProbeTimeout {
		return fmt.Errorf("%w: CONNECT_TIMEOUT %s must be below PROBE_TIMEOUT %s", ErrInvalid, c.ConnectTimeout, c.ProbeTimeout)
	}

	// A tick probes, then locates the VIP; both must fit inside one interval
	vipBudget := c.VIPBudget()
	if vipBudget >= c.CheckInterval {
		return fmt.Errorf("%w: VIP retry budget %s exceeds check interval %s", ErrInvalid, vipBudget, c.CheckInterval)
	}
	if tick := c.ProbeBudget() + vipBudget; tick >= c.CheckInterval {
		return fmt.Errorf("%w: probe budget %s plus VIP budget %s exceeds check interval %s",
			ErrInvalid, c.ProbeBudget(), vipBudget, c.CheckInterval)
	}

	if _, err := cron.ParseStandard(c.CleanupSchedule); err != nil {
		return fmt.Errorf("%w: CLEANUP_SCHEDULE %q: %v", ErrInvalid, c.CleanupSchedule, err)
	}

	return nil
}

// ProbeBudget is the longest a single node probe can take: the connect
// check, then the slower of DNS and the API calls, capped by PROBE_TIMEOUT
func (c *Config) ProbeBudget() time.Duration {
	return min(c.ProbeTimeout, c.ConnectTimeout+max(c.HTTPTimeout, c.DNSTimeout))
}

// VIPBudget is the longest a VIP lookup can take with every retry used
func (c *Config) VIPBudget() time.Duration {
	if c.VIPRetries < 1 {
		return 0
	}
	n := time.Duration(c.VIPRetries)
	return n*(c.VIPDialTimeout+c.VIPSettle) + (n-1)*c.VIPRetryDelay
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
