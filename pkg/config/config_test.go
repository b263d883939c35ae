package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validEnv = `PRIMARY_IP=192.168.1.10
PRIMARY_NAME=pihole-a
PRIMARY_PASSWORD=secret-a
SECONDARY_IP=192.168.1.11
SECONDARY_PASSWORD=secret-b
VIP_ADDRESS=192.168.1.100
CHECK_INTERVAL=15
API_KEY=test-key
`

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	cfg, err := Load(writeEnv(t, validEnv))
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10", cfg.Primary.Address)
	assert.Equal(t, "pihole-a", cfg.Primary.Name)
	assert.Equal(t, types.RolePrimary, cfg.Primary.Role)
	assert.Equal(t, "secret-b", cfg.Secondary.Password)
	assert.Equal(t, "Secondary Pi-hole", cfg.Secondary.Name)
	assert.Equal(t, "192.168.1.100", cfg.VIP)
	assert.Equal(t, 15*time.Second, cfg.CheckInterval)
	assert.Equal(t, "test-key", cfg.APIKey)
	assert.False(t, cfg.APIKeyGenerated)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeEnv(t, validEnv))
	require.NoError(t, err)

	assert.Equal(t, 30*24*time.Hour, cfg.SnapshotRetention)
	assert.Equal(t, 90*24*time.Hour, cfg.EventRetention)
	assert.Equal(t, "@every 24h", cfg.CleanupSchedule)
	assert.Equal(t, 80, cfg.ManagementPort)
	assert.Equal(t, 53, cfg.DNSPort)
	assert.Equal(t, 3, cfg.VIPRetries)
	assert.Equal(t, time.Second, cfg.VIPRetryDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.VIPSettle)
	assert.Equal(t, time.Second, cfg.VIPDialTimeout)
	assert.Equal(t, 4*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 5*time.Second, cfg.DNSTimeout)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2, cfg.DHCPDebounceCycles)
	assert.Equal(t, []string{"http://localhost:8080", "http://127.0.0.1:8080"}, cfg.CORSOrigins)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("CHECK_INTERVAL", "20")
	t.Setenv("PRIMARY_NAME", "from-env")

	cfg, err := Load(writeEnv(t, validEnv))
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.CheckInterval)
	assert.Equal(t, "from-env", cfg.Primary.Name)
}

func TestLoad_GeneratesAPIKey(t *testing.T) {
	env := `PRIMARY_IP=10.0.0.1
PRIMARY_PASSWORD=a
SECONDARY_IP=10.0.0.2
SECONDARY_PASSWORD=b
VIP_ADDRESS=10.0.0.3
`
	cfg, err := Load(writeEnv(t, env))
	require.NoError(t, err)

	assert.True(t, cfg.APIKeyGenerated)
	assert.Len(t, cfg.APIKey, 43)
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(writeEnv(t, "PRIMARY_IP=10.0.0.1\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "VIP_ADDRESS")
	assert.Contains(t, err.Error(), "SECONDARY_PASSWORD")
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("PRIMARY_IP", "10.0.0.1")
	t.Setenv("PRIMARY_PASSWORD", "a")
	t.Setenv("SECONDARY_IP", "10.0.0.2")
	t.Setenv("SECONDARY_PASSWORD", "b")
	t.Setenv("VIP_ADDRESS", "10.0.0.3")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", cfg.VIP)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Primary.Address = "10.0.0.1"
		cfg.Primary.Password = "a"
		cfg.Secondary.Address = "10.0.0.2"
		cfg.Secondary.Password = "b"
		cfg.VIP = "10.0.0.3"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad ip", func(c *Config) { c.VIP = "not-an-ip" }, true},
		{"duplicate address", func(c *Config) { c.VIP = c.Primary.Address }, true},
		{"zero interval", func(c *Config) { c.CheckInterval = 0 }, true},
		{"zero retries", func(c *Config) { c.VIPRetries = 0 }, true},
		{"retry budget exceeds interval", func(c *Config) {
			c.VIPRetries = 10
			c.VIPRetryDelay = 2 * time.Second
		}, true},
		{"probe and vip budgets exceed interval", func(c *Config) { c.ProbeTimeout = 7 * time.Second }, true},
		{"short calls cap the probe budget", func(c *Config) {
			c.ProbeTimeout = 8 * time.Second
			c.ConnectTimeout = time.Second
			c.HTTPTimeout = 2 * time.Second
			c.DNSTimeout = time.Second
		}, false},
		{"connect exceeds probe timeout", func(c *Config) { c.ConnectTimeout = 5 * time.Second }, true},
		{"zero dns timeout", func(c *Config) { c.DNSTimeout = 0 }, true},
		{"bad schedule", func(c *Config) { c.CleanupSchedule = "whenever" }, true},
		{"cron schedule", func(c *Config) { c.CleanupSchedule = "0 3 * * *" }, false},
		{"zero debounce", func(c *Config) { c.DHCPDebounceCycles = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Budgets(t *testing.T) {
	cfg := DefaultConfig()

	// 3 × (1s dial + 200ms settle) + 2 × 1s delay
	assert.Equal(t, 5600*time.Millisecond, cfg.VIPBudget())
	assert.Equal(t, 4*time.Second, cfg.ProbeBudget())
	assert.Less(t, cfg.ProbeBudget()+cfg.VIPBudget(), cfg.CheckInterval)

	cfg.ProbeTimeout = time.Minute
	assert.Equal(t, 12*time.Second, cfg.ProbeBudget())
}

func TestConfig_Node(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Primary.Address = "10.0.0.1"
	cfg.Secondary.Address = "10.0.0.2"

	assert.Equal(t, "10.0.0.1", cfg.Node(types.RolePrimary).Address)
	assert.Equal(t, "10.0.0.2", cfg.Node(types.RoleSecondary).Address)
}
