package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   Level
		want zerolog.Level
	}{
		{DebugLevel, zerolog.DebugLevel},
		{InfoLevel, zerolog.InfoLevel},
		{WarnLevel, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{ErrorLevel, zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestInit_JSONWithFields(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithNode("probe", types.RoleSecondary)
	logger.Debug().Str("check", "dns").Msg("DNS check failed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "probe", line["component"])
	assert.Equal(t, "secondary", line["node"])
	assert.Equal(t, "dns", line["check"])
	assert.Equal(t, "debug", line["level"])
	assert.NotEmpty(t, line["time"])
}

func TestInit_LevelFilters(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("poller")
	logger.Info().Msg("Tick complete")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("Tick failed")
	assert.Contains(t, buf.String(), "Tick failed")
}

func TestInit_FileCopy(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	path := filepath.Join(t.TempDir(), "sentinel.log")
	var console bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &console, File: path})

	logger := WithComponent("main")
	logger.Info().Msg("Sentinel is running")

	assert.Contains(t, console.String(), "Sentinel is running")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "main", line["component"])
}
