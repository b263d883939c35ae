package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/sentinel/pkg/api"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newRenderCmd(t *testing.T, format string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{}
	addClientFlags(cmd)
	require.NoError(t, cmd.Flags().Set("output", format))
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestRender(t *testing.T) {
	ev := types.Event{ID: 3, Category: types.CategoryFailover, Message: "Secondary Pi-hole became MASTER"}
	table := func(w io.Writer) { _, _ = io.WriteString(w, "table\n") }

	cmd, buf := newRenderCmd(t, outputJSON)
	require.NoError(t, render(cmd, ev, table))
	var fromJSON map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, "failover", fromJSON["type"])

	cmd, buf = newRenderCmd(t, outputYAML)
	require.NoError(t, render(cmd, ev, table))
	var fromYAML map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, "Secondary Pi-hole became MASTER", fromYAML["message"])

	cmd, buf = newRenderCmd(t, outputTable)
	require.NoError(t, render(cmd, ev, table))
	assert.Equal(t, "table\n", buf.String())

	cmd, _ = newRenderCmd(t, "xml")
	assert.Error(t, render(cmd, ev, table))
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get(api.HeaderAPIKey))
		_ = json.NewEncoder(w).Encode(api.StatusResponse{
			Primary: api.NodeStatus{Name: "Primary Pi-hole", IP: "10.0.0.1",
				NodeSnapshot: types.NodeSnapshot{State: types.StateMaster, HoldsVIP: true, Reachable: true}},
			Secondary: api.NodeStatus{Name: "Secondary Pi-hole", IP: "10.0.0.2",
				NodeSnapshot: types.NodeSnapshot{State: types.StateBackup, Reachable: true}},
			VIP: api.VIPStatus{Address: "10.0.0.100", Location: types.VIPPrimary},
		})
	}))
	defer srv.Close()

	cmd := &cobra.Command{RunE: statusCmd.RunE}
	addClientFlags(cmd)
	require.NoError(t, cmd.Flags().Set("api", srv.URL))
	require.NoError(t, cmd.Flags().Set("api-key", "k"))
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "10.0.0.100 (primary)")
	assert.Contains(t, out, "Primary Pi-hole")
	assert.Contains(t, out, "MASTER")
	assert.Contains(t, out, "BACKUP")
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Setenv("SENTINEL_API_KEY", "")
	cmd := &cobra.Command{}
	addClientFlags(cmd)

	_, err := newClient(cmd)
	assert.Error(t, err)
}
