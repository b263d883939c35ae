package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/sentinel/pkg/api"
	"github.com/cuemby/sentinel/pkg/client"
	"github.com/cuemby/sentinel/pkg/notify"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("api", "http://127.0.0.1:8080", "Monitor API address")
	cmd.Flags().String("api-key", os.Getenv("SENTINEL_API_KEY"), "API key (defaults to $SENTINEL_API_KEY)")
	cmd.Flags().StringP("output", "o", outputTable, "Output format: table, json or yaml")
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("api")
	key, _ := cmd.Flags().GetString("api-key")
	if key == "" {
		return nil, fmt.Errorf("--api-key is required (or set SENTINEL_API_KEY)")
	}
	return client.NewClient(addr, key)
}

// render writes v as JSON or YAML, or calls table for the default format
func render(cmd *cobra.Command, v interface{}, table func(w io.Writer)) error {
	format, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()

	switch format {
	case outputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		// Round-trip through JSON so field names match the API
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	case outputTable, "":
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of both nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		status, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}

		return render(cmd, status, func(w io.Writer) {
			if status.VIP.Assumed != "" {
				fmt.Fprintf(w, "VIP:\t%s (%s, last seen on %s)\n", status.VIP.Address, status.VIP.Location, status.VIP.Assumed)
			} else {
				fmt.Fprintf(w, "VIP:\t%s (%s)\n", status.VIP.Address, status.VIP.Location)
			}
			fmt.Fprintf(w, "Updated:\t%s\n", status.Timestamp.Local().Format(time.RFC3339))
			fmt.Fprintf(w, "DHCP leases:\t%d\n", status.DHCPLeases)
			if status.DHCPMisconfigured {
				fmt.Fprintln(w, "DHCP:\tMISCONFIGURED")
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "NODE\tIP\tSTATE\tVIP\tONLINE\tPIHOLE\tDNS\tDHCP")
			for _, n := range []api.NodeStatus{status.Primary, status.Secondary} {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					n.Name, n.IP, n.State, yesNo(n.HoldsVIP), yesNo(n.Reachable),
					yesNo(n.ServiceHealthy), yesNo(n.DNSHealthy), yesNo(n.DHCPEnabled))
			}
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		category, _ := cmd.Flags().GetString("category")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		evs, err := c.Events(cmd.Context(), limit, types.EventCategory(category))
		if err != nil {
			return err
		}

		return render(cmd, evs, func(w io.Writer) {
			fmt.Fprintln(w, "TIME\tTYPE\tMESSAGE")
			for _, ev := range evs {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Category, ev.Message)
			}
		})
	},
}

var snoozeCmd = &cobra.Command{
	Use:   "snooze",
	Short: "Show, set or cancel the notification snooze",
	Long: `Without flags, show the current snooze window.

Examples:
  # Silence notifications for two hours
  sentinel snooze --minutes 120

  # Resume notifications now
  sentinel snooze --cancel`,
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, _ := cmd.Flags().GetInt("minutes")
		cancel, _ := cmd.Flags().GetBool("cancel")
		if minutes != 0 && cancel {
			return fmt.Errorf("--minutes and --cancel are mutually exclusive")
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		var status *notify.SnoozeStatus
		switch {
		case cancel:
			status, err = c.CancelSnooze(cmd.Context())
		case minutes != 0:
			status, err = c.Snooze(cmd.Context(), minutes)
		default:
			status, err = c.SnoozeStatus(cmd.Context())
		}
		if err != nil {
			return err
		}

		return render(cmd, status, func(w io.Writer) {
			if !status.Active {
				fmt.Fprintln(w, "Notifications are active")
				return
			}
			remaining := time.Duration(status.RemainingSeconds) * time.Second
			fmt.Fprintf(w, "Snoozed until %s (%s left)\n",
				status.Until.Local().Format(time.RFC3339), notify.FormatDuration(remaining))
		})
	},
}

var testCmd = &cobra.Command{
	Use:       "test CHANNEL",
	Short:     "Send a test notification through one channel",
	Args:      cobra.ExactArgs(1),
	ValidArgs: notify.ChannelNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.TestNotification(cmd.Context(), strings.ToLower(args[0]))
		if err != nil {
			return err
		}
		return render(cmd, resp, func(w io.Writer) {
			fmt.Fprintf(w, "✓ %s\n", resp.Message)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, eventsCmd, snoozeCmd, testCmd} {
		addClientFlags(cmd)
	}

	eventsCmd.Flags().Int("limit", api.DefaultEventLimit, "Number of events to show")
	eventsCmd.Flags().String("category", "", "Only show one category: info, warning, failover or error")

	snoozeCmd.Flags().Int("minutes", 0, fmt.Sprintf("Snooze for this many minutes (1-%d)", notify.MaxSnoozeMinutes))
	snoozeCmd.Flags().Bool("cancel", false, "Cancel the active snooze")
}
