package main

import (
	"fmt"
	"time"

	"github.com/cuemby/sentinel/pkg/config"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/poller"
	"github.com/cuemby/sentinel/pkg/storage"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old history and compact the database",
	Long: `Run one retention pass against the database file and exit.

The daemon holds a lock on the database while it runs, so stop it
first; the daemon also runs this pass on its own schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		dbPath, _ := cmd.Flags().GetString("db")

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

		store, err := storage.NewBoltStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("%w (is the monitor still running?)", err)
		}
		defer store.Close()

		res, err := poller.Retention{
			Store:     store,
			Snapshots: cfg.SnapshotRetention,
			Events:    cfg.EventRetention,
		}.Run(time.Now())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d snapshots and %d events from %s\n", res.Snapshots, res.Events, cfg.DBPath)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().StringP("config", "c", config.DefaultPath, "Path to the env configuration file")
	cleanupCmd.Flags().String("db", "", "Database file (overrides DB_PATH)")
}
