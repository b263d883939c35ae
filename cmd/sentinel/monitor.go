package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/sentinel/pkg/api"
	"github.com/cuemby/sentinel/pkg/config"
	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/notify"
	"github.com/cuemby/sentinel/pkg/poller"
	"github.com/cuemby/sentinel/pkg/probe"
	"github.com/cuemby/sentinel/pkg/retry"
	"github.com/cuemby/sentinel/pkg/state"
	"github.com/cuemby/sentinel/pkg/storage"
	"github.com/cuemby/sentinel/pkg/vip"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the monitoring daemon",
	Long: `Run the poller and the API server until SIGINT or SIGTERM.

Configuration is read from an env-style file; every key can be
overridden by an environment variable of the same name.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringP("config", "c", config.DefaultPath, "Path to the env configuration file")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		File:       cfg.LogFile,
	})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	if cfg.APIKeyGenerated {
		logger.Warn().Str("api_key", cfg.APIKey).Msg("API_KEY not set, generated one for this run")
	}

	store, err := storage.NewBoltStore(cfg.DBPath)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	metrics.UpdateComponent(metrics.ComponentStorage, true, cfg.DBPath)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	settings := notify.NewSettingsStore(cfg.NotifyConfigPath)
	if err := settings.Load(); err != nil {
		return fmt.Errorf("failed to load notification settings: %w", err)
	}

	// One pooled client for Pi-hole APIs and notification channels
	httpClient := probe.NewHTTPClient(cfg.HTTPTimeout)
	defer httpClient.CloseIdleConnections()

	recorder := state.NewRecorder(store, broker)
	dispatcher := notify.NewDispatcher(settings, httpClient, recorder,
		notify.WithBaseVars(func(now time.Time) notify.Vars {
			return notify.BaseVars(now, cfg.VIP, cfg.Primary.Name, cfg.Secondary.Name)
		}),
	)
	metrics.UpdateComponent(metrics.ComponentNotify, true, "ready")
	reminders := notify.NewIssueTracker(dispatcher)

	evaluator := &state.Evaluator{
		Primary:      cfg.Primary,
		Secondary:    cfg.Secondary,
		VIP:          cfg.VIP,
		DHCPDebounce: cfg.DHCPDebounceCycles,
	}
	tracker := state.NewTracker(evaluator, store, recorder, dispatcher, reminders)
	if err := tracker.Restore(); err != nil {
		logger.Warn().Err(err).Msg("Could not restore state from last snapshot, starting fresh")
	}

	prober := probe.New(probe.Config{
		ManagementPort: cfg.ManagementPort,
		DNSPort:        cfg.DNSPort,
		DNSDomain:      cfg.DNSTestDomain,
		ConnectTimeout: cfg.ConnectTimeout,
		HTTPTimeout:    cfg.HTTPTimeout,
		DNSTimeout:     cfg.DNSTimeout,
	}, httpClient)

	vipCfg := vip.DefaultConfig(cfg.VIP, cfg.Primary.Address, cfg.Secondary.Address)
	vipCfg.Port = cfg.ManagementPort
	vipCfg.DialTimeout = cfg.VIPDialTimeout
	vipCfg.Settle = cfg.VIPSettle
	vipCfg.Retry = retry.Constant(cfg.VIPRetries, cfg.VIPRetryDelay)
	locator, err := vip.NewLocator(vipCfg, vip.SystemTable())
	if err != nil {
		return fmt.Errorf("failed to create VIP locator: %w", err)
	}

	poll, err := poller.New(poller.Config{
		Primary:         cfg.Primary,
		Secondary:       cfg.Secondary,
		Interval:        cfg.CheckInterval,
		ProbeTimeout:    cfg.ProbeTimeout,
		CleanupSchedule: cfg.CleanupSchedule,
	}, prober, locator, tracker, poller.Retention{
		Store:     store,
		Snapshots: cfg.SnapshotRetention,
		Events:    cfg.EventRetention,
	})
	if err != nil {
		return err
	}

	apiServer := api.NewServer(api.Config{
		Addr:        cfg.APIAddr,
		APIKey:      cfg.APIKey,
		StaticDir:   cfg.StaticDir,
		CORSOrigins: cfg.CORSOrigins,
		Primary:     cfg.Primary,
		Secondary:   cfg.Secondary,
		VIP:         cfg.VIP,
	}, tracker, store, settings, dispatcher, broker)
	if err := apiServer.Start(); err != nil {
		return err
	}

	collector := metrics.NewCollector(store, 30*time.Second)
	collector.Start()
	defer collector.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The loop is ended by Stop so the in-flight tick is not cut short
	poll.Start(context.Background())

	logger.Info().
		Str("primary", cfg.Primary.Address).
		Str("secondary", cfg.Secondary.Address).
		Str("vip", cfg.VIP).
		Dur("interval", cfg.CheckInterval).
		Str("api", apiServer.Addr()).
		Msg("Sentinel is running")

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting requests, finish the in-flight tick, then release the
	// shared pool. The store closes last via defer.
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server did not shut down cleanly")
	}
	if err := poll.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Poller did not stop in time")
	}
	if err := prober.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to close Pi-hole sessions")
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
