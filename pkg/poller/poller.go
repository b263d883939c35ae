package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/state"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/cuemby/sentinel/pkg/vip"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrTickAbandoned is returned when a tick ran out of time before the
// snapshot could be produced
var ErrTickAbandoned = errors.New("tick abandoned")

// Prober probes one node
type Prober interface {
	Probe(ctx context.Context, node types.NodeIdentity) types.NodeProbe
}

// Locator resolves the VIP holder
type Locator interface {
	Locate(ctx context.Context) vip.Result
}

// Tracker consumes observations
type Tracker interface {
	Apply(ctx context.Context, obs state.Observation) state.Evaluation
	RecordError(ctx context.Context, err error)
}

// Config holds poller settings
type Config struct {
	Primary   types.NodeIdentity
	Secondary types.NodeIdentity
	Interval  time.Duration

	// ProbeTimeout bounds each node's probe on its own; a node still
	// answering when it passes is reported with the checks it completed.
	// Zero means half the interval.
	ProbeTimeout time.Duration

	// CleanupSchedule is a cron expression for retention passes
	CleanupSchedule string
}

// Poller runs the monitoring loop: one tick per interval, never two at once
type Poller struct {
	cfg       Config
	prober    Prober
	locator   Locator
	tracker   Tracker
	retention Retention
	schedule  cron.Schedule
	now       func() time.Time
	logger    zerolog.Logger

	nextCleanup time.Time

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a poller
func New(cfg Config, prober Prober, locator Locator, tracker Tracker, retention Retention) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = cfg.Interval / 2
	}
	if cfg.ProbeTimeout < 0 || cfg.ProbeTimeout >= cfg.Interval {
		return nil, fmt.Errorf("probe timeout %s must be positive and below the poll interval %s", cfg.ProbeTimeout, cfg.Interval)
	}
	schedule, err := cron.ParseStandard(cfg.CleanupSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.CleanupSchedule, err)
	}

	return &Poller{
		cfg:       cfg,
		prober:    prober,
		locator:   locator,
		tracker:   tracker,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
		logger:    log.WithComponent("poller"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins the poll loop
func (p *Poller) Start(ctx context.Context) {
	metrics.UpdateComponent(metrics.ComponentPoller, false, "starting")
	go p.run(ctx)
}

// Stop signals the loop and waits for the in-flight tick to finish, or for
// ctx to expire
func (p *Poller) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main poll loop
func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)

	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Str("cleanup_schedule", p.cfg.CleanupSchedule).
		Msg("Poller started")

	p.cleanup()
	p.tick(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
			if !p.now().Before(p.nextCleanup) {
				p.cleanup()
			}
		case <-p.stopCh:
			p.logger.Info().Msg("Poller stopped")
			return
		case <-ctx.Done():
			p.logger.Info().Msg("Poller context cancelled")
			return
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if err := p.Tick(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Tick failed, retrying next interval")
		p.tracker.RecordError(context.WithoutCancel(ctx), err)
	}
}

// Tick runs one cycle: probe both nodes concurrently, locate the VIP, then
// hand the observation to the tracker. Each probe has its own deadline so a
// hung node only degrades its own checks. The whole tick is bounded by one
// interval; if that passes the tick is abandoned and nothing is applied.
func (p *Poller) Tick(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PollTickDuration)

	obs := state.Observation{Time: p.now()}

	tickCtx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		obs.Primary = p.probe(tickCtx, p.cfg.Primary)
		return nil
	})
	g.Go(func() error {
		obs.Secondary = p.probe(tickCtx, p.cfg.Secondary)
		return nil
	})
	_ = g.Wait()

	if err := tickCtx.Err(); err != nil {
		return p.abandon("probe", err)
	}

	loc := p.locator.Locate(tickCtx)
	if err := tickCtx.Err(); err != nil {
		return p.abandon("vip", err)
	}
	obs.VIP = loc.Location

	// Persistence and notification are not cut short by the tick deadline
	eval := p.tracker.Apply(context.WithoutCancel(ctx), obs)

	metrics.PollTicksTotal.WithLabelValues("success").Inc()
	metrics.UpdateComponent(metrics.ComponentPoller, true,
		fmt.Sprintf("last tick %s", obs.Time.UTC().Format(time.RFC3339)))

	p.logger.Debug().
		Str("primary", string(eval.Snapshot.Primary.State)).
		Str("secondary", string(eval.Snapshot.Secondary.State)).
		Str("vip", string(eval.Snapshot.VIP)).
		Int("leases", eval.Snapshot.DHCPLeases).
		Int("events", len(eval.Events)).
		Dur("duration", timer.Duration()).
		Msg("Tick complete")
	return nil
}

func (p *Poller) probe(ctx context.Context, node types.NodeIdentity) types.NodeProbe {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()
	return p.prober.Probe(ctx, node)
}

func (p *Poller) abandon(stage string, err error) error {
	metrics.PollTicksTotal.WithLabelValues("abandoned").Inc()
	metrics.UpdateComponent(metrics.ComponentPoller, false, "last tick abandoned during "+stage)
	return fmt.Errorf("%w during %s: %v", ErrTickAbandoned, stage, err)
}

// cleanup runs a retention pass and schedules the next one. Failures wait
// for the next scheduled run.
func (p *Poller) cleanup() {
	now := p.now()
	p.nextCleanup = p.schedule.Next(now)

	if p.retention.Store == nil {
		return
	}
	if _, err := p.retention.Run(now); err != nil {
		p.logger.Error().Err(err).Time("next_run", p.nextCleanup).Msg("Retention pass failed")
		return
	}
	p.logger.Debug().Time("next_run", p.nextCleanup).Msg("Next retention pass scheduled")
}
