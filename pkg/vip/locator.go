package vip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/health"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/retry"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/rs/zerolog"
)

var errVIPMissing = errors.New("vip: no neighbor entry for virtual IP")

// Config describes the addresses to correlate and the timing budget
type Config struct {
	VIP       string
	Primary   string
	Secondary string

	// Port receives the stimulating connections
	Port int

	DialTimeout time.Duration
	Settle      time.Duration
	Retry       retry.Policy
}

// DefaultConfig returns the standard timing for the given addresses
func DefaultConfig(vip, primary, secondary string) Config {
	return Config{
		VIP:         vip,
		Primary:     primary,
		Secondary:   secondary,
		Port:        80,
		DialTimeout: time.Second,
		Settle:      200 * time.Millisecond,
		Retry:       retry.Constant(3, time.Second),
	}
}

// Result is the outcome of one Locate call
type Result struct {
	Location     types.VIPLocation
	VIPMAC       net.HardwareAddr
	PrimaryMAC   net.HardwareAddr
	SecondaryMAC net.HardwareAddr
	Attempts     int
}

// Locator finds which node answers at the virtual IP by correlating
// link-layer addresses from the host neighbor table
type Locator struct {
	cfg    Config
	table  NeighborTable
	dial   health.DialFunc
	logger zerolog.Logger

	vip, primary, secondary net.IP
}

// Option configures a Locator
type Option func(*Locator)

// WithDialer replaces the dialer used to stimulate neighbor resolution
func WithDialer(dial health.DialFunc) Option {
	return func(l *Locator) { l.dial = dial }
}

// NewLocator validates the addresses and creates a Locator
func NewLocator(cfg Config, table NeighborTable, opts ...Option) (*Locator, error) {
	l := &Locator{
		cfg:    cfg,
		table:  table,
		dial:   (&net.Dialer{}).DialContext,
		logger: log.WithComponent("vip"),
	}

	for name, addr := range map[string]string{"vip": cfg.VIP, "primary": cfg.Primary, "secondary": cfg.Secondary} {
		if net.ParseIP(addr) == nil {
			return nil, fmt.Errorf("invalid %s address %q", name, addr)
		}
	}
	l.vip = net.ParseIP(cfg.VIP)
	l.primary = net.ParseIP(cfg.Primary)
	l.secondary = net.ParseIP(cfg.Secondary)

	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Locate resolves the current VIP holder. Retries happen only while the VIP
// itself has no neighbor entry; after that the answer is final for the
// tick. Exhausted retries or a cancelled context yield VIPUnknown.
func (l *Locator) Locate(ctx context.Context) Result {
	var res Result

	err := retry.Do(ctx, l.cfg.Retry, func(ctx context.Context, attempt int) error {
		res = Result{Attempts: attempt}

		l.stimulate(ctx)
		if err := sleep(ctx, l.cfg.Settle); err != nil {
			return retry.Permanent(err)
		}

		res.VIPMAC = l.lookup(ctx, l.vip)
		if res.VIPMAC == nil {
			l.logger.Debug().Int("attempt", attempt).Msg("No neighbor entry for VIP")
			return errVIPMissing
		}
		res.PrimaryMAC = l.lookup(ctx, l.primary)
		res.SecondaryMAC = l.lookup(ctx, l.secondary)
		return nil
	})

	if err != nil {
		res.Location = types.VIPUnknown
	} else {
		res.Location = Classify(res.VIPMAC, res.PrimaryMAC, res.SecondaryMAC)
	}

	metrics.VIPLookupAttempts.Observe(float64(res.Attempts))
	l.logger.Debug().
		Str("location", string(res.Location)).
		Stringer("vip_mac", res.VIPMAC).
		Stringer("primary_mac", res.PrimaryMAC).
		Stringer("secondary_mac", res.SecondaryMAC).
		Int("attempts", res.Attempts).
		Msg("Located VIP")

	return res
}

// Classify maps the three link-layer addresses to a location. A VIP
// address matching a node names that node; a VIP address matching neither
// of two known node addresses is VIPNone; anything else is VIPUnknown.
func Classify(vipMAC, primaryMAC, secondaryMAC net.HardwareAddr) types.VIPLocation {
	switch {
	case len(vipMAC) == 0:
		return types.VIPUnknown
	case len(primaryMAC) > 0 && sameMAC(vipMAC, primaryMAC):
		return types.VIPPrimary
	case len(secondaryMAC) > 0 && sameMAC(vipMAC, secondaryMAC):
		return types.VIPSecondary
	case len(primaryMAC) > 0 && len(secondaryMAC) > 0:
		return types.VIPNone
	default:
		return types.VIPUnknown
	}
}

func sameMAC(a, b net.HardwareAddr) bool {
	return a.String() == b.String()
}

// stimulate opens short-lived connections to all three addresses so the
// kernel refreshes their neighbor entries. Connection errors are expected.
func (l *Locator) stimulate(ctx context.Context) {
	port := strconv.Itoa(l.cfg.Port)

	var wg sync.WaitGroup
	for _, ip := range []net.IP{l.vip, l.primary, l.secondary} {
		wg.Add(1)
		go func(ip net.IP) {
			defer wg.Done()

			dctx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
			defer cancel()

			conn, err := l.dial(dctx, "tcp", net.JoinHostPort(ip.String(), port))
			if err == nil {
				conn.Close()
			}
		}(ip)
	}
	wg.Wait()
}

func (l *Locator) lookup(ctx context.Context, ip net.IP) net.HardwareAddr {
	mac, err := l.table.Lookup(ctx, ip)
	if err != nil {
		if !errors.Is(err, ErrNoEntry) {
			l.logger.Debug().Err(err).Stringer("ip", ip).Msg("Neighbor lookup failed")
		}
		return nil
	}
	return mac
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
