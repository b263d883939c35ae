package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/retry"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrInvalidSnooze is returned for a snooze duration outside 1..MaxSnoozeMinutes
var ErrInvalidSnooze = errors.New("invalid snooze duration")

// MaxSnoozeMinutes is one week
const MaxSnoozeMinutes = 7 * 24 * 60

// Suppression reasons reported in Result and metrics
const (
	SuppressedSnoozed    = "snoozed"
	SuppressedDisabled   = "disabled"
	SuppressedNoChannels = "no_channels"
)

// Recorder persists the delivery-outcome events
type Recorder interface {
	Record(ctx context.Context, event *types.Event) error
}

// Result is the outcome of one dispatch
type Result struct {
	Suppressed string
	Succeeded  []string
	Failed     []string
}

// Attempted reports whether any channel was tried
func (r Result) Attempted() bool {
	return len(r.Succeeded)+len(r.Failed) > 0
}

// Dispatcher renders events and delivers them to every enabled channel
type Dispatcher struct {
	settings    *SettingsStore
	client      *http.Client
	recorder    Recorder
	retry       retry.Policy
	sendTimeout time.Duration
	testLimiter *TestLimiter
	baseVars    func(time.Time) Vars
	now         func() time.Time
	logger      zerolog.Logger

	channelRate  rate.Limit
	channelBurst int
	limitersMu   sync.Mutex
	limiters     map[string]*rate.Limiter
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithRetry sets the per-channel retry policy
func WithRetry(p retry.Policy) Option {
	return func(d *Dispatcher) { d.retry = p }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithTestLimiter replaces the default 3-per-minute test limiter
func WithTestLimiter(l *TestLimiter) Option {
	return func(d *Dispatcher) { d.testLimiter = l }
}

// WithChannelRate sets the outbound pacing applied to each channel
func WithChannelRate(r rate.Limit, burst int) Option {
	return func(d *Dispatcher) {
		d.channelRate = r
		d.channelBurst = burst
	}
}

// WithSendTimeout bounds one channel delivery, retries included
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.sendTimeout = timeout }
}

// WithBaseVars supplies the variables used for test messages
func WithBaseVars(fn func(time.Time) Vars) Option {
	return func(d *Dispatcher) { d.baseVars = fn }
}

// NewDispatcher creates a dispatcher. recorder may be nil.
func NewDispatcher(settings *SettingsStore, client *http.Client, recorder Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		settings:     settings,
		client:       client,
		recorder:     recorder,
		retry:        retry.Exponential(3, time.Second, 5*time.Second),
		sendTimeout:  30 * time.Second,
		testLimiter:  NewTestLimiter(DefaultTestLimit, DefaultTestWindow),
		now:          time.Now,
		logger:       log.WithComponent("notify"),
		channelRate:  rate.Every(time.Second),
		channelBurst: 3,
		limiters:     make(map[string]*rate.Limiter),
	}
	d.baseVars = func(now time.Time) Vars { return BaseVars(now, "", "", "") }
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Settings returns the current settings
func (d *Dispatcher) Settings() Settings {
	return d.settings.Get()
}

// Dispatch sends kind to every enabled, configured channel unless snoozed or
// the kind is switched off. Failures are logged and summarized in an event;
// they are never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, kind types.EventKind, vars Vars) Result {
	s := d.settings.Get()
	now := d.now()

	if s.Snoozed(now) {
		return d.suppress(kind, SuppressedSnoozed)
	}
	if !s.Events.Enabled(kind) {
		return d.suppress(kind, SuppressedDisabled)
	}

	var targets []Channel
	for _, ch := range s.Channels() {
		if !ch.Enabled {
			continue
		}
		if !ch.Configured() {
			d.logger.Warn().Str("channel", ch.Name()).Msg("Channel enabled but not configured, skipping")
			continue
		}
		targets = append(targets, ch.Channel)
	}
	if len(targets) == 0 {
		return d.suppress(kind, SuppressedNoChannels)
	}

	msg := NewMessage(s, kind, vars, now)
	res := d.fanOut(ctx, targets, msg)
	d.recordOutcome(ctx, kind, res)
	return res
}

func (d *Dispatcher) suppress(kind types.EventKind, reason string) Result {
	metrics.NotificationsSuppressed.WithLabelValues(reason).Inc()
	d.logger.Debug().Str("kind", string(kind)).Str("reason", reason).Msg("Notification suppressed")
	return Result{Suppressed: reason}
}

func (d *Dispatcher) fanOut(ctx context.Context, targets []Channel, msg Message) Result {
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			errs[i] = d.send(ctx, ch, msg)
		}(i, ch)
	}
	wg.Wait()

	var res Result
	for i, ch := range targets {
		if errs[i] != nil {
			res.Failed = append(res.Failed, ch.Name())
		} else {
			res.Succeeded = append(res.Succeeded, ch.Name())
		}
	}
	return res
}

// send delivers msg on one channel, paced and retried
func (d *Dispatcher) send(ctx context.Context, ch Channel, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	limiter := d.limiter(ch.Name())
	timer := metrics.NewTimer()

	err := retry.Do(ctx, d.retry, func(ctx context.Context, attempt int) error {
		if err := limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		err := ch.Send(ctx, d.client, msg)
		if err == nil {
			return nil
		}

		code, cause := 0, err
		var de *DeliveryError
		if errors.As(err, &de) {
			code, cause = de.Code, de.Err
		}
		if !retry.Retryable(code, cause) {
			return retry.Permanent(err)
		}
		d.logger.Debug().Err(err).Str("channel", ch.Name()).Int("attempt", attempt).Msg("Notification attempt failed")
		return err
	})

	timer.ObserveDurationVec(metrics.NotificationDuration, ch.Name())

	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(ch.Name(), "failure").Inc()
		d.logger.Error().Err(err).Str("channel", ch.Name()).Str("kind", string(msg.Kind)).Msg("Notification failed")
		return err
	}

	metrics.NotificationsTotal.WithLabelValues(ch.Name(), "success").Inc()
	d.logger.Info().Str("channel", ch.Name()).Str("kind", string(msg.Kind)).Msg("Notification sent")
	return nil
}

func (d *Dispatcher) limiter(channel string) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()

	l, ok := d.limiters[channel]
	if !ok {
		l = rate.NewLimiter(d.channelRate, d.channelBurst)
		d.limiters[channel] = l
	}
	return l
}

func (d *Dispatcher) recordOutcome(ctx context.Context, kind types.EventKind, res Result) {
	if d.recorder == nil || !res.Attempted() {
		return
	}

	category := types.CategoryInfo
	message := fmt.Sprintf("Notification (%s) sent via %s", kind, strings.Join(res.Succeeded, ", "))
	if len(res.Failed) > 0 {
		category = types.CategoryWarning
		message = fmt.Sprintf("Notification (%s) failed via %s", kind, strings.Join(res.Failed, ", "))
		if len(res.Succeeded) > 0 {
			message += "; sent via " + strings.Join(res.Succeeded, ", ")
		}
	}

	event := &types.Event{
		Timestamp: d.now(),
		Category:  category,
		Kind:      types.KindNotification,
		Message:   message,
	}
	if err := d.recorder.Record(ctx, event); err != nil {
		d.logger.Error().Err(err).Msg("Failed to record notification outcome")
	}
}

// SendTest sends a test message on one channel. overrides, when given, are
// merged over the stored channel settings for this send only.
func (d *Dispatcher) SendTest(ctx context.Context, caller, channel string, overrides Patch) error {
	now := d.now()
	if !d.testLimiter.Allow(caller, now) {
		metrics.RateLimitedTotal.Inc()
		return ErrRateLimited
	}

	s := d.settings.Get()
	if _, err := s.Channel(channel); err != nil {
		return err
	}
	if len(overrides) > 0 {
		merged, err := s.Apply(Patch{channel: map[string]interface{}(overrides)})
		if err != nil {
			return err
		}
		s = merged
	}

	ch, _ := s.Channel(channel)
	if !ch.Configured() {
		return fmt.Errorf("%w: %s", ErrChannelNotConfigured, channel)
	}

	msg := NewMessage(s, types.KindTest, d.baseVars(now), now)
	err := d.send(ctx, ch, msg)

	res := Result{Succeeded: []string{channel}}
	if err != nil {
		res = Result{Failed: []string{channel}}
	}
	d.recordOutcome(ctx, types.KindTest, res)
	return err
}

// SnoozeStatus describes the current snooze window
type SnoozeStatus struct {
	Active           bool       `json:"active"`
	Until            *time.Time `json:"until"`
	RemainingSeconds int64      `json:"remaining_seconds"`
}

// Snooze suppresses all notifications for the given number of minutes
func (d *Dispatcher) Snooze(minutes int) (SnoozeStatus, error) {
	if minutes < 1 || minutes > MaxSnoozeMinutes {
		return SnoozeStatus{}, fmt.Errorf("%w: minutes must be between 1 and %d", ErrInvalidSnooze, MaxSnoozeMinutes)
	}
	now := d.now()
	if _, err := d.settings.SetSnooze(now.Add(time.Duration(minutes) * time.Minute)); err != nil {
		return SnoozeStatus{}, err
	}
	d.logger.Info().Int("minutes", minutes).Msg("Notifications snoozed")
	return d.SnoozeStatus(now), nil
}

// CancelSnooze ends any snooze immediately
func (d *Dispatcher) CancelSnooze() error {
	if _, err := d.settings.ClearSnooze(); err != nil {
		return err
	}
	d.logger.Info().Msg("Notification snooze cancelled")
	return nil
}

// SnoozeStatus reports the snooze window as seen at now
func (d *Dispatcher) SnoozeStatus(now time.Time) SnoozeStatus {
	s := d.settings.Get()
	if !s.Snoozed(now) {
		return SnoozeStatus{}
	}
	return SnoozeStatus{
		Active:           true,
		Until:            s.SnoozeUntil,
		RemainingSeconds: int64(s.SnoozeUntil.Sub(now).Seconds()),
	}
}
