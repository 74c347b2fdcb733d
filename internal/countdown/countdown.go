// Package countdown shuts the station down once the gateway link has stayed
// down for the configured time.
package countdown

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/kioskd/internal/metrics"
	"github.com/Paintersrp/kioskd/internal/settings"
)

const defaultStep = time.Second

// Shutdowner powers the host off.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// SettingsLoader reads the persisted settings document.
type SettingsLoader interface {
	Load() (settings.Document, error)
}

// State is the phase of the countdown.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateExpired State = "expired"
)

// Status is a snapshot of the countdown.
type Status struct {
	State     State
	Remaining time.Duration
	Duration  time.Duration
	Warning   time.Duration
	Warned    bool
}

// Option configures a Countdown.
type Option func(*Countdown)

// WithLogger sets the countdown logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Countdown) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStep sets how much time one tick removes from the countdown.
func WithStep(d time.Duration) Option {
	return func(c *Countdown) {
		if d > 0 {
			c.step = d
		}
	}
}

// WithWarning registers fn to run once per countdown when the remaining time
// reaches the warning threshold.
func WithWarning(fn func(remaining time.Duration)) Option {
	return func(c *Countdown) {
		c.onWarn = fn
	}
}

// Countdown counts down while the link is down and shuts the host off at
// zero. A link that comes back refills and pauses it.
type Countdown struct {
	power    Shutdowner
	settings SettingsLoader
	logger   *zap.Logger
	step     time.Duration
	onWarn   func(time.Duration)

	mu        sync.Mutex
	state     State
	remaining time.Duration
	duration  time.Duration
	warning   time.Duration
	warned    bool
}

// New constructs a running countdown filled from the settings document. The
// link is treated as down until LinkChanged reports otherwise.
func New(power Shutdowner, loader SettingsLoader, opts ...Option) *Countdown {
	c := &Countdown{
		power:    power,
		settings: loader,
		logger:   zap.NewNop(),
		step:     defaultStep,
		state:    StateRunning,
		duration: settings.DefaultTimerDuration,
		warning:  settings.DefaultWarningTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mu.Lock()
	c.refill()
	c.mu.Unlock()
	return c
}

// Status returns the current countdown snapshot.
func (c *Countdown) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		Remaining: c.remaining,
		Duration:  c.duration,
		Warning:   c.warning,
		Warned:    c.warned,
	}
}

// LinkChanged refills and pauses the countdown when the link comes up and
// resumes it when the link goes down.
func (c *Countdown) LinkChanged(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if up {
		c.refill()
		c.state = StatePaused
		metrics.SetShutdownRemaining(0)
		c.logger.Info("shutdown countdown paused", zap.Duration("duration", c.duration))
		return
	}
	if c.state == StatePaused {
		c.state = StateRunning
		metrics.SetShutdownRemaining(c.remaining)
		c.logger.Info("shutdown countdown resumed", zap.Duration("remaining", c.remaining))
	}
}

// Reset rereads the settings and refills the countdown. An expired countdown
// starts over.
func (c *Countdown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refill()
	if c.state == StateExpired {
		c.state = StateRunning
	}
	if c.state == StateRunning {
		metrics.SetShutdownRemaining(c.remaining)
	}
	c.logger.Debug("shutdown countdown reset", zap.Duration("duration", c.duration), zap.Duration("warning", c.warning))
}

// Tick removes one step from a running countdown, raising the warning and
// shutting the host down when the thresholds are crossed.
func (c *Countdown) Tick(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.remaining -= c.step
	if c.remaining < 0 {
		c.remaining = 0
	}
	remaining := c.remaining
	warn := !c.warned && remaining > 0 && remaining <= c.warning
	if warn {
		c.warned = true
	}
	expired := remaining == 0
	if expired {
		c.state = StateExpired
	}
	c.mu.Unlock()

	metrics.SetShutdownRemaining(remaining)
	if warn {
		c.logger.Warn("host will shut down unless the link returns", zap.Duration("remaining", remaining))
		if c.onWarn != nil {
			c.onWarn(remaining)
		}
	}
	if !expired {
		return
	}
	c.logger.Warn("shutdown countdown expired")
	if c.power == nil {
		return
	}
	if err := c.power.Shutdown(ctx); err != nil {
		c.logger.Error("shut down host", zap.Error(err))
	}
}

// Run ticks the countdown until ctx is cancelled.
func (c *Countdown) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.step)
	defer ticker.Stop()
	c.logger.Info("shutdown countdown started", zap.Duration("remaining", c.Status().Remaining))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// refill must be called with mu held.
func (c *Countdown) refill() {
	if c.settings != nil {
		doc, err := c.settings.Load()
		if err != nil {
			c.logger.Warn("read countdown settings, keeping previous values", zap.Error(err))
		} else {
			c.duration = doc.TimerDuration()
			c.warning = doc.WarningTime()
		}
	}
	c.remaining = c.duration
	c.warned = false
}
