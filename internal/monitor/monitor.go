// Package monitor watches the link to the default gateway and swaps helpers
// when it comes up or goes down.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/kioskd/internal/engine"
	"github.com/Paintersrp/kioskd/internal/metrics"
	"github.com/Paintersrp/kioskd/internal/probe"
)

// Placeholder is replaced by the discovered gateway in probe targets.
const Placeholder = "{gateway}"

// HelperController starts and stops supervised helpers.
type HelperController interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// GatewayDiscoverer looks up the default gateway.
type GatewayDiscoverer interface {
	Discover(ctx context.Context) (string, error)
}

// Actions lists the helpers to start and stop on a transition. Starts run
// before stops.
type Actions struct {
	Start []string
	Stop  []string
}

// Status is a snapshot of the link.
type Status struct {
	Link    probe.Status `json:"link"`
	Gateway string       `json:"gateway,omitempty"`
	Since   time.Time    `json:"since,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithProberFactory replaces how a probe is built for a discovered gateway.
func WithProberFactory(factory func(spec *probe.Spec) (probe.Prober, error)) Option {
	return func(m *Monitor) {
		if factory != nil {
			m.newProber = factory
		}
	}
}

// WithLinkObserver registers fn to be told about every transition before the
// helper actions run.
func WithLinkObserver(fn func(up bool)) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.observers = append(m.observers, fn)
		}
	}
}

// Monitor probes the gateway and applies the configured helper actions on
// every ready or unready transition.
type Monitor struct {
	helpers      HelperController
	gateway      GatewayDiscoverer
	spec         probe.Spec
	connected    Actions
	disconnected Actions
	newProber    func(spec *probe.Spec) (probe.Prober, error)
	observers    []func(up bool)
	logger       *zap.Logger

	mu     sync.Mutex
	status Status
	addr   string
	inner  probe.Prober
}

// New constructs a monitor. Probe targets in spec may contain Placeholder.
func New(helpers HelperController, gateway GatewayDiscoverer, spec probe.Spec, connected, disconnected Actions, opts ...Option) *Monitor {
	m := &Monitor{
		helpers:      helpers,
		gateway:      gateway,
		spec:         spec,
		connected:    connected,
		disconnected: disconnected,
		newProber:    probe.New,
		logger:       zap.NewNop(),
		status:       Status{Link: probe.StatusUnknown},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns the latest link snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	st.Gateway = m.addr
	return st
}

// Run watches the link until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("link monitor started", zap.Duration("interval", m.spec.Interval))
	events := probe.Watch(ctx, probe.ProberFunc(m.probe), &m.spec, nil)
	for event := range events {
		m.apply(ctx, event)
	}
	metrics.SetLinkUp(false)
	m.logger.Info("link monitor stopped")
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *Monitor) apply(ctx context.Context, event probe.Event) {
	m.mu.Lock()
	m.status = Status{Link: event.Status, Since: event.At, Reason: event.Reason}
	gw := m.addr
	m.mu.Unlock()

	up := event.Status == probe.StatusReady
	for _, fn := range m.observers {
		fn(up)
	}

	actions := m.disconnected
	if up {
		actions = m.connected
		metrics.SetLinkUp(true)
		m.logger.Info("link up", zap.String("gateway", gw))
	} else {
		metrics.SetLinkUp(false)
		m.logger.Warn("link down", zap.String("gateway", gw), zap.String("reason", event.Reason))
	}

	for _, name := range actions.Start {
		err := m.helpers.Start(ctx, name)
		switch {
		case errors.Is(err, engine.ErrClosing):
			m.logger.Debug("helper start refused during close", zap.String("helper", name))
		case err != nil:
			m.logger.Error("start helper on link change", zap.String("helper", name), zap.Error(err))
		}
	}
	for _, name := range actions.Stop {
		if err := m.helpers.Stop(ctx, name); err != nil {
			m.logger.Error("stop helper on link change", zap.String("helper", name), zap.Error(err))
		}
	}
}

// probe resolves the gateway when it is unknown and checks it. A failed check
// forgets the gateway so the next attempt rediscovers it.
func (m *Monitor) probe(ctx context.Context) error {
	inner, err := m.prober(ctx)
	if err != nil {
		return err
	}
	if err := inner.Probe(ctx); err != nil {
		m.mu.Lock()
		m.inner = nil
		m.addr = ""
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Monitor) prober(ctx context.Context) (probe.Prober, error) {
	m.mu.Lock()
	inner := m.inner
	m.mu.Unlock()
	if inner != nil {
		return inner, nil
	}

	addr, err := m.gateway.Discover(ctx)
	if err != nil {
		return nil, err
	}
	spec := expand(m.spec, addr)
	inner, err = m.newProber(&spec)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.inner = inner
	m.addr = addr
	m.mu.Unlock()
	return inner, nil
}

func expand(spec probe.Spec, gateway string) probe.Spec {
	out := spec
	if spec.HTTP != nil {
		out.HTTP = &probe.HTTPSpec{
			URL:          strings.ReplaceAll(spec.HTTP.URL, Placeholder, gateway),
			ExpectStatus: append([]int(nil), spec.HTTP.ExpectStatus...),
			Contains:     spec.HTTP.Contains,
		}
	}
	if spec.TCP != nil {
		out.TCP = &probe.TCPSpec{Address: strings.ReplaceAll(spec.TCP.Address, Placeholder, gateway)}
	}
	if spec.Command != nil {
		cmd := make([]string, len(spec.Command.Command))
		for i, arg := range spec.Command.Command {
			cmd[i] = strings.ReplaceAll(arg, Placeholder, gateway)
		}
		out.Command = &probe.CommandSpec{Command: cmd, Timeout: spec.Command.Timeout}
	}
	return out
}
