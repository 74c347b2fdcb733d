package cli

import (
	stdcontext "context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Paintersrp/kioskd/internal/config"
	"github.com/Paintersrp/kioskd/internal/countdown"
	"github.com/Paintersrp/kioskd/internal/engine"
	"github.com/Paintersrp/kioskd/internal/gateway"
	"github.com/Paintersrp/kioskd/internal/hostinfo"
	"github.com/Paintersrp/kioskd/internal/monitor"
	"github.com/Paintersrp/kioskd/internal/probe"
	"github.com/Paintersrp/kioskd/internal/relaunch"
	"github.com/Paintersrp/kioskd/internal/resources"
	"github.com/Paintersrp/kioskd/internal/runtime"
	"github.com/Paintersrp/kioskd/internal/runtime/process"
	"github.com/Paintersrp/kioskd/internal/settings"
)

const eventBuffer = 64

// daemon holds every component the serve command runs.
type daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	supervisor   *engine.Supervisor
	orchestrator *engine.Orchestrator
	settings     *settings.Store
	gateway      *gateway.Discoverer
	fetcher      *hostinfo.Fetcher
	power        *hostinfo.Power
	monitor      *monitor.Monitor
	countdown    *countdown.Countdown
	tracker      *statusTracker

	events        chan engine.Event
	closeRequests chan struct{}
	closePending  atomic.Bool
}

type daemonOptions struct {
	spawner     runtime.Spawner
	resolver    resources.Resolver
	restarter   engine.Restarter
	gatewayRun  gateway.Runner
	proberMaker func(spec *probe.Spec) (probe.Prober, error)
	shutdowner  countdown.Shutdowner
}

type daemonOption func(*daemonOptions)

func withSpawner(s runtime.Spawner) daemonOption {
	return func(o *daemonOptions) { o.spawner = s }
}

func withResolver(r resources.Resolver) daemonOption {
	return func(o *daemonOptions) { o.resolver = r }
}

func withRestarter(r engine.Restarter) daemonOption {
	return func(o *daemonOptions) { o.restarter = r }
}

func withGatewayRunner(run gateway.Runner) daemonOption {
	return func(o *daemonOptions) { o.gatewayRun = run }
}

func withShutdowner(s countdown.Shutdowner) daemonOption {
	return func(o *daemonOptions) { o.shutdowner = s }
}

func withProberFactory(fn func(spec *probe.Spec) (probe.Prober, error)) daemonOption {
	return func(o *daemonOptions) { o.proberMaker = fn }
}

func newDaemon(cfg *config.Config, logger *zap.Logger, opts ...daemonOption) *daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := daemonOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.spawner == nil {
		o.spawner = process.New()
	}
	if o.resolver == nil {
		o.resolver = resources.NewDirResolver(cfg.ResourceDir, cfg.Executables())
	}

	d := &daemon{
		cfg:           cfg,
		logger:        logger,
		tracker:       newStatusTracker(0),
		events:        make(chan engine.Event, eventBuffer),
		closeRequests: make(chan struct{}, 1),
	}

	supOpts := []engine.SupervisorOption{
		engine.WithLogger(logger.Named("supervisor")),
		engine.WithEvents(d.events),
		engine.WithKillTimeout(cfg.Shutdown.KillTimeout.Duration),
	}
	for _, name := range cfg.HelperNames() {
		spec := cfg.Helpers[name]
		if spec == nil {
			continue
		}
		supOpts = append(supOpts, engine.WithHelperSpec(engine.HelperSpec{
			Name:    name,
			Args:    spec.Args,
			Env:     spec.Env,
			Workdir: spec.Workdir,
		}))
	}
	registry := runtime.NewRegistry(cfg.HelperNames()...)
	d.supervisor = engine.NewSupervisor(registry, o.resolver, o.spawner, supOpts...)

	d.settings = settings.NewStore(settings.DefaultPath(cfg.DataDir), logger.Named("settings"))

	restarter := o.restarter
	if restarter == nil {
		restarter = relaunch.New(logger.Named("relaunch"), relaunch.WithBeforeRestart(func() {
			_ = logger.Sync()
		}))
	}
	d.orchestrator = engine.NewOrchestrator(d.supervisor, d.settings, restarter,
		engine.WithOrchestratorLogger(logger.Named("close")),
		engine.WithOrchestratorEvents(d.events),
	)

	gwOpts := []gateway.Option{
		gateway.WithTimeout(cfg.Gateway.Timeout.Duration),
		gateway.WithLogger(logger.Named("gateway")),
	}
	if o.gatewayRun != nil {
		gwOpts = append(gwOpts, gateway.WithRunner(o.gatewayRun))
	}
	d.gateway = gateway.New(gwOpts...)

	d.fetcher = hostinfo.NewFetcher(nil, cfg.Fetch.Timeout.Duration)
	d.power = hostinfo.NewPower(nil, logger.Named("power"))

	if cfg.Monitor.IsEnabled() {
		var monOpts []monitor.Option
		monOpts = append(monOpts, monitor.WithLogger(logger.Named("monitor")))
		if o.proberMaker != nil {
			monOpts = append(monOpts, monitor.WithProberFactory(o.proberMaker))
		}
		if cfg.Monitor.ShutdownWhenIdle() {
			var power countdown.Shutdowner = d.power
			if o.shutdowner != nil {
				power = o.shutdowner
			}
			d.countdown = countdown.New(power, d.settings, countdown.WithLogger(logger.Named("countdown")))
			monOpts = append(monOpts, monitor.WithLinkObserver(d.countdown.LinkChanged))
		}
		connected, disconnected := monitorActions(cfg.Monitor)
		d.monitor = monitor.New(d.supervisor, d.gateway, probeSpec(cfg.Monitor), connected, disconnected, monOpts...)
	}
	return d
}

// requestClose queues a close gesture for the serve loop. Only one close may
// be pending at a time.
func (d *daemon) requestClose() bool {
	if !d.closePending.CompareAndSwap(false, true) {
		return false
	}
	d.closeRequests <- struct{}{}
	return true
}

func (d *daemon) handleClose(ctx stdcontext.Context, w engine.Window) engine.CloseOutcome {
	defer d.closePending.Store(false)
	outcome := d.orchestrator.HandleClose(ctx, w)
	fields := []zap.Field{
		zap.String("state", string(outcome.State)),
		zap.Bool("relaunch", outcome.Relaunch),
	}
	if err := engine.StopErrors(outcome.Stops); err != nil {
		fields = append(fields, zap.NamedError("stop_error", err))
	}
	if outcome.SettingsErr != nil {
		fields = append(fields, zap.NamedError("settings_error", outcome.SettingsErr))
	}
	if outcome.RestartErr != nil {
		fields = append(fields, zap.NamedError("restart_error", outcome.RestartErr))
	}
	d.logger.Info("close handled", fields...)
	return outcome
}

// drainEvents records and logs engine events until stop is closed, then
// flushes what is buffered. d.events is never closed: an API handler can still
// be inside Start or Stop after the server has given up waiting for it.
func (d *daemon) drainEvents(stop <-chan struct{}) {
	for {
		select {
		case evt := <-d.events:
			d.recordEvent(evt)
		case <-stop:
			for {
				select {
				case evt := <-d.events:
					d.recordEvent(evt)
				default:
					return
				}
			}
		}
	}
}

func (d *daemon) recordEvent(evt engine.Event) {
	d.tracker.Apply(evt)
	fields := []zap.Field{
		zap.String("type", string(evt.Type)),
		zap.String("reason", evt.Reason),
	}
	if evt.Helper != "" {
		fields = append(fields, zap.String("helper", evt.Helper))
	}
	if evt.PID > 0 {
		fields = append(fields, zap.Int("pid", evt.PID))
	}
	if evt.Err != nil {
		fields = append(fields, zap.Error(evt.Err))
	}
	d.logger.Debug(evt.Message, fields...)
}

func probeSpec(m *config.MonitorSpec) probe.Spec {
	spec := probe.Spec{
		GracePeriod:      m.GracePeriod.Duration,
		Interval:         m.Interval.Duration,
		Timeout:          m.Timeout.Duration,
		FailureThreshold: m.FailureThreshold,
		SuccessThreshold: m.SuccessThreshold,
	}
	if m.HTTP != nil {
		spec.HTTP = &probe.HTTPSpec{
			URL:          m.HTTP.URL,
			ExpectStatus: append([]int(nil), m.HTTP.ExpectStatus...),
			Contains:     m.HTTP.Contains,
		}
	}
	if m.TCP != nil {
		spec.TCP = &probe.TCPSpec{Address: m.TCP.Address}
	}
	if m.Command != nil {
		spec.Command = &probe.CommandSpec{
			Command: append([]string(nil), m.Command.Command...),
			Timeout: m.Command.Timeout.Duration,
		}
	}
	return spec
}

func monitorActions(m *config.MonitorSpec) (connected, disconnected monitor.Actions) {
	if m.OnConnected != nil {
		connected = monitor.Actions{Start: m.OnConnected.Start, Stop: m.OnConnected.Stop}
	}
	if m.OnDisconnected != nil {
		disconnected = monitor.Actions{Start: m.OnDisconnected.Start, Stop: m.OnDisconnected.Stop}
	}
	return connected, disconnected
}
