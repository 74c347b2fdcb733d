package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Paintersrp/kioskd/internal/metrics"
	"github.com/Paintersrp/kioskd/internal/settings"
)

// CloseState is the phase of a close event.
type CloseState string

const (
	CloseStateIdle        CloseState = "idle"
	CloseStateStopping    CloseState = "stopping"
	CloseStateDeciding    CloseState = "deciding"
	CloseStateRestarting  CloseState = "restarting"
	CloseStateTerminating CloseState = "terminating"
)

// Window is the host surface whose close gesture is being handled.
type Window interface {
	// PreventClose suppresses the default close action.
	PreventClose()
	// AllowClose releases the suppression so the host terminates.
	AllowClose()
}

// HelperStopper refuses new helper starts, stops every supervised helper and
// reports each outcome. Reopen undoes the refusal.
type HelperStopper interface {
	Drain(ctx context.Context) []StopResult
	Reopen()
}

// SettingsLoader reads the persisted settings document.
type SettingsLoader interface {
	Load() (settings.Document, error)
}

// Restarter re-executes the current application image.
type Restarter interface {
	Restart(ctx context.Context) error
}

// CloseOutcome describes what a close event did.
type CloseOutcome struct {
	State       CloseState
	Relaunch    bool
	Stops       []StopResult
	SettingsErr error
	RestartErr  error
}

// Orchestrator runs the close sequence: stop helpers, read settings, then
// restart or let the host terminate.
type Orchestrator struct {
	helpers   HelperStopper
	settings  SettingsLoader
	restarter Restarter
	logger    *zap.Logger
	events    chan<- Event

	mu    sync.Mutex
	state atomic.Value
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the orchestrator logger.
func WithOrchestratorLogger(logger *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOrchestratorEvents directs close events to ch.
func WithOrchestratorEvents(ch chan<- Event) OrchestratorOption {
	return func(o *Orchestrator) {
		o.events = ch
	}
}

// NewOrchestrator constructs a close orchestrator.
func NewOrchestrator(helpers HelperStopper, loader SettingsLoader, restarter Restarter, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		helpers:   helpers,
		settings:  loader,
		restarter: restarter,
		logger:    zap.NewNop(),
	}
	o.state.Store(CloseStateIdle)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports the phase of the close event in progress, or idle.
// Terminating is final: the host exits once the close has been allowed.
func (o *Orchestrator) State() CloseState {
	return o.state.Load().(CloseState)
}

// HandleClose runs the close sequence for a single close gesture. Close
// events are serialized; the sequence never returns early on a helper or
// settings failure.
func (o *Orchestrator) HandleClose(ctx context.Context, w Window) CloseOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	w.PreventClose()
	sendEvent(o.events, "", EventTypeClosing, "close requested", 0, ReasonCloseRequested, nil)

	o.state.Store(CloseStateStopping)
	outcome := CloseOutcome{}
	if o.helpers != nil {
		outcome.Stops = o.helpers.Drain(ctx)
	}
	for _, res := range outcome.Stops {
		if res.Err != nil {
			o.logger.Warn("stop helper during close", zap.String("helper", res.Helper), zap.Error(res.Err))
		}
	}

	o.state.Store(CloseStateDeciding)
	outcome.Relaunch, outcome.SettingsErr = o.decideRelaunch()

	if outcome.Relaunch && o.restarter != nil {
		o.state.Store(CloseStateRestarting)
		outcome.State = CloseStateRestarting
		metrics.IncrementCloseDecision("restart")
		sendEvent(o.events, "", EventTypeRestarting, "relaunching application", 0, ReasonRelaunch, nil)
		o.logger.Info("close handled, relaunching")
		err := o.restarter.Restart(ctx)
		if err == nil {
			// The image kept running, so this process is still the kiosk.
			if o.helpers != nil {
				o.helpers.Reopen()
			}
			o.state.Store(CloseStateIdle)
			return outcome
		}
		outcome.RestartErr = err
		o.logger.Error("relaunch failed, terminating instead", zap.Error(err))
		sendEvent(o.events, "", EventTypeFailed, "relaunch failed", 0, ReasonRestartFailed, err)
	}

	o.state.Store(CloseStateTerminating)
	outcome.State = CloseStateTerminating
	metrics.IncrementCloseDecision("terminate")
	sendEvent(o.events, "", EventTypeTerminating, "terminating application", 0, ReasonShutdown, nil)
	o.logger.Info("close handled, terminating")
	w.AllowClose()
	return outcome
}

func (o *Orchestrator) decideRelaunch() (bool, error) {
	if o.settings == nil {
		return true, nil
	}
	doc, err := o.settings.Load()
	if err != nil {
		o.logger.Warn("read settings during close, defaulting to relaunch", zap.Error(err))
		return true, err
	}
	return doc.RelaunchOnClose(), nil
}

// CloseGuard is the Window implementation used by the daemon: Done is closed
// once the orchestrator allows the close.
type CloseGuard struct {
	prevented atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewCloseGuard constructs an open guard.
func NewCloseGuard() *CloseGuard {
	return &CloseGuard{done: make(chan struct{})}
}

func (g *CloseGuard) PreventClose() {
	g.prevented.Store(true)
}

func (g *CloseGuard) AllowClose() {
	g.once.Do(func() { close(g.done) })
}

// Prevented reports whether a close has been suppressed.
func (g *CloseGuard) Prevented() bool {
	return g.prevented.Load()
}

// Done is closed once the close has been allowed.
func (g *CloseGuard) Done() <-chan struct{} {
	return g.done
}
