package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Paintersrp/kioskd/internal/metrics"
	"github.com/Paintersrp/kioskd/internal/resources"
	"github.com/Paintersrp/kioskd/internal/runtime"
)

const defaultKillTimeout = 5 * time.Second

// HelperSpec carries the launch parameters for a helper beyond its
// executable path.
type HelperSpec struct {
	Name    string
	Args    []string
	Env     map[string]string
	Workdir string
}

// HelperStatus is a point-in-time view of a slot.
type HelperStatus struct {
	Name      string
	Running   bool
	PID       int
	SpawnID   string
	StartedAt time.Time
}

// StopResult records the outcome of stopping one slot.
type StopResult struct {
	Helper  string
	Stopped bool
	Err     error
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLogger sets the supervisor logger.
func WithLogger(logger *zap.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEvents directs lifecycle events to ch. Sends block, so the consumer must
// keep draining.
func WithEvents(ch chan<- Event) SupervisorOption {
	return func(s *Supervisor) {
		s.events = ch
	}
}

// WithKillTimeout bounds how long Stop waits for a killed helper to be reaped.
func WithKillTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.killTimeout = d
		}
	}
}

// WithHelperSpec registers launch parameters for a helper.
func WithHelperSpec(spec HelperSpec) SupervisorOption {
	return func(s *Supervisor) {
		if spec.Name != "" {
			s.specs[spec.Name] = spec
		}
	}
}

// Supervisor starts, stops and reports on helper processes. Each operation
// holds only the lock of the slot it touches.
type Supervisor struct {
	registry *runtime.Registry
	resolver resources.Resolver
	spawner  runtime.Spawner
	specs    map[string]HelperSpec

	logger      *zap.Logger
	events      chan<- Event
	killTimeout time.Duration

	closing atomic.Bool
}

// NewSupervisor constructs a supervisor over the slots in registry.
func NewSupervisor(registry *runtime.Registry, resolver resources.Resolver, spawner runtime.Spawner, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		registry:    registry,
		resolver:    resolver,
		spawner:     spawner,
		specs:       make(map[string]HelperSpec),
		logger:      zap.NewNop(),
		killTimeout: defaultKillTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range registry.Names() {
		metrics.SetHelperRunning(name, false)
	}
	return s
}

// Helpers returns the supervised helper names in sorted order.
func (s *Supervisor) Helpers() []string {
	return s.registry.Names()
}

// Has reports whether name is a supervised helper.
func (s *Supervisor) Has(name string) bool {
	_, ok := s.registry.Slot(name)
	return ok
}

// Start launches the helper unless the slot already holds a live process. A
// handle whose process has exited is discarded and replaced. After Drain, Start
// returns ErrClosing until Reopen is called.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	slot, ok := s.registry.Slot(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHelper, name)
	}
	log := s.logger.With(zap.String("helper", name))

	path, err := s.resolver.Resolve(name)
	if err != nil {
		log.Error("resolve helper executable", zap.Error(err))
		metrics.IncrementHelperFailure(name, "start")
		sendEvent(s.events, name, EventTypeFailed, "resolve failed", 0, ReasonResolveFailed, err)
		return err
	}

	spec := s.spawnSpec(name, path)
	var (
		started runtime.Handle
		stale   runtime.Handle
	)
	err = slot.Do(func(current runtime.Handle) (runtime.Handle, error) {
		if s.closing.Load() {
			return current, ErrClosing
		}
		if current != nil && !current.Exited() {
			return current, nil
		}
		stale = current
		h, err := s.spawner.Spawn(ctx, spec)
		if err != nil {
			return nil, &SpawnError{Helper: name, Path: path, Err: err}
		}
		started = h
		return h, nil
	})

	if errors.Is(err, ErrClosing) {
		log.Debug("start refused, supervisor is closing")
		return fmt.Errorf("start %s: %w", name, err)
	}
	if stale != nil {
		log.Info("discarded stale handle", zap.Int("pid", stale.PID()), zap.String("spawn_id", stale.ID()))
	}
	if err != nil {
		log.Error("spawn helper", zap.String("path", path), zap.Error(err))
		metrics.IncrementHelperFailure(name, "start")
		metrics.SetHelperRunning(name, false)
		sendEvent(s.events, name, EventTypeFailed, "spawn failed", 0, ReasonSpawnFailed, err)
		return err
	}
	if started == nil {
		log.Debug("helper already running")
		return nil
	}

	log.Info("helper started", zap.Int("pid", started.PID()), zap.String("spawn_id", started.ID()), zap.String("path", path))
	metrics.IncrementHelperStarts(name)
	metrics.SetHelperRunning(name, true)
	reason := ReasonUserStart
	if stale != nil {
		reason = ReasonStaleHandle
	}
	sendEvent(s.events, name, EventTypeStarted, "helper started", started.PID(), reason, nil)
	return nil
}

// Stop force-kills the helper if the slot holds a handle and clears the slot.
// Stopping an empty slot succeeds. The handle is cleared even when the kill
// fails so a wedged process cannot pin the slot.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	_, err := s.stop(ctx, name)
	return err
}

func (s *Supervisor) stop(ctx context.Context, name string) (bool, error) {
	slot, ok := s.registry.Slot(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownHelper, name)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := s.logger.With(zap.String("helper", name))

	var stopped runtime.Handle
	err := slot.Do(func(current runtime.Handle) (runtime.Handle, error) {
		if current == nil {
			return nil, nil
		}
		stopped = current
		killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.killTimeout)
		defer cancel()
		if err := current.Kill(killCtx); err != nil {
			return nil, &KillError{Helper: name, PID: current.PID(), Err: err}
		}
		return nil, nil
	})

	if stopped == nil {
		return false, nil
	}
	metrics.SetHelperRunning(name, false)
	if err != nil {
		log.Warn("kill helper", zap.Int("pid", stopped.PID()), zap.Error(err))
		metrics.IncrementHelperFailure(name, "stop")
		sendEvent(s.events, name, EventTypeFailed, "kill failed", stopped.PID(), ReasonKillFailed, err)
		return true, err
	}
	log.Info("helper stopped", zap.Int("pid", stopped.PID()), zap.String("spawn_id", stopped.ID()))
	sendEvent(s.events, name, EventTypeStopped, "helper stopped", stopped.PID(), ReasonUserStop, nil)
	return true, nil
}

// IsRunning reports whether the slot currently holds a handle. It does not
// probe the process.
func (s *Supervisor) IsRunning(name string) bool {
	slot, ok := s.registry.Slot(name)
	if !ok {
		return false
	}
	return slot.Handle() != nil
}

// Status returns a snapshot of the named slot.
func (s *Supervisor) Status(name string) (HelperStatus, error) {
	slot, ok := s.registry.Slot(name)
	if !ok {
		return HelperStatus{}, fmt.Errorf("%w: %s", ErrUnknownHelper, name)
	}
	status := HelperStatus{Name: name}
	if h := slot.Handle(); h != nil {
		status.Running = true
		status.PID = h.PID()
		status.SpawnID = h.ID()
		status.StartedAt = h.StartedAt()
	}
	return status, nil
}

// Statuses returns a snapshot of every slot in name order.
func (s *Supervisor) Statuses() []HelperStatus {
	names := s.registry.Names()
	out := make([]HelperStatus, 0, len(names))
	for _, name := range names {
		status, err := s.Status(name)
		if err != nil {
			continue
		}
		out = append(out, status)
	}
	return out
}

// StopAll stops every slot concurrently and reports each outcome. One failing
// helper never prevents the others from being stopped.
func (s *Supervisor) StopAll(ctx context.Context) []StopResult {
	names := s.registry.Names()
	results := make([]StopResult, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			stopped, err := s.stop(ctx, name)
			results[i] = StopResult{Helper: name, Stopped: stopped, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Drain refuses further starts and then stops every slot. The flag is checked
// under each slot lock, so a start racing with Drain either completes before
// its slot is stopped or is refused.
func (s *Supervisor) Drain(ctx context.Context) []StopResult {
	if !s.closing.Swap(true) {
		s.logger.Info("supervisor draining, new starts refused")
	}
	return s.StopAll(ctx)
}

// Reopen accepts starts again after Drain.
func (s *Supervisor) Reopen() {
	if s.closing.Swap(false) {
		s.logger.Info("supervisor reopened")
	}
}

// Closing reports whether starts are currently refused.
func (s *Supervisor) Closing() bool {
	return s.closing.Load()
}

// StopErrors joins the failures contained in results, or returns nil.
func StopErrors(results []StopResult) error {
	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) spawnSpec(name, path string) runtime.SpawnSpec {
	spec := runtime.SpawnSpec{Name: name, Path: path}
	hs, ok := s.specs[name]
	if !ok {
		return spec
	}
	if len(hs.Args) > 0 {
		spec.Args = append([]string(nil), hs.Args...)
	}
	if len(hs.Env) > 0 {
		env := make(map[string]string, len(hs.Env))
		for k, v := range hs.Env {
			env[k] = v
		}
		spec.Env = env
	}
	spec.Workdir = hs.Workdir
	return spec
}
