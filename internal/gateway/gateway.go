// Package gateway discovers the host's default IPv4 gateway by running the
// platform's network introspection command and parsing its text output.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	goruntime "runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/kioskd/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithGOOS selects the strategy for a platform other than the running one.
func WithGOOS(goos string) Option {
	return func(d *Discoverer) {
		d.goos = goos
	}
}

// WithRunner replaces command execution.
func WithRunner(run Runner) Option {
	return func(d *Discoverer) {
		if run != nil {
			d.run = run
		}
	}
}

// WithTimeout bounds the introspection command.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Discoverer) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger sets the discoverer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Discoverer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Discoverer looks up the default gateway. It holds no mutable state and is
// safe for concurrent use.
type Discoverer struct {
	goos    string
	run     Runner
	timeout time.Duration
	logger  *zap.Logger
}

// New constructs a discoverer for the running platform.
func New(opts ...Option) *Discoverer {
	d := &Discoverer{
		goos:    goruntime.GOOS,
		run:     runCommand,
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover runs the platform command and returns the first default gateway it
// reports. The address is recomputed on every call.
func (d *Discoverer) Discover(ctx context.Context) (string, error) {
	start := time.Now()
	addr, err := d.discover(ctx)
	metrics.ObserveGatewayLookup(time.Since(start), err)
	if err != nil {
		d.logger.Debug("gateway discovery failed", zap.String("goos", d.goos), zap.Error(err))
		return "", err
	}
	d.logger.Debug("gateway discovered", zap.String("goos", d.goos), zap.String("gateway", addr))
	return addr, nil
}

func (d *Discoverer) discover(ctx context.Context) (string, error) {
	strategy, ok := StrategyFor(d.goos)
	if !ok {
		return "", &UnsupportedPlatformError{GOOS: d.goos}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	name, args := strategy.Command()
	command := strings.TrimSpace(name + " " + strings.Join(args, " "))
	out, err := d.run(runCtx, name, args...)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", &NotFoundError{Platform: strategy.Platform(), Reason: fmt.Sprintf("%q timed out after %s", command, d.timeout), Err: err}
		}
		return "", &NotFoundError{Platform: strategy.Platform(), Reason: fmt.Sprintf("%q failed", command), Err: err}
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return "", &NotFoundError{Platform: strategy.Platform(), Reason: fmt.Sprintf("%q produced no output", command)}
	}
	addr, ok := strategy.Parse(string(out))
	if !ok {
		return "", &NotFoundError{Platform: strategy.Platform(), Reason: fmt.Sprintf("no IPv4 default gateway in %q output", command)}
	}
	return addr, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	configureCmd(cmd)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, err
	}
	return out, nil
}
