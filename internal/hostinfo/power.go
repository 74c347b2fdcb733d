package hostinfo

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// CommandRunner runs a command to completion and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Power powers the station off.
type Power struct {
	goos   string
	run    CommandRunner
	logger *zap.Logger
}

// NewPower constructs a Power for the running platform. A nil runner executes
// the command for real.
func NewPower(run CommandRunner, logger *zap.Logger) *Power {
	if run == nil {
		run = runCombined
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Power{goos: runtime.GOOS, run: run, logger: logger}
}

// Shutdown issues an immediate system shutdown on Windows. Other platforms
// are a successful no-op.
func (p *Power) Shutdown(ctx context.Context) error {
	name, args, ok := shutdownCommand(p.goos)
	if !ok {
		p.logger.Info("host shutdown not supported on this platform, ignoring", zap.String("goos", p.goos))
		return nil
	}
	p.logger.Warn("shutting down host", zap.String("command", name+" "+strings.Join(args, " ")))
	if out, err := p.run(ctx, name, args...); err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("shutdown host: %w: %s", err, msg)
		}
		return fmt.Errorf("shutdown host: %w", err)
	}
	return nil
}

func shutdownCommand(goos string) (string, []string, bool) {
	if goos == "windows" {
		return "shutdown", []string{"/s", "/t", "0"}, true
	}
	return "", nil, false
}

func runCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	configureCmd(cmd)
	return cmd.CombinedOutput()
}
