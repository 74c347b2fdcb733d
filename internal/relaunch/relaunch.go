// Package relaunch restarts the running kioskd binary in place.
package relaunch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// GenerationEnv counts how many times the process image has been relaunched.
const GenerationEnv = "KIOSKD_RELAUNCH_GENERATION"

// Option configures an Exec restarter.
type Option func(*Exec)

// WithBeforeRestart registers fn to run just before the image is replaced,
// typically to flush logs.
func WithBeforeRestart(fn func()) Option {
	return func(e *Exec) {
		if fn != nil {
			e.before = append(e.before, fn)
		}
	}
}

// WithArgs overrides the arguments passed to the new image. By default the
// current os.Args[1:] are reused.
func WithArgs(args []string) Option {
	return func(e *Exec) {
		e.args = append([]string(nil), args...)
	}
}

// Exec restarts by executing the binary found at os.Executable.
type Exec struct {
	logger *zap.Logger
	args   []string
	before []func()

	executable func() (string, error)
	environ    func() []string
	replace    func(path string, argv []string, env []string) error
}

// New constructs a restarter for the current platform.
func New(logger *zap.Logger, opts ...Option) *Exec {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exec{
		logger:     logger,
		args:       append([]string(nil), os.Args[1:]...),
		executable: os.Executable,
		environ:    os.Environ,
		replace:    replaceImage,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restart replaces the running process. On success it does not return on
// Unix; on Windows the new process is started and the current one exits.
func (e *Exec) Restart(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	path, err := e.executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	argv := append([]string{path}, e.args...)
	env := nextGeneration(e.environ())

	e.logger.Info("relaunching", zap.String("path", path), zap.Strings("args", e.args))
	for _, fn := range e.before {
		fn()
	}
	if err := e.replace(path, argv, env); err != nil {
		return fmt.Errorf("relaunch %s: %w", path, err)
	}
	return nil
}

func nextGeneration(env []string) []string {
	out := make([]string, 0, len(env)+1)
	gen := 0
	prefix := GenerationEnv + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			if n, err := strconv.Atoi(strings.TrimPrefix(kv, prefix)); err == nil && n > 0 {
				gen = n
			}
			continue
		}
		out = append(out, kv)
	}
	return append(out, prefix+strconv.Itoa(gen+1))
}

// Generation returns the relaunch generation of the current process.
func Generation() int {
	n, err := strconv.Atoi(os.Getenv(GenerationEnv))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
