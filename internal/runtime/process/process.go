package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/Paintersrp/kioskd/internal/runtime"
)

type spawner struct{}

// New constructs a spawner that executes helpers as local processes.
func New() runtime.Spawner {
	return &spawner{}
}

// Spawn starts the helper and returns immediately. The process is not tied to
// ctx: cancelling the request that started a helper must not kill it.
func (s *spawner) Spawn(ctx context.Context, spec runtime.SpawnSpec) (runtime.Handle, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if spec.Path == "" {
		return nil, fmt.Errorf("helper %s requires an executable path", spec.Name)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}

	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env
	// Std streams stay nil so they bind to the null device.

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &handle{
		id:        uuid.NewString(),
		name:      spec.Name,
		cmd:       cmd,
		startedAt: time.Now(),
		waitDone:  make(chan struct{}),
	}
	go h.wait()
	return h, nil
}

type handle struct {
	id        string
	name      string
	cmd       *exec.Cmd
	startedAt time.Time

	waitDone chan struct{}
}

// wait reaps the process. The exit status is not reported: a helper that
// dies on its own is only noticed by the next Start.
func (h *handle) wait() {
	_ = h.cmd.Wait()
	close(h.waitDone)
}

func (h *handle) ID() string {
	return h.id
}

func (h *handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *handle) StartedAt() time.Time {
	return h.startedAt
}

func (h *handle) Exited() bool {
	select {
	case <-h.waitDone:
		return true
	default:
		return false
	}
}

func (h *handle) awaitExit(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-h.waitDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for helper %s: %w", h.name, ctx.Err())
	}
}
