//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func (h *handle) Kill(ctx context.Context) error {
	if h.cmd.Process == nil || h.Exited() {
		return nil
	}

	pid := h.cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		// The group may be gone while the leader lingers; fall back to the pid.
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("kill helper %s: %w", h.name, err)
		}
	}
	return h.awaitExit(ctx)
}
