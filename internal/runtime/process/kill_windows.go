//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func (h *handle) Kill(ctx context.Context) error {
	if h.cmd.Process == nil || h.Exited() {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill helper %s: %w", h.name, err)
	}
	return h.awaitExit(ctx)
}
