package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// maxCommandOutput bounds how much output a check command may leave behind
// for the failure reason.
const maxCommandOutput = 4 << 10

// commandProber runs a reachability command such as ping against the gateway.
// On failure the last line the command printed becomes part of the reason.
type commandProber struct {
	command []string
}

func newCommandProber(spec *CommandSpec) (Prober, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("probe: command requires at least one argument")
	}
	return &commandProber{command: append([]string(nil), spec.Command...)}, nil
}

func (p *commandProber) Probe(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	configureCmd(cmd)
	out := &tailBuffer{max: maxCommandOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("command failed: %w", err)
		}
		if line := lastLine(out.Bytes()); line != "" {
			return fmt.Errorf("exit %d: %s", exitErr.ExitCode(), line)
		}
		return fmt.Errorf("exit %d", exitErr.ExitCode())
	}
	return nil
}

// tailBuffer keeps the most recent max bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > t.max {
		p = p[len(p)-t.max:]
	}
	if over := t.buf.Len() + len(p) - t.max; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) Bytes() []byte {
	return t.buf.Bytes()
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.ReplaceAll(string(out), "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
