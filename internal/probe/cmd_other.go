//go:build !windows

package probe

import "os/exec"

func configureCmd(cmd *exec.Cmd) {}
