//go:build !windows

package gateway

import "os/exec"

func configureCmd(cmd *exec.Cmd) {}
