//go:build !windows

package relaunch

import "golang.org/x/sys/unix"

func replaceImage(path string, argv []string, env []string) error {
	return unix.Exec(path, argv, env)
}
