package engine

import (
	"errors"
	"fmt"
)

// ErrUnknownHelper is returned for operations on a slot that was never
// registered.
var ErrUnknownHelper = errors.New("unknown helper")

// ErrClosing is returned by Start once the supervisor has been drained for a
// close or shutdown.
var ErrClosing = errors.New("supervisor is closing")

// SpawnError reports that the operating system refused to create a helper
// process.
type SpawnError struct {
	Helper string
	Path   string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn helper %s (%s): %v", e.Helper, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// KillError reports that a helper process could not be terminated.
type KillError struct {
	Helper string
	PID    int
	Err    error
}

func (e *KillError) Error() string {
	return fmt.Sprintf("kill helper %s (pid %d): %v", e.Helper, e.PID, e.Err)
}

func (e *KillError) Unwrap() error {
	return e.Err
}
