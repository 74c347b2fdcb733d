package runtime

import (
	"context"
	"time"
)

// Handle is the ownership token for a single live helper process.
type Handle interface {
	// ID uniquely identifies this spawn of the helper.
	ID() string

	// PID returns the operating system process identifier.
	PID() int

	// StartedAt reports when the process was spawned.
	StartedAt() time.Time

	// Exited reports without blocking whether the process has terminated.
	Exited() bool

	// Kill forcefully terminates the process and waits for it to be reaped
	// or for the context to expire. Killing an exited process is not an error.
	Kill(ctx context.Context) error
}

// SpawnSpec describes how to launch a helper executable.
type SpawnSpec struct {
	Name    string
	Path    string
	Args    []string
	Env     map[string]string
	Workdir string
}

// Spawner launches helper executables detached from any console window.
type Spawner interface {
	Spawn(ctx context.Context, spec SpawnSpec) (Handle, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context, spec SpawnSpec) (Handle, error)

// Spawn calls f.
func (f SpawnerFunc) Spawn(ctx context.Context, spec SpawnSpec) (Handle, error) {
	return f(ctx, spec)
}
