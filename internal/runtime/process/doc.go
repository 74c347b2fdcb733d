// Package process spawns helper executables as detached local processes and
// tracks them through runtime.Handle values.
//
// On Unix each helper is placed in its own process group and Kill delivers
// SIGKILL to the whole group, so helpers that fork are cleaned up with their
// children. On Windows helpers are created without a console window and Kill
// terminates only the top-level process; grandchildren would need a job object
// to be reaped reliably.
package process
