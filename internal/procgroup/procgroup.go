// SPDX-License-Identifier: MIT

// Package procgroup spawns subprocesses in their own process group and
// reaps the whole group on termination. The media tool forks helpers; a
// plain Process.Kill would orphan them.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Set configures the command to start in a new process group.
// Mandatory for Terminate and ForceKill to act on the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate sends SIGTERM to the command's process group. Nil commands and
// already-exited processes are treated as success.
func Terminate(cmd *exec.Cmd) error {
	return signal(cmd, syscall.SIGTERM)
}

// ForceKill sends SIGKILL to the command's process group.
func ForceKill(cmd *exec.Cmd) error {
	return signal(cmd, syscall.SIGKILL)
}
