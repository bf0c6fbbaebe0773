//go:build windows

package driver

import "os/exec"

// configureProcess keeps the exec.CommandContext default: kill the child only.
func configureProcess(_ *exec.Cmd) {}

// reapProcess is a no-op: Windows has no process groups to signal here.
func reapProcess(_ *exec.Cmd) {}
