//go:build !windows

package driver

import (
	"errors"
	"log"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcess puts the child in its own process group so a timeout
// kills everything it forked, not just the direct child.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := killGroup(cmd.Process.Pid)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}

// reapProcess kills whatever is left in the child's process group after
// Wait returned, including background jobs of a target that exited 0.
func reapProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := killGroup(cmd.Process.Pid); err != nil && !errors.Is(err, unix.ESRCH) {
		log.Printf("[driver] failed to reap process group %d: %v", cmd.Process.Pid, err)
	}
}

func killGroup(pgid int) error {
	return unix.Kill(-pgid, unix.SIGKILL)
}
