package driver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"
)

// DefaultKillGrace bounds Wait when the Runner does not set KillGrace.
const DefaultKillGrace = 500 * time.Millisecond

// Runner launches one target invocation under a timeout.
type Runner struct {
	Target  string
	Args    []string
	Timeout time.Duration

	// KillGrace bounds Wait after the process is killed or exits while a
	// descendant still holds its stdout. Zero means DefaultKillGrace.
	KillGrace time.Duration

	// Stderr receives the child's stderr; nil discards it.
	Stderr io.Writer
}

// RunOnce launches target with no arguments and waits up to timeout.
func RunOnce(ctx context.Context, target string, timeout time.Duration) Result {
	r := &Runner{Target: target, Timeout: timeout}
	return r.RunOnce(ctx)
}

// RunOnce spawns the target, captures stdout and classifies how it ended.
func (r *Runner) RunOnce(ctx context.Context) Result {
	res := Result{Started: time.Now(), ExitCode: -1}

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.Target, r.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr
	cmd.WaitDelay = r.KillGrace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultKillGrace
	}
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		res.Duration = time.Since(res.Started)
		if ctx.Err() != nil {
			res.Outcome = Interrupted
			res.Err = ctx.Err()
			return res
		}
		res.Outcome = SpawnError
		res.Err = err
		return res
	}

	waitErr := cmd.Wait()
	res.Duration = time.Since(res.Started)
	// Nothing the target forked may outlive the iteration.
	reapProcess(cmd)
	res.Output = stdout.Bytes()

	return classify(ctx, runCtx, res, waitErr)
}

func classify(parent, runCtx context.Context, res Result, waitErr error) Result {
	// Parent cancellation wins over the deadline: the user stopped the
	// campaign, the target did not necessarily hang.
	if parent.Err() != nil {
		res.Outcome = Interrupted
		res.Err = parent.Err()
		return res
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.Outcome = TimedOut
		res.Err = runCtx.Err()
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.Outcome = Completed
		res.ExitCode = 0
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// exited 0 but a descendant kept the pipe open past KillGrace
		res.Outcome = Completed
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.Outcome = NonZeroExit
		res.ExitCode = exitErr.ExitCode()
		res.Err = exitErr
	default:
		res.Outcome = SpawnError
		res.Err = waitErr
	}
	return res
}
