package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// DeadlockMessage is printed for an iteration that exceeded its timeout.
const DeadlockMessage = "DeadLock panic!!!"

// ErrHangsDetected is returned by callers that treat any hang as failure.
var ErrHangsDetected = errors.New("hangs detected")

// Observer is notified after every classified iteration, in order.
type Observer interface {
	ObserveRun(res Result) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Result) error

func (f ObserverFunc) ObserveRun(res Result) error { return f(res) }

// Driver runs the target repeatedly and writes one status line per run.
type Driver struct {
	runner    *Runner
	out       io.Writer
	observers []Observer
	logger    *log.Logger
}

// New creates a driver writing status lines to out.
func New(runner *Runner, out io.Writer, observers ...Observer) *Driver {
	if out == nil {
		out = io.Discard
	}
	return &Driver{
		runner:    runner,
		out:       out,
		observers: observers,
		logger:    log.Default(),
	}
}

// SetLogger overrides the logger used for observer failures.
func (d *Driver) SetLogger(logger *log.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Fuzz calls RunOnce exactly iterations times, one after another, then
// writes the elapsed seconds. It only stops early when ctx is cancelled, in
// which case the partial summary is returned with ctx's error.
func (d *Driver) Fuzz(ctx context.Context, iterations int) (Summary, error) {
	sum := newSummary(time.Now())

	var runErr error
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		res := d.runner.RunOnce(ctx)
		if res.Outcome == Interrupted {
			runErr = res.Err
			break
		}
		res.Iteration = i
		sum.Add(res)

		if _, err := fmt.Fprintln(d.out, FormatLine(res)); err != nil {
			return sum, fmt.Errorf("write status line: %w", err)
		}

		for _, o := range d.observers {
			if err := o.ObserveRun(res); err != nil {
				d.logger.Printf("[fuzz] observer failed on iteration %d: %v", i, err)
			}
		}
	}

	sum.Elapsed = time.Since(sum.Started)
	if _, err := fmt.Fprintf(d.out, "%f\n", sum.Elapsed.Seconds()); err != nil && runErr == nil {
		runErr = fmt.Errorf("write elapsed line: %w", err)
	}

	return sum, runErr
}

// FormatLine renders the per-iteration status line.
func FormatLine(res Result) string {
	switch res.Outcome {
	case Completed:
		return fmt.Sprintf("==> %d %q", res.Iteration, res.Output)
	case TimedOut:
		return fmt.Sprintf("==> %d  %s", res.Iteration, DeadlockMessage)
	case SpawnError:
		return fmt.Sprintf("==> %d  spawn failed: %v", res.Iteration, res.Err)
	case NonZeroExit:
		if res.ExitCode < 0 {
			return fmt.Sprintf("==> %d  %v: %q", res.Iteration, res.Err, res.Output)
		}
		return fmt.Sprintf("==> %d  exit status %d: %q", res.Iteration, res.ExitCode, res.Output)
	default:
		return fmt.Sprintf("==> %d  %s", res.Iteration, res.Outcome)
	}
}
