package driver

import (
	"fmt"
	"time"
)

// Outcome classifies a single invocation of the target.
type Outcome int

const (
	// Completed means the target exited 0 before the deadline.
	Completed Outcome = iota
	// TimedOut means the deadline fired first; this is the suspected deadlock.
	TimedOut
	// SpawnError means the target could not be launched at all.
	SpawnError
	// NonZeroExit means the target exited with a failure code or died on a signal.
	NonZeroExit
	// Interrupted means the campaign itself was cancelled mid-run. It is not a verdict.
	Interrupted
)

var outcomeNames = [...]string{
	Completed:   "completed",
	TimedOut:    "timeout",
	SpawnError:  "spawn_error",
	NonZeroExit: "nonzero_exit",
	Interrupted: "interrupted",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	for i, name := range outcomeNames {
		if name == s {
			return Outcome(i), nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// Result is the tagged result of one invocation.
type Result struct {
	Iteration int
	Outcome   Outcome
	Output    []byte // captured stdout; partial on timeout
	ExitCode  int    // -1 when the process never exited normally
	Err       error  // spawn cause, exit error, or context error
	Started   time.Time
	Duration  time.Duration
}

// Summary aggregates the outcomes of a campaign.
type Summary struct {
	Iterations   int
	Completed    int
	TimedOut     int
	SpawnErrors  int
	NonZeroExits int
	FirstHang    int // -1 when nothing hung
	Started      time.Time
	Elapsed      time.Duration
}

func newSummary(start time.Time) Summary {
	return Summary{Started: start, FirstHang: -1}
}

// Add folds one result into the summary.
func (s *Summary) Add(res Result) {
	s.Iterations++
	switch res.Outcome {
	case Completed:
		s.Completed++
	case TimedOut:
		s.TimedOut++
		if s.FirstHang < 0 {
			s.FirstHang = res.Iteration
		}
	case SpawnError:
		s.SpawnErrors++
	case NonZeroExit:
		s.NonZeroExits++
	}
}

// HangRatio is the fraction of iterations that timed out.
func (s Summary) HangRatio() float64 {
	if s.Iterations == 0 {
		return 0
	}
	return float64(s.TimedOut) / float64(s.Iterations)
}

func (s Summary) String() string {
	return fmt.Sprintf("%d runs: %d completed, %d hung, %d spawn errors, %d non-zero exits in %s",
		s.Iterations, s.Completed, s.TimedOut, s.SpawnErrors, s.NonZeroExits, s.Elapsed.Round(time.Millisecond))
}
