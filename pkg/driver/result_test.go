package driver

import (
	"errors"
	"os/exec"
	"testing"
	"time"
)

func TestFormatLine(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{
			name: "completed",
			res:  Result{Iteration: 7, Outcome: Completed, Output: []byte("OK")},
			want: `==> 7 "OK"`,
		},
		{
			name: "completed with newline",
			res:  Result{Iteration: 0, Outcome: Completed, Output: []byte("score 1000\n")},
			want: `==> 0 "score 1000\n"`,
		},
		{
			name: "timed out",
			res:  Result{Iteration: 12, Outcome: TimedOut},
			want: "==> 12  DeadLock panic!!!",
		},
		{
			name: "spawn error",
			res:  Result{Iteration: 3, Outcome: SpawnError, Err: exec.ErrNotFound},
			want: "==> 3  spawn failed: executable file not found in $PATH",
		},
		{
			name: "non-zero exit",
			res:  Result{Iteration: 4, Outcome: NonZeroExit, ExitCode: 101, Output: []byte("panicked")},
			want: `==> 4  exit status 101: "panicked"`,
		},
		{
			name: "killed by signal",
			res:  Result{Iteration: 5, Outcome: NonZeroExit, ExitCode: -1, Err: errors.New("signal: segmentation fault")},
			want: `==> 5  signal: segmentation fault: ""`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLine(tt.res); got != tt.want {
				t.Errorf("FormatLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummaryAdd(t *testing.T) {
	sum := newSummary(time.Now())
	outcomes := []Outcome{Completed, TimedOut, Completed, SpawnError, NonZeroExit, TimedOut}
	for i, o := range outcomes {
		sum.Add(Result{Iteration: i, Outcome: o})
	}

	if sum.Iterations != 6 {
		t.Errorf("Iterations = %d, want 6", sum.Iterations)
	}
	if sum.Completed != 2 || sum.TimedOut != 2 || sum.SpawnErrors != 1 || sum.NonZeroExits != 1 {
		t.Errorf("unexpected counts: %+v", sum)
	}
	if sum.FirstHang != 1 {
		t.Errorf("FirstHang = %d, want 1", sum.FirstHang)
	}
	if got := sum.HangRatio(); got < 0.333 || got > 0.334 {
		t.Errorf("HangRatio() = %f, want 1/3", got)
	}
}

func TestSummaryHangRatioEmpty(t *testing.T) {
	if got := newSummary(time.Now()).HangRatio(); got != 0 {
		t.Errorf("HangRatio() of empty summary = %f, want 0", got)
	}
}

func TestParseOutcome(t *testing.T) {
	for _, o := range []Outcome{Completed, TimedOut, SpawnError, NonZeroExit, Interrupted} {
		got, err := ParseOutcome(o.String())
		if err != nil {
			t.Fatalf("ParseOutcome(%q) error = %v", o.String(), err)
		}
		if got != o {
			t.Errorf("ParseOutcome(%q) = %v, want %v", o.String(), got, o)
		}
	}

	if _, err := ParseOutcome("exploded"); err == nil {
		t.Error("expected error for unknown outcome")
	}
}
