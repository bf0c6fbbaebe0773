package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/hangfuzz/internal/metrics"
	"github.com/saworbit/hangfuzz/internal/version"
	"github.com/saworbit/hangfuzz/pkg/cas"
	"github.com/saworbit/hangfuzz/pkg/config"
	"github.com/saworbit/hangfuzz/pkg/diff"
	"github.com/saworbit/hangfuzz/pkg/driver"
	"github.com/saworbit/hangfuzz/pkg/recorder"
	"github.com/saworbit/hangfuzz/pkg/report"
	"github.com/saworbit/hangfuzz/pkg/watch"
	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hangfuzz",
		Short:         "hangfuzz - run a binary repeatedly and count the runs that hang",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(), newReportCmd(), newCompareCmd(), newSessionsCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cfg := config.LoadFromEnv()

	cmd := &cobra.Command{
		Use:   "run [flags] [-- <target> [args...]]",
		Short: "Launch the target repeatedly under a timeout and report hangs",
		Long: `Launch the target repeatedly under a timeout and report hangs.

Each iteration prints one line to stdout:

  ==> <i> "<stdout>"             completed; output is Go-quoted, so "OK\n"
                                 rather than b'OK\n'
  ==> <i>  DeadLock panic!!!     timed out
  ==> <i>  spawn failed: <err>   the target could not be started
  ==> <i>  exit status <n>: ...  the target exited non-zero or crashed

followed by the elapsed seconds of the whole campaign.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				cfg.Target = args[0]
				cfg.Args = args[1:]
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runFuzz(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Target, "target", cfg.Target, "Executable to launch on every iteration")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-iteration timeout; exceeding it counts as a hang")
	f.IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "Number of sequential iterations")
	f.DurationVar(&cfg.KillGrace, "kill-grace", cfg.KillGrace, "How long to wait for pipes after the target is killed")
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "Directory where the Pebble session journal is stored (disabled if empty)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Address for the Prometheus /metrics endpoint (disabled if empty)")
	f.StringVar(&cfg.HashAlgo, "hash", cfg.HashAlgo, "Hash for captured output CIDs (sha256 or blake3)")
	f.BoolVar(&cfg.FailOnHang, "fail-on-hang", cfg.FailOnHang, "Exit non-zero if any iteration hung")
	f.BoolVar(&cfg.WaitForTarget, "wait-for-target", cfg.WaitForTarget, "Wait for the target to be created before starting")
	f.DurationVar(&cfg.WaitTimeout, "wait-timeout", cfg.WaitTimeout, "How long --wait-for-target may block")
	return cmd
}

func runFuzz(ctx context.Context, cfg *config.FuzzConfig, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WaitForTarget {
		waitCtx, cancel := context.WithTimeout(ctx, cfg.WaitTimeout)
		err := watch.WaitReady(waitCtx, cfg.Target, targetReady, targetSettle)
		cancel()
		if err != nil {
			if _, checkErr := driver.CheckTarget(cfg.Target); checkErr != nil {
				return fmt.Errorf("wait for target: %w (last check: %v)", err, checkErr)
			}
			return fmt.Errorf("wait for target: %w", err)
		}
	}

	target, err := driver.CheckTarget(cfg.Target)
	if err != nil {
		return err
	}

	runner := &driver.Runner{
		Target:    target,
		Args:      cfg.Args,
		Timeout:   cfg.Timeout,
		KillGrace: cfg.KillGrace,
		Stderr:    stderr,
	}

	observers := []driver.Observer{metrics.Observer{}}
	metrics.SetDriverInfo("", "", version.Version)
	metrics.StartCampaign(cfg.Iterations)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, log.Default()); err != nil {
				log.Printf("[metrics] endpoint stopped: %v", err)
			}
		}()
	}

	var rec *recorder.Recorder
	if cfg.StateDir != "" {
		db, err := recorder.OpenDB(cfg.StateDir, false)
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := cas.NewCASStore(db, cfg.HashAlgo)
		if err != nil {
			return fmt.Errorf("init CAS: %w", err)
		}

		rec, err = recorder.Start(db, store, cfg.Target, cfg.Args, cfg.Timeout, cfg.Iterations)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		observers = append(observers, rec)
		log.Printf("[record] session %s", rec.SessionID())
	}

	log.Printf("[fuzz] %d iterations of %s (timeout %s, worst case %s)",
		cfg.Iterations, target, cfg.Timeout, cfg.WorstCaseDuration())

	d := driver.New(runner, stdout, observers...)
	d.SetLogger(log.New(stderr, "", log.LstdFlags))
	sum, runErr := d.Fuzz(ctx, cfg.Iterations)
	metrics.FinishCampaign(sum.Elapsed)
	log.Printf("[fuzz] %s", sum)

	if rec != nil {
		interrupted := errors.Is(runErr, context.Canceled)
		if _, err := rec.Finish(sum, interrupted); err != nil {
			log.Printf("[record] failed to finish session: %v", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if cfg.FailOnHang && sum.TimedOut > 0 {
		return fmt.Errorf("%w: %d of %d iterations timed out (first at %d)",
			driver.ErrHangsDetected, sum.TimedOut, sum.Iterations, sum.FirstHang)
	}
	return nil
}

// targetSettle is how long a freshly built target must stay untouched
// before the first iteration launches it.
const targetSettle = 250 * time.Millisecond

func targetReady(path string) bool {
	_, err := driver.CheckTarget(path)
	return err == nil
}

func newReportCmd() *cobra.Command {
	var stateDir string
	var sessionID string
	var showOutput int
	var engineName string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise a recorded session (latest by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			return runReport(stateDir, sessionID, showOutput, engineName, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", os.Getenv("HANGFUZZ_STATE_DIR"), "Directory where Pebble state is stored")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: latest)")
	cmd.Flags().IntVar(&showOutput, "show-output", -1, "Print the captured output of one iteration instead of the summary")
	cmd.Flags().StringVar(&engineName, "diff-engine", "bsdiff", "Engine used to measure output variants against the baseline")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var stateDir string
	var engineName string

	cmd := &cobra.Command{
		Use:   "compare <session-a> <session-b>",
		Short: "Compare the outcome sequences of two recorded sessions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			return runCompare(stateDir, args[0], args[1], engineName, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", os.Getenv("HANGFUZZ_STATE_DIR"), "Directory where Pebble state is stored")
	cmd.Flags().StringVar(&engineName, "diff-engine", "bsdiff", "Engine used to measure output variants against the baseline")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			return runSessions(stateDir, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", os.Getenv("HANGFUZZ_STATE_DIR"), "Directory where Pebble state is stored")
	return cmd
}

func runReport(stateDir, sessionID string, showOutput int, engineName string, out io.Writer) error {
	engine, err := diff.NewEngine(engineName)
	if err != nil {
		return err
	}

	db, store, err := openReadOnly(stateDir)
	if err != nil {
		return err
	}
	defer db.Close()

	session, err := resolveSession(db, sessionID)
	if err != nil {
		return err
	}

	runs, err := recorder.LoadRuns(db, session.ID)
	if err != nil {
		return fmt.Errorf("load runs: %w", err)
	}

	if showOutput >= 0 {
		for _, run := range runs {
			if run.Iteration != showOutput {
				continue
			}
			data, err := store.Get(run.CID)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		}
		return fmt.Errorf("iteration %d not recorded in session %s", showOutput, session.ID)
	}

	rep, err := report.Build(session, runs, store, engine)
	if err != nil {
		return err
	}
	if stats, err := store.GetStats(); err == nil {
		rep.Store = &stats
	} else {
		log.Printf("[report] failed to read store stats: %v", err)
	}
	return rep.Render(out)
}

func runCompare(stateDir, idA, idB, engineName string, out io.Writer) error {
	engine, err := diff.NewEngine(engineName)
	if err != nil {
		return err
	}

	db, store, err := openReadOnly(stateDir)
	if err != nil {
		return err
	}
	defer db.Close()

	build := func(id string) (*report.Report, error) {
		session, err := recorder.LoadSession(db, id)
		if err != nil {
			return nil, err
		}
		runs, err := recorder.LoadRuns(db, id)
		if err != nil {
			return nil, fmt.Errorf("load runs for %s: %w", id, err)
		}
		return report.Build(session, runs, store, engine)
	}

	a, err := build(idA)
	if err != nil {
		return err
	}
	b, err := build(idB)
	if err != nil {
		return err
	}
	cmp, err := report.Compare(a, b)
	if err != nil {
		return fmt.Errorf("compare sessions: %w", err)
	}
	return cmp.Render(out)
}

func runSessions(stateDir string, out io.Writer) error {
	db, _, err := openReadOnly(stateDir)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := recorder.ListSessions(db)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		status := strconv.Itoa(s.Iterations) + "/" + strconv.Itoa(s.Planned)
		if !s.Finished() {
			status = "incomplete"
		} else if s.Interrupted {
			status += " interrupted"
		}
		started := time.Unix(0, s.StartedAt).UTC().Format(time.RFC3339)
		if _, err := fmt.Fprintf(out, "%s  %s  %-16s hung=%d  %s\n", s.ID, started, status, s.TimedOut, s.Target); err != nil {
			return err
		}
	}
	return nil
}

func openReadOnly(stateDir string) (*pebble.DB, *cas.CASStore, error) {
	db, err := recorder.OpenDB(stateDir, true)
	if err != nil {
		return nil, nil, err
	}

	// The hash only matters for writes; reads go by CID.
	store, err := cas.NewCASStore(db, config.DefaultConfig().HashAlgo)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init CAS: %w", err)
	}
	return db, store, nil
}

func resolveSession(db *pebble.DB, id string) (recorder.SessionRecord, error) {
	if id == "" || id == "latest" {
		return recorder.LatestSession(db)
	}
	return recorder.LoadSession(db, id)
}
