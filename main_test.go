//go:build !windows

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/saworbit/hangfuzz/pkg/driver"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommandRecordsSession(t *testing.T) {
	tmp := t.TempDir()
	stateDir := filepath.Join(tmp, "state")
	target := writeScript(t, tmp, "job", "printf OK")

	out, err := execute(t, "run", "--iterations", "3", "--timeout", "5s", "--state-dir", stateDir, "--", target)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 3 status lines plus elapsed, got:\n%s", out)
	}
	for i, want := range []string{`==> 0 "OK"`, `==> 1 "OK"`, `==> 2 "OK"`} {
		if lines[i] != want {
			t.Errorf("line %d = %q, want %q", i, lines[i], want)
		}
	}

	sessions, err := execute(t, "sessions", "--state-dir", stateDir)
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if strings.Count(sessions, "\n") != 1 || !strings.Contains(sessions, "3/3") {
		t.Errorf("unexpected sessions listing:\n%s", sessions)
	}

	rep, err := execute(t, "report", "--state-dir", stateDir)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	for _, want := range []string{"iterations  3 of 3 planned (finished)", "(verified)", "store       1 outputs", "output variants (1)", `"OK"`} {
		if !strings.Contains(rep, want) {
			t.Errorf("expected %q in report:\n%s", want, rep)
		}
	}

	output, err := execute(t, "report", "--state-dir", stateDir, "--show-output", "1")
	if err != nil {
		t.Fatalf("report --show-output failed: %v", err)
	}
	if output != "OK" {
		t.Errorf("show-output = %q, want %q", output, "OK")
	}
}

func TestRunCommandPassesArgs(t *testing.T) {
	out, err := execute(t, "run", "--iterations", "1", "--", "/bin/sh", "-c", "printf hello")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.HasPrefix(out, `==> 0 "hello"`) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRunCommandFailOnHang(t *testing.T) {
	target := writeScript(t, t.TempDir(), "stuck", "sleep 5")

	out, err := execute(t, "run", "--iterations", "2", "--timeout", "100ms", "--kill-grace", "100ms", "--fail-on-hang", "--", target)
	if !errors.Is(err, driver.ErrHangsDetected) {
		t.Fatalf("expected ErrHangsDetected, got %v", err)
	}
	if strings.Count(out, driver.DeadlockMessage) != 2 {
		t.Errorf("expected two deadlock lines:\n%s", out)
	}
}

func TestRunCommandHangsDoNotFailByDefault(t *testing.T) {
	target := writeScript(t, t.TempDir(), "stuck", "sleep 5")

	if _, err := execute(t, "run", "--iterations", "1", "--timeout", "100ms", "--", target); err != nil {
		t.Fatalf("hangs should not fail the run without --fail-on-hang: %v", err)
	}
}

func TestRunCommandMissingTarget(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "target", "debug", "job")

	out, err := execute(t, "run", "--iterations", "5", "--target", missing)
	if !errors.Is(err, driver.ErrTargetNotExecutable) {
		t.Fatalf("expected ErrTargetNotExecutable, got %v", err)
	}
	if strings.Contains(out, driver.DeadlockMessage) {
		t.Errorf("a missing target must not be reported as a deadlock:\n%s", out)
	}
}

func TestRunCommandRejectsInvalidConfig(t *testing.T) {
	if _, err := execute(t, "run", "--iterations", "-1", "--", "/bin/true"); err == nil {
		t.Fatal("expected validation error for negative iterations")
	}
}

func TestCompareCommand(t *testing.T) {
	tmp := t.TempDir()
	stateDir := filepath.Join(tmp, "state")
	target := writeScript(t, tmp, "job", "printf OK")

	for i := 0; i < 2; i++ {
		if _, err := execute(t, "run", "--iterations", "2", "--state-dir", stateDir, "--", target); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	listing, err := execute(t, "sessions", "--state-dir", stateDir)
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(listing), "\n") {
		ids = append(ids, strings.Fields(line)[0])
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %d:\n%s", len(ids), listing)
	}

	out, err := execute(t, "compare", "--state-dir", stateDir, ids[0], ids[1])
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if !strings.Contains(out, "identical outcome sequence") {
		t.Errorf("expected identical sessions:\n%s", out)
	}
}

func TestReportRejectsUnknownDiffEngine(t *testing.T) {
	tmp := t.TempDir()
	stateDir := filepath.Join(tmp, "state")
	target := writeScript(t, tmp, "job", "printf OK")

	if _, err := execute(t, "run", "--iterations", "1", "--state-dir", stateDir, "--", target); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, err := execute(t, "report", "--state-dir", stateDir, "--diff-engine", "xdelta"); err == nil {
		t.Fatal("expected error for unsupported diff engine")
	}
}

func TestReportRequiresStateDir(t *testing.T) {
	t.Setenv("HANGFUZZ_STATE_DIR", "")
	if _, err := execute(t, "report"); err == nil {
		t.Fatal("expected error without --state-dir")
	}
}

func TestRunHelpDocumentsStatusLines(t *testing.T) {
	out, err := execute(t, "run", "--help")
	if err != nil {
		t.Fatalf("run --help failed: %v", err)
	}
	for _, want := range []string{driver.DeadlockMessage, `Go-quoted, so "OK\n"`, `b'OK\n'`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in help:\n%s", want, out)
		}
	}
}
