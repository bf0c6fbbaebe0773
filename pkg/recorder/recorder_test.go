package recorder

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/saworbit/hangfuzz/pkg/cas"
	"github.com/saworbit/hangfuzz/pkg/driver"
	"github.com/saworbit/hangfuzz/pkg/merkle"
)

func setupStore(t *testing.T) (*pebble.DB, *cas.CASStore) {
	t.Helper()

	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := cas.NewCASStore(db, "sha256")
	if err != nil {
		t.Fatalf("NewCASStore() error = %v", err)
	}
	return db, store
}

func observe(t *testing.T, rec *Recorder, results ...driver.Result) driver.Summary {
	t.Helper()

	sum := driver.Summary{FirstHang: -1, Started: time.Now()}
	for _, res := range results {
		if err := rec.ObserveRun(res); err != nil {
			t.Fatalf("ObserveRun(%d) error = %v", res.Iteration, err)
		}
		sum.Add(res)
	}
	sum.Elapsed = 3 * time.Second
	return sum
}

func TestRecorderRoundTrip(t *testing.T) {
	db, store := setupStore(t)

	rec, err := Start(db, store, "./target/debug/job", []string{"--rounds", "3"}, 2*time.Second, 4)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	started := time.Now()
	sum := observe(t, rec,
		driver.Result{Iteration: 0, Outcome: driver.Completed, Output: []byte("OK"), Started: started, Duration: time.Millisecond},
		driver.Result{Iteration: 1, Outcome: driver.TimedOut, ExitCode: -1, Err: errors.New("context deadline exceeded"), Started: started, Duration: 2 * time.Second},
		driver.Result{Iteration: 2, Outcome: driver.Completed, Output: []byte("OK"), Started: started},
		driver.Result{Iteration: 3, Outcome: driver.NonZeroExit, ExitCode: 101, Output: []byte("panicked"), Started: started},
	)

	final, err := rec.Finish(sum, false)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if !final.Finished() {
		t.Error("expected finished session")
	}

	loaded, err := LoadSession(db, rec.SessionID())
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if loaded.Target != "./target/debug/job" || len(loaded.Args) != 2 {
		t.Errorf("unexpected target/args: %q %v", loaded.Target, loaded.Args)
	}
	if loaded.Timeout() != 2*time.Second {
		t.Errorf("Timeout() = %s, want 2s", loaded.Timeout())
	}
	if loaded.Iterations != 4 || loaded.Completed != 2 || loaded.TimedOut != 1 || loaded.NonZeroExits != 1 {
		t.Errorf("unexpected counters: %+v", loaded)
	}
	if loaded.FirstHang != 1 {
		t.Errorf("FirstHang = %d, want 1", loaded.FirstHang)
	}
	if loaded.Elapsed() != 3*time.Second {
		t.Errorf("Elapsed() = %s, want 3s", loaded.Elapsed())
	}

	runs, err := LoadRuns(db, rec.SessionID())
	if err != nil {
		t.Fatalf("LoadRuns() error = %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(runs))
	}
	for i, r := range runs {
		if r.Iteration != i {
			t.Errorf("run %d has iteration %d", i, r.Iteration)
		}
	}
	if runs[0].CID != runs[2].CID {
		t.Error("identical outputs should share a CID")
	}
	if runs[1].Outcome != "timeout" || runs[1].Error == "" {
		t.Errorf("unexpected timeout record: %+v", runs[1])
	}
	if runs[3].ExitCode != 101 {
		t.Errorf("exit code = %d, want 101", runs[3].ExitCode)
	}

	tokens := make([]string, len(runs))
	for i, r := range runs {
		tokens[i] = r.Token()
	}
	if loaded.Fingerprint == "" {
		t.Fatal("expected a recorded fingerprint")
	}
	if err := merkle.VerifyFingerprint(tokens, loaded.Fingerprint); err != nil {
		t.Errorf("recorded fingerprint does not match the journal: %v", err)
	}

	out, err := store.Get(runs[3].CID)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if string(out) != "panicked" {
		t.Errorf("stored output = %q, want %q", out, "panicked")
	}

	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	// "OK", "" (timeout) and "panicked"
	if stats.TotalObjects != 3 {
		t.Errorf("expected 3 distinct outputs, got %d", stats.TotalObjects)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	db, store := setupStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := Start(db, store, "job", nil, time.Second, 0)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		ids = append(ids, rec.SessionID())
		time.Sleep(2 * time.Millisecond)
	}

	sessions, err := ListSessions(db)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i, s := range sessions {
		if s.ID != ids[len(ids)-1-i] {
			t.Errorf("session %d = %s, want %s", i, s.ID, ids[len(ids)-1-i])
		}
		if s.Finished() {
			t.Errorf("session %s should not be finished", s.ID)
		}
	}

	latest, err := LatestSession(db)
	if err != nil {
		t.Fatalf("LatestSession() error = %v", err)
	}
	if latest.ID != ids[2] {
		t.Errorf("LatestSession() = %s, want %s", latest.ID, ids[2])
	}
}

func TestRunsAreScopedToSession(t *testing.T) {
	db, store := setupStore(t)

	a, err := Start(db, store, "job", nil, time.Second, 2)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b, err := Start(db, store, "job", nil, time.Second, 1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	observe(t, a, driver.Result{Iteration: 0, Outcome: driver.Completed}, driver.Result{Iteration: 1, Outcome: driver.Completed})
	observe(t, b, driver.Result{Iteration: 0, Outcome: driver.TimedOut})

	runsA, err := LoadRuns(db, a.SessionID())
	if err != nil {
		t.Fatalf("LoadRuns() error = %v", err)
	}
	runsB, err := LoadRuns(db, b.SessionID())
	if err != nil {
		t.Fatalf("LoadRuns() error = %v", err)
	}
	if len(runsA) != 2 || len(runsB) != 1 {
		t.Errorf("expected 2 and 1 runs, got %d and %d", len(runsA), len(runsB))
	}
}

func TestLoadSessionMissing(t *testing.T) {
	db, _ := setupStore(t)

	if _, err := LoadSession(db, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := LatestSession(db); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound from empty db, got %v", err)
	}
}

func TestOpenDBCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	db, err := OpenDB(dir, false)
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ro, err := OpenDB(dir, true)
	if err != nil {
		t.Fatalf("OpenDB(readOnly) error = %v", err)
	}
	ro.Close()
}
