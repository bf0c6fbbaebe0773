package recorder

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/hangfuzz/pkg/cas"
	"github.com/saworbit/hangfuzz/pkg/driver"
	"github.com/saworbit/hangfuzz/pkg/merkle"
)

// SessionRecord describes one fuzz campaign.
type SessionRecord struct {
	ID           string   `json:"id"`
	Target       string   `json:"target"`
	Args         []string `json:"args,omitempty"`
	TimeoutNS    int64    `json:"timeout_ns"`
	Planned      int      `json:"planned"`
	StartedAt    int64    `json:"started_at"`  // unix nanos
	FinishedAt   int64    `json:"finished_at"` // zero while running
	Iterations   int      `json:"iterations"`
	Completed    int      `json:"completed"`
	TimedOut     int      `json:"timed_out"`
	SpawnErrors  int      `json:"spawn_errors"`
	NonZeroExits int      `json:"nonzero_exits"`
	FirstHang    int      `json:"first_hang"`
	ElapsedNS    int64    `json:"elapsed_ns"`
	Interrupted  bool     `json:"interrupted,omitempty"`
	// Fingerprint is the Merkle root over the recorded run tokens.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Timeout returns the per-iteration timeout of the session.
func (s SessionRecord) Timeout() time.Duration { return time.Duration(s.TimeoutNS) }

// Elapsed returns the campaign wall-clock time.
func (s SessionRecord) Elapsed() time.Duration { return time.Duration(s.ElapsedNS) }

// Finished reports whether Finish was called for the session.
func (s SessionRecord) Finished() bool { return s.FinishedAt != 0 }

// RunRecord links one iteration to its outcome and captured output.
type RunRecord struct {
	Iteration  int    `json:"i"`
	Outcome    string `json:"outcome"`
	ExitCode   int    `json:"exit_code"`
	Error      string `json:"error,omitempty"`
	CID        string `json:"cid,omitempty"`
	Size       int    `json:"size"`
	StartedAt  int64  `json:"ts"`
	DurationNS int64  `json:"duration_ns"`
}

// Duration returns how long the iteration ran.
func (r RunRecord) Duration() time.Duration { return time.Duration(r.DurationNS) }

// Token is the run's leaf in the session fingerprint.
func (r RunRecord) Token() string {
	return merkle.Token(r.Iteration, r.Outcome, r.ExitCode, r.CID)
}

// Recorder persists a session and its runs to Pebble. It implements
// driver.Observer.
type Recorder struct {
	db      *pebble.DB
	store   *cas.CASStore
	session SessionRecord
	tokens  []string
}

// Start writes the initial session record and returns a recorder bound to it.
func Start(db *pebble.DB, store *cas.CASStore, target string, args []string, timeout time.Duration, planned int) (*Recorder, error) {
	if db == nil || store == nil {
		return nil, fmt.Errorf("recorder requires db and store")
	}

	now := time.Now()
	id, err := newSessionID(now)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	r := &Recorder{
		db:    db,
		store: store,
		session: SessionRecord{
			ID:        id,
			Target:    target,
			Args:      args,
			TimeoutNS: int64(timeout),
			Planned:   planned,
			StartedAt: now.UnixNano(),
			FirstHang: -1,
		},
	}

	if err := r.writeSession(pebble.Sync); err != nil {
		return nil, err
	}
	return r, nil
}

// SessionID returns the id of the session being recorded.
func (r *Recorder) SessionID() string {
	return r.session.ID
}

// ObserveRun stores the output in CAS and appends a run record.
func (r *Recorder) ObserveRun(res driver.Result) error {
	cid, err := r.store.Put(res.Output)
	if err != nil {
		return fmt.Errorf("store output: %w", err)
	}

	rec := RunRecord{
		Iteration:  res.Iteration,
		Outcome:    res.Outcome.String(),
		ExitCode:   res.ExitCode,
		CID:        cid,
		Size:       len(res.Output),
		StartedAt:  res.Started.UnixNano(),
		DurationNS: int64(res.Duration),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	batch := r.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(runKey(r.session.ID, res.Iteration), payload, pebble.NoSync); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("commit run record: %w", err)
	}
	r.tokens = append(r.tokens, rec.Token())
	return nil
}

// Finish stores the final summary and flushes the database.
func (r *Recorder) Finish(sum driver.Summary, interrupted bool) (SessionRecord, error) {
	r.session.FinishedAt = time.Now().UnixNano()
	r.session.Iterations = sum.Iterations
	r.session.Completed = sum.Completed
	r.session.TimedOut = sum.TimedOut
	r.session.SpawnErrors = sum.SpawnErrors
	r.session.NonZeroExits = sum.NonZeroExits
	r.session.FirstHang = sum.FirstHang
	r.session.ElapsedNS = int64(sum.Elapsed)
	r.session.Interrupted = interrupted

	fp, err := merkle.Fingerprint(r.tokens)
	if err != nil {
		return r.session, fmt.Errorf("fingerprint session: %w", err)
	}
	r.session.Fingerprint = fp

	if err := r.writeSession(pebble.Sync); err != nil {
		return r.session, err
	}
	if err := r.db.Flush(); err != nil {
		return r.session, fmt.Errorf("flush pebble: %w", err)
	}
	return r.session, nil
}

func (r *Recorder) writeSession(opts *pebble.WriteOptions) error {
	payload, err := json.Marshal(r.session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.db.Set(sessionKey(r.session.ID), payload, opts); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func sessionKey(id string) []byte {
	return []byte(cas.PrefixSession + id)
}

func runKey(id string, iteration int) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", cas.PrefixRun, id, iteration))
}

func newSessionID(now time.Time) (string, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%020d-%s", now.UnixNano(), suffix), nil
}

func randomSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
