package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/saworbit/hangfuzz/pkg/cas"
	"github.com/saworbit/hangfuzz/pkg/diff"
	"github.com/saworbit/hangfuzz/pkg/driver"
	"github.com/saworbit/hangfuzz/pkg/merkle"
	"github.com/saworbit/hangfuzz/pkg/recorder"
)

const (
	previewLen   = 60
	maxHangsList = 20
)

// OutputSource resolves a CID to the captured output bytes.
type OutputSource interface {
	Get(cid string) ([]byte, error)
}

// Variant is one distinct stdout produced by completed iterations.
type Variant struct {
	CID            string
	Count          int
	FirstIteration int
	Size           int
	Preview        string
	Baseline       bool
	Patch          diff.Stats // against the baseline; zero for the baseline itself
}

// Integrity of the journal against the fingerprint stored at Finish.
type Integrity int

const (
	Unrecorded Integrity = iota // session never finished or predates fingerprints
	Verified
	Mismatch
)

func (i Integrity) String() string {
	switch i {
	case Verified:
		return "verified"
	case Mismatch:
		return "MISMATCH"
	default:
		return "not recorded"
	}
}

// Report summarises one recorded session.
type Report struct {
	Session      recorder.SessionRecord
	Counts       map[driver.Outcome]int
	Fingerprint  string
	Integrity    Integrity
	IntegrityErr error
	Hangs        []int // iterations that timed out, capped at maxHangsList
	MaxCompleted time.Duration
	Variants     []Variant

	// Store is the state directory's CAS usage, shown when set.
	Store *cas.CASStats

	tokens     []string
	iterations []int
}

// Build assembles a report from a session and its run records.
func Build(session recorder.SessionRecord, runs []recorder.RunRecord, outputs OutputSource, engine diff.Engine) (*Report, error) {
	rep := &Report{
		Session: session,
		Counts:  make(map[driver.Outcome]int),
	}

	rep.tokens = make([]string, 0, len(runs))
	rep.iterations = make([]int, 0, len(runs))
	byCID := make(map[string]*Variant)

	for _, run := range runs {
		outcome, err := driver.ParseOutcome(run.Outcome)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", run.Iteration, err)
		}
		rep.Counts[outcome]++
		rep.tokens = append(rep.tokens, run.Token())
		rep.iterations = append(rep.iterations, run.Iteration)

		switch outcome {
		case driver.TimedOut:
			if len(rep.Hangs) < maxHangsList {
				rep.Hangs = append(rep.Hangs, run.Iteration)
			}
		case driver.Completed:
			if d := run.Duration(); d > rep.MaxCompleted {
				rep.MaxCompleted = d
			}
			v, ok := byCID[run.CID]
			if !ok {
				v = &Variant{CID: run.CID, FirstIteration: run.Iteration, Size: run.Size}
				byCID[run.CID] = v
			}
			v.Count++
		}
	}

	fp, err := merkle.Fingerprint(rep.tokens)
	if err != nil {
		return nil, fmt.Errorf("fingerprint session: %w", err)
	}
	rep.Fingerprint = fp
	rep.Integrity, rep.IntegrityErr = checkIntegrity(session.Fingerprint, rep.tokens)

	for _, v := range byCID {
		rep.Variants = append(rep.Variants, *v)
	}
	sort.Slice(rep.Variants, func(i, j int) bool {
		if rep.Variants[i].Count != rep.Variants[j].Count {
			return rep.Variants[i].Count > rep.Variants[j].Count
		}
		return rep.Variants[i].FirstIteration < rep.Variants[j].FirstIteration
	})

	if len(rep.Variants) == 0 {
		return rep, nil
	}

	rep.Variants[0].Baseline = true
	base, err := outputs.Get(rep.Variants[0].CID)
	if err != nil {
		return nil, fmt.Errorf("load baseline output: %w", err)
	}
	rep.Variants[0].Preview = preview(base)

	for i := 1; i < len(rep.Variants); i++ {
		data, err := outputs.Get(rep.Variants[i].CID)
		if err != nil {
			return nil, fmt.Errorf("load output %s: %w", rep.Variants[i].CID, err)
		}
		rep.Variants[i].Preview = preview(data)
		stats, err := diff.Measure(engine, base, data)
		if err != nil {
			return nil, fmt.Errorf("diff output %s: %w", rep.Variants[i].CID, err)
		}
		rep.Variants[i].Patch = stats
	}

	return rep, nil
}

func checkIntegrity(recorded string, tokens []string) (Integrity, error) {
	switch {
	case recorded == "":
		return Unrecorded, nil
	case len(tokens) == 0:
		return Mismatch, fmt.Errorf("fingerprint %s recorded but no runs found", recorded)
	}
	if err := merkle.VerifyFingerprint(tokens, recorded); err != nil {
		return Mismatch, err
	}
	return Verified, nil
}

// Total is the number of recorded iterations.
func (r *Report) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// HangRatio is the fraction of recorded iterations that timed out.
func (r *Report) HangRatio() float64 {
	total := r.Total()
	if total == 0 {
		return 0
	}
	return float64(r.Counts[driver.TimedOut]) / float64(total)
}

// Render writes a human readable report.
func (r *Report) Render(w io.Writer) error {
	s := r.Session
	var b strings.Builder

	fmt.Fprintf(&b, "session     %s\n", s.ID)
	fmt.Fprintf(&b, "target      %s %s\n", s.Target, strings.Join(s.Args, " "))
	fmt.Fprintf(&b, "started     %s\n", time.Unix(0, s.StartedAt).UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "timeout     %s\n", s.Timeout())
	status := "finished"
	switch {
	case !s.Finished():
		status = "incomplete"
	case s.Interrupted:
		status = "interrupted"
	}
	fmt.Fprintf(&b, "iterations  %d of %d planned (%s)\n", r.Total(), s.Planned, status)
	if s.Finished() {
		fmt.Fprintf(&b, "elapsed     %f\n", s.Elapsed().Seconds())
	}
	fmt.Fprintf(&b, "fingerprint %s (%s)\n", orNone(r.Fingerprint), r.Integrity)
	if r.IntegrityErr != nil {
		fmt.Fprintf(&b, "warning: run journal does not match the recorded fingerprint: %v\n", r.IntegrityErr)
	}
	if r.Store != nil {
		fmt.Fprintf(&b, "store       %d outputs, %d bytes compressed\n", r.Store.TotalObjects, r.Store.TotalSize)
	}
	b.WriteString("\noutcomes\n")
	for _, o := range []driver.Outcome{driver.Completed, driver.TimedOut, driver.SpawnError, driver.NonZeroExit} {
		fmt.Fprintf(&b, "  %-13s %d\n", o, r.Counts[o])
	}
	fmt.Fprintf(&b, "  hang ratio    %.4f\n", r.HangRatio())

	if len(r.Hangs) > 0 {
		fmt.Fprintf(&b, "\nhung iterations %s", joinInts(r.Hangs))
		if r.Counts[driver.TimedOut] > len(r.Hangs) {
			fmt.Fprintf(&b, " ... (%d more)", r.Counts[driver.TimedOut]-len(r.Hangs))
		}
		b.WriteString("\n")
	}

	if r.MaxCompleted > 0 && s.TimeoutNS > 0 && r.MaxCompleted > s.Timeout()/2 {
		fmt.Fprintf(&b, "\nwarning: slowest completed run took %s, over half the timeout; hangs may be slow runs\n",
			r.MaxCompleted.Round(time.Millisecond))
	}

	if len(r.Variants) > 0 {
		fmt.Fprintf(&b, "\noutput variants (%d)\n", len(r.Variants))
		for _, v := range r.Variants {
			if v.Baseline {
				fmt.Fprintf(&b, "  %-6d first=%-6d baseline          %s\n", v.Count, v.FirstIteration, v.Preview)
				continue
			}
			fmt.Fprintf(&b, "  %-6d first=%-6d patch=%-5dB %4.0f%%  %s\n",
				v.Count, v.FirstIteration, v.Patch.PatchSize, v.Patch.Ratio*100, v.Preview)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func preview(data []byte) string {
	q := fmt.Sprintf("%q", data)
	if len(q) > previewLen {
		return q[:previewLen] + "..."
	}
	return q
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
