package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/saworbit/hangfuzz/pkg/driver"
	"github.com/saworbit/hangfuzz/pkg/merkle"
)

// Comparison contrasts two session reports.
type Comparison struct {
	A, B            *Report
	SameFingerprint bool
	Deltas          map[driver.Outcome]int // B minus A
	// FirstDivergence is the first iteration whose outcome, exit code or
	// output differs between the sessions, or -1.
	FirstDivergence int
}

// Compare diffs the outcome counts and fingerprints of two reports.
func Compare(a, b *Report) (Comparison, error) {
	cmp := Comparison{
		A:               a,
		B:               b,
		SameFingerprint: a.Fingerprint != "" && a.Fingerprint == b.Fingerprint,
		Deltas:          make(map[driver.Outcome]int),
		FirstDivergence: -1,
	}
	for _, o := range []driver.Outcome{driver.Completed, driver.TimedOut, driver.SpawnError, driver.NonZeroExit} {
		cmp.Deltas[o] = b.Counts[o] - a.Counts[o]
	}

	if !cmp.SameFingerprint {
		first, err := firstDivergence(a, b)
		if err != nil {
			return cmp, err
		}
		cmp.FirstDivergence = first
	}
	return cmp, nil
}

// firstDivergence walks b's run tokens in order and returns the iteration of
// the first one that is not a leaf of a's tree. When b is a prefix of a, the
// first iteration a has beyond b is returned.
func firstDivergence(a, b *Report) (int, error) {
	switch {
	case len(a.tokens) == 0 && len(b.tokens) == 0:
		return -1, nil
	case len(a.tokens) == 0:
		return b.iterations[0], nil
	case len(b.tokens) == 0:
		return a.iterations[0], nil
	}

	tree, err := merkle.BuildTree(a.tokens)
	if err != nil {
		return -1, err
	}
	for i, token := range b.tokens {
		ok, err := merkle.VerifyToken(tree, token)
		if err != nil {
			return -1, err
		}
		if !ok {
			return b.iterations[i], nil
		}
	}
	if len(a.tokens) > len(b.tokens) {
		return a.iterations[len(b.tokens)], nil
	}
	return -1, nil
}

// Render writes the comparison.
func (c Comparison) Render(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "a  %s  %s (%s)\n", c.A.Session.ID, orNone(c.A.Fingerprint), c.A.Integrity)
	fmt.Fprintf(&b, "b  %s  %s (%s)\n", c.B.Session.ID, orNone(c.B.Fingerprint), c.B.Integrity)
	switch {
	case c.SameFingerprint:
		b.WriteString("identical outcome sequence\n")
	case c.FirstDivergence >= 0:
		fmt.Fprintf(&b, "outcome sequences differ from iteration %d\n", c.FirstDivergence)
	default:
		b.WriteString("outcome sequences differ\n")
	}

	fmt.Fprintf(&b, "\n  %-13s %8s %8s %8s\n", "outcome", "a", "b", "delta")
	for _, o := range []driver.Outcome{driver.Completed, driver.TimedOut, driver.SpawnError, driver.NonZeroExit} {
		fmt.Fprintf(&b, "  %-13s %8d %8d %+8d\n", o, c.A.Counts[o], c.B.Counts[o], c.Deltas[o])
	}
	fmt.Fprintf(&b, "  %-13s %8.4f %8.4f %+8.4f\n", "hang ratio", c.A.HangRatio(), c.B.HangRatio(), c.B.HangRatio()-c.A.HangRatio())

	_, err := io.WriteString(w, b.String())
	return err
}
