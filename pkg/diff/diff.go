package diff

import (
	"bytes"
	"fmt"
)

// Engine computes and applies binary patches between two captured outputs
type Engine interface {
	// ComputeDiff computes the binary diff between base and variant
	ComputeDiff(base, variant []byte) ([]byte, error)

	// ApplyPatch applies a patch to base to reproduce variant
	ApplyPatch(base, patch []byte) ([]byte, error)

	// Name returns the name of the engine
	Name() string
}

// NewEngine creates a diff engine by name
func NewEngine(name string) (Engine, error) {
	switch name {
	case "", "bsdiff":
		return NewBsdiffEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported diff engine: %s (must be 'bsdiff')", name)
	}
}

// Stats describes how far a variant output is from the baseline
type Stats struct {
	BaseSize    int
	VariantSize int
	PatchSize   int
	// Ratio is patch size / variant size; small values mean the variant is a
	// minor perturbation of the baseline (e.g. a different score line)
	Ratio float64
}

// ComputeStats calculates statistics for a diff operation
func ComputeStats(base, variant, patch []byte) Stats {
	stats := Stats{
		BaseSize:    len(base),
		VariantSize: len(variant),
		PatchSize:   len(patch),
	}
	if len(variant) > 0 {
		stats.Ratio = float64(len(patch)) / float64(len(variant))
	}
	return stats
}

// Measure diffs variant against base and returns the patch statistics.
// The patch is applied back to base; a patch that does not reproduce
// variant is an error, not a size.
func Measure(engine Engine, base, variant []byte) (Stats, error) {
	patch, err := engine.ComputeDiff(base, variant)
	if err != nil {
		return Stats{}, err
	}

	rebuilt, err := engine.ApplyPatch(base, patch)
	if err != nil {
		return Stats{}, fmt.Errorf("%s patch does not apply: %w", engine.Name(), err)
	}
	if !bytes.Equal(rebuilt, variant) {
		return Stats{}, fmt.Errorf("%s patch does not reproduce the variant", engine.Name())
	}
	return ComputeStats(base, variant, patch), nil
}
