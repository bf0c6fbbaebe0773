package diff

import (
	"fmt"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// BsdiffEngine implements Engine using bsdiff
type BsdiffEngine struct{}

// NewBsdiffEngine creates a new bsdiff-based engine
func NewBsdiffEngine() *BsdiffEngine {
	return &BsdiffEngine{}
}

// Name returns the name of the engine
func (e *BsdiffEngine) Name() string {
	return "bsdiff"
}

// ComputeDiff computes a binary diff using bsdiff. An empty base has
// nothing to diff against, so the variant itself is the patch.
func (e *BsdiffEngine) ComputeDiff(base, variant []byte) ([]byte, error) {
	if len(base) == 0 && len(variant) == 0 {
		return []byte{}, nil
	}
	if len(base) == 0 {
		return variant, nil
	}

	patch, err := bsdiff.Bytes(base, variant)
	if err != nil {
		return nil, fmt.Errorf("bsdiff computation failed: %w", err)
	}
	return patch, nil
}

// ApplyPatch applies a bsdiff patch to base
func (e *BsdiffEngine) ApplyPatch(base, patch []byte) ([]byte, error) {
	if len(patch) == 0 {
		return base, nil
	}
	if len(base) == 0 {
		return patch, nil
	}

	variant, err := bspatch.Bytes(base, patch)
	if err != nil {
		return nil, fmt.Errorf("bspatch application failed: %w", err)
	}
	return variant, nil
}
