package driver

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/saworbit/hangfuzz/internal/platform"
)

// ErrTargetNotExecutable is returned by CheckTarget when the campaign could
// never launch the target, so every iteration would be a spawn error.
var ErrTargetNotExecutable = errors.New("target is not executable")

// CheckTarget resolves target the way exec.Command does and verifies it is
// a regular file the current user may execute. It returns the resolved path.
func CheckTarget(target string) (string, error) {
	path := target
	if !strings.ContainsAny(target, `/\`) {
		resolved, err := exec.LookPath(target)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTargetNotExecutable, err)
		}
		path = resolved
	}

	info, err := os.Stat(platform.LongPathname(path))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTargetNotExecutable, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrTargetNotExecutable, path)
	}
	if err := ensureExecutable(path, info); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTargetNotExecutable, err)
	}
	return path, nil
}
