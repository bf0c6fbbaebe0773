//go:build windows

package platform

import (
	"path/filepath"
	"strings"
)

// ExecutableName appends ".exe" when the path has no extension, matching how
// cargo and go build name their outputs on Windows.
func ExecutableName(path string) string {
	if filepath.Ext(path) != "" {
		return path
	}
	return path + ".exe"
}

// LongPathname ensures Windows paths handle the extended length prefix.
func LongPathname(path string) string {
	if len(path) < 2 || path[1] != ':' {
		return path
	}
	if filepath.IsAbs(path) && !strings.HasPrefix(path, `\\?\`) {
		return `\\?\` + filepath.Clean(path)
	}
	return path
}
