//go:build !windows

package platform

// ExecutableName returns path unchanged; unix executables carry no suffix.
func ExecutableName(path string) string {
	return path
}

// LongPathname is a no-op on non-Windows platforms.
func LongPathname(path string) string {
	return path
}
