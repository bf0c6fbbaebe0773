//go:build !windows

package driver

import (
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// ensureExecutable returns an error if the current user would be denied
// execute permission on the file.
func ensureExecutable(path string, info fs.FileInfo) error {
	perms := info.Mode().Perm()

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	euid := os.Geteuid()
	if euid == 0 {
		if perms&0111 == 0 {
			return fmt.Errorf("permission denied executing %s: no execute bit set", path)
		}
		return nil
	}

	fileUID := int(stat.Uid)
	fileGID := int(stat.Gid)

	if fileUID == euid {
		if perms&0100 == 0 {
			return fmt.Errorf("permission denied executing %s: owner has no execute bit", path)
		}
		return nil
	}

	if fileGID == os.Getegid() {
		if perms&0010 == 0 {
			return fmt.Errorf("permission denied executing %s: group has no execute bit", path)
		}
		return nil
	}

	if groups, err := syscall.Getgroups(); err == nil {
		for _, g := range groups {
			if g == fileGID {
				if perms&0010 == 0 {
					return fmt.Errorf("permission denied executing %s: group has no execute bit", path)
				}
				return nil
			}
		}
	}

	if perms&0001 == 0 {
		return fmt.Errorf("permission denied executing %s: others have no execute bit", path)
	}

	return nil
}
