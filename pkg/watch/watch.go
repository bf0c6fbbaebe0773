package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForFile blocks until path exists or ctx is done. Missing parent
// directories are allowed: the nearest existing ancestor is watched and the
// watch moves down as directories are created, so a target that is still
// being built (./target/debug/job) can be awaited from an empty tree.
func WaitForFile(ctx context.Context, path string) error {
	return WaitReady(ctx, path, exists, 0)
}

// WaitReady is WaitForFile with a caller-supplied readiness check. Once
// ready(path) holds, it keeps waiting until no event touched the file for
// settle, so a file that is still being written or chmodded is not handed
// out early. A file that is already ready when WaitReady is called is
// returned immediately.
func WaitReady(ctx context.Context, path string, ready func(string) bool, settle time.Duration) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if ready(abs) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := ""
	rewatch := func() error {
		dir, err := nearestExisting(filepath.Dir(abs))
		if err != nil {
			return err
		}
		if dir == watched {
			return nil
		}
		if watched != "" {
			_ = watcher.Remove(watched)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		watched = dir
		return nil
	}

	if err := rewatch(); err != nil {
		return err
	}
	log.Printf("[watch] waiting for %s (watching %s)", abs, watched)

	var timer *time.Timer
	var settled <-chan time.Time
	stopSettle := func() {
		if timer != nil {
			timer.Stop()
			timer, settled = nil, nil
		}
	}
	defer stopSettle()

	// arm restarts the settle window; true means ready with nothing to wait for.
	arm := func() bool {
		stopSettle()
		if !ready(abs) {
			return false
		}
		if settle <= 0 {
			return true
		}
		timer = time.NewTimer(settle)
		settled = timer.C
		return false
	}

	// The file may have appeared between the first check and Add.
	if arm() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", abs, ctx.Err())
		case <-settled:
			timer, settled = nil, nil
			if ready(abs) {
				return nil
			}
		case evt, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write|fsnotify.Chmod) == 0 {
				continue
			}
			if settled != nil && filepath.Clean(evt.Name) != abs {
				continue
			}
			if err := rewatch(); err != nil {
				return err
			}
			if arm() {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			if err != nil {
				log.Printf("[watch] watcher error: %v", err)
			}
		}
	}
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func nearestExisting(dir string) (string, error) {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor for %s", dir)
		}
		dir = parent
	}
}
