package mirror

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"pixelgardenlabs.io/pgl-mirror/pkg/hints"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// watchEntry is the supervisor-side handle for one per-file watcher. The
// watcher goroutine owns lastMod; done is its only signal back to the
// supervisor, which reaps finished entries on its next sweep.
type watchEntry struct {
	relKey string
	// lastMod holds the last observed modification time in Unix
	// nanoseconds. Seeded by the supervisor before the goroutine starts,
	// written by the watcher afterwards.
	lastMod atomic.Int64
	done    atomic.Bool
}

// watch polls a single work-tree file for modification time changes and
// copies it to the backup on every change. It exits when the file vanishes
// or stops being a regular file (the supervisor reaps the entry and the
// reconciler removes the mirror copy), on an unrecoverable copy error, or
// when ctx is cancelled.
func (e *watchEntry) watch(ctx context.Context, absSrcPath string, copier *Copier, pollInterval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()
	defer e.done.Store(true)

	for {
		info, err := os.Lstat(absSrcPath)
		if err != nil || !info.Mode().IsRegular() {
			if err != nil && !IsNotExist(err) {
				plog.Warn("Watcher failed to stat file, giving up", "path", absSrcPath, "error", err)
			} else {
				plog.Debug("Watched file is gone", "path", absSrcPath)
			}
			return
		}

		if modNanos := info.ModTime().UnixNano(); modNanos != e.lastMod.Load() {
			e.lastMod.Store(modNanos)
			if err := copier.CopyFile(absSrcPath); err != nil {
				if hints.IsHint(err) {
					plog.Debug("Watched file vanished during copy", "path", absSrcPath)
					return
				}
				plog.Error("Watcher failed to copy file, giving up", "path", absSrcPath, "error", err)
				return
			}
			plog.Notice("SYNC", "file", e.relKey)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}
