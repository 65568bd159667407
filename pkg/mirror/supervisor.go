package mirror

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pixelgardenlabs.io/pgl-mirror/pkg/hints"
	"pixelgardenlabs.io/pgl-mirror/pkg/metrics"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathmap"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// Supervisor keeps one watcher running per regular file in the work tree. It
// sweeps the tree on a fixed interval: finished watchers are reaped, newly
// discovered files get a watcher, and files missing from the backup are
// copied immediately so a fresh file is mirrored without waiting a full
// watcher cycle.
//
// The watchers map is only touched by the supervisor goroutine; watchers
// communicate completion through their entry's done flag.
type Supervisor struct {
	workRoot     string
	copier       *Copier
	scanInterval time.Duration
	pollInterval time.Duration
	met          metrics.Metrics

	watchers map[string]*watchEntry
	wg       sync.WaitGroup
}

// NewSupervisor builds a Supervisor for workRoot, mirroring through copier.
func NewSupervisor(workRoot string, copier *Copier, scanInterval, pollInterval time.Duration, met metrics.Metrics) *Supervisor {
	return &Supervisor{
		workRoot:     workRoot,
		copier:       copier,
		scanInterval: scanInterval,
		pollInterval: pollInterval,
		met:          met,
		watchers:     make(map[string]*watchEntry),
	}
}

// Run sweeps the work tree until ctx is cancelled. Sweep errors are logged
// and retried on the next tick; only cancellation ends the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		if err := s.sweep(ctx); err != nil {
			plog.Warn("Work tree sweep failed, will retry", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DrainWatchers waits for all watcher goroutines after cancellation, up to
// grace. It reports whether all watchers finished in time.
func (s *Supervisor) DrainWatchers(grace time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(grace):
		return false
	}
}

func (s *Supervisor) sweep(ctx context.Context) error {
	s.reap()

	return filepath.WalkDir(s.workRoot, func(absPath string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return filepath.SkipAll
		default:
		}
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || isInternalName(d.Name()) {
			return nil
		}

		relKey, err := pathmap.RelKey(s.workRoot, absPath)
		if err != nil {
			return err
		}

		if d.Type()&fs.ModeSymlink != 0 {
			s.syncSymlink(absPath)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if _, watched := s.watchers[relKey]; watched {
			return nil
		}
		s.adopt(ctx, relKey, absPath)
		return nil
	})
}

// reap removes entries whose watcher goroutine has exited. The next sweep
// re-adopts the path if the file still exists (for example after a file was
// deleted and a new one created under the same name).
func (s *Supervisor) reap() {
	for relKey, entry := range s.watchers {
		if entry.done.Load() {
			delete(s.watchers, relKey)
			s.met.AddWatchersReaped(1)
			plog.Debug("Reaped finished watcher", "file", relKey)
		}
	}
}

// adopt brings a newly discovered work file under supervision. A file that
// already has a mirror copy gets a watcher seeded with the mirror's
// modification time, so only real divergence triggers a copy. A file with no
// mirror copy is copied right away and left unwatched until the next sweep.
func (s *Supervisor) adopt(ctx context.Context, relKey, absPath string) {
	absDstPath := pathmap.Abs(s.copier.dstRoot, relKey)

	dstInfo, err := os.Lstat(absDstPath)
	if err != nil {
		if !os.IsNotExist(err) {
			plog.Warn("Failed to stat mirror copy", "path", absDstPath, "error", err)
			return
		}
		if copyErr := s.copier.CopyFile(absPath); copyErr != nil {
			if hints.IsHint(copyErr) {
				return // vanished before we could mirror it
			}
			plog.Error("Failed to mirror new file", "file", relKey, "error", copyErr)
			return
		}
		plog.Notice("ADD", "file", relKey)
		return
	}

	entry := &watchEntry{relKey: relKey}
	if dstInfo.Mode().IsRegular() {
		entry.lastMod.Store(dstInfo.ModTime().UnixNano())
	}

	s.watchers[relKey] = entry
	s.wg.Add(1)
	s.met.AddWatchersStarted(1)
	go entry.watch(ctx, absPath, s.copier, s.pollInterval, &s.wg)
}

// syncSymlink mirrors a symlink when the mirror copy is missing or points
// elsewhere. Symlinks carry no useful modification time, so they are
// re-checked on every sweep instead of getting a watcher.
func (s *Supervisor) syncSymlink(absPath string) {
	target, err := os.Readlink(absPath)
	if err != nil {
		return // vanished or replaced, next sweep sees the new state
	}
	absDstPath, err := pathmap.Rebase(absPath, s.workRoot, s.copier.dstRoot)
	if err != nil {
		return
	}
	if existing, err := os.Readlink(absDstPath); err == nil && existing == target {
		return
	}
	if err := s.copier.CopySymlink(absPath); err != nil && !hints.IsHint(err) {
		plog.Warn("Failed to mirror symlink", "path", absPath, "error", err)
	}
}

// WatcherCount returns the number of currently supervised files. Only
// meaningful from the supervisor goroutine or after Run has returned.
func (s *Supervisor) WatcherCount() int {
	return len(s.watchers)
}
