package mirror

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"pixelgardenlabs.io/pgl-mirror/pkg/metrics"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathmap"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/sharded"
)

// Reconciler propagates deletions: anything present in the backup tree with
// no counterpart in the work tree is removed. Creation and modification flow
// through the watchers; deletion is the one change a per-file watcher cannot
// mirror, because the watcher dies with its file.
type Reconciler struct {
	workRoot   string
	backupRoot string
	copier     *Copier
	interval   time.Duration
	met        metrics.Metrics
}

// NewReconciler builds a Reconciler sweeping backupRoot against workRoot.
func NewReconciler(workRoot, backupRoot string, copier *Copier, interval time.Duration, met metrics.Metrics) *Reconciler {
	return &Reconciler{
		workRoot:   workRoot,
		backupRoot: backupRoot,
		copier:     copier,
		interval:   interval,
		met:        met,
	}
}

// Run sweeps the backup tree until ctx is cancelled. Individual removal
// failures are collected and summarized per sweep rather than aborting it; a
// file locked by another process should not stall deletion of everything
// else.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	softErrs := sharded.NewMap()

	err := filepath.WalkDir(r.backupRoot, func(absPath string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return filepath.SkipAll
		default:
		}
		if err != nil {
			if os.IsNotExist(err) {
				return nil // removed while we walked, fine
			}
			return err
		}
		if absPath == r.backupRoot {
			return nil
		}
		if isInternalName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		absWorkPath, err := pathmap.Rebase(absPath, r.backupRoot, r.workRoot)
		if err != nil {
			return err
		}
		// Only a definite "gone" may delete. A stat failure of any other
		// kind keeps the backup copy.
		if _, statErr := os.Lstat(absWorkPath); statErr == nil || !os.IsNotExist(statErr) {
			return nil
		}

		relKey, keyErr := pathmap.RelKey(r.backupRoot, absPath)
		if keyErr != nil {
			return keyErr
		}

		if removeErr := os.RemoveAll(absPath); removeErr != nil {
			softErrs.Store(relKey, removeErr)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		plog.Notice("DELETE", "file", relKey)
		if d.IsDir() {
			r.copier.ForgetDir(absPath)
			r.met.AddDirsDeleted(1)
			// The subtree went with it.
			return filepath.SkipDir
		}
		r.met.AddFilesDeleted(1)
		return nil
	})
	if err != nil {
		plog.Warn("Backup sweep failed, will retry", "error", err)
	}

	if count := softErrs.Count(); count > 0 {
		plog.Warn("Some stale backup entries could not be removed", "count", count)
		for key, value := range softErrs.Items() {
			plog.Debug("Failed to remove stale entry", "file", key, "error", value)
		}
	}
}
