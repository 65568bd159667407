package mirror

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"pixelgardenlabs.io/pgl-mirror/pkg/hints"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// Initializer forces the target tree into an exact copy of the authoritative
// tree: everything in the target is removed, then the authoritative tree is
// replayed into it. Any failure aborts the whole run; a half-initialized
// mirror must never start live sync.
type Initializer struct {
	copier  *Copier
	workers int
}

// NewInitializer builds an Initializer copying through copier with the given
// number of concurrent file copies.
func NewInitializer(copier *Copier, workers int) *Initializer {
	if workers <= 0 {
		workers = 1
	}
	return &Initializer{copier: copier, workers: workers}
}

// Run clears the target root and repopulates it from the authoritative root.
func (init *Initializer) Run(ctx context.Context) error {
	plog.Notice("Initializing mirror", "from", init.copier.srcRoot, "to", init.copier.dstRoot)

	if err := clearRoot(init.copier.dstRoot); err != nil {
		return fmt.Errorf("failed to clear %s: %w", init.copier.dstRoot, err)
	}
	return init.populate(ctx)
}

// clearRoot removes every top-level entry of root except the daemon's own
// lock file. An entry that is neither a directory, a regular file nor a
// symlink is refused: silently deleting a mount point or a device node is
// worse than failing.
func clearRoot(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if isInternalName(entry.Name()) {
			continue
		}
		absPath := filepath.Join(root, entry.Name())
		switch {
		case entry.IsDir():
			if err := os.RemoveAll(absPath); err != nil {
				return err
			}
		case entry.Type().IsRegular() || entry.Type()&fs.ModeSymlink != 0:
			if err := os.Remove(absPath); err != nil {
				return err
			}
		default:
			return fmt.Errorf("refusing to remove %s: unsupported entry type %s", absPath, entry.Type())
		}
	}
	return nil
}

// populate replays the authoritative tree into the cleared target.
// Directories are created as they are discovered so empty directories
// survive; file contents are copied concurrently.
func (init *Initializer) populate(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(init.workers)

	walkErr := filepath.WalkDir(init.copier.srcRoot, func(absPath string, d fs.DirEntry, err error) error {
		select {
		case <-gctx.Done():
			return context.Cause(gctx)
		default:
		}
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if absPath == init.copier.srcRoot {
			return nil
		}
		if isInternalName(d.Name()) {
			return nil
		}

		switch {
		case d.IsDir():
			// Synchronous: children walked next depend on it.
			return init.copier.EnsureDir(absPath)
		case d.Type()&fs.ModeSymlink != 0:
			g.Go(func() error {
				err := init.copier.CopySymlink(absPath)
				if err != nil && hints.IsHint(err) {
					plog.Debug("Source vanished during initialization", "path", absPath)
					return nil
				}
				return err
			})
		case d.Type().IsRegular():
			g.Go(func() error {
				err := init.copier.CopyFile(absPath)
				if err != nil && hints.IsHint(err) {
					plog.Debug("Source vanished during initialization", "path", absPath)
					return nil
				}
				return err
			})
		default:
			plog.Warn("Skipping unsupported entry during initialization", "path", absPath, "type", d.Type().String())
		}
		return nil
	})

	copyErr := g.Wait()
	if walkErr != nil {
		return walkErr
	}
	return copyErr
}
