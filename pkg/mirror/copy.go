// Package mirror implements the continuous bidirectional mirroring engine:
// one-time initialization of the losing tree from the authoritative one,
// per-file modification watchers, a supervisor that keeps the watcher set in
// step with the work tree, and a reconciler that propagates deletions.
package mirror

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"pixelgardenlabs.io/pgl-mirror/pkg/hints"
	"pixelgardenlabs.io/pgl-mirror/pkg/metrics"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathmap"
	"pixelgardenlabs.io/pgl-mirror/pkg/pool"
	"pixelgardenlabs.io/pgl-mirror/pkg/sharded"
	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// Copier transfers single entries from the work tree into the backup tree,
// translating paths between the two roots. It is safe for concurrent use;
// parent directory creation is deduplicated across goroutines.
type Copier struct {
	srcRoot string
	dstRoot string
	bufs    *pool.FixedBufferPool
	met     metrics.Metrics

	// knownDirs caches destination directories already ensured, sfGroup
	// collapses concurrent MkdirAll calls for the same parent.
	knownDirs *sharded.Set
	sfGroup   singleflight.Group
}

// NewCopier returns a Copier translating paths from srcRoot to dstRoot.
func NewCopier(srcRoot, dstRoot string, bufs *pool.FixedBufferPool, met metrics.Metrics) *Copier {
	return &Copier{
		srcRoot:   srcRoot,
		dstRoot:   dstRoot,
		bufs:      bufs,
		met:       met,
		knownDirs: sharded.NewSet(),
	}
}

// CopyFile mirrors the regular file at absSrcPath into the destination tree,
// replacing whatever currently occupies the translated path (including a
// directory left behind by a type change). The destination keeps the source's
// modification time so pollers comparing mtimes see the trees as settled.
//
// A source that disappears before or during the copy surfaces as
// fs.ErrNotExist; callers watching live files treat that as the file's
// deletion, not a failure.
func (c *Copier) CopyFile(absSrcPath string) error {
	absDstPath, err := pathmap.Rebase(absSrcPath, c.srcRoot, c.dstRoot)
	if err != nil {
		return err
	}
	if err := c.ensureParentDir(absDstPath); err != nil {
		return err
	}

	// Clear the destination first so a file replacing a directory (or a
	// symlink) does not trip the O_TRUNC open below.
	if err := os.RemoveAll(absDstPath); err != nil {
		return fmt.Errorf("failed to clear destination %s: %w", absDstPath, err)
	}

	srcF, err := os.Open(absSrcPath)
	if err != nil {
		err = fmt.Errorf("failed to open source file %s: %w", absSrcPath, err)
		if IsNotExist(err) {
			return hints.Wrap(err)
		}
		return err
	}
	defer srcF.Close()

	srcInfo, err := srcF.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file %s: %w", absSrcPath, err)
	}
	if !srcInfo.Mode().IsRegular() {
		// The path changed type between discovery and open. Report it
		// as vanished; the replacement is picked up by the next scan.
		return hints.Wrap(fmt.Errorf("source %s is no longer a regular file: %w", absSrcPath, fs.ErrNotExist))
	}

	dstF, err := os.OpenFile(absDstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", absDstPath, err)
	}

	bufPtr := c.bufs.Get()
	written, copyErr := io.CopyBuffer(dstF, srcF, *bufPtr)
	c.bufs.Put(bufPtr)

	closeErr := dstF.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to copy %s: %w", absSrcPath, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close destination file %s: %w", absDstPath, closeErr)
	}

	// Preserve the source modification time. Without this, every copy
	// would make the destination look newer than the source it mirrors.
	modTime := srcInfo.ModTime()
	if err := os.Chtimes(absDstPath, modTime, modTime); err != nil {
		return fmt.Errorf("failed to set times on %s: %w", absDstPath, err)
	}

	c.met.AddFilesCopied(1)
	c.met.AddBytesWritten(written)
	return nil
}

// CopySymlink recreates the symlink at absSrcPath in the destination tree.
// The link target is copied verbatim; relative targets stay relative.
func (c *Copier) CopySymlink(absSrcPath string) error {
	absDstPath, err := pathmap.Rebase(absSrcPath, c.srcRoot, c.dstRoot)
	if err != nil {
		return err
	}
	target, err := os.Readlink(absSrcPath)
	if err != nil {
		err = fmt.Errorf("failed to read link target for %s: %w", absSrcPath, err)
		if IsNotExist(err) {
			return hints.Wrap(err)
		}
		return err
	}
	if err := c.ensureParentDir(absDstPath); err != nil {
		return err
	}
	if err := os.RemoveAll(absDstPath); err != nil {
		return fmt.Errorf("failed to clear destination %s: %w", absDstPath, err)
	}
	if err := os.Symlink(target, absDstPath); err != nil {
		return fmt.Errorf("failed to create symlink %s: %w", absDstPath, err)
	}
	c.met.AddFilesCopied(1)
	return nil
}

// EnsureDir creates the destination directory translated from absSrcPath.
func (c *Copier) EnsureDir(absSrcPath string) error {
	absDstPath, err := pathmap.Rebase(absSrcPath, c.srcRoot, c.dstRoot)
	if err != nil {
		return err
	}
	return c.mkdirAllOnce(absDstPath)
}

// ensureParentDir makes sure the parent directory of absDstPath exists.
func (c *Copier) ensureParentDir(absDstPath string) error {
	return c.mkdirAllOnce(filepath.Dir(absDstPath))
}

// mkdirAllOnce is a deduplicated MkdirAll. The fast path is a lock-free set
// lookup; concurrent misses for the same directory share one MkdirAll call.
func (c *Copier) mkdirAllOnce(absDirPath string) error {
	if c.knownDirs.Has(absDirPath) {
		return nil
	}
	_, err, _ := c.sfGroup.Do(absDirPath, func() (any, error) {
		if err := os.MkdirAll(absDirPath, util.UserWritableDirPerms); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", absDirPath, err)
		}
		c.knownDirs.Store(absDirPath)
		c.met.AddDirsCreated(1)
		return nil, nil
	})
	return err
}

// ForgetDir drops a destination directory from the ensured-dir cache. The
// reconciler calls this after removing a directory so a later re-creation is
// not skipped.
func (c *Copier) ForgetDir(absDirPath string) {
	c.knownDirs.Delete(absDirPath)
}

// IsNotExist reports whether err means the source vanished.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// isInternalName reports whether an entry belongs to the daemon itself (lock
// file, config file, safety snapshots) rather than to the mirrored data.
// Truth resolution and snapshotting share the same exemption, see
// pathmap.IsReservedName.
func isInternalName(name string) bool {
	return pathmap.IsReservedName(name)
}
