// Package truth decides which of the two mirror roots is authoritative at
// startup. The losing tree is cleared and repopulated from the winner, so the
// resolution rules are deliberately conservative about declaring a winner.
package truth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"pixelgardenlabs.io/pgl-mirror/pkg/fingerprint"
	"pixelgardenlabs.io/pgl-mirror/pkg/metrics"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathmap"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// Strategy selects how the authoritative tree is picked.
type Strategy int

const (
	// StrategyRecency picks the tree containing the most recently
	// modified file.
	StrategyRecency Strategy = iota
	// StrategyFingerprint hashes both trees first and skips
	// initialization entirely when they are already identical, falling
	// back to recency when they diverge.
	StrategyFingerprint
)

func (s Strategy) String() string {
	switch s {
	case StrategyRecency:
		return "recency"
	case StrategyFingerprint:
		return "fingerprint"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// StrategyFromString parses a strategy name as found in config or flags.
func StrategyFromString(s string) (Strategy, error) {
	switch s {
	case "recency":
		return StrategyRecency, nil
	case "fingerprint":
		return StrategyFingerprint, nil
	default:
		return StrategyRecency, fmt.Errorf("unknown truth strategy %q", s)
	}
}

// Source identifies one of the two mirror roots.
type Source int

const (
	SourceWork Source = iota
	SourceBackup
)

func (s Source) String() string {
	if s == SourceBackup {
		return "backup"
	}
	return "work"
}

// Resolution is the outcome of truth resolution.
type Resolution struct {
	// Authoritative names the winning tree. Only meaningful when
	// SkipInit is false.
	Authoritative Source
	// SkipInit is true when both trees are already byte-identical and
	// initialization would be pure churn.
	SkipInit bool
}

// ErrBothEmpty is returned by the recency strategy when neither tree
// contains a file: there is no modification time to compare, and clearing
// one empty tree into another is meaningless. The fingerprint strategy
// instead treats two empty trees as identical.
var ErrBothEmpty = errors.New("both directories are empty, cannot resolve an authoritative tree")

// Resolve inspects both roots and decides which one the initializer should
// copy from. Both roots must exist.
func Resolve(ctx context.Context, workRoot, backupRoot string, strategy Strategy, hashWorkers int, met metrics.Metrics) (Resolution, error) {
	switch strategy {
	case StrategyFingerprint:
		return resolveByFingerprint(ctx, workRoot, backupRoot, hashWorkers, met)
	default:
		return resolveByRecency(ctx, workRoot, backupRoot)
	}
}

// resolveByRecency compares the newest file modification time of either
// tree. The work tree wins ties and wins against an empty backup: when in
// doubt, the tree the user actively edits is the truth.
func resolveByRecency(ctx context.Context, workRoot, backupRoot string) (Resolution, error) {
	var workNewest, backupNewest time.Time
	var workFiles, backupFiles int

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		workNewest, workFiles, err = newestModTime(workRoot)
		return err
	})
	g.Go(func() error {
		var err error
		backupNewest, backupFiles, err = newestModTime(backupRoot)
		return err
	})
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	switch {
	case workFiles == 0 && backupFiles == 0:
		return Resolution{}, ErrBothEmpty
	case workFiles == 0:
		plog.Notice("Work tree is empty, restoring from backup", "backup", backupRoot)
		return Resolution{Authoritative: SourceBackup}, nil
	case backupFiles == 0:
		return Resolution{Authoritative: SourceWork}, nil
	case backupNewest.After(workNewest):
		return Resolution{Authoritative: SourceBackup}, nil
	default:
		return Resolution{Authoritative: SourceWork}, nil
	}
}

// resolveByFingerprint hashes both trees. Identical trees need no
// initialization at all; diverged trees fall back to the recency rules.
func resolveByFingerprint(ctx context.Context, workRoot, backupRoot string, hashWorkers int, met metrics.Metrics) (Resolution, error) {
	var workTree, backupTree fingerprint.Tree

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		workTree, err = fingerprint.TreeOf(gctx, workRoot, hashWorkers, met)
		return err
	})
	g.Go(func() error {
		var err error
		backupTree, err = fingerprint.TreeOf(gctx, backupRoot, hashWorkers, met)
		return err
	})
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	if workTree.Equal(backupTree) {
		plog.Notice("Trees are already identical, skipping initialization",
			"files", len(workTree))
		return Resolution{SkipInit: true}, nil
	}
	return resolveByRecency(ctx, workRoot, backupRoot)
}

// newestModTime walks root and returns the most recent modification time
// among its regular files, along with the file count.
func newestModTime(root string) (time.Time, int, error) {
	var newest time.Time
	var count int

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		// The daemon's own lock, config and snapshots must never sway
		// the resolution: a freshly written lock file would otherwise
		// make the backup tree always newest and never empty.
		if pathmap.IsReservedName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		count++
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to scan %s for modification times: %w", root, err)
	}
	return newest, count, nil
}
