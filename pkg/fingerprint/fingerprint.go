// Package fingerprint computes content digests for single files and whole
// trees. Digests are BLAKE3: not used for security, only to make "these two
// files are byte-identical" a true positive with negligible false-positive
// probability.
package fingerprint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"pixelgardenlabs.io/pgl-mirror/pkg/metrics"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathmap"
)

// DigestSize is the size of a BLAKE3 digest in bytes.
const DigestSize = 32

// Digest is the content hash of a single file.
type Digest [DigestSize]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Tree maps normalized relative path keys to content digests, one entry per
// regular file in a tree at a point in time.
type Tree map[string]Digest

// Equal reports whether two fingerprints describe byte-identical trees:
// the same set of relative paths, each mapping to the same digest.
func (t Tree) Equal(other Tree) bool {
	if len(t) != len(other) {
		return false
	}
	for key, d := range t {
		if od, ok := other[key]; !ok || od != d {
			return false
		}
	}
	return true
}

// File streams the file at path through a BLAKE3 accumulator and returns the
// digest. The file is never loaded into memory as a whole.
func File(path string) (Digest, error) {
	var d Digest

	f, err := os.Open(path)
	if err != nil {
		return d, fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return d, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// TreeOf walks root and hashes every regular file, fanning the per-file work
// out across at most workers goroutines (hashing is embarrassingly parallel;
// there is no ordering dependency between files).
//
// A file that vanishes between discovery and open is skipped: the tree is
// live and such races are expected. Any other I/O failure aborts the whole
// fingerprint, since a partial result could misdirect truth resolution.
func TreeOf(ctx context.Context, root string, workers int, met metrics.Metrics) (Tree, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var relKeys []string
	err := filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to walk %s: %w", absPath, err)
		}
		// Lock, config and snapshot files are the daemon's, not the
		// tree's. Hashing them would make two mirrored trees compare
		// as different forever.
		if pathmap.IsReservedName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		key, err := pathmap.RelKey(root, absPath)
		if err != nil {
			return err
		}
		relKeys = append(relKeys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s for fingerprinting: %w", root, err)
	}

	tree := make(Tree, len(relKeys))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, key := range relKeys {
		key := key
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			digest, err := File(pathmap.Abs(root, key))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil // vanished between discovery and open
				}
				return err
			}
			met.AddFilesHashed(1)
			mu.Lock()
			tree[key] = digest
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tree, nil
}
