// Package pathmap translates paths between the work and backup roots. It is
// pure string manipulation: nothing here touches the filesystem.
package pathmap

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot reports a path that is not under its claimed root. This is an
// invariant violation (every path handed to the translator was discovered by
// walking that root), not a recoverable runtime condition.
var ErrOutsideRoot = errors.New("path is outside its claimed root")

// Names the daemon itself writes into the roots it mirrors. Entries carrying
// these names are machinery, not data: truth resolution ignores them, the
// initializer refuses to clear them, the reconciler never deletes them and
// snapshots leave them out.
const (
	// LockFileName is the single-instance lock created in the backup root.
	LockFileName = ".~pgl-mirror.lock"
	// SnapshotPrefix marks safety snapshot archives in the backup root.
	SnapshotPrefix = "pgl-mirror-snapshot-"
	// ConfigFileName is the optional configuration file in the backup root.
	ConfigFileName = "pgl-mirror.config.toml"
)

// IsReservedName reports whether an entry name belongs to the daemon itself
// rather than to the mirrored data. The prefix matches also cover the
// in-flight temp files both the lock heartbeat (".~pgl-mirror.lock.*.tmp")
// and the snapshot writer ("pgl-mirror-snapshot-*.tmp") produce.
func IsReservedName(name string) bool {
	return name == ConfigFileName ||
		strings.HasPrefix(name, LockFileName) ||
		strings.HasPrefix(name, SnapshotPrefix)
}

// RelKey returns the path of absPath relative to root, normalized to forward
// slashes so it can be used as a map key on any platform.
func RelKey(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", fmt.Errorf("could not get relative path of %s under %s: %w", absPath, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s escapes root %s: %w", absPath, root, ErrOutsideRoot)
	}
	return filepath.ToSlash(rel), nil
}

// Abs joins a normalized rel key back under root using OS separators.
func Abs(root, relKey string) string {
	return filepath.Join(root, filepath.FromSlash(relKey))
}

// Rebase strips fromRoot off absPath and re-roots it under toRoot. For any
// path p actually under root A, Rebase(Rebase(p, A, B), B, A) == p.
func Rebase(absPath, fromRoot, toRoot string) (string, error) {
	key, err := RelKey(fromRoot, absPath)
	if err != nil {
		return "", err
	}
	return Abs(toRoot, key), nil
}
