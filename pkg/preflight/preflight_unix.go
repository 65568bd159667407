//go:build !windows

package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// checkVolumeExists is a no-op on Unix; volume existence is covered by the
// ghost-mount check below.
func checkVolumeExists(path string) error {
	return nil
}

// platformValidateMountPoint checks if the path resides on the root
// filesystem. If it does, it assumes the drive is NOT mounted (ghost
// detection): a typical failure mode is a backup root under /mnt or /media
// where the external drive never got mounted, leaving an empty directory on
// the system disk that would silently swallow the mirror.
func platformValidateMountPoint(path string) error {
	// Allow the home directory. Mirrors into local user folders are
	// usually intentional.
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" && strings.HasPrefix(path, homeDir) {
		return nil
	}
	if isSystemPath(path) {
		return nil
	}

	var rootStat unix.Stat_t
	if err := unix.Stat("/", &rootStat); err != nil {
		return fmt.Errorf("failed to stat root: %w", err)
	}
	var pathStat unix.Stat_t
	if err := unix.Stat(path, &pathStat); err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if pathStat.Dev == rootStat.Dev && path != "/" {
		return fmt.Errorf("path '%s' is on the root filesystem (system disk). "+
			"Ensure your external drive is mounted", path)
	}
	return nil
}

// isSystemPath exempts paths that legitimately live on the system disk from
// ghost-mount detection.
func isSystemPath(path string) bool {
	for _, prefix := range []string{"/tmp", "/var", "/opt", "/srv", "/root", "/data"} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
