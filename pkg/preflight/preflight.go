// Package preflight provides validation checks that run before the mirror
// daemon starts. The checks are designed to fail with user-friendly errors
// before any destructive work (clearing a tree during initialization) can
// happen, instead of letting os calls fail halfway through.
package preflight

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// CheckRootAccessible validates that a mirror root exists and is a directory.
// Both roots must pre-exist; the daemon never invents one of the two trees.
func CheckRootAccessible(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory %s does not exist", root)
		}
		return fmt.Errorf("cannot stat directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s is not a directory", root)
	}

	// On Unix, refuse roots that look like an unmounted external drive
	// (a "ghost" directory on the system disk). On Windows, verify the
	// drive or share actually exists.
	if err := checkVolumeExists(root); err != nil {
		return err
	}
	return platformValidateMountPoint(root)
}

// CheckRootWritable ensures the directory is writable by creating and
// deleting a probe file. This is the only preflight check that modifies the
// filesystem.
func CheckRootWritable(root string) error {
	probe := filepath.Join(root, ".pgl-mirror-writetest.tmp")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", root, err)
	}
	f.Close()
	_ = os.Remove(probe)
	return nil
}

// CheckFreeSpace verifies that the volume holding dstRoot has enough free
// space to hold a full copy of srcRoot. Used before initialization, where the
// destination tree is cleared and repopulated wholesale.
func CheckFreeSpace(srcRoot, dstRoot string) error {
	var required uint64
	err := filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // tree is live, tolerate vanished entries
			}
			return err
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
		required += uint64(info.Size())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to measure %s: %w", srcRoot, err)
	}

	usage, err := disk.Usage(dstRoot)
	if err != nil {
		return fmt.Errorf("failed to query free space for %s: %w", dstRoot, err)
	}
	if usage.Free < required {
		return fmt.Errorf("not enough free space on %s: need %d bytes, have %d",
			dstRoot, required, usage.Free)
	}
	return nil
}
