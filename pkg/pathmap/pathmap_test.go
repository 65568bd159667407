package pathmap

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestRebase(t *testing.T) {
	work := filepath.Join(string(filepath.Separator), "data", "work")
	backup := filepath.Join(string(filepath.Separator), "data", "backup")

	src := filepath.Join(work, "docs", "notes.txt")
	got, err := Rebase(src, work, backup)
	if err != nil {
		t.Fatalf("Rebase failed: %v", err)
	}
	want := filepath.Join(backup, "docs", "notes.txt")
	if got != want {
		t.Errorf("Rebase = %q, want %q", got, want)
	}
}

func TestRebaseRoundTrip(t *testing.T) {
	work := filepath.Join(string(filepath.Separator), "w")
	backup := filepath.Join(string(filepath.Separator), "mnt", "b")

	paths := []string{
		filepath.Join(work, "a.txt"),
		filepath.Join(work, "deep", "nested", "tree", "file.bin"),
		work, // the root itself maps to the other root
	}
	for _, p := range paths {
		there, err := Rebase(p, work, backup)
		if err != nil {
			t.Fatalf("Rebase(%q) failed: %v", p, err)
		}
		back, err := Rebase(there, backup, work)
		if err != nil {
			t.Fatalf("Rebase round trip of %q failed: %v", p, err)
		}
		if back != filepath.Clean(p) {
			t.Errorf("round trip of %q = %q", p, back)
		}
	}
}

func TestRebaseOutsideRoot(t *testing.T) {
	work := filepath.Join(string(filepath.Separator), "data", "work")
	backup := filepath.Join(string(filepath.Separator), "data", "backup")

	outside := filepath.Join(string(filepath.Separator), "data", "elsewhere", "x.txt")
	_, err := Rebase(outside, work, backup)
	if !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot, got %v", err)
	}

	// A sibling whose name shares a prefix with the root must also be outside.
	sneaky := filepath.Join(string(filepath.Separator), "data", "workspace", "x.txt")
	_, err = Rebase(sneaky, work, backup)
	if !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot for prefix-sharing sibling, got %v", err)
	}
}

func TestRelKeyUsesForwardSlashes(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "r")
	key, err := RelKey(root, filepath.Join(root, "a", "b", "c.txt"))
	if err != nil {
		t.Fatalf("RelKey failed: %v", err)
	}
	if key != "a/b/c.txt" {
		t.Errorf("RelKey = %q, want %q", key, "a/b/c.txt")
	}
	if Abs(root, key) != filepath.Join(root, "a", "b", "c.txt") {
		t.Errorf("Abs did not invert RelKey")
	}
}

func TestIsReservedName(t *testing.T) {
	reserved := []string{
		LockFileName,
		LockFileName + ".8812.tmp",
		SnapshotPrefix + "2026-01-01_00-00-00.tar.gz",
		SnapshotPrefix + "1069412205.tmp",
		ConfigFileName,
	}
	for _, name := range reserved {
		if !IsReservedName(name) {
			t.Errorf("expected %q to be reserved", name)
		}
	}
	plain := []string{"a.txt", "lock", "pgl-mirror", ".hidden", "snapshot.tar.gz"}
	for _, name := range plain {
		if IsReservedName(name) {
			t.Errorf("expected %q not to be reserved", name)
		}
	}
}
