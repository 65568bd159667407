package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckRootAccessible(t *testing.T) {
	t.Run("Happy Path - Root Exists", func(t *testing.T) {
		if err := CheckRootAccessible(t.TempDir()); err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Error - Root Does Not Exist", func(t *testing.T) {
		err := CheckRootAccessible(filepath.Join(t.TempDir(), "missing"))
		if err == nil {
			t.Fatal("expected an error for a missing root, but got nil")
		}
		if !strings.Contains(err.Error(), "does not exist") {
			t.Errorf("expected error to be about existence, but got: %v", err)
		}
	})

	t.Run("Error - Root Is a File", func(t *testing.T) {
		rootFile := filepath.Join(t.TempDir(), "root.txt")
		if err := os.WriteFile(rootFile, []byte("i am a file"), 0o644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckRootAccessible(rootFile)
		if err == nil {
			t.Fatal("expected an error when root is a file, but got nil")
		}
		if !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected error to be about 'not a directory', but got: %v", err)
		}
	})
}

func TestCheckRootWritable(t *testing.T) {
	dir := t.TempDir()
	if err := CheckRootWritable(dir); err != nil {
		t.Fatalf("expected writable temp dir, got: %v", err)
	}
	// The probe file must not linger.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected probe file to be removed, found %d entries", len(entries))
	}
}

func TestCheckFreeSpace(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "small.txt"), []byte("tiny"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	if err := CheckFreeSpace(src, dst); err != nil {
		t.Errorf("expected a tiny tree to fit anywhere, but got: %v", err)
	}
}
