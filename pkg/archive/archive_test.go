package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"

	"pixelgardenlabs.io/pgl-mirror/pkg/lockfile"
	"pixelgardenlabs.io/pgl-mirror/pkg/metrics"
	"pixelgardenlabs.io/pgl-mirror/pkg/pool"
)

func createFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create parent dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create file %s: %v", path, err)
	}
}

func readTarGz(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("failed to create gzip reader: %v", err)
	}
	defer gz.Close()

	entries := make(map[string]string)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read tar entry: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("failed to read tar entry body: %v", err)
		}
		entries[header.Name] = string(data)
	}
	return entries
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createFile(t, filepath.Join(src, "notes.txt"), "keep me")
	createFile(t, filepath.Join(src, "sub", "deep.txt"), "me too")

	archivePath := filepath.Join(dst, SnapshotName(TarGz))
	bufs := pool.NewFixedBuffer(64 * 1024)

	err := Snapshot(context.Background(), src, archivePath, TarGz, bufs, &metrics.NoopMetrics{})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	entries := readTarGz(t, archivePath)
	if entries["notes.txt"] != "keep me" {
		t.Errorf("expected notes.txt content, got %q", entries["notes.txt"])
	}
	if entries["sub/deep.txt"] != "me too" {
		t.Errorf("expected nested entry content, got %q", entries["sub/deep.txt"])
	}
}

func TestSnapshotExcludesLockFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createFile(t, filepath.Join(src, "data.txt"), "payload")
	createFile(t, filepath.Join(src, lockfile.LockFileName), "{}")

	archivePath := filepath.Join(dst, SnapshotName(TarGz))
	bufs := pool.NewFixedBuffer(64 * 1024)

	if err := Snapshot(context.Background(), src, archivePath, TarGz, bufs, &metrics.NoopMetrics{}); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	entries := readTarGz(t, archivePath)
	if _, ok := entries[lockfile.LockFileName]; ok {
		t.Error("expected lock file to be excluded from the snapshot")
	}
	if _, ok := entries["data.txt"]; !ok {
		t.Error("expected data file in the snapshot")
	}
}

func TestSnapshotLeavesNoTempFileOnCancel(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createFile(t, filepath.Join(src, "a.txt"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	archivePath := filepath.Join(dst, SnapshotName(TarGz))
	bufs := pool.NewFixedBuffer(64 * 1024)
	if err := Snapshot(ctx, src, archivePath, TarGz, bufs, &metrics.NoopMetrics{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatalf("failed to read destination dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no leftover files after cancelled snapshot, found %d", len(entries))
	}
}

func TestFormatFromString(t *testing.T) {
	if f, err := FormatFromString("tar.gz"); err != nil || f != TarGz {
		t.Errorf("expected TarGz, got %v (%v)", f, err)
	}
	if f, err := FormatFromString("tar.zst"); err != nil || f != TarZst {
		t.Errorf("expected TarZst, got %v (%v)", f, err)
	}
	if _, err := FormatFromString("rar"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestSnapshotOfOwnDirectorySkipsItsTempFile(t *testing.T) {
	root := t.TempDir()
	// An incompressible payload far larger than the copy buffer: if the
	// walk picked up the partially flushed temp archive, the tar entry
	// would overrun its recorded size.
	payload := make([]byte, 4<<20)
	rand.New(rand.NewSource(42)).Read(payload)
	if err := os.WriteFile(filepath.Join(root, "big.bin"), payload, 0o644); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	bufs := pool.NewFixedBuffer(4 * 1024)
	target := filepath.Join(root, SnapshotName(TarGz))
	if err := Snapshot(context.Background(), root, target, TarGz, bufs, &metrics.NoopMetrics{}); err != nil {
		t.Fatalf("snapshot into its own source directory failed: %v", err)
	}

	entries := readTarGz(t, target)
	for name := range entries {
		if strings.HasSuffix(name, ".tmp") {
			t.Errorf("temp archive file leaked into the snapshot: %s", name)
		}
	}
	if got, ok := entries["big.bin"]; !ok {
		t.Error("expected payload in snapshot")
	} else if !bytes.Equal([]byte(got), payload) {
		t.Error("payload content mismatch in snapshot")
	}
}
