package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	lock, err := Acquire(ctx, dir, "test-app")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	lock.Release()
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed after Release, got: %v", err)
	}

	// Double release must be a no-op.
	lock.Release()
}

func TestSecondAcquireFailsWhileHeld(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	lock, err := Acquire(ctx, dir, "holder")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer lock.Release()

	_, err = Acquire(ctx, dir, "contender")
	if err == nil {
		t.Fatal("expected second Acquire to fail while lock is held")
	}
	var active *ErrLockActive
	if !errors.As(err, &active) {
		t.Fatalf("expected *ErrLockActive, got: %v", err)
	}
	if active.AppID != "holder" {
		t.Errorf("expected error to name the holder, got %q", active.AppID)
	}
}

func TestStaleLockTakeover(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	origHeartbeat, origStale := heartbeatInterval, staleTimeout
	heartbeatInterval = 10 * time.Millisecond
	staleTimeout = 30 * time.Millisecond
	defer func() {
		heartbeatInterval = origHeartbeat
		staleTimeout = origStale
	}()

	// Plant a lock whose owner stopped heartbeating long ago.
	stale := LockContent{
		PID:        999999,
		Hostname:   "ghost",
		LastUpdate: time.Now().UTC().Add(-time.Hour),
		AppID:      "crashed-app",
	}
	if err := updateLockFileAtomic(filepath.Join(dir, LockFileName), stale); err != nil {
		t.Fatalf("failed to plant stale lock: %v", err)
	}

	lock, err := Acquire(ctx, dir, "new-owner")
	if err != nil {
		t.Fatalf("expected takeover of stale lock, got: %v", err)
	}
	defer lock.Release()

	content, err := readLockContent(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("failed to read lock after takeover: %v", err)
	}
	if content.AppID != "new-owner" {
		t.Errorf("expected new owner in lock file, got %q", content.AppID)
	}
}

func TestCorruptLockIsTreatedAsStale(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte("not json"), 0o644); err != nil {
		t.Fatalf("failed to plant corrupt lock: %v", err)
	}

	lock, err := Acquire(ctx, dir, "recoverer")
	if err != nil {
		t.Fatalf("expected corrupt lock to be recoverable, got: %v", err)
	}
	lock.Release()
}
