package config

import (
	"os"
	"path/filepath"
	"testing"

	"pixelgardenlabs.io/pgl-mirror/pkg/pathmap"
)

func createConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileType)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}
	return path
}

func TestLoadWithoutFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Load() without a file failed: %v", err)
	}
	def := NewDefault()
	if cfg.LogLevel != def.LogLevel {
		t.Errorf("expected default log level %q, got %q", def.LogLevel, cfg.LogLevel)
	}
	if cfg.Runtime.PollIntervalSeconds != def.Runtime.PollIntervalSeconds {
		t.Errorf("expected default poll interval %d, got %d",
			def.Runtime.PollIntervalSeconds, cfg.Runtime.PollIntervalSeconds)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	createConfigFile(t, dir, `
logLevel = "debug"

[truth]
strategy = "fingerprint"

[runtime]
pollIntervalSeconds = 7
`)

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level from file, got %q", cfg.LogLevel)
	}
	if cfg.Truth.Strategy != "fingerprint" {
		t.Errorf("expected truth strategy from file, got %q", cfg.Truth.Strategy)
	}
	if cfg.Runtime.PollIntervalSeconds != 7 {
		t.Errorf("expected poll interval from file, got %d", cfg.Runtime.PollIntervalSeconds)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Engine.BufferSizeKB != NewDefault().Engine.BufferSizeKB {
		t.Errorf("expected default buffer size, got %d", cfg.Engine.BufferSizeKB)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for explicitly named missing config file")
	}
}

func TestMergeConfigWithFlagsOverridesFile(t *testing.T) {
	base := NewDefault()
	base.LogLevel = "debug"
	base.Runtime.PollIntervalSeconds = 7

	merged := MergeConfigWithFlags(base, map[string]any{
		"work-dir":      "/tmp/work",
		"backup-dir":    "/tmp/backup",
		"poll-interval": 1,
		"snapshot":      false,
	})

	if merged.WorkDir != "/tmp/work" || merged.BackupDir != "/tmp/backup" {
		t.Errorf("expected roots from flags, got %q and %q", merged.WorkDir, merged.BackupDir)
	}
	if merged.Runtime.PollIntervalSeconds != 1 {
		t.Errorf("expected flag to beat file value, got %d", merged.Runtime.PollIntervalSeconds)
	}
	if merged.Snapshot.Enabled {
		t.Error("expected snapshot disabled by flag")
	}
	if merged.LogLevel != "debug" {
		t.Errorf("expected untouched value to survive merge, got %q", merged.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	cfg := NewDefault()
	cfg.WorkDir = "/tmp/work"
	cfg.BackupDir = "/tmp/backup"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}

	missing := NewDefault()
	if err := missing.Validate(); err == nil {
		t.Error("expected error for unconfigured roots")
	}

	badStrategy := cfg
	badStrategy.Truth.Strategy = "vibes"
	if err := badStrategy.Validate(); err == nil {
		t.Error("expected error for unknown truth strategy")
	}

	badFormat := cfg
	badFormat.Snapshot.Format = "rar"
	if err := badFormat.Validate(); err == nil {
		t.Error("expected error for unknown snapshot format")
	}

	badInterval := cfg
	badInterval.Runtime.PollIntervalSeconds = 0
	if err := badInterval.Validate(); err == nil {
		t.Error("expected error for zero poll interval")
	}
}

func TestConfigFileNameIsReserved(t *testing.T) {
	// The sync loops exempt the config file by its full name; the two
	// constants must not drift apart.
	full := ConfigFileName + "." + ConfigFileType
	if full != pathmap.ConfigFileName {
		t.Fatalf("config file name %q does not match reserved name %q", full, pathmap.ConfigFileName)
	}
}
