// Package config defines the runtime configuration for the mirror daemon and
// the precedence rules between defaults, the optional config file and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// ConfigFileName is the base name of the optional configuration file,
// looked up inside the backup root unless an explicit path is given.
const ConfigFileName = "pgl-mirror.config"

// ConfigFileType is the format of the configuration file.
const ConfigFileType = "toml"

type TruthConfig struct {
	// Strategy selects how the authoritative tree is picked at startup.
	// "recency" compares the newest modification time of either tree,
	// "fingerprint" compares content digests and skips initialization
	// entirely when both trees are already identical.
	Strategy    string `mapstructure:"strategy" toml:"strategy"`
	HashWorkers int    `mapstructure:"hashWorkers" toml:"hashWorkers"`
}

type RuntimeConfig struct {
	PollIntervalSeconds      int `mapstructure:"pollIntervalSeconds" toml:"pollIntervalSeconds"`
	ScanIntervalSeconds      int `mapstructure:"scanIntervalSeconds" toml:"scanIntervalSeconds"`
	ReconcileIntervalSeconds int `mapstructure:"reconcileIntervalSeconds" toml:"reconcileIntervalSeconds"`
	GracePeriodSeconds       int `mapstructure:"gracePeriodSeconds" toml:"gracePeriodSeconds" comment:"How long shutdown waits for in-flight copies before abandoning them."`
}

type EngineConfig struct {
	Metrics      bool `mapstructure:"metrics" toml:"metrics"`
	InitWorkers  int  `mapstructure:"initWorkers" toml:"initWorkers"`
	BufferSizeKB int  `mapstructure:"bufferSizeKB" toml:"bufferSizeKB" comment:"Size of the I/O buffer in kilobytes for file copies. Default is 256 (256KB)."`
}

type SnapshotConfig struct {
	// Enabled controls whether the tree about to be cleared during
	// initialization is archived first.
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Format  string `mapstructure:"format" toml:"format"` // "tar.gz" or "tar.zst"
}

type Config struct {
	WorkDir   string         `mapstructure:"workDir" toml:"workDir"`
	BackupDir string         `mapstructure:"backupDir" toml:"backupDir"`
	LogLevel  string         `mapstructure:"logLevel" toml:"logLevel"`
	Truth     TruthConfig    `mapstructure:"truth" toml:"truth"`
	Runtime   RuntimeConfig  `mapstructure:"runtime" toml:"runtime"`
	Engine    EngineConfig   `mapstructure:"engine" toml:"engine"`
	Snapshot  SnapshotConfig `mapstructure:"snapshot" toml:"snapshot"`
}

// NewDefault returns the configuration used when no file and no flags
// override anything.
func NewDefault() Config {
	return Config{
		WorkDir:   "", // Intentionally empty to force user configuration.
		BackupDir: "", // Intentionally empty to force user configuration.
		LogLevel:  "info",
		Truth: TruthConfig{
			Strategy:    "recency",
			HashWorkers: 4, // Only used by the fingerprint strategy.
		},
		Runtime: RuntimeConfig{
			PollIntervalSeconds:      2, // Per-file modification poll.
			ScanIntervalSeconds:      5, // Supervisor sweep for new files.
			ReconcileIntervalSeconds: 3, // Deletion reconciler sweep.
			GracePeriodSeconds:       5,
		},
		Engine: EngineConfig{
			Metrics:      true,
			InitWorkers:  4,   // Safe for HDDs, decent for SSDs.
			BufferSizeKB: 256, // Keep it between 64KB-4MB.
		},
		Snapshot: SnapshotConfig{
			Enabled: true,
			Format:  "tar.gz",
		},
	}
}

// Load reads the configuration file and overlays it on the defaults. When
// explicitPath is empty the file is searched in backupDir under its default
// name; a missing file is not an error in that case. An explicitly named
// file that cannot be read is always an error.
func Load(backupDir, explicitPath string) (Config, error) {
	cfg := NewDefault()

	v := viper.New()
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", explicitPath, err)
		}
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType(ConfigFileType)
		if backupDir != "" {
			v.AddConfigPath(backupDir)
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
			// No file anywhere, defaults stand.
			return cfg, nil
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config file: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		plog.Debug("loaded configuration file", "path", used)
	}
	return cfg, nil
}

// WriteDefault writes a default configuration file into backupDir for the
// user to edit. It refuses to overwrite an existing file.
func WriteDefault(backupDir string) (string, error) {
	path := filepath.Join(backupDir, ConfigFileName+"."+ConfigFileType)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("cannot stat %s: %w", path, err)
	}

	data, err := toml.Marshal(NewDefault())
	if err != nil {
		return "", fmt.Errorf("failed to encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// MergeConfigWithFlags overlays the configuration values from flags on top of
// a base configuration. It iterates over the setFlags map, which contains
// only the flags explicitly provided by the user on the command line.
func MergeConfigWithFlags(base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "work-dir":
			merged.WorkDir = value.(string)
		case "backup-dir":
			merged.BackupDir = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "truth":
			merged.Truth.Strategy = value.(string)
		case "hash-workers":
			merged.Truth.HashWorkers = value.(int)
		case "poll-interval":
			merged.Runtime.PollIntervalSeconds = value.(int)
		case "scan-interval":
			merged.Runtime.ScanIntervalSeconds = value.(int)
		case "reconcile-interval":
			merged.Runtime.ReconcileIntervalSeconds = value.(int)
		case "grace-period":
			merged.Runtime.GracePeriodSeconds = value.(int)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "init-workers":
			merged.Engine.InitWorkers = value.(int)
		case "buffer-size-kb":
			merged.Engine.BufferSizeKB = value.(int)
		case "snapshot":
			merged.Snapshot.Enabled = value.(bool)
		case "snapshot-format":
			merged.Snapshot.Format = value.(string)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}

// Validate checks the merged configuration for values the daemon cannot
// run with.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return errors.New("work directory is not configured (use -work-dir)")
	}
	if c.BackupDir == "" {
		return errors.New("backup directory is not configured (use -backup-dir)")
	}
	switch c.Truth.Strategy {
	case "recency", "fingerprint":
	default:
		return fmt.Errorf("unknown truth strategy %q (expected 'recency' or 'fingerprint')", c.Truth.Strategy)
	}
	switch c.Snapshot.Format {
	case "tar.gz", "tar.zst":
	default:
		return fmt.Errorf("unknown snapshot format %q (expected 'tar.gz' or 'tar.zst')", c.Snapshot.Format)
	}
	if c.Runtime.PollIntervalSeconds <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.Runtime.ScanIntervalSeconds <= 0 {
		return errors.New("scan interval must be positive")
	}
	if c.Runtime.ReconcileIntervalSeconds <= 0 {
		return errors.New("reconcile interval must be positive")
	}
	if c.Runtime.GracePeriodSeconds < 0 {
		return errors.New("grace period must not be negative")
	}
	if c.Engine.InitWorkers <= 0 {
		return errors.New("init workers must be positive")
	}
	if c.Truth.HashWorkers <= 0 {
		return errors.New("hash workers must be positive")
	}
	if c.Engine.BufferSizeKB <= 0 {
		return errors.New("buffer size must be positive")
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Runtime.PollIntervalSeconds) * time.Second
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Runtime.ScanIntervalSeconds) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Runtime.ReconcileIntervalSeconds) * time.Second
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Runtime.GracePeriodSeconds) * time.Second
}

// LogSummary prints a user-friendly summary of the effective configuration.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"work_dir", c.WorkDir,
		"backup_dir", c.BackupDir,
		"log_level", c.LogLevel,
		"truth_strategy", c.Truth.Strategy,
		"poll_interval_s", c.Runtime.PollIntervalSeconds,
		"scan_interval_s", c.Runtime.ScanIntervalSeconds,
		"reconcile_interval_s", c.Runtime.ReconcileIntervalSeconds,
		"grace_period_s", c.Runtime.GracePeriodSeconds,
		"init_workers", c.Engine.InitWorkers,
		"buffer_size_kb", c.Engine.BufferSizeKB,
		"metrics", c.Engine.Metrics,
	}
	if c.Truth.Strategy == "fingerprint" {
		logArgs = append(logArgs, "hash_workers", c.Truth.HashWorkers)
	}
	if c.Snapshot.Enabled {
		logArgs = append(logArgs, "snapshot", fmt.Sprintf("enabled (f:%s)", c.Snapshot.Format))
	} else {
		logArgs = append(logArgs, "snapshot", "disabled")
	}
	plog.Info("configuration", logArgs...)
}
