package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixelgardenlabs.io/pgl-mirror/pkg/config"
	"pixelgardenlabs.io/pgl-mirror/pkg/mirror"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// appName is the canonical name of the application used for logging.
const appName = "PGL-Mirror"

// version holds the application's version string.
// It's a `var` so it can be set at compile time using ldflags.
// Example: go build -ldflags="-X main.version=1.0.0"
var version = "dev"

// action defines a special command to execute instead of running the daemon.
type action int

const (
	actionRunMirror action = iota // The default action is to run the mirror daemon.
	actionShowVersion
	actionInitConfig
)

// init is called before main. We use it to set up a custom, more descriptive
// help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", appName, version)
		fmt.Fprintf(flag.CommandLine.Output(), "A continuous bidirectional mirror between a working directory and its backup.\n\n")
		flag.PrintDefaults()
	}
}

// parseFlagConfig defines and parses command-line flags, and constructs a
// map containing only the values explicitly provided by those flags.
func parseFlagConfig() (action, map[string]interface{}, error) {
	// Flags cover everything useful to override for a single run. The
	// config file in the backup root is the place for durable settings.
	workDirFlag := flag.String("work-dir", "", "Working directory to mirror from")
	backupDirFlag := flag.String("backup-dir", "", "Backup directory to mirror into")
	configFlag := flag.String("config", "", "Path to an explicit config file (default: pgl-mirror.config.toml in the backup directory).")
	logLevelFlag := flag.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	truthFlag := flag.String("truth", "recency", "Startup truth strategy: 'recency' or 'fingerprint'.")
	hashWorkersFlag := flag.Int("hash-workers", 0, "Number of worker goroutines for content hashing (fingerprint strategy).")
	pollIntervalFlag := flag.Int("poll-interval", 0, "Seconds between modification checks of a watched file.")
	scanIntervalFlag := flag.Int("scan-interval", 0, "Seconds between sweeps of the working directory for new files.")
	reconcileIntervalFlag := flag.Int("reconcile-interval", 0, "Seconds between deletion-reconciliation sweeps of the backup directory.")
	gracePeriodFlag := flag.Int("grace-period", 0, "Seconds to wait for in-flight copies on shutdown.")
	initWorkersFlag := flag.Int("init-workers", 0, "Number of worker goroutines for the initial tree copy.")
	bufferSizeKBFlag := flag.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies.")
	metricsFlag := flag.Bool("metrics", true, "Enable file-counting and throughput metrics.")
	snapshotFlag := flag.Bool("snapshot", true, "Archive the losing tree before it is cleared during initialization.")
	snapshotFormatFlag := flag.String("snapshot-format", "", "Snapshot archive format: 'tar.gz' or 'tar.zst'.")
	initFlag := flag.Bool("init", false, "Generate a default config file in the backup directory and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	// Track which flags the user actually set, so defaults never
	// override file values during the merge.
	usedFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]interface{})
	addIfUsed := func(name string, value interface{}) {
		if usedFlags[name] {
			flagMap[name] = value
		}
	}

	addIfUsed("work-dir", *workDirFlag)
	addIfUsed("backup-dir", *backupDirFlag)
	addIfUsed("config", *configFlag)
	addIfUsed("log-level", *logLevelFlag)
	addIfUsed("truth", *truthFlag)
	addIfUsed("hash-workers", *hashWorkersFlag)
	addIfUsed("poll-interval", *pollIntervalFlag)
	addIfUsed("scan-interval", *scanIntervalFlag)
	addIfUsed("reconcile-interval", *reconcileIntervalFlag)
	addIfUsed("grace-period", *gracePeriodFlag)
	addIfUsed("init-workers", *initWorkersFlag)
	addIfUsed("buffer-size-kb", *bufferSizeKBFlag)
	addIfUsed("metrics", *metricsFlag)
	addIfUsed("snapshot", *snapshotFlag)
	addIfUsed("snapshot-format", *snapshotFormatFlag)

	if *versionFlag {
		return actionShowVersion, flagMap, nil
	}
	if *initFlag {
		return actionInitConfig, flagMap, nil
	}
	return actionRunMirror, flagMap, nil
}

// runInitConfig writes a default config file into the backup directory.
func runInitConfig(flagMap map[string]interface{}) error {
	backupDir, ok := flagMap["backup-dir"].(string)
	if !ok || backupDir == "" {
		return fmt.Errorf("the -backup-dir flag is required for the init operation")
	}
	backupDir, err := util.ExpandPath(backupDir)
	if err != nil {
		return err
	}

	path, err := config.WriteDefault(backupDir)
	if err != nil {
		return err
	}
	plog.Info("Default configuration written.", "path", path)
	return nil
}

// runMirror loads and merges the configuration and runs the daemon until the
// context is cancelled.
func runMirror(ctx context.Context, flagMap map[string]interface{}) error {
	backupDir, _ := flagMap["backup-dir"].(string)
	explicitConfig, _ := flagMap["config"].(string)

	loadedConfig, err := config.Load(backupDir, explicitConfig)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(loadedConfig, flagMap)

	if runConfig.WorkDir, err = util.ExpandPath(runConfig.WorkDir); err != nil {
		return err
	}
	if runConfig.BackupDir, err = util.ExpandPath(runConfig.BackupDir); err != nil {
		return err
	}
	if err := runConfig.Validate(); err != nil {
		return err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	runConfig.LogSummary()

	startTime := time.Now()
	err = mirror.NewDaemon(runConfig, appName).Run(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(appName+" stopped.", "uptime", duration)
	return nil
}

// run encapsulates the main application logic and returns an error if
// something goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context) error {
	plog.Info("Starting "+appName, "version", version, "pid", os.Getpid())

	action, flagMap, err := parseFlagConfig()
	if err != nil {
		return err
	}

	switch action {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", appName, version)
		return nil
	case actionInitConfig:
		return runInitConfig(flagMap)
	case actionRunMirror:
		return runMirror(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown action %d", action)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		plog.Notice("Shutdown signal received, stopping mirror")
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(appName+" exited with error", "error", err)
		os.Exit(1)
	}
}
