package mirror

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"pixelgardenlabs.io/pgl-mirror/pkg/archive"
	"pixelgardenlabs.io/pgl-mirror/pkg/config"
	"pixelgardenlabs.io/pgl-mirror/pkg/lockfile"
	"pixelgardenlabs.io/pgl-mirror/pkg/metrics"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/pool"
	"pixelgardenlabs.io/pgl-mirror/pkg/preflight"
	"pixelgardenlabs.io/pgl-mirror/pkg/truth"
)

// Daemon runs the full mirror lifecycle: preflight, locking, truth
// resolution, initialization and the live-sync loops. It owns every worker
// goroutine it starts and does not return from Run until they are finished
// or the shutdown grace period has passed.
type Daemon struct {
	cfg   config.Config
	appID string
	met   metrics.Metrics
	bufs  *pool.FixedBufferPool
}

// NewDaemon builds a Daemon from a validated configuration.
func NewDaemon(cfg config.Config, appID string) *Daemon {
	var met metrics.Metrics = &metrics.NoopMetrics{}
	if cfg.Engine.Metrics {
		met = &metrics.MirrorMetrics{}
	}
	return &Daemon{
		cfg:   cfg,
		appID: appID,
		met:   met,
		bufs:  pool.NewFixedBuffer(int64(cfg.Engine.BufferSizeKB) * 1024),
	}
}

// Run executes the daemon until ctx is cancelled or a fatal error occurs.
// Cancellation is the normal way to stop and yields a nil error.
func (d *Daemon) Run(ctx context.Context) error {
	workRoot, backupRoot := d.cfg.WorkDir, d.cfg.BackupDir

	if err := d.preflight(workRoot, backupRoot); err != nil {
		return err
	}

	lock, err := lockfile.Acquire(ctx, backupRoot, d.appID)
	if err != nil {
		return fmt.Errorf("another instance may be mirroring this pair: %w", err)
	}
	defer lock.Release()

	if err := d.initialize(ctx, workRoot, backupRoot); err != nil {
		return err
	}

	if err := d.liveSync(ctx, workRoot, backupRoot); err != nil {
		return err
	}

	d.met.Log()
	return nil
}

func (d *Daemon) preflight(workRoot, backupRoot string) error {
	for _, root := range []string{workRoot, backupRoot} {
		if err := preflight.CheckRootAccessible(root); err != nil {
			return err
		}
		if err := preflight.CheckRootWritable(root); err != nil {
			return err
		}
	}
	return nil
}

// initialize resolves which tree is authoritative and forces the other into
// an exact copy of it. With the fingerprint strategy and identical trees the
// whole step collapses into a no-op.
func (d *Daemon) initialize(ctx context.Context, workRoot, backupRoot string) error {
	strategy, err := truth.StrategyFromString(d.cfg.Truth.Strategy)
	if err != nil {
		return err
	}

	res, err := truth.Resolve(ctx, workRoot, backupRoot, strategy, d.cfg.Truth.HashWorkers, d.met)
	if err != nil {
		return fmt.Errorf("failed to resolve authoritative tree: %w", err)
	}
	if res.SkipInit {
		return nil
	}

	srcRoot, dstRoot := workRoot, backupRoot
	if res.Authoritative == truth.SourceBackup {
		srcRoot, dstRoot = backupRoot, workRoot
	}
	plog.Notice("Authoritative tree resolved", "source", res.Authoritative.String(), "strategy", strategy.String())

	if err := preflight.CheckFreeSpace(srcRoot, dstRoot); err != nil {
		return err
	}

	// Archive the losing tree before clearing it. If the snapshot cannot
	// be written, initialization must not destroy the only copy.
	if d.cfg.Snapshot.Enabled {
		format, err := archive.FormatFromString(d.cfg.Snapshot.Format)
		if err != nil {
			return err
		}
		archivePath := filepath.Join(backupRoot, archive.SnapshotName(format))
		if err := archive.Snapshot(ctx, dstRoot, archivePath, format, d.bufs, d.met); err != nil {
			return fmt.Errorf("failed to snapshot %s before clearing it: %w", dstRoot, err)
		}
	}

	copier := NewCopier(srcRoot, dstRoot, d.bufs, d.met)
	return NewInitializer(copier, d.cfg.Engine.InitWorkers).Run(ctx)
}

// liveSync runs the supervisor and reconciler loops until cancellation, then
// drains the per-file watchers within the configured grace period.
func (d *Daemon) liveSync(ctx context.Context, workRoot, backupRoot string) error {
	copier := NewCopier(workRoot, backupRoot, d.bufs, d.met)
	supervisor := NewSupervisor(workRoot, copier, d.cfg.ScanInterval(), d.cfg.PollInterval(), d.met)
	reconciler := NewReconciler(workRoot, backupRoot, copier, d.cfg.ReconcileInterval(), d.met)

	plog.Info("Live sync started", "work", workRoot, "backup", backupRoot)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	if !supervisor.DrainWatchers(d.cfg.GracePeriod()) {
		plog.Warn("Shutdown grace period elapsed, abandoning in-flight watchers",
			"grace", d.cfg.GracePeriod().String())
		return nil
	}
	plog.Info("Live sync stopped cleanly")
	return nil
}
