// Package archive writes a compressed safety snapshot of a tree before the
// initializer clears it. If truth resolution picked the wrong side, the
// snapshot is the only way back.
package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"pixelgardenlabs.io/pgl-mirror/pkg/metrics"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathmap"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/pool"
)

// Format is the compression applied around the tar stream.
type Format int

const (
	TarGz Format = iota
	TarZst
)

func (f Format) String() string {
	if f == TarZst {
		return "tar.zst"
	}
	return "tar.gz"
}

// FormatFromString parses a snapshot format name as found in config or flags.
func FormatFromString(s string) (Format, error) {
	switch s {
	case "tar.gz":
		return TarGz, nil
	case "tar.zst":
		return TarZst, nil
	default:
		return TarGz, fmt.Errorf("unsupported snapshot format: %s", s)
	}
}

// SnapshotPrefix marks snapshot archives in the backup root so the sync
// loops leave them alone.
const SnapshotPrefix = pathmap.SnapshotPrefix

// SnapshotName returns the file name for a snapshot taken now.
func SnapshotName(format Format) string {
	return fmt.Sprintf("%s%s.%s", SnapshotPrefix, time.Now().Format("2006-01-02_15-04-05"), format)
}

// Snapshot archives srcRoot into absArchivePath. The archive is written to a
// temp file in the destination directory first and renamed into place, so a
// crash mid-write never leaves a half-usable snapshot behind. The temp file
// carries the snapshot prefix: the destination is usually the tree being
// archived, and the walk must not tar the growing archive into itself.
func Snapshot(ctx context.Context, srcRoot, absArchivePath string, format Format, bufs *pool.FixedBufferPool, met metrics.Metrics) (retErr error) {
	targetF, err := os.CreateTemp(filepath.Dir(absArchivePath), SnapshotPrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tempName := targetF.Name()

	defer func() {
		if retErr != nil {
			targetF.Close()
			os.Remove(tempName)
		}
	}()

	if err := writeArchive(ctx, srcRoot, targetF, format, bufs, met); err != nil {
		return err
	}

	// Close explicitly to flush to disk before rename.
	if err := targetF.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Rename(tempName, absArchivePath); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}

	plog.Notice("Snapshot written", "path", absArchivePath)
	return nil
}

func writeArchive(ctx context.Context, srcRoot string, targetF *os.File, format Format, bufs *pool.FixedBufferPool, met metrics.Metrics) (retErr error) {
	bufWriter := bufio.NewWriterSize(targetF, int(bufs.Size()))

	var compressedWriter io.WriteCloser
	if format == TarZst {
		zstdWriter, err := zstd.NewWriter(bufWriter)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zstdWriter
	} else {
		pgzipWriter, err := pgzip.NewWriterLevel(bufWriter, pgzip.DefaultCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = pgzipWriter
	}

	tarWriter := tar.NewWriter(compressedWriter)

	// Close in reverse stacking order, keeping the first error.
	defer func() {
		if err := tarWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	return filepath.WalkDir(srcRoot, func(absPath string, d os.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		// The daemon's own lock, config, earlier snapshots and the temp
		// file this very call is writing belong to the machinery, not
		// to the data.
		if pathmap.IsReservedName(d.Name()) {
			return nil
		}

		relKey, err := pathmap.RelKey(srcRoot, absPath)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil // vanished mid-walk
			}
			return fmt.Errorf("failed to get file info for %s: %w", absPath, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return addSymlink(tarWriter, absPath, relKey, info)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		bufPtr := bufs.Get()
		defer bufs.Put(bufPtr)
		return addFile(tarWriter, absPath, relKey, info, *bufPtr, met)
	})
}

func addFile(tarWriter *tar.Writer, absPath, relKey string, info os.FileInfo, buf []byte, met metrics.Metrics) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", absPath, err)
	}
	header.Name = relKey

	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", relKey, err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", absPath, err)
	}
	defer f.Close()

	// Ensure the file we opened is the one the walk discovered, not
	// something swapped in between.
	openedInfo, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat opened file %s: %w", absPath, err)
	}
	if !os.SameFile(info, openedInfo) {
		return fmt.Errorf("file changed during snapshot: %s", absPath)
	}

	n, err := io.CopyBuffer(tarWriter, f, buf)
	met.AddBytesWritten(n)
	return err
}

func addSymlink(tarWriter *tar.Writer, absPath, relKey string, info os.FileInfo) error {
	target, err := os.Readlink(absPath)
	if err != nil {
		return fmt.Errorf("failed to read link target for %s: %w", absPath, err)
	}
	header, err := tar.FileInfoHeader(info, target)
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", absPath, err)
	}
	header.Name = relKey
	return tarWriter.WriteHeader(header)
}
