// Package atomicio provides the write-temp-then-rename idiom this module
// uses everywhere a JSON artifact must never be observed half-written:
// the Journal, Checkpoint, and metadata (Snapshot/Index/Summary) writers.
// Grounded on pkg/lockfile.go's updateLockFileAtomic.
package atomicio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disksyncpro/disksyncpro/internal/plog"
	"github.com/disksyncpro/disksyncpro/internal/util"
)

// WriteFile writes data to path by creating a temp file in the same
// directory, syncing it to disk, then renaming it over path. os.Rename is
// only atomic within one filesystem, so the temp file must share path's
// directory.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("atomicio: creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			plog.Warn("failed to remove leftover temp file", "path", tmpName, "error", err)
		}
	}()

	if err := writeAndSync(tmp, data); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomicio: renaming %s to %s: %w", tmpName, path, err)
	}
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("atomicio: writing temp file %s: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("atomicio: syncing temp file %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("atomicio: closing temp file %s: %w", f.Name(), err)
	}
	return nil
}

// AppendFile opens path for append (creating it with the given perm if
// missing), writes data, and fsyncs before returning. It extends the file
// in place rather than replacing it, so the write-temp-then-rename idiom
// doesn't apply; instead every append is individually flushed. The
// Journal does not use it: it rewrites its whole document via WriteFile.
func AppendFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("atomicio: opening %s for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("atomicio: appending to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("atomicio: syncing %s: %w", path, err)
	}
	return nil
}

// WriteDualSink writes the same data to two logical copies of one
// artifact — the project's log area and the destination's own
// bookkeeping directory — mirroring the Journal's sink-degradation rule:
// either path failing alone only warns, but both failing is returned as
// an error for the caller to react to. Used by the Metadata Writer for
// the Snapshot, Index, and Summary artifacts.
func WriteDualSink(logPath, destPath string, data []byte) error {
	logErr := WriteFile(logPath, data)
	if logErr != nil {
		plog.Warn("dual-sink write failed for log sink", "path", logPath, "error", logErr)
	}
	destErr := WriteFile(destPath, data)
	if destErr != nil {
		plog.Warn("dual-sink write failed for destination sink", "path", destPath, "error", destErr)
	}
	if logErr != nil && destErr != nil {
		return fmt.Errorf("atomicio: both sinks failed: log=%v dest=%v", logErr, destErr)
	}
	return nil
}

// EnsureDir creates dir (and any missing parents) with permissions that
// guarantee the owner retains write access, matching this module's rule
// that it must never lock itself out of its own bookkeeping directories.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("atomicio: creating directory %s: %w", dir, err)
	}
	return nil
}
