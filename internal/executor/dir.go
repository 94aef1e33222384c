package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disksyncpro/disksyncpro/internal/journal"
	"github.com/disksyncpro/disksyncpro/internal/operation"
	"github.com/disksyncpro/disksyncpro/internal/pathkey"
	"github.com/disksyncpro/disksyncpro/internal/plog"
	"github.com/disksyncpro/disksyncpro/internal/util"
)

// applyMkDir creates op's target directory, deduplicating concurrent
// requests for the same path via singleflight the way
// native_syncer.go's directory-creation path is deduplicated across
// workers, and caching success in createdDirs so a later file op whose
// MkDir already ran doesn't re-attempt MkdirAll. Directories are always
// created with the owner-write bit set, matching
// util.WithUserWritePermission's "never lock the run out of its own
// destination" rule.
func (e *Executor) applyMkDir(op operation.Operation) error {
	return e.ensureDir(op.RelPath)
}

func (e *Executor) ensureDir(relPath string) error {
	if e.createdDirs.Has(relPath) {
		return nil
	}

	_, err, _ := e.dirGroup.Do(relPath, func() (any, error) {
		if e.createdDirs.Has(relPath) {
			return nil, nil
		}
		if e.cfg.DryRun {
			if alreadyExisted := e.createdDirs.LoadOrStore(relPath); !alreadyExisted {
				plog.Notice("[DRY RUN] MKDIR", "path", relPath)
			}
			return nil, nil
		}

		absPath := filepath.Join(e.destRoot, pathkey.ToOS(relPath))
		perm := util.WithUserWritePermission(util.UserWritableDirPerms)

		created := false
		info, statErr := os.Lstat(absPath)
		switch {
		case statErr == nil && info.IsDir():
			if err := os.Chmod(absPath, perm); err != nil {
				return nil, fmt.Errorf("executor: chmod %s: %w", absPath, err)
			}
		case statErr == nil:
			plog.Warn("destination path exists but is not a directory, removing", "path", relPath, "type", info.Mode().String())
			if err := os.RemoveAll(absPath); err != nil {
				return nil, fmt.Errorf("executor: removing conflicting entry at %s: %w", absPath, err)
			}
			if err := os.MkdirAll(absPath, perm); err != nil {
				return nil, fmt.Errorf("executor: creating %s: %w", absPath, err)
			}
			e.metrics.AddDirsCreated(1)
			created = true
		case os.IsNotExist(statErr):
			if err := os.MkdirAll(absPath, perm); err != nil {
				return nil, fmt.Errorf("executor: creating %s: %w", absPath, err)
			}
			e.metrics.AddDirsCreated(1)
			created = true
		default:
			return nil, fmt.Errorf("executor: lstat %s: %w", absPath, statErr)
		}

		if alreadyExisted := e.createdDirs.LoadOrStore(relPath); !alreadyExisted {
			plog.Notice("MKDIR", "path", relPath)
			// Only a directory this run actually created is safe for
			// rollback to remove; one that already existed must survive a
			// rollback even if this run filled it with files.
			if created {
				e.appendJournal(journal.Entry{Kind: operation.KindMkDir, RelPath: relPath})
			}
		}
		return nil, nil
	})
	return err
}
