package journal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disksyncpro/disksyncpro/internal/operation"
	"github.com/disksyncpro/disksyncpro/internal/pathkey"
	"github.com/disksyncpro/disksyncpro/internal/plog"
)

// UnrecoverableError reports an entry rollback could not undo, matching
// spec.md's "Delete -> restore from backup if preserved; otherwise report
// unrecoverable" rule. Rollback continues past an unrecoverable entry
// rather than aborting, so a single missing backup doesn't strand every
// other entry in the journal.
type UnrecoverableError struct {
	RelPath string
	Reason  string
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("journal: %s is unrecoverable: %s", e.RelPath, e.Reason)
}

// Rollback replays j's entries in reverse, undoing each one per spec.md
// section 4.4's per-kind table, and returns the entries it could not
// fully undo. It is idempotent: an entry already marked RolledBack is
// skipped, so re-running rollback against a partially-rolled-back
// journal (e.g. after a crash mid-rollback) picks up where it left off.
// j is mutated in place — the caller is responsible for persisting it
// via Save after Rollback returns.
func Rollback(j *Journal, destRoot string, dryRun bool) []UnrecoverableError {
	var unrecoverable []UnrecoverableError

	for i := len(j.Entries) - 1; i >= 0; i-- {
		e := &j.Entries[i]
		if e.RolledBack || !e.IsCommitted() {
			continue
		}

		if err := rollbackOne(*e, destRoot, dryRun); err != nil {
			var ue *UnrecoverableError
			if asUnrecoverable(err, &ue) {
				unrecoverable = append(unrecoverable, *ue)
				plog.Warn("rollback: entry unrecoverable", "rel_path", e.RelPath, "kind", e.Kind, "error", err)
				continue
			}
			plog.Warn("rollback: entry failed, leaving for a later retry", "rel_path", e.RelPath, "kind", e.Kind, "error", err)
			continue
		}

		if !dryRun {
			e.RolledBack = true
		}
	}

	if len(unrecoverable) > 0 {
		j.Status = StatusRollbackFail
	} else {
		j.Status = StatusRolledBack
	}
	return unrecoverable
}

func asUnrecoverable(err error, target **UnrecoverableError) bool {
	if ue, ok := err.(*UnrecoverableError); ok {
		*target = ue
		return true
	}
	return false
}

func rollbackOne(e Entry, destRoot string, dryRun bool) error {
	target := filepath.Join(destRoot, pathkey.ToOS(e.RelPath))

	switch e.Kind {
	case operation.KindCopy:
		// A newly created file: undo by deleting it.
		return removeIfExists(target, dryRun)

	case operation.KindUpdateFile:
		// An overwritten file: restore the pre-overwrite backup, which in
		// safety_net mode lives in the SafetyNet bucket.
		backup := e.BackupPath
		if backup == "" {
			backup = e.SafetyNetPath
		}
		return restoreFromBackup(target, backup, e.RelPath, dryRun)

	case operation.KindMkDir:
		// Only safe to remove if the run left it empty; a non-empty
		// directory means something else now lives there, so leave it.
		if dryRun {
			return nil
		}
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				// Non-empty directory: not an error, just not undoable here.
				plog.Debug("rollback: directory not empty, leaving in place", "path", target)
			}
		}
		return nil

	case operation.KindSymlinkCreate:
		return removeIfExists(target, dryRun)

	case operation.KindMoveToSafetyNet:
		// Move the quarantined entry back to its original location.
		if e.SafetyNetPath == "" {
			return &UnrecoverableError{RelPath: e.RelPath, Reason: "no safety-net path recorded"}
		}
		if dryRun {
			return nil
		}
		if _, err := os.Stat(e.SafetyNetPath); err != nil {
			return &UnrecoverableError{RelPath: e.RelPath, Reason: fmt.Sprintf("safety-net copy missing: %v", err)}
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("journal: preparing %s for restore: %w", target, err)
		}
		if err := os.Rename(e.SafetyNetPath, target); err != nil {
			return fmt.Errorf("journal: moving %s back from safety net: %w", target, err)
		}
		return nil

	case operation.KindDelete:
		return restoreFromBackup(target, e.BackupPath, e.RelPath, dryRun)

	default:
		return &UnrecoverableError{RelPath: e.RelPath, Reason: fmt.Sprintf("unknown operation kind %q", e.Kind)}
	}
}

func removeIfExists(path string, dryRun bool) error {
	if dryRun {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("journal: removing %s: %w", path, err)
	}
	return nil
}

func restoreFromBackup(target, backupPath, relPath string, dryRun bool) error {
	if backupPath == "" {
		return &UnrecoverableError{RelPath: relPath, Reason: "no backup preserved"}
	}
	if dryRun {
		return nil
	}
	if _, err := os.Stat(backupPath); err != nil {
		return &UnrecoverableError{RelPath: relPath, Reason: fmt.Sprintf("backup missing: %v", err)}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("journal: preparing %s for restore: %w", target, err)
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("journal: removing %s before restore: %w", target, err)
	}
	if err := os.Rename(backupPath, target); err != nil {
		return fmt.Errorf("journal: restoring %s from backup: %w", target, err)
	}
	return nil
}
