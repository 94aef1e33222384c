package main

import (
	"github.com/disksyncpro/disksyncpro/internal/engine"
	"github.com/disksyncpro/disksyncpro/internal/journal"
	"github.com/disksyncpro/disksyncpro/internal/plog"
)

// runRollback replays a single journal file in reverse via the standalone
// rollback path, independent of any Engine run — it is the operator's
// manual recovery tool for a run that ended up ExitFatal, or for undoing
// a successful run the operator has changed their mind about.
func runRollback(flagMap map[string]any) int {
	journalPath, _ := flagMap["f"].(string)
	if journalPath == "" {
		plog.Error("rollback: the -f flag is required")
		return int(engine.ExitConfigError)
	}
	dryRun, _ := flagMap["dry-run"].(bool)

	j, err := journal.Load(journalPath)
	if err != nil {
		plog.Error("rollback: loading journal failed", "error", err)
		return int(engine.ExitConfigError)
	}

	plog.Info("rolling back journal", "job", j.JobName, "timestamp", j.Timestamp, "dry_run", dryRun)
	unrecoverable := journal.Rollback(&j, j.DestRoot, dryRun)

	if !dryRun {
		if err := journal.Save(j, journalPath); err != nil {
			plog.Error("rollback: saving updated journal failed", "error", err)
			return int(engine.ExitFatal)
		}
	}

	for _, u := range unrecoverable {
		plog.Warn("rollback: entry could not be fully undone", "path", u.RelPath, "reason", u.Reason)
	}

	if len(unrecoverable) > 0 {
		plog.Error("rollback finished with unrecoverable entries", "count", len(unrecoverable))
		return int(engine.ExitFatal)
	}
	plog.Info("rollback finished successfully")
	return int(engine.ExitSuccess)
}
