package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/disksyncpro/disksyncpro/internal/buildinfo"
	"github.com/disksyncpro/disksyncpro/internal/config"
	"github.com/disksyncpro/disksyncpro/internal/engine"
	"github.com/disksyncpro/disksyncpro/internal/plog"
)

// runBackup loads the job configuration from -c (defaulting to the
// current directory), overlays the flags the user explicitly set, and
// drives a full Engine run to completion, cancellation, or fatal
// rollback. Grounded on cmd/backup.go's load-merge-validate-run shape.
func runBackup(ctx context.Context, flagMap map[string]any) int {
	configDir, _ := flagMap["c"].(string)
	if configDir == "" {
		configDir = "."
	}

	baseJob, err := config.Load(configDir)
	if err != nil {
		plog.Error("backup: loading job configuration failed", "error", err)
		return int(engine.ExitConfigError)
	}

	if name, ok := flagMap["j"].(string); ok && name != "" {
		baseJob.Name = name
	}

	job := config.MergeWithFlags(baseJob, flagMap)
	if err := job.Validate(); err != nil {
		plog.Error("backup: invalid job configuration", "error", err)
		return int(engine.ExitConfigError)
	}
	if job.Name == "" {
		plog.Error("backup: the job has no name; set -j or give it a name in the config file")
		return int(engine.ExitConfigError)
	}

	plog.SetLevel(plog.LevelFromString(job.LogLevel))
	job.LogSummary()

	eng := engine.New(engine.Options{
		LogDir: filepath.Join(configDir, "logs", job.Name),
		OnEvent: func(ev engine.Event) {
			plog.Debug("progress", "phase", ev.Phase, "done", ev.Done, "total", ev.Total, "current", ev.CurrentRel)
		},
	})

	startTime := time.Now()
	result, runErr := eng.Run(ctx, job)
	duration := time.Since(startTime).Round(time.Millisecond)

	for _, w := range result.ScanWarnings {
		plog.Warn("scan warning", "detail", w)
	}
	for path, ferr := range result.FailedPaths {
		plog.Warn("operation skipped after exhausting retries", "path", path, "error", ferr)
	}
	for _, u := range result.Unrecoverable {
		plog.Error("rollback could not fully undo entry", "path", u.RelPath, "reason", u.Reason)
	}

	if runErr != nil {
		plog.Error(buildinfo.Name+" run failed", "error", runErr, "duration", duration)
		return int(result.ExitCode)
	}

	switch result.ExitCode {
	case engine.ExitCancelled:
		plog.Notice(buildinfo.Name+" run cancelled, checkpoint saved for resume", "duration", duration)
	case engine.ExitPartial:
		plog.Warn(buildinfo.Name+" run finished with skipped files", "duration", duration, "skipped", len(result.FailedPaths))
	default:
		plog.Info(buildinfo.Name+" run finished successfully",
			"duration", duration,
			"copied", result.Counters.FilesCopied,
			"updated", result.Counters.FilesUpdated,
			"up_to_date", result.Counters.FilesUpToDate,
			"deleted", result.Counters.FilesDeleted,
			"moved_to_safety_net", result.Counters.FilesMovedToSafetyNet,
		)
	}
	return int(result.ExitCode)
}
