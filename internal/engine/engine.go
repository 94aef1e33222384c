// Package engine orchestrates one job run end to end: scan both trees,
// plan the diff, open the Journal, drive the Executor, and on success
// write the Metadata Writer's artifacts and retire the Checkpoint.
// Grounded on original_source/disk_sync_pro.py's perform_backup, the
// single function that sequences every subsystem in the original script,
// restructured here into discrete Scanner/Planner/Executor/Journal/
// Checkpoint/Metadata collaborators the way pkg/pathsync/nativetask.go's
// CopyTask.Run sequences its own walk-then-sync pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/disksyncpro/disksyncpro/internal/checkpoint"
	"github.com/disksyncpro/disksyncpro/internal/config"
	"github.com/disksyncpro/disksyncpro/internal/executor"
	"github.com/disksyncpro/disksyncpro/internal/filterset"
	"github.com/disksyncpro/disksyncpro/internal/journal"
	"github.com/disksyncpro/disksyncpro/internal/metadata"
	"github.com/disksyncpro/disksyncpro/internal/metrics"
	"github.com/disksyncpro/disksyncpro/internal/operation"
	"github.com/disksyncpro/disksyncpro/internal/planner"
	"github.com/disksyncpro/disksyncpro/internal/plog"
	"github.com/disksyncpro/disksyncpro/internal/preflight"
	"github.com/disksyncpro/disksyncpro/internal/scanner"
	"github.com/disksyncpro/disksyncpro/internal/sharded"
	"github.com/disksyncpro/disksyncpro/internal/tree"
)

// Phase names one step of a run, layered onto executor.Progress so a UI
// collaborator can tell "scanning" apart from "copying" apart from
// "rolling back".
type Phase string

const (
	PhaseScanning    Phase = "scanning"
	PhasePlanning    Phase = "planning"
	PhaseCopying     Phase = "copying"
	PhaseFinalizing  Phase = "finalizing"
	PhaseRollingBack Phase = "rolling_back"
)

// Event is the Engine's progress envelope, wrapping executor.Progress
// with the job name and current phase per spec.md section 5's
// `{job, done, total, bytes_done, bytes_total, current_rel, phase}` shape.
type Event struct {
	Job        string
	Phase      Phase
	Done       int64
	Total      int64
	BytesDone  int64
	BytesTotal int64
	CurrentRel string
}

// ExitCode mirrors spec.md section 6's process exit status taxonomy.
type ExitCode int

const (
	ExitSuccess       ExitCode = 0
	ExitPartial       ExitCode = 1
	ExitFatal         ExitCode = 2
	ExitCancelled     ExitCode = 3
	ExitConfigError   ExitCode = 4
)

// Result is everything a caller (the CLI) needs to report a finished run.
type Result struct {
	ExitCode      ExitCode
	Counters      metrics.Counters
	FailedPaths   map[string]error
	ScanWarnings  []string
	Unrecoverable []journal.UnrecoverableError
	Cancelled     bool
}

// ErrCheckpointExistsNoResume is returned when a prior run's checkpoint
// is still on disk but the job was not started with Resume, matching
// spec.md's resume-safety rule: running without -resume when a
// Checkpoint exists is a configuration error, not a silent restart.
var ErrCheckpointExistsNoResume = errors.New("engine: a checkpoint exists for this job; rerun with -resume or remove it")

// Options configures one Engine.
type Options struct {
	// LogDir is the project-side bookkeeping root (e.g. "logs/<job>"),
	// the first of the two dual-sink destinations every durable artifact
	// is mirrored to.
	LogDir string

	// Now overrides the clock for deterministic tests; defaults to
	// time.Now.
	Now func() time.Time

	OnEvent func(Event)
}

// Engine runs one job to completion.
type Engine struct {
	logDir  string
	now     func() time.Time
	onEvent func(Event)
}

func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	onEvent := opts.OnEvent
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Engine{logDir: opts.LogDir, now: now, onEvent: onEvent}
}

// Run executes job to completion or cancellation. job must already have
// passed Job.Validate. ctx cancellation (e.g. from an interrupt signal)
// stops enqueueing new operations, drains whatever is already in
// flight, persists the Checkpoint, and returns ExitCancelled.
func (e *Engine) Run(ctx context.Context, job config.Job) (Result, error) {
	startedAt := e.now().UTC()
	timestamp := startedAt.Format("20060102_150405")

	if err := preflight.Run(job.SourceRoot, job.DestRoot, job.DryRun); err != nil {
		return Result{ExitCode: ExitConfigError}, fmt.Errorf("engine: %w", err)
	}

	cpPath := filepath.Join(job.DestRoot, journal.Dir, checkpoint.FileName(job.Name))
	cp, err := e.resolveCheckpoint(cpPath, job)
	if err != nil {
		return Result{ExitCode: ExitConfigError}, err
	}

	excludes := filterset.New(job.ExcludePatterns())
	var prunedDirs = pruneSet(job, cp)

	e.emit(job.Name, PhaseScanning, 0, 0, 0, 0, "")
	srcTree, srcWarnings, err := scanner.Scan(ctx, job.SourceRoot, scanner.Options{Excludes: excludes, PrunedDirs: prunedDirs})
	if err != nil {
		if isCancellation(err) {
			return e.cancelBeforeExecution(job, cp)
		}
		return Result{ExitCode: ExitFatal}, fmt.Errorf("engine: scanning source: %w", err)
	}
	destTree, destWarnings, err := scanDestBestEffort(ctx, job.DestRoot, scanner.Options{Excludes: excludes, PrunedDirs: prunedDirs})
	if err != nil {
		if isCancellation(err) {
			return e.cancelBeforeExecution(job, cp)
		}
		return Result{ExitCode: ExitFatal}, fmt.Errorf("engine: scanning destination: %w", err)
	}
	warnings := warningStrings(srcWarnings, destWarnings)

	e.emit(job.Name, PhasePlanning, 0, 0, 0, 0, "")
	ops := planner.Plan(srcTree, destTree, job.Mode, job.MTimeTolerance)
	ops = elideCompleted(ops, cp, job.Resume)

	if job.DryRun {
		logDryRunPlan(job, ops)
		return Result{ExitCode: ExitSuccess, ScanWarnings: warnings}, nil
	}

	if err := os.MkdirAll(e.logDir, 0o755); err != nil {
		return Result{ExitCode: ExitFatal}, fmt.Errorf("engine: preparing log directory: %w", err)
	}

	journalW, err := journal.Open(job.Name, job.DestRoot, e.logDir, timestamp)
	if err != nil {
		return Result{ExitCode: ExitFatal}, fmt.Errorf("engine: opening journal: %w", err)
	}

	m := metrics.New()
	m.StartProgress("run in progress", 5*time.Second)
	defer m.StopProgress()

	cfg := executor.DefaultConfig()
	cfg.Verify = job.Verify
	cfg.DryRun = job.DryRun
	cfg.RetryMaxAttempts = job.Retries
	if job.Threads > 0 {
		cfg.NumWorkers = job.Threads
	}

	ex := executor.New(job.SourceRoot, job.DestRoot, job.Mode, cfg, journalW, cp, m, e.now)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	failedMap, runErr := ex.Run(runCtx, ops, func(p executor.Progress) {
		e.emit(job.Name, PhaseCopying, p.Done, p.Total, p.BytesDone, p.BytesTotal, p.CurrentRel)
	})

	applyFinalCounts(m, srcTree, ops)
	counters := m.Snapshot()

	if (runErr != nil && isCancellation(runErr)) || ctx.Err() != nil {
		if err := cp.Flush(); err != nil {
			plog.Warn("engine: checkpoint flush on cancel failed", "error", err)
		}
		if err := journalW.Close(journal.StatusPending); err != nil {
			plog.Warn("engine: journal flush on cancel failed", "error", err)
		}
		return Result{
			ExitCode:     ExitCancelled,
			Counters:     counters,
			FailedPaths:  failedMap,
			ScanWarnings: warnings,
			Cancelled:    true,
		}, nil
	}

	if journalW.Fatal() {
		return e.autoRollback(job, journalW, counters, failedMap, warnings)
	}

	finishedAt := e.now().UTC()

	if err := journalW.Close(journal.StatusSuccess); err != nil {
		plog.Warn("engine: final journal flush failed", "error", err)
	}

	e.emit(job.Name, PhaseFinalizing, int64(len(ops)), int64(len(ops)), 0, 0, "")
	if err := e.writeMetadata(job, timestamp, destTree, ops, counters, startedAt, finishedAt, warnings); err != nil {
		plog.Warn("engine: writing metadata artifacts failed", "error", err)
	}

	if err := cp.Delete(); err != nil {
		plog.Warn("engine: removing checkpoint failed", "error", err)
	}

	exitCode := ExitSuccess
	if len(failedMap) > 0 {
		exitCode = ExitPartial
	}

	return Result{
		ExitCode:     exitCode,
		Counters:     counters,
		FailedPaths:  failedMap,
		ScanWarnings: warnings,
	}, nil
}

func (e *Engine) resolveCheckpoint(path string, job config.Job) (*checkpoint.Checkpoint, error) {
	if job.DryRun {
		return nil, nil
	}
	cp, err := checkpoint.Load(path)
	switch {
	case err == nil:
		if !job.Resume {
			return nil, ErrCheckpointExistsNoResume
		}
		plog.Notice("resuming from checkpoint", "path", path)
		return cp, nil
	case os.IsNotExist(err):
		if job.Resume {
			plog.Warn("resume requested but no checkpoint found, starting fresh", "path", path)
		}
		return checkpoint.New(job.Name, path), nil
	default:
		return nil, fmt.Errorf("engine: loading checkpoint: %w", err)
	}
}

// pruneSet returns the set of directories to skip re-walking, per
// spec.md's resume rule: a directory the Checkpoint already marked
// complete is pruned on both the source and destination scans, trading
// the possibility of missing an externally-added file under it for a
// much cheaper resume.
func pruneSet(job config.Job, cp *checkpoint.Checkpoint) *sharded.Set {
	if !job.Resume || cp == nil {
		return nil
	}
	return cp.CompletedDirs()
}

// elideCompleted drops every non-directory operation the Checkpoint
// already marked committed in a prior attempt at this job, the
// Planner-output side of the same resume rule pruneSet applies to
// scanning.
func elideCompleted(ops operation.List, cp *checkpoint.Checkpoint, resume bool) operation.List {
	if !resume || cp == nil {
		return ops
	}
	out := make(operation.List, 0, len(ops))
	for _, op := range ops {
		if op.Kind != operation.KindMkDir && cp.IsFileComplete(op.RelPath) {
			continue
		}
		out = append(out, op)
	}
	return out
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// cancelBeforeExecution handles a context cancellation observed during
// scanning, before the Executor ever started — still a clean
// ExitCancelled per spec.md's exit code taxonomy, not the generic
// ExitFatal a scan failure otherwise produces, since nothing has been
// copied yet and the Checkpoint (if resuming) is already accurate.
func (e *Engine) cancelBeforeExecution(job config.Job, cp *checkpoint.Checkpoint) (Result, error) {
	plog.Notice("run cancelled before execution started", "job", job.Name)
	if cp != nil {
		if err := cp.Flush(); err != nil {
			plog.Warn("engine: checkpoint flush on cancel failed", "error", err)
		}
	}
	return Result{ExitCode: ExitCancelled, Cancelled: true}, nil
}

func scanDestBestEffort(ctx context.Context, root string, opts scanner.Options) (*tree.Tree, []scanner.Warning, error) {
	if _, err := os.Lstat(root); os.IsNotExist(err) {
		return tree.New(root), nil, nil
	}
	return scanner.Scan(ctx, root, opts)
}

func warningStrings(groups ...[]scanner.Warning) []string {
	var out []string
	for _, g := range groups {
		for _, w := range g {
			out = append(out, w.String())
		}
	}
	return out
}

func logDryRunPlan(job config.Job, ops operation.List) {
	plog.Info("dry run plan computed", "job", job.Name, "operations", len(ops))
	for _, op := range ops {
		plog.Notice("[DRY RUN]", "kind", op.Kind, "path", op.RelPath)
	}
}

// applyFinalCounts fills in the two counters the Executor has no reason
// to ever touch: files_up_to_date, since the Planner never emits an
// operation for a file it already found current, and
// entries_processed, the Summary's overall total. Copied/updated/
// deleted/safety-net/dirs-created counts are all incremented directly
// by the Executor as each operation commits.
func applyFinalCounts(m metrics.Metrics, srcTree *tree.Tree, ops operation.List) {
	touched := make(map[string]bool, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case operation.KindCopy, operation.KindUpdateFile, operation.KindSymlinkCreate:
			touched[op.RelPath] = true
		}
	}
	upToDate := int64(0)
	for _, key := range srcTree.Keys() {
		rec, _ := srcTree.Get(key)
		if rec.IsDir {
			continue
		}
		if !touched[key] {
			upToDate++
		}
	}
	m.AddFilesUpToDate(upToDate)
	m.AddEntriesProcessed(int64(len(ops)))
}

func (e *Engine) writeMetadata(job config.Job, timestamp string, destTreeBefore *tree.Tree, ops operation.List, counters metrics.Counters, startedAt, finishedAt time.Time, warnings []string) error {
	w := metadata.New(e.logDir, job.DestRoot)

	postRunTree, _, err := scanner.Scan(context.Background(), job.DestRoot, scanner.Options{Excludes: filterset.New(job.ExcludePatterns())})
	if err != nil {
		plog.Warn("engine: rescanning destination for snapshot failed, using pre-run tree", "error", err)
		postRunTree = destTreeBefore
	}

	destPath, err := w.WriteSnapshot(job.Name, timestamp, postRunTree, startedAt, finishedAt)
	if err != nil {
		return err
	}

	if err := w.AppendIndex(metadata.IndexEntry{
		SnapshotID: timestamp,
		Path:       destPath,
		Timestamp:  finishedAt,
		Counts:     counters,
	}); err != nil {
		return err
	}

	return w.WriteSummary(job, timestamp, counters, startedAt, finishedAt, warnings)
}

// autoRollback reverses every committed entry in journalW's in-memory
// Journal, the Engine's reaction to both of the Journal's sinks having
// failed at once — the one failure mode spec.md treats as fatal rather
// than recoverable, since a run whose own record of what it did can no
// longer be trusted to persist must not be left half-applied.
func (e *Engine) autoRollback(job config.Job, journalW *journal.Writer, counters metrics.Counters, failedMap map[string]error, warnings []string) (Result, error) {
	e.emit(job.Name, PhaseRollingBack, 0, 0, 0, 0, "")
	j := journalW.Snapshot()
	unrecoverable := journal.Rollback(&j, job.DestRoot, false)

	if err := journal.Save(j, journalW.DestSinkPath()); err != nil {
		plog.Warn("engine: saving rolled-back journal to destination sink failed", "error", err)
	}
	if err := journal.Save(j, journalW.LogSinkPath()); err != nil {
		plog.Warn("engine: saving rolled-back journal to log sink failed", "error", err)
	}

	return Result{
		ExitCode:      ExitFatal,
		Counters:      counters,
		FailedPaths:   failedMap,
		ScanWarnings:  warnings,
		Unrecoverable: unrecoverable,
	}, fmt.Errorf("engine: journal became unwritable on both sinks, run rolled back")
}

func (e *Engine) emit(job string, phase Phase, done, total, bytesDone, bytesTotal int64, currentRel string) {
	e.onEvent(Event{
		Job:        job,
		Phase:      phase,
		Done:       done,
		Total:      total,
		BytesDone:  bytesDone,
		BytesTotal: bytesTotal,
		CurrentRel: currentRel,
	})
}
