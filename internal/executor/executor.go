// Package executor applies a Planner-produced operation.List against a
// destination tree: atomic file copies, symlink creation, directory
// creation, deletion, and SafetyNet quarantine, each journaled before it
// is considered committed. Grounded end to end on
// pkg/pathsync/nativetask.go's copyFileHelper/copySymlinkHelper/
// processDirectorySync and its producer-consumer worker pool, adapted
// from "walk the source tree directly" to "consume a pre-computed plan"
// since this module's Scanner/Planner/Executor split moves the walk
// upstream of execution.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/disksyncpro/disksyncpro/internal/checkpoint"
	"github.com/disksyncpro/disksyncpro/internal/config"
	"github.com/disksyncpro/disksyncpro/internal/journal"
	"github.com/disksyncpro/disksyncpro/internal/metrics"
	"github.com/disksyncpro/disksyncpro/internal/operation"
	"github.com/disksyncpro/disksyncpro/internal/opclass"
	"github.com/disksyncpro/disksyncpro/internal/pathkey"
	"github.com/disksyncpro/disksyncpro/internal/plog"
	"github.com/disksyncpro/disksyncpro/internal/pool"
	"github.com/disksyncpro/disksyncpro/internal/sharded"
)

// Config tunes the Executor's concurrency, copy-chunking, retry and
// verification behavior. Defaults mirror spec.md's stated bounds.
type Config struct {
	NumWorkers int
	ChunkSize  int64
	Verify     bool
	DryRun     bool

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

// DefaultConfig returns spec.md's documented defaults: min(logical CPUs,
// 8) workers, a 1 MiB copy chunk, retry base 100ms doubling capped at 2s.
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers < 1 {
		workers = 1
	}
	return Config{
		NumWorkers:       workers,
		ChunkSize:        1 << 20,
		Verify:           false,
		RetryMaxAttempts: 5,
		RetryBaseDelay:   100 * time.Millisecond,
		RetryMaxDelay:    2 * time.Second,
	}
}

// Executor applies one run's plan against destRoot, reading file content
// from srcRoot.
type Executor struct {
	srcRoot, destRoot string
	mode              config.Mode
	cfg               Config

	journalW   *journal.Writer
	checkpoint *checkpoint.Checkpoint
	metrics    metrics.Metrics
	progress   *progressEmitter

	bufPool     *pool.FixedBufferPool
	createdDirs *sharded.Set
	dirGroup    singleflight.Group

	// pendingInDir counts, per directory, how many operations anywhere
	// beneath it (at any depth) have not yet committed. When it reaches
	// zero the directory is reported complete to the Checkpoint. An
	// operation that fails or is cancelled never decrements it, so a
	// directory holding such an operation is never marked complete and is
	// walked again on resume.
	pendingInDir *sharded.Map

	// failed collects non-fatal per-path errors, mirroring nativetask.go's
	// syncErrs: the run continues past an individual op's failure so one
	// bad file doesn't abort an otherwise-successful backup.
	failed *sharded.Map

	now func() time.Time
}

// New builds an Executor. now defaults to time.Now when nil; tests can
// override it for deterministic SafetyNet bucket dates.
func New(srcRoot, destRoot string, mode config.Mode, cfg Config, journalW *journal.Writer, cp *checkpoint.Checkpoint, m metrics.Metrics, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		srcRoot:      srcRoot,
		destRoot:     destRoot,
		mode:         mode,
		cfg:          cfg,
		journalW:     journalW,
		checkpoint:   cp,
		metrics:      m,
		bufPool:      pool.NewFixedBuffer(cfg.ChunkSize),
		createdDirs:  sharded.NewSet(),
		pendingInDir: sharded.NewMap(),
		failed:       sharded.NewMap(),
		now:          now,
	}
}

// Run applies every operation in ops, returning the first context
// cancellation error encountered (if any) and a map of per-path errors
// for operations that failed but did not abort the run.
func (e *Executor) Run(ctx context.Context, ops operation.List, onProgress func(Progress)) (map[string]error, error) {
	e.seedPendingCounts(ops)

	total := int64(len(ops))
	var done, bytesTotal, bytesDone atomic.Int64
	for _, op := range ops {
		bytesTotal.Add(op.SourceSize)
	}

	e.progress = newProgressEmitter(onProgress, 10)
	defer e.progress.stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.NumWorkers)

	for _, op := range ops {
		op := op
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
			}

			written, err := e.apply(egCtx, op)
			done.Add(1)
			bytesDone.Add(written)
			e.progress.update(Progress{
				Done:        done.Load(),
				Total:       total,
				BytesDone:   bytesDone.Load(),
				BytesTotal:  bytesTotal.Load(),
				CurrentRel:  op.RelPath,
			})

			if err != nil {
				if isCancellation(err) {
					// The journal already recorded this attempt as
					// skipped; a run stopped mid-flight isn't a
					// retry-exhaustion failure, so it doesn't belong in
					// failed/FilesFailed.
					plog.Debug("operation skipped by cancellation", "path", op.RelPath, "kind", op.Kind)
					return nil
				}
				if !opclass.IsRetriable(err) {
					plog.Warn("operation failed permanently", "path", op.RelPath, "kind", op.Kind, "error", err)
				}
				e.failed.Store(op.RelPath, err)
				e.metrics.AddFilesFailed(1)
				return nil
			}

			e.markOpDone(op)
			return nil
		})
	}

	runErr := eg.Wait()

	failedMap := make(map[string]error)
	for k, v := range e.failed.Items() {
		failedMap[k] = v.(error)
	}
	return failedMap, runErr
}

// apply dispatches op to its kind-specific handler and returns the
// number of content bytes written (for progress accounting; zero for
// metadata-only operations like MkDir).
func (e *Executor) apply(ctx context.Context, op operation.Operation) (int64, error) {
	switch op.Kind {
	case operation.KindMkDir:
		return 0, e.applyMkDir(op)
	case operation.KindCopy, operation.KindUpdateFile:
		return e.applyCopyOrUpdate(ctx, op)
	case operation.KindSymlinkCreate:
		return 0, e.applySymlinkCreate(ctx, op)
	case operation.KindDelete:
		return 0, e.applyDelete(ctx, op)
	case operation.KindMoveToSafetyNet:
		return 0, e.applyMoveToSafetyNet(ctx, op)
	default:
		return 0, fmt.Errorf("executor: unknown operation kind %q", op.Kind)
	}
}

func (e *Executor) appendJournal(entry journal.Entry) {
	if e.journalW == nil {
		return
	}
	if err := e.journalW.Append(entry); err != nil {
		plog.Warn("executor: journal append failed", "path", entry.RelPath, "error", err)
	}
}

// seedPendingCounts computes, for every directory implied by ops (a
// MkDir target, or an ancestor of any op), how many operations lie
// beneath it at any depth.
func (e *Executor) seedPendingCounts(ops operation.List) {
	counts := make(map[string]int64)
	dirs := make(map[string]bool)
	for _, op := range ops {
		if op.Kind == operation.KindMkDir {
			dirs[op.RelPath] = true
		}
	}
	for _, op := range ops {
		for parent := pathkey.Parent(op.RelPath); parent != ""; parent = pathkey.Parent(parent) {
			counts[parent]++
		}
	}
	for dir := range dirs {
		if _, ok := counts[dir]; !ok {
			counts[dir] = 0
		}
	}
	for dir, n := range counts {
		e.pendingInDir.Store(dir, &atomic.Int64{})
		v, _ := e.pendingInDir.Load(dir)
		v.(*atomic.Int64).Store(n)
	}
}

// markOpDone records a committed operation with the Checkpoint, and
// decrements the pending count of every ancestor directory, reporting
// each directory complete once its count reaches zero.
func (e *Executor) markOpDone(op operation.Operation) {
	if e.checkpoint == nil {
		return
	}
	if op.Kind != operation.KindMkDir {
		if err := e.checkpoint.MarkFileComplete(op.RelPath); err != nil {
			plog.Warn("executor: checkpoint flush failed", "path", op.RelPath, "error", err)
		}
	}

	for parent := pathkey.Parent(op.RelPath); parent != ""; parent = pathkey.Parent(parent) {
		v, ok := e.pendingInDir.Load(parent)
		if !ok {
			continue
		}
		if v.(*atomic.Int64).Add(-1) == 0 {
			if err := e.checkpoint.MarkDirComplete(parent); err != nil {
				plog.Warn("executor: checkpoint flush failed", "path", parent, "error", err)
			}
		}
	}
}

// isCancellation reports whether err is the context's own cancellation
// signal rather than an operation failure, so a run stopped mid-flight
// is counted as skipped instead of as a retry-exhaustion failure.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// SafetyNetNow exposes the Executor's clock for callers wiring up
// safetynet.Move directly (e.g. a caller that wants to pre-resolve a
// bucket path before building the Journal entry).
func (e *Executor) SafetyNetNow() time.Time { return e.now() }
