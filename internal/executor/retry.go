package executor

import (
	"context"
	"math/rand"
	"time"

	"github.com/disksyncpro/disksyncpro/internal/journal"
	"github.com/disksyncpro/disksyncpro/internal/opclass"
	"github.com/disksyncpro/disksyncpro/internal/operation"
	"github.com/disksyncpro/disksyncpro/internal/plog"
)

// retryAndJournal drives one operation through up to cfg.RetryMaxAttempts+1
// attempts, journaling a started/failed pair around every attempt and a
// final committed or skipped entry, matching spec.md section 8 scenario
// S5's exact journal sequence for a file that fails every attempt:
// started, failed, started, failed, started, failed, skipped. attemptFn
// does the actual work for one attempt and, on success, returns the Entry
// fields (BackupPath/SafetyNetPath) the committed record should carry.
func (e *Executor) retryAndJournal(ctx context.Context, op operation.Operation, attemptFn func(ctx context.Context, attempt int) (journal.Entry, error)) error {
	maxAttempts := e.cfg.RetryMaxAttempts + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := e.cfg.RetryBaseDelay

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				e.appendJournal(journal.Entry{OpID: op.OpID, Kind: op.Kind, RelPath: op.RelPath, Phase: journal.PhaseSkipped})
				return ctx.Err()
			case <-time.After(jitter(delay)):
			}
			delay *= 2
			if delay > e.cfg.RetryMaxDelay {
				delay = e.cfg.RetryMaxDelay
			}
			plog.Warn("retrying operation", "path", op.RelPath, "kind", op.Kind, "attempt", attempt)
		}

		e.appendJournal(journal.Entry{OpID: op.OpID, Kind: op.Kind, RelPath: op.RelPath, Phase: journal.PhaseStarted})

		entry, err := attemptFn(ctx, attempt)
		if err == nil {
			entry.OpID = op.OpID
			entry.Kind = op.Kind
			entry.RelPath = op.RelPath
			entry.Phase = journal.PhaseCommitted
			e.appendJournal(entry)
			return nil
		}

		lastErr = err
		e.appendJournal(journal.Entry{OpID: op.OpID, Kind: op.Kind, RelPath: op.RelPath, Phase: journal.PhaseFailed})
		if !opclass.IsRetriable(err) {
			break
		}
	}

	e.appendJournal(journal.Entry{OpID: op.OpID, Kind: op.Kind, RelPath: op.RelPath, Phase: journal.PhaseSkipped})
	return lastErr
}

// jitter applies spec.md's documented ±20% jitter to a backoff delay.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
