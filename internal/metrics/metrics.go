// Package metrics tracks per-run counters for a backup/sync job and
// periodically logs them. Adapted directly from
// pkg/pathsync/metrics.go's Metrics interface and atomic-counter
// SyncMetrics implementation, re-keyed to this module's own Summary
// shape (copied/updated/skipped/failed/moved-to-safety-net/bytes/
// duration instead of the teacher's copied/deleted/excluded/up-to-date/
// dirs-created/dirs-deleted/dirs-excluded).
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/disksyncpro/disksyncpro/internal/plog"
	"github.com/disksyncpro/disksyncpro/internal/util"
)

// Metrics defines the counters the Executor updates as it applies
// operations, plus the periodic progress-logging lifecycle.
type Metrics interface {
	AddFilesCopied(n int64)
	AddFilesUpdated(n int64)
	AddFilesUpToDate(n int64)
	AddFilesFailed(n int64)
	AddFilesMovedToSafetyNet(n int64)
	AddFilesDeleted(n int64)
	AddDirsCreated(n int64)
	AddBytesWritten(n int64)
	AddEntriesProcessed(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()

	Snapshot() Counters
}

// Counters is an immutable point-in-time read of every tracked counter,
// the shape the Metadata Writer's Summary artifact serializes.
type Counters struct {
	FilesCopied          int64
	FilesUpdated         int64
	FilesUpToDate        int64
	FilesFailed          int64
	FilesMovedToSafetyNet int64
	FilesDeleted         int64
	DirsCreated          int64
	BytesWritten         int64
	EntriesProcessed     int64
	Duration             time.Duration
}

// RunMetrics is the concrete atomic-counter implementation of Metrics.
type RunMetrics struct {
	filesCopied          atomic.Int64
	filesUpdated         atomic.Int64
	filesUpToDate        atomic.Int64
	filesFailed          atomic.Int64
	filesMovedToSafetyNet atomic.Int64
	filesDeleted         atomic.Int64
	dirsCreated          atomic.Int64
	bytesWritten         atomic.Int64
	entriesProcessed     atomic.Int64

	stopChan  chan struct{}
	startTime time.Time
}

func New() *RunMetrics { return &RunMetrics{} }

func (m *RunMetrics) AddFilesCopied(n int64)           { m.filesCopied.Add(n) }
func (m *RunMetrics) AddFilesUpdated(n int64)          { m.filesUpdated.Add(n) }
func (m *RunMetrics) AddFilesUpToDate(n int64)         { m.filesUpToDate.Add(n) }
func (m *RunMetrics) AddFilesFailed(n int64)           { m.filesFailed.Add(n) }
func (m *RunMetrics) AddFilesMovedToSafetyNet(n int64) { m.filesMovedToSafetyNet.Add(n) }
func (m *RunMetrics) AddFilesDeleted(n int64)          { m.filesDeleted.Add(n) }
func (m *RunMetrics) AddDirsCreated(n int64)           { m.dirsCreated.Add(n) }
func (m *RunMetrics) AddBytesWritten(n int64)          { m.bytesWritten.Add(n) }
func (m *RunMetrics) AddEntriesProcessed(n int64)      { m.entriesProcessed.Add(n) }

func (m *RunMetrics) StartProgress(msg string, interval time.Duration) {
	m.startTime = time.Now()
	m.stopChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *RunMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
	}
}

func (m *RunMetrics) Snapshot() Counters {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}
	return Counters{
		FilesCopied:           m.filesCopied.Load(),
		FilesUpdated:          m.filesUpdated.Load(),
		FilesUpToDate:         m.filesUpToDate.Load(),
		FilesFailed:           m.filesFailed.Load(),
		FilesMovedToSafetyNet: m.filesMovedToSafetyNet.Load(),
		FilesDeleted:          m.filesDeleted.Load(),
		DirsCreated:           m.dirsCreated.Load(),
		BytesWritten:          m.bytesWritten.Load(),
		EntriesProcessed:      m.entriesProcessed.Load(),
		Duration:              duration,
	}
}

func (m *RunMetrics) LogSummary(msg string) {
	c := m.Snapshot()
	plog.Info(msg,
		"entries_processed", c.EntriesProcessed,
		"bytes_written", util.ByteCountIEC(c.BytesWritten),
		"files_copied", c.FilesCopied,
		"files_updated", c.FilesUpdated,
		"files_uptodate", c.FilesUpToDate,
		"files_failed", c.FilesFailed,
		"files_safety_net", c.FilesMovedToSafetyNet,
		"files_deleted", c.FilesDeleted,
		"dirs_created", c.DirsCreated,
		"duration", c.Duration.Round(time.Millisecond),
	)
}

// NoopMetrics discards every update, for a caller that needs a Metrics
// value but no progress reporting.
type NoopMetrics struct{}

func (NoopMetrics) AddFilesCopied(n int64)           {}
func (NoopMetrics) AddFilesUpdated(n int64)          {}
func (NoopMetrics) AddFilesUpToDate(n int64)         {}
func (NoopMetrics) AddFilesFailed(n int64)           {}
func (NoopMetrics) AddFilesMovedToSafetyNet(n int64) {}
func (NoopMetrics) AddFilesDeleted(n int64)          {}
func (NoopMetrics) AddDirsCreated(n int64)           {}
func (NoopMetrics) AddBytesWritten(n int64)          {}
func (NoopMetrics) AddEntriesProcessed(n int64)      {}
func (NoopMetrics) LogSummary(msg string)            {}
func (NoopMetrics) StartProgress(string, time.Duration) {}
func (NoopMetrics) StopProgress()                    {}
func (NoopMetrics) Snapshot() Counters               { return Counters{} }

var _ Metrics = (*RunMetrics)(nil)
var _ Metrics = NoopMetrics{}
