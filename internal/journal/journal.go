// Package journal implements the dual-sink record of every operation
// attempt in a run, and the reverse-order rollback procedure that undoes
// the committed ones. Grounded on original_source/disk_sync_pro.py's
// JournalOp/Journal dataclasses and rollback_journal, with every write
// serialized by one mutex-guarded Writer and persisted through
// pkg/lockfile.go's atomic write idiom.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disksyncpro/disksyncpro/internal/atomicio"
	"github.com/disksyncpro/disksyncpro/internal/operation"
	"github.com/disksyncpro/disksyncpro/internal/pathkey"
	"github.com/disksyncpro/disksyncpro/internal/plog"
)

// Phase records where in an operation's attempt lifecycle an Entry was
// appended, per spec.md section 3's planned/started/committed/failed/
// skipped taxonomy (the Planner's "planned" phase is never journaled —
// only entries the Executor itself produces are). An empty Phase on a
// loaded entry is treated as PhaseCommitted for backward compatibility
// with journals written before this field existed.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseCommitted Phase = "committed"
	PhaseFailed    Phase = "failed"
	PhaseSkipped   Phase = "skipped"
)

// Entry records one attempt of one operation, plus — for the attempt that
// committed — the information rollback needs to reverse it. BackupPath is
// the journal-tracked path a pre-existing destination entry was moved
// aside to before being overwritten or deleted (empty when there was
// nothing to preserve, or when the backup instead went to SafetyNet and
// is recorded in SafetyNetPath).
type Entry struct {
	OpID          uint64         `json:"op_id"`
	Kind          operation.Kind `json:"kind"`
	RelPath       string         `json:"rel_path"`
	Phase         Phase          `json:"phase,omitempty"`
	BackupPath    string         `json:"backup_path,omitempty"`
	SafetyNetPath string         `json:"safety_net_path,omitempty"`
	RolledBack    bool           `json:"rolled_back"`
	Timestamp     time.Time      `json:"timestamp"`
}

// IsCommitted reports whether e represents a committed mutation — the
// only phase Rollback needs to reverse. Entries with no Phase set predate
// this field and are treated as committed.
func (e Entry) IsCommitted() bool {
	return e.Phase == "" || e.Phase == PhaseCommitted
}

// Journal is the full on-disk record for one run: header fields plus the
// ordered list of entries, of every phase.
type Journal struct {
	Schema       int       `json:"schema"`
	JobName      string    `json:"job_name"`
	Timestamp    string    `json:"timestamp"`
	DestRoot     string    `json:"dest_root"`
	RollbackRoot string    `json:"rollback_root"`
	Status       string    `json:"status"` // pending | success | rolled_back | rollback_failed
	Entries      []Entry   `json:"entries"`
}

const Schema = 1

const (
	StatusPending      = "pending"
	StatusSuccess      = "success"
	StatusRolledBack   = "rolled_back"
	StatusRollbackFail = "rollback_failed"
)

// Dir is the engine's on-disk bookkeeping directory name, appearing under
// both the project's log area and <dest_root>.
const Dir = ".DiskSyncPro"

// rollbackSubdir returns the directory that holds the journal-tracked backups for files moved aside
// before being overwritten or deleted during this run.
func rollbackSubdir(destRoot, jobName, timestamp string) string {
	return filepath.Join(destRoot, Dir, "rollback", fmt.Sprintf("%s_%s", jobName, timestamp))
}

// Writer owns a Journal's lifecycle: it appends entries, fsyncs after
// each, and mirrors every write to both the project-log sink and the
// destination sink. A single mutex serializes every call, so concurrent
// Appends are recorded one at a time, in the order they acquire it.
type Writer struct {
	mu          sync.Mutex
	journal     Journal
	logSinkPath string
	destSinkPath string
	logSinkOK  bool
	destSinkOK bool
	fatal      bool
}

// Open creates a new pending Journal for jobName and prepares its two
// physical sinks: <logDir>/journal_<job>_<ts>.json and
// <destRoot>/.DiskSyncPro/journal_<job>_<ts>.json.
func Open(jobName, destRoot, logDir string, timestamp string) (*Writer, error) {
	rollbackRoot := rollbackSubdir(destRoot, jobName, timestamp)
	if err := atomicio.EnsureDir(rollbackRoot); err != nil {
		return nil, fmt.Errorf("journal: preparing rollback root: %w", err)
	}

	j := Journal{
		Schema:       Schema,
		JobName:      jobName,
		Timestamp:    timestamp,
		DestRoot:     destRoot,
		RollbackRoot: rollbackRoot,
		Status:       StatusPending,
		Entries:      []Entry{},
	}

	fileName := fmt.Sprintf("journal_%s_%s.json", jobName, timestamp)
	destSinkDir := filepath.Join(destRoot, Dir)
	if err := atomicio.EnsureDir(destSinkDir); err != nil {
		return nil, fmt.Errorf("journal: preparing destination sink: %w", err)
	}
	if err := atomicio.EnsureDir(logDir); err != nil {
		return nil, fmt.Errorf("journal: preparing log sink: %w", err)
	}

	w := &Writer{
		journal:      j,
		logSinkPath:  filepath.Join(logDir, fileName),
		destSinkPath: filepath.Join(destSinkDir, fileName),
		logSinkOK:    true,
		destSinkOK:   true,
	}
	if err := w.flush(); err != nil {
		return nil, err
	}
	return w, nil
}

// RollbackRoot returns the directory this run's backed-aside files live
// under, for callers that need to build a BackupPath.
func (w *Writer) RollbackRoot() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.journal.RollbackRoot
}

// Fatal reports whether a write to this Writer has ever failed on both
// sinks at once — the condition the Engine treats as unrecoverable and
// reacts to by rolling the run back automatically.
func (w *Writer) Fatal() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fatal
}

// Snapshot returns a copy of the Journal as it stands right now, for a
// caller (the Engine's auto-rollback path) that needs to replay it
// without holding the Writer's lock for the whole rollback.
func (w *Writer) Snapshot() Journal {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries := make([]Entry, len(w.journal.Entries))
	copy(entries, w.journal.Entries)
	j := w.journal
	j.Entries = entries
	return j
}

// DestSinkPath returns the destination-side path this Writer mirrors to.
func (w *Writer) DestSinkPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destSinkPath
}

// LogSinkPath returns the project-log-side path this Writer mirrors to.
func (w *Writer) LogSinkPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logSinkPath
}

// Append records one entry (of any phase) and flushes both sinks. A
// sink-specific failure degrades to single-sink with a warning; failure
// of both sinks is returned as an error (the spec's "critical" case the
// Engine must react to by aborting/rolling back).
func (w *Writer) Append(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e.Timestamp = time.Now().UTC()
	w.journal.Entries = append(w.journal.Entries, e)
	return w.flushLocked()
}

// Close marks the journal success (or whatever status is passed) and
// performs a final flush.
func (w *Writer) Close(status string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.journal.Status = status
	return w.flushLocked()
}

func (w *Writer) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	data, err := json.MarshalIndent(w.journal, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshaling: %w", err)
	}

	logErr := atomicio.WriteFile(w.logSinkPath, data)
	if logErr != nil {
		if w.logSinkOK {
			plog.Warn("journal log sink write failed, degrading to single-sink", "path", w.logSinkPath, "error", logErr)
		}
		w.logSinkOK = false
	} else {
		w.logSinkOK = true
	}

	destErr := atomicio.WriteFile(w.destSinkPath, data)
	if destErr != nil {
		if w.destSinkOK {
			plog.Warn("journal destination sink write failed, degrading to single-sink", "path", w.destSinkPath, "error", destErr)
		}
		w.destSinkOK = false
	} else {
		w.destSinkOK = true
	}

	if logErr != nil && destErr != nil {
		w.fatal = true
		return fmt.Errorf("journal: both sinks failed: log=%v dest=%v", logErr, destErr)
	}
	return nil
}

// Load reads a Journal back from disk, e.g. for the rollback subcommand.
func Load(path string) (Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Journal{}, fmt.Errorf("journal: reading %s: %w", path, err)
	}
	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return Journal{}, fmt.Errorf("journal: parsing %s: %w", path, err)
	}
	return j, nil
}

// Save writes j to path via the atomic write-temp-then-rename idiom. Used
// by the rollback subcommand to persist rolled_back flags as it replays.
func Save(j Journal, path string) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshaling: %w", err)
	}
	return atomicio.WriteFile(path, data)
}

// BackupPathFor builds the journal-tracked path a pre-existing entry at
// relPath is moved aside to before this run overwrites or deletes it.
func BackupPathFor(rollbackRoot, relPath string) string {
	return filepath.Join(rollbackRoot, pathkey.ToOS(relPath))
}
