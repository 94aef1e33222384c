// Package metadata writes the three artifacts a successful run leaves
// behind — Snapshot, Index, Summary — per spec.md section 4.7, each via
// the write-temp-then-rename idiom and each mirrored to both the
// project's log area and <dest_root>/.DiskSyncPro/. There is no teacher
// analog for any of these three (pkg/pathsync has no post-run artifact
// beyond its journal); they are grounded directly on spec.md's own
// section 6 file layout and the original_source script's end-of-run
// logging shape (job name, counts, duration) translated into durable
// JSON instead of a log line.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/disksyncpro/disksyncpro/internal/atomicio"
	"github.com/disksyncpro/disksyncpro/internal/config"
	"github.com/disksyncpro/disksyncpro/internal/metrics"
	"github.com/disksyncpro/disksyncpro/internal/tree"
)

const Schema = 1

// Dir is the destination-side bookkeeping directory, shared with the
// Journal and Checkpoint.
const Dir = ".DiskSyncPro"

// SnapshotsSubdir holds every run's Snapshot and the shared Index.
const SnapshotsSubdir = "snapshots"

// Snapshot is the serialized destination Tree after a successful run,
// plus enough run metadata to identify which job/run produced it.
type Snapshot struct {
	Schema     int               `json:"schema"`
	JobName    string            `json:"job_name"`
	DestRoot   string            `json:"dest_root"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Entries    []tree.FileRecord `json:"entries"`
}

// IndexEntry is one row of the snapshot index: snapshot_id -> where/when.
type IndexEntry struct {
	SnapshotID string          `json:"snapshot_id"`
	Path       string          `json:"path"`
	Timestamp  time.Time       `json:"timestamp"`
	Counts     metrics.Counters `json:"counts"`
}

// Index is the full append-then-atomic-replace record of every snapshot
// ever produced for this destination.
type Index struct {
	Schema  int          `json:"schema"`
	Entries []IndexEntry `json:"entries"`
}

// Summary is the end-of-run counters artifact.
type Summary struct {
	Schema        int               `json:"schema"`
	JobName       string            `json:"job_name"`
	Mode          string            `json:"mode"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	DurationMS    int64             `json:"duration_ms"`
	Copied        int64             `json:"copied"`
	Updated       int64             `json:"updated"`
	UpToDate      int64             `json:"up_to_date"`
	Skipped       int64             `json:"skipped"`
	MovedToSafetyNet int64          `json:"moved_to_safety_net"`
	Deleted       int64             `json:"deleted"`
	DirsCreated   int64             `json:"dirs_created"`
	BytesWritten  int64             `json:"bytes_written"`
	SafetyNetDays int               `json:"safety_net_days"`
	ScanWarnings  []string          `json:"scan_warnings,omitempty"`
}

// Writer resolves the two sink directories (project logs, destination
// bookkeeping) once so every artifact write only needs a timestamp.
type Writer struct {
	logDir   string
	destRoot string
}

func New(logDir, destRoot string) *Writer {
	return &Writer{logDir: logDir, destRoot: destRoot}
}

func (w *Writer) destDir() string      { return filepath.Join(w.destRoot, Dir) }
func (w *Writer) destSnapshots() string { return filepath.Join(w.destDir(), SnapshotsSubdir) }
func (w *Writer) logSnapshots() string  { return filepath.Join(w.logDir, SnapshotsSubdir) }

// WriteSnapshot serializes tr as a Snapshot under snapshots/snapshot_<ts>.json
// in both sinks, returning the destination-side path (the canonical one
// recorded into the Index).
func (w *Writer) WriteSnapshot(jobName, timestamp string, tr *tree.Tree, startedAt, finishedAt time.Time) (string, error) {
	snap := Snapshot{
		Schema:     Schema,
		JobName:    jobName,
		DestRoot:   w.destRoot,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Entries:    tr.Records(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("metadata: marshaling snapshot: %w", err)
	}

	fileName := fmt.Sprintf("snapshot_%s.json", timestamp)
	destPath := filepath.Join(w.destSnapshots(), fileName)
	logPath := filepath.Join(w.logSnapshots(), fileName)

	if err := atomicio.EnsureDir(w.destSnapshots()); err != nil {
		return "", err
	}
	if err := atomicio.EnsureDir(w.logSnapshots()); err != nil {
		return "", err
	}
	if err := atomicio.WriteDualSink(logPath, destPath, data); err != nil {
		return "", fmt.Errorf("metadata: writing snapshot: %w", err)
	}
	return destPath, nil
}

// AppendIndex reads the existing Index (if any), appends entry, and
// atomically replaces index.json in both sinks — the "append-then-
// atomic-replace" maintenance rule from spec.md section 3.
func (w *Writer) AppendIndex(entry IndexEntry) error {
	indexPath := filepath.Join(w.destSnapshots(), "index.json")

	idx, err := loadIndex(indexPath)
	if err != nil {
		return err
	}
	idx.Entries = append(idx.Entries, entry)

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: marshaling index: %w", err)
	}

	logPath := filepath.Join(w.logSnapshots(), "index.json")
	if err := atomicio.EnsureDir(w.destSnapshots()); err != nil {
		return err
	}
	if err := atomicio.EnsureDir(w.logSnapshots()); err != nil {
		return err
	}
	if err := atomicio.WriteDualSink(logPath, indexPath, data); err != nil {
		return fmt.Errorf("metadata: writing index: %w", err)
	}
	return nil
}

func loadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Index{Schema: Schema}, nil
		}
		return Index{}, fmt.Errorf("metadata: reading existing index %s: %w", path, err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, fmt.Errorf("metadata: parsing existing index %s: %w", path, err)
	}
	return idx, nil
}

// WriteSummary serializes job's run counters under summary_<ts>.json in
// both sinks.
func (w *Writer) WriteSummary(job config.Job, timestamp string, counters metrics.Counters, startedAt, finishedAt time.Time, scanWarnings []string) error {
	summary := Summary{
		Schema:           Schema,
		JobName:          job.Name,
		Mode:             job.Mode.String(),
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
		DurationMS:       finishedAt.Sub(startedAt).Milliseconds(),
		Copied:           counters.FilesCopied,
		Updated:          counters.FilesUpdated,
		UpToDate:         counters.FilesUpToDate,
		Skipped:          counters.FilesFailed,
		MovedToSafetyNet: counters.FilesMovedToSafetyNet,
		Deleted:          counters.FilesDeleted,
		DirsCreated:      counters.DirsCreated,
		BytesWritten:     counters.BytesWritten,
		SafetyNetDays:    job.SafetyNetDays,
		ScanWarnings:     scanWarnings,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: marshaling summary: %w", err)
	}

	fileName := fmt.Sprintf("summary_%s.json", timestamp)
	destPath := filepath.Join(w.destDir(), fileName)
	logPath := filepath.Join(w.logDir, fileName)

	if err := atomicio.EnsureDir(w.destDir()); err != nil {
		return err
	}
	if err := atomicio.EnsureDir(w.logDir); err != nil {
		return err
	}
	if err := atomicio.WriteDualSink(logPath, destPath, data); err != nil {
		return fmt.Errorf("metadata: writing summary: %w", err)
	}
	return nil
}
