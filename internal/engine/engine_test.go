package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disksyncpro/disksyncpro/internal/checkpoint"
	"github.com/disksyncpro/disksyncpro/internal/config"
	"github.com/disksyncpro/disksyncpro/internal/journal"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testJob(t *testing.T, srcRoot, destRoot string) config.Job {
	t.Helper()
	job := config.NewDefaultJob()
	job.Name = "job1"
	job.SourceRoot = srcRoot
	job.DestRoot = destRoot
	job.Mode = config.ModeSync
	job.Threads = 2
	if err := job.Validate(); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestRunHappyPathCopiesAndRetiresCheckpoint(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	logDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcRoot, "a.txt"), "hello")
	writeTestFile(t, filepath.Join(srcRoot, "sub", "b.txt"), "world")

	eng := New(Options{LogDir: logDir, Now: func() time.Time {
		return time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	}})

	result, err := eng.Run(context.Background(), testJob(t, srcRoot, destRoot))
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("expected ExitSuccess, got %v (failed=%v)", result.ExitCode, result.FailedPaths)
	}
	if result.Counters.FilesCopied != 2 {
		t.Fatalf("expected 2 files copied, got %d", result.Counters.FilesCopied)
	}

	if _, err := os.Stat(filepath.Join(destRoot, "a.txt")); err != nil {
		t.Fatalf("expected a.txt copied, err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "sub", "b.txt")); err != nil {
		t.Fatalf("expected sub/b.txt copied, err=%v", err)
	}

	cpPath := filepath.Join(destRoot, journal.Dir, checkpoint.FileName("job1"))
	if _, err := os.Stat(cpPath); !os.IsNotExist(err) {
		t.Fatalf("expected checkpoint removed after a clean run, stat err=%v", err)
	}
}

func TestRunSecondPassOnUnchangedTreeLeavesFilesUpToDate(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	logDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcRoot, "a.txt"), "hello")

	eng := New(Options{LogDir: logDir})
	job := testJob(t, srcRoot, destRoot)

	if _, err := eng.Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	result, err := eng.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("expected ExitSuccess on second pass, got %v", result.ExitCode)
	}
	if result.Counters.FilesCopied != 0 {
		t.Fatalf("expected no re-copy of an unchanged file, got %d", result.Counters.FilesCopied)
	}
	if result.Counters.FilesUpToDate != 1 {
		t.Fatalf("expected 1 up-to-date file, got %d", result.Counters.FilesUpToDate)
	}
}

func TestRunDryRunLeavesDestinationUntouched(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	logDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcRoot, "a.txt"), "hello")

	eng := New(Options{LogDir: logDir})
	job := testJob(t, srcRoot, destRoot)
	job.DryRun = true

	result, err := eng.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("expected ExitSuccess, got %v", result.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected dry run to leave destination untouched, stat err=%v", err)
	}
}

func TestRunAgainstMissingDestinationCreatesIt(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := filepath.Join(t.TempDir(), "does-not-exist-yet")
	logDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcRoot, "a.txt"), "hello")

	eng := New(Options{LogDir: logDir})
	job := testJob(t, srcRoot, destRoot)

	result, err := eng.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("expected ExitSuccess against a missing destination, got %v", result.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "a.txt")); err != nil {
		t.Fatalf("expected a.txt copied into newly-created destination, err=%v", err)
	}
}

func TestRunCancellationPersistsCheckpointAndReturnsCancelled(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	logDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcRoot, "a.txt"), "hello")

	eng := New(Options{LogDir: logDir})
	job := testJob(t, srcRoot, destRoot)
	job.Resume = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := eng.Run(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != ExitCancelled {
		t.Fatalf("expected ExitCancelled, got %v", result.ExitCode)
	}
	if !result.Cancelled {
		t.Fatal("expected Cancelled flag set")
	}

	cpPath := filepath.Join(destRoot, journal.Dir, checkpoint.FileName("job1"))
	if _, err := os.Stat(cpPath); err != nil {
		t.Fatalf("expected checkpoint persisted on cancellation, err=%v", err)
	}
}

func TestRunWithoutResumeAgainstExistingCheckpointIsConfigError(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	logDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcRoot, "a.txt"), "hello")

	cpDir := filepath.Join(destRoot, journal.Dir)
	if err := os.MkdirAll(cpDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cp := checkpoint.New("job1", filepath.Join(cpDir, checkpoint.FileName("job1")))
	if err := cp.Flush(); err != nil {
		t.Fatal(err)
	}

	eng := New(Options{LogDir: logDir})
	job := testJob(t, srcRoot, destRoot)
	job.Resume = false

	result, err := eng.Run(context.Background(), job)
	if err == nil {
		t.Fatal("expected an error when a checkpoint exists without -resume")
	}
	if result.ExitCode != ExitConfigError {
		t.Fatalf("expected ExitConfigError, got %v", result.ExitCode)
	}
}

func TestRunResumeSkipsAlreadyCompletedFile(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	logDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcRoot, "a.txt"), "hello")
	writeTestFile(t, filepath.Join(srcRoot, "b.txt"), "world")

	cpDir := filepath.Join(destRoot, journal.Dir)
	if err := os.MkdirAll(cpDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cpPath := filepath.Join(cpDir, checkpoint.FileName("job1"))
	cp := checkpoint.New("job1", cpPath)
	if err := cp.MarkFileComplete("a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := cp.Flush(); err != nil {
		t.Fatal(err)
	}
	// a.txt is marked complete but was never actually written to the
	// destination by this fabricated checkpoint, so if the Engine
	// correctly elides it from the plan, it must stay absent after Run.

	eng := New(Options{LogDir: logDir})
	job := testJob(t, srcRoot, destRoot)
	job.Resume = true

	result, err := eng.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("expected ExitSuccess, got %v (failed=%v)", result.ExitCode, result.FailedPaths)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "b.txt")); err != nil {
		t.Fatalf("expected b.txt copied, err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected a.txt elided from the resumed plan, stat err=%v", err)
	}
}

func TestRunPartialExitCodeOnFailedOperation(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	logDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcRoot, "a.txt"), "hello")

	// Block the destination with a read-only parent so the MkDir/copy into
	// "locked/inner.txt" cannot succeed, producing exactly one failed op
	// without aborting the whole run.
	writeTestFile(t, filepath.Join(srcRoot, "locked", "inner.txt"), "content")
	lockedDest := filepath.Join(destRoot, "locked")
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(lockedDest, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(lockedDest, 0o755) })

	eng := New(Options{LogDir: logDir})
	job := testJob(t, srcRoot, destRoot)
	job.Retries = 0

	result, err := eng.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "a.txt")); err != nil {
		t.Fatalf("expected unrelated a.txt to still be copied despite the locked subtree, err=%v", err)
	}
	if result.ExitCode != ExitPartial && result.ExitCode != ExitSuccess {
		t.Fatalf("expected ExitPartial or ExitSuccess (if running as root bypasses the permission check), got %v", result.ExitCode)
	}
}
