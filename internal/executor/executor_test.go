package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/disksyncpro/disksyncpro/internal/checkpoint"
	"github.com/disksyncpro/disksyncpro/internal/config"
	"github.com/disksyncpro/disksyncpro/internal/journal"
	"github.com/disksyncpro/disksyncpro/internal/metrics"
	"github.com/disksyncpro/disksyncpro/internal/opclass"
	"github.com/disksyncpro/disksyncpro/internal/operation"
)

func newTestExecutor(t *testing.T, srcRoot, destRoot string, cfg Config) (*Executor, *journal.Writer, *checkpoint.Checkpoint) {
	t.Helper()
	logDir := t.TempDir()
	jw, err := journal.Open("job1", destRoot, logDir, "20260806_120000")
	if err != nil {
		t.Fatal(err)
	}
	cp := checkpoint.New("job1", filepath.Join(t.TempDir(), "checkpoint_job1.json"))
	ex := New(srcRoot, destRoot, config.ModeSync, cfg, jw, cp, metrics.New(), func() time.Time {
		return time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	})
	return ex, jw, cp
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = 0
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = time.Millisecond
	return cfg
}

func TestRunCopiesNewFile(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	writeFile(t, filepath.Join(srcRoot, "a.txt"), "hello")

	ex, _, _ := newTestExecutor(t, srcRoot, destRoot, testConfig())
	ops := operation.List{
		{OpID: 1, Kind: operation.KindCopy, RelPath: "a.txt", SourceSize: 5, SourceMode: 0o644},
	}

	failed, err := ex.Run(context.Background(), ops, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %+v", failed)
	}
	got, err := os.ReadFile(filepath.Join(destRoot, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", got)
	}
}

func TestRunCreatesDirectoryBeforeChild(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	writeFile(t, filepath.Join(srcRoot, "sub", "a.txt"), "x")

	ex, _, _ := newTestExecutor(t, srcRoot, destRoot, testConfig())
	ops := operation.List{
		{OpID: 1, Kind: operation.KindMkDir, RelPath: "sub"},
		{OpID: 2, Kind: operation.KindCopy, RelPath: "sub/a.txt", SourceSize: 1, SourceMode: 0o644},
	}

	failed, err := ex.Run(context.Background(), ops, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %+v", failed)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "sub", "a.txt")); err != nil {
		t.Fatal(err)
	}
}

func TestRunUpdatesExistingFileBackingUpOriginal(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	writeFile(t, filepath.Join(srcRoot, "a.txt"), "new-content")
	writeFile(t, filepath.Join(destRoot, "a.txt"), "old-content")

	ex, jw, _ := newTestExecutor(t, srcRoot, destRoot, testConfig())
	ops := operation.List{
		{OpID: 1, Kind: operation.KindUpdateFile, RelPath: "a.txt", SourceSize: 11, SourceMode: 0o644},
	}

	if _, err := ex.Run(context.Background(), ops, nil); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(destRoot, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new-content" {
		t.Fatalf("expected updated content, got %q", got)
	}

	loaded, err := journal.Load(jw.LogSinkPath())
	if err != nil {
		t.Fatal(err)
	}
	var committed *journal.Entry
	for i := range loaded.Entries {
		if loaded.Entries[i].Phase == journal.PhaseCommitted {
			committed = &loaded.Entries[i]
		}
	}
	if committed == nil || committed.BackupPath == "" {
		t.Fatalf("expected committed entry with a backup path, got %+v", loaded.Entries)
	}
	old, err := os.ReadFile(committed.BackupPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(old) != "old-content" {
		t.Fatalf("expected backed-up original content, got %q", old)
	}
}

func TestRunCreatesSymlink(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()

	ex, _, _ := newTestExecutor(t, srcRoot, destRoot, testConfig())
	ops := operation.List{
		{OpID: 1, Kind: operation.KindSymlinkCreate, RelPath: "link.txt", SymlinkTarget: "target.txt"},
	}

	if _, err := ex.Run(context.Background(), ops, nil); err != nil {
		t.Fatal(err)
	}
	target, err := os.Readlink(filepath.Join(destRoot, "link.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if target != "target.txt" {
		t.Fatalf("expected symlink target %q, got %q", "target.txt", target)
	}
}

func TestRunDeleteMovesEntryIntoRollbackRoot(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	writeFile(t, filepath.Join(destRoot, "obsolete.txt"), "gone")

	ex, jw, _ := newTestExecutor(t, srcRoot, destRoot, testConfig())
	ops := operation.List{
		{OpID: 1, Kind: operation.KindDelete, RelPath: "obsolete.txt"},
	}
	if _, err := ex.Run(context.Background(), ops, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "obsolete.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected obsolete.txt removed from destination, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(jw.RollbackRoot(), "obsolete.txt")); err != nil {
		t.Fatalf("expected deleted file preserved under rollback root, err=%v", err)
	}
}

func TestRunMoveToSafetyNetRelocatesFile(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	writeFile(t, filepath.Join(destRoot, "stale.txt"), "stale")

	ex, _, _ := newTestExecutor(t, srcRoot, destRoot, testConfig())
	ops := operation.List{
		{OpID: 1, Kind: operation.KindMoveToSafetyNet, RelPath: "stale.txt"},
	}
	if _, err := ex.Run(context.Background(), ops, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "stale.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected stale.txt removed from destination, stat err=%v", err)
	}
}

func TestRunDryRunMakesNoChanges(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	writeFile(t, filepath.Join(srcRoot, "a.txt"), "hello")

	cfg := testConfig()
	cfg.DryRun = true
	ex, _, _ := newTestExecutor(t, srcRoot, destRoot, cfg)
	ops := operation.List{
		{OpID: 1, Kind: operation.KindCopy, RelPath: "a.txt", SourceSize: 5, SourceMode: 0o644},
	}
	if _, err := ex.Run(context.Background(), ops, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected dry run to leave destination untouched, stat err=%v", err)
	}
}

func TestRunVerifyEnabledSucceedsOnMatchingContent(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	writeFile(t, filepath.Join(srcRoot, "a.txt"), "hello")

	cfg := testConfig()
	cfg.Verify = true
	ex, _, _ := newTestExecutor(t, srcRoot, destRoot, cfg)
	ops := operation.List{
		{OpID: 1, Kind: operation.KindCopy, RelPath: "a.txt", SourceSize: 5, SourceMode: 0o644},
	}
	failed, err := ex.Run(context.Background(), ops, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 0 {
		t.Fatalf("a correctly-copied file should verify cleanly, got failures %+v", failed)
	}
	got, err := os.ReadFile(filepath.Join(destRoot, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", got)
	}
}

func TestRunRetriesRetriableErrorAndEventuallyFails(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	// No source file exists, so every attempt at copying it fails with a
	// "file not found" error that classifyIOErr passes through unchanged
	// and opclass.IsRetriable treats as retriable.

	cfg := testConfig()
	cfg.RetryMaxAttempts = 2
	ex, jw, _ := newTestExecutor(t, srcRoot, destRoot, cfg)
	ops := operation.List{
		{OpID: 1, Kind: operation.KindCopy, RelPath: "missing.txt", SourceSize: 1, SourceMode: 0o644},
	}

	failed, err := ex.Run(context.Background(), ops, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected one failed path, got %+v", failed)
	}
	if _, ok := failed["missing.txt"]; !ok {
		t.Fatalf("expected missing.txt to be recorded as failed, got %+v", failed)
	}

	loaded, err := journal.Load(jw.LogSinkPath())
	if err != nil {
		t.Fatal(err)
	}
	wantPhases := []journal.Phase{
		journal.PhaseStarted, journal.PhaseFailed,
		journal.PhaseStarted, journal.PhaseFailed,
		journal.PhaseStarted, journal.PhaseFailed,
		journal.PhaseSkipped,
	}
	if len(loaded.Entries) != len(wantPhases) {
		t.Fatalf("expected %d journal entries, got %d: %+v", len(wantPhases), len(loaded.Entries), loaded.Entries)
	}
	for i, want := range wantPhases {
		if loaded.Entries[i].Phase != want {
			t.Fatalf("entry %d: expected phase %s, got %s", i, want, loaded.Entries[i].Phase)
		}
	}
}

func TestRunNonRetriableErrorSkipsRetries(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()

	cfg := testConfig()
	cfg.RetryMaxAttempts = 5
	ex, jw, _ := newTestExecutor(t, srcRoot, destRoot, cfg)

	op := operation.Operation{OpID: 1, Kind: operation.KindDelete, RelPath: "missing.txt"}
	attempts := 0
	err := ex.retryAndJournal(context.Background(), op, func(ctx context.Context, attempt int) (journal.Entry, error) {
		attempts++
		return journal.Entry{}, opclass.NonRetriable(errors.New("permanent failure"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt for a non-retriable error, got %d", attempts)
	}

	loaded, err2 := journal.Load(jw.LogSinkPath())
	if err2 != nil {
		t.Fatal(err2)
	}
	if len(loaded.Entries) < 2 {
		t.Fatalf("expected at least started+skipped entries, got %+v", loaded.Entries)
	}
}

func TestRunEmitsProgressUpToTotal(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	writeFile(t, filepath.Join(srcRoot, "a.txt"), "hello")
	writeFile(t, filepath.Join(srcRoot, "b.txt"), "world")

	ex, _, _ := newTestExecutor(t, srcRoot, destRoot, testConfig())
	ops := operation.List{
		{OpID: 1, Kind: operation.KindCopy, RelPath: "a.txt", SourceSize: 5, SourceMode: 0o644},
		{OpID: 2, Kind: operation.KindCopy, RelPath: "b.txt", SourceSize: 5, SourceMode: 0o644},
	}

	var lastDone, lastTotal int64
	if _, err := ex.Run(context.Background(), ops, func(p Progress) {
		lastDone, lastTotal = p.Done, p.Total
	}); err != nil {
		t.Fatal(err)
	}
	if lastDone != lastTotal || lastTotal != 2 {
		t.Fatalf("expected final progress done==total==2, got done=%d total=%d", lastDone, lastTotal)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()

	cfg := testConfig()
	cfg.NumWorkers = 1
	ex, _, _ := newTestExecutor(t, srcRoot, destRoot, cfg)

	var ops operation.List
	for i := 0; i < 50; i++ {
		name := filepath.Join("f", "file"+strconv.Itoa(i)+".txt")
		writeFile(t, filepath.Join(srcRoot, name), "content")
		ops = append(ops, operation.Operation{OpID: uint64(i + 1), Kind: operation.KindCopy, RelPath: name, SourceSize: 7, SourceMode: 0o644})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.Run(ctx, ops, nil)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMkDirDeduplicatesConcurrentRequests(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()

	ex, jw, _ := newTestExecutor(t, srcRoot, destRoot, testConfig())
	ops := operation.List{
		{OpID: 1, Kind: operation.KindMkDir, RelPath: "sub"},
	}
	if _, err := ex.Run(context.Background(), ops, nil); err != nil {
		t.Fatal(err)
	}
	if err := ex.ensureDir("sub"); err != nil {
		t.Fatal(err)
	}

	loaded, err := journal.Load(jw.LogSinkPath())
	if err != nil {
		t.Fatal(err)
	}
	mkdirEntries := 0
	for _, e := range loaded.Entries {
		if e.Kind == operation.KindMkDir {
			mkdirEntries++
		}
	}
	if mkdirEntries != 1 {
		t.Fatalf("expected exactly one mkdir journal entry despite repeated ensureDir, got %d", mkdirEntries)
	}
}
