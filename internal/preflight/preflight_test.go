package preflight

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckSourceAccessible(t *testing.T) {
	if err := CheckSourceAccessible(t.TempDir()); err != nil {
		t.Fatalf("expected an existing directory to pass, got %v", err)
	}

	missing := filepath.Join(t.TempDir(), "nope")
	if err := CheckSourceAccessible(missing); err == nil {
		t.Fatal("expected an error for a missing source_root")
	}

	file := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CheckSourceAccessible(file); err == nil {
		t.Fatal("expected an error when source_root is a file")
	}
}

func TestCheckTargetAccessibleExistingDirectory(t *testing.T) {
	if err := CheckTargetAccessible(t.TempDir()); err != nil {
		t.Fatalf("expected an existing directory to pass, got %v", err)
	}
}

func TestCheckTargetAccessibleNotYetCreated(t *testing.T) {
	parent := t.TempDir()
	notYetCreated := filepath.Join(parent, "new-backup-target")
	if err := CheckTargetAccessible(notYetCreated); err != nil {
		t.Fatalf("expected a not-yet-created target under an existing parent to pass, got %v", err)
	}
}

func TestCheckTargetAccessibleRejectsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CheckTargetAccessible(file); err == nil {
		t.Fatal("expected an error when dest_root is a file")
	}
}

func TestCheckTargetWritableCreatesAndProbes(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "does-not-exist-yet")
	if err := CheckTargetWritable(dest); err != nil {
		t.Fatalf("expected CheckTargetWritable to create %q, got %v", dest, err)
	}
	info, err := os.Stat(dest)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected dest_root created as a directory, err=%v", err)
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected the write probe file cleaned up, found %v", entries)
	}
}

func TestRunSkipsWritableProbeOnDryRun(t *testing.T) {
	sourceRoot := t.TempDir()
	destRoot := filepath.Join(t.TempDir(), "not-created")

	if err := Run(sourceRoot, destRoot, true); err != nil {
		t.Fatalf("expected dry-run preflight to pass without creating dest_root, got %v", err)
	}
	if _, err := os.Stat(destRoot); !os.IsNotExist(err) {
		t.Fatalf("expected dest_root left uncreated by a dry run, stat err=%v", err)
	}
}

func TestRunCreatesAndValidatesDestOnRealRun(t *testing.T) {
	sourceRoot := t.TempDir()
	destRoot := filepath.Join(t.TempDir(), "created-by-preflight")

	if err := Run(sourceRoot, destRoot, false); err != nil {
		t.Fatalf("expected preflight to succeed, got %v", err)
	}
	if info, err := os.Stat(destRoot); err != nil || !info.IsDir() {
		t.Fatalf("expected dest_root created by a real run, err=%v", err)
	}
}

func TestRunFailsOnMissingSource(t *testing.T) {
	missingSource := filepath.Join(t.TempDir(), "nope")
	if err := Run(missingSource, t.TempDir(), false); err == nil {
		t.Fatal("expected an error for a missing source_root")
	}
}
