package safetynet

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
}

func TestBucketDirUsesDateFormat(t *testing.T) {
	destRoot := t.TempDir()
	dir, err := BucketDir(destRoot, fixedNow())
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(destRoot, DirName, "2026-08-06")
	if dir != want {
		t.Fatalf("got %s, want %s", dir, want)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected bucket directory created, err=%v", err)
	}
}

func TestMoveRelocatesFilePreservingStructure(t *testing.T) {
	destRoot := t.TempDir()
	src := filepath.Join(destRoot, "sub", "a.txt")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := Move(destRoot, "sub/a.txt", fixedNow(), false)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(destRoot, DirName, "2026-08-06", "sub", "a.txt")
	if dest != want {
		t.Fatalf("got %s, want %s", dest, want)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected original removed, stat err=%v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected file at quarantine dest, err=%v", err)
	}
}

func TestMoveDryRunLeavesFileInPlace(t *testing.T) {
	destRoot := t.TempDir()
	src := filepath.Join(destRoot, "a.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Move(destRoot, "a.txt", fixedNow(), true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("expected dry-run to leave file in place, err=%v", err)
	}
}

func TestMoveCollisionAppendsSuffix(t *testing.T) {
	destRoot := t.TempDir()
	bucket, err := BucketDir(destRoot, fixedNow())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bucket, "a.txt"), []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(destRoot, "a.txt")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := Move(destRoot, "a.txt", fixedNow(), false)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(bucket, "a (1).txt")
	if dest != want {
		t.Fatalf("got %s, want %s", dest, want)
	}
}
