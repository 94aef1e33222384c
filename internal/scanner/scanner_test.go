package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/disksyncpro/disksyncpro/internal/filterset"
	"github.com/disksyncpro/disksyncpro/internal/sharded"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScanBasicTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "dir/b.txt"), "world")

	tr, warnings, err := Scan(context.Background(), root, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if !tr.Has("a.txt") || !tr.Has("dir") || !tr.Has("dir/b.txt") {
		t.Fatalf("missing expected entries: %v", tr.Keys())
	}
}

func TestScanAppliesExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "keep")
	writeFile(t, filepath.Join(root, "node_modules/pkg/index.js"), "x")

	excludes := filterset.New([]string{"node_modules"})
	tr, _, err := Scan(context.Background(), root, Options{Excludes: excludes})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tr.Has("keep.txt") {
		t.Error("expected keep.txt to be present")
	}
	if tr.Has("node_modules") || tr.Has("node_modules/pkg/index.js") {
		t.Error("expected node_modules subtree to be excluded")
	}
}

func TestScanPrunesCompletedDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "done/old.txt"), "old")
	writeFile(t, filepath.Join(root, "pending/new.txt"), "new")

	pruned := sharded.NewSet()
	pruned.Store("done")

	tr, _, err := Scan(context.Background(), root, Options{PrunedDirs: pruned})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Has("done/old.txt") {
		t.Error("expected done/old.txt to be pruned")
	}
	if !tr.Has("pending/new.txt") {
		t.Error("expected pending/new.txt to be present")
	}
}

func TestScanRootUnreadableIsFatal(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")
	_, _, err := Scan(context.Background(), root, Options{})
	if err == nil {
		t.Fatal("expected error for unreadable root")
	}
}

func TestScanRecordsSymlinkWithoutFollowing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "target.txt"), "data")
	linkPath := filepath.Join(root, "link.txt")
	if err := os.Symlink(filepath.Join(root, "target.txt"), linkPath); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	tr, _, err := Scan(context.Background(), root, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, ok := tr.Get("link.txt")
	if !ok || !rec.IsSymlink {
		t.Fatalf("expected link.txt to be recorded as a symlink, got %+v ok=%v", rec, ok)
	}
}
