// Package safetynet relocates destination-side files that clone/safety_net
// policy dooms, or that safety_net mode is about to overwrite, into a
// dated quarantine bucket under the destination root instead of deleting
// them outright. Grounded on original_source/disk_sync_pro.py's
// get_safety_net_dir/move_to_safety_net for layout and semantics, and on
// pkg/pathretention/task.go's deleteWorker for the per-path move idiom
// (adapted from delete to move). Relocations are dispatched as ordinary
// operation.KindMoveToSafetyNet operations through the Executor's own
// worker pool rather than a second, parallel one, so a quarantine move
// gets the same journal/retry/checkpoint treatment as any other op.
package safetynet

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/disksyncpro/disksyncpro/internal/pathkey"
)

// DirName is the bookkeeping directory under the destination root that
// holds every dated quarantine bucket. It is always excluded from
// scanning to prevent the engine from recursing into its own quarantine.
const DirName = ".SafetyNet"

// dateFormat matches the YYYY-MM-DD bucket naming from disk_sync_pro.py's
// get_safety_net_dir.
const dateFormat = "2006-01-02"

// BucketDir returns today's quarantine bucket under destRoot, creating it
// if necessary.
func BucketDir(destRoot string, now time.Time) (string, error) {
	dir := filepath.Join(destRoot, DirName, now.UTC().Format(dateFormat))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("safetynet: creating bucket %s: %w", dir, err)
	}
	return dir, nil
}

// Move relocates the destination entry at relPath into today's bucket,
// preserving its relative structure, and returns the path it was moved
// to (for the Journal to record as Entry.SafetyNetPath so rollback can
// reverse it). A name collision inside the bucket (the same relative
// path quarantined twice in one day) is resolved by appending "(n)"
// to the base name, matching the "Collisions within the same bucket
// append (n) suffixes" rule.
func Move(destRoot, relPath string, now time.Time, dryRun bool) (string, error) {
	bucket, err := BucketDir(destRoot, now)
	if err != nil {
		return "", err
	}

	target := filepath.Join(destRoot, pathkey.ToOS(relPath))
	dest := filepath.Join(bucket, pathkey.ToOS(relPath))

	if dryRun {
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("safetynet: preparing %s: %w", dest, err)
	}
	dest = resolveCollision(dest)

	if err := os.Rename(target, dest); err != nil {
		return "", fmt.Errorf("safetynet: moving %s to %s: %w", target, dest, err)
	}
	return dest, nil
}

// resolveCollision appends "(n)" to dest's base name, incrementing n
// until it finds a path that doesn't already exist.
func resolveCollision(dest string) string {
	if _, err := os.Lstat(dest); os.IsNotExist(err) {
		return dest
	}
	dir := filepath.Dir(dest)
	ext := filepath.Ext(dest)
	base := filepath.Base(dest)
	base = base[:len(base)-len(ext)]
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
