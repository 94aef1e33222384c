// Package preflight runs the stateless, non-mutating checks the Engine
// performs before it trusts a job's source_root/dest_root enough to start
// scanning: does the source exist and is it a directory, is the
// destination's volume actually present rather than a ghost mountpoint,
// and — outside dry-run, where no filesystem mutation is allowed at all —
// can the Engine actually write there. Grounded on
// pkg/preflight/preflight.go's CheckBackupSourceAccessible/
// CheckBackupTargetAccessible/CheckBackupTargetWritable trio.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckSourceAccessible validates that sourceRoot exists and is a
// directory, surfacing a clearer error than the Scanner's own
// root-unreadable failure would.
func CheckSourceAccessible(sourceRoot string) error {
	info, err := os.Stat(sourceRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("preflight: source_root %q does not exist", sourceRoot)
		}
		return fmt.Errorf("preflight: cannot stat source_root %q: %w", sourceRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("preflight: source_root %q is not a directory", sourceRoot)
	}
	return nil
}

// CheckTargetAccessible validates destRoot without creating anything: if
// it already exists it must be a directory on a genuinely mounted volume;
// if it doesn't exist yet, the deepest existing ancestor is checked
// instead, so a not-yet-created destination under an unmounted drive is
// still caught before the first write.
func CheckTargetAccessible(destRoot string) error {
	info, err := os.Stat(destRoot)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("preflight: dest_root %q exists but is not a directory", destRoot)
		}
		return validateMountPoint(destRoot)
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("preflight: cannot stat dest_root %q: %w", destRoot, err)
	}

	ancestor := deepestExistingAncestor(destRoot)
	if ancestor == "" {
		return fmt.Errorf("preflight: no existing ancestor found above dest_root %q", destRoot)
	}
	return validateMountPoint(ancestor)
}

// CheckTargetWritable ensures destRoot exists (creating it if necessary)
// and is actually writable, by creating and removing a probe file. Never
// called on a dry-run job — a dry run must not mutate the filesystem at
// all, not even to create the destination directory.
func CheckTargetWritable(destRoot string) error {
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return fmt.Errorf("preflight: creating dest_root %q: %w", destRoot, err)
	}
	probe := filepath.Join(destRoot, ".disksyncpro-writetest.tmp")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("preflight: dest_root %q is not writable: %w", destRoot, err)
	}
	f.Close()
	_ = os.Remove(probe)
	return nil
}

// Run performs the full preflight sequence for one job. dryRun skips the
// mutating writability probe, since a dry run must leave the filesystem
// untouched.
func Run(sourceRoot, destRoot string, dryRun bool) error {
	if err := CheckSourceAccessible(sourceRoot); err != nil {
		return err
	}
	if err := CheckTargetAccessible(destRoot); err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	return CheckTargetWritable(destRoot)
}

func deepestExistingAncestor(path string) string {
	ancestor := path
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return ancestor
		}
		if _, err := os.Stat(parent); err == nil {
			return parent
		}
		ancestor = parent
	}
}
