// Package scanner walks a root directory into a *tree.Tree with no I/O
// mutation: it never creates a directory, copies a file, or deletes
// anything. This is the one deliberate break from the teacher's fused
// walk+copy design — separating the walk from execution is what makes
// dry-run and resume possible.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/disksyncpro/disksyncpro/internal/filterset"
	"github.com/disksyncpro/disksyncpro/internal/pathkey"
	"github.com/disksyncpro/disksyncpro/internal/plog"
	"github.com/disksyncpro/disksyncpro/internal/sharded"
	"github.com/disksyncpro/disksyncpro/internal/tree"
)

// Warning records a single entry the Scanner could not inspect. The entry
// is omitted from the resulting Tree rather than aborting the whole scan.
type Warning struct {
	RelPath string
	Reason  string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.RelPath, w.Reason)
}

// Options configures one Scan call.
type Options struct {
	// Excludes is applied to both files and directories before descent;
	// an excluded directory is pruned entirely.
	Excludes *filterset.Set

	// PrunedDirs holds relative-path keys that must not be descended
	// into. On a resumed run the Engine passes the same set to both the
	// source and the destination scan: their prior contents are assumed
	// unchanged and are not re-walked.
	PrunedDirs *sharded.Set
}

// Scan walks root into a *tree.Tree. Root-open failure is fatal and
// returned as an error; a per-entry failure below the root is recorded as
// a Warning and the entry is skipped. Symlinks are recorded as their own
// kind and never followed into a directory.
func Scan(ctx context.Context, root string, opts Options) (*tree.Tree, []Warning, error) {
	if _, err := os.Lstat(root); err != nil {
		return nil, nil, fmt.Errorf("scanner: root %q is unreadable: %w", root, err)
	}

	t := tree.New(root)
	var warnings []Warning

	walkErr := filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relKey, keyErr := relKeyFor(root, absPath)
		if keyErr != nil {
			return fmt.Errorf("scanner: normalizing path %q: %w", absPath, keyErr)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if relKey == "" {
				return fmt.Errorf("scanner: root %q is unreadable: %w", root, err)
			}
			warnings = append(warnings, Warning{RelPath: relKey, Reason: err.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if relKey == "" {
			return nil // root itself
		}

		basename := d.Name()
		if opts.Excludes != nil && opts.Excludes.Matches(relKey, basename) {
			plog.Notice("excluding entry", "path", relKey)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() && opts.PrunedDirs != nil && opts.PrunedDirs.Has(relKey) {
			plog.Debug("pruning completed directory on resume", "path", relKey)
			return filepath.SkipDir
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			warnings = append(warnings, Warning{RelPath: relKey, Reason: infoErr.Error()})
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rec := recordFrom(relKey, absPath, info)
		if !rec.IsDir && !rec.IsSymlink && !info.Mode().IsRegular() {
			plog.Notice("skipping non-regular entry", "type", info.Mode().String(), "path", relKey)
			return nil
		}
		t.Add(rec)
		return nil
	})
	if walkErr != nil {
		return nil, warnings, fmt.Errorf("scanner: walking %q: %w", root, walkErr)
	}
	return t, warnings, nil
}

func relKeyFor(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return pathkey.Normalize(rel)
}

func recordFrom(relKey, absPath string, info fs.FileInfo) tree.FileRecord {
	mode := info.Mode()
	isSymlink := mode&os.ModeSymlink != 0
	rec := tree.FileRecord{
		RelPath:   relKey,
		ModTime:   info.ModTime().UnixNano(),
		Size:      info.Size(),
		Mode:      mode,
		IsDir:     mode.IsDir(),
		IsSymlink: isSymlink,
	}
	if isSymlink {
		if target, err := os.Readlink(absPath); err == nil {
			rec.SymlinkTarget = target
		}
	}
	return rec
}
