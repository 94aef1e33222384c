// Package planner diffs a source Tree against a destination Tree and
// produces an ordered operation.List — the Engine's single source of
// truth for what a run will do, computed entirely before any I/O happens
// so dry-run and resume both fall out of the same code path.
package planner

import (
	"github.com/disksyncpro/disksyncpro/internal/config"
	"github.com/disksyncpro/disksyncpro/internal/operation"
	"github.com/disksyncpro/disksyncpro/internal/tree"
)

// Plan diffs src against dest under mode and returns an ordered list of
// operations. The order guarantees MkDir precedes any operation targeting
// a path inside it, and a directory's own Delete/MoveToSafetyNet follows
// every operation targeting something inside it.
func Plan(src, dest *tree.Tree, mode config.Mode, mtimeToleranceSeconds int64) operation.List {
	var ids operation.IDGenerator
	var ops operation.List

	// Pass 1: everything present in source — creates, updates, mkdirs —
	// in source key order so parent directories are visited before their
	// children (tree.Keys is sorted, and a parent's key is always a
	// strict prefix of its children's, so lexicographic order already
	// satisfies the MkDir-before-descendant-write requirement).
	for _, key := range src.Keys() {
		srcRec, _ := src.Get(key)
		destRec, existsInDest := dest.Get(key)

		switch {
		case srcRec.IsDir:
			if !existsInDest || !destRec.IsDir {
				ops = append(ops, operation.Operation{
					OpID:    ids.Next(),
					Kind:    operation.KindMkDir,
					RelPath: key,
				})
			}
		case srcRec.IsSymlink:
			if !isUpToDateSymlink(srcRec, destRec, existsInDest) {
				ops = append(ops, operation.Operation{
					OpID:          ids.Next(),
					Kind:          operation.KindSymlinkCreate,
					RelPath:       key,
					SymlinkTarget: srcRec.SymlinkTarget,
				})
			}
		default:
			if existsInDest {
				// A mode-only mismatch still emits an UpdateFile op. The
				// Executor carries out every UpdateFile as a full atomic
				// re-copy that also applies the source mode bits; there
				// is no chmod-only path, so a mode-only change re-copies
				// the file content too.
				upToDate := isUpToDateFile(srcRec, destRec, mtimeToleranceSeconds)
				modeDiffers := upToDate && !destRec.IsDir && !destRec.IsSymlink && srcRec.Mode != destRec.Mode
				if !upToDate || modeDiffers {
					ops = append(ops, operation.Operation{
						OpID:          ids.Next(),
						Kind:          operation.KindUpdateFile,
						RelPath:       key,
						SourceSize:    srcRec.Size,
						SourceModTime: srcRec.ModTime,
						SourceMode:    srcRec.Mode,
					})
				}
			} else {
				ops = append(ops, operation.Operation{
					OpID:          ids.Next(),
					Kind:          operation.KindCopy,
					RelPath:       key,
					SourceSize:    srcRec.Size,
					SourceModTime: srcRec.ModTime,
					SourceMode:    srcRec.Mode,
				})
			}
		}
	}

	// Pass 2: destination-only entries, deepest-first so a directory's
	// contents are removed/relocated before the directory itself.
	destOnly := destOnlyKeysDeepestFirst(src, dest)
	for _, key := range destOnly {
		switch mode {
		case config.ModeSync:
			// no-delete: destination-only entries are left untouched.
		case config.ModeClone:
			ops = append(ops, operation.Operation{
				OpID:    ids.Next(),
				Kind:    operation.KindDelete,
				RelPath: key,
			})
		case config.ModeSafetyNet:
			ops = append(ops, operation.Operation{
				OpID:    ids.Next(),
				Kind:    operation.KindMoveToSafetyNet,
				RelPath: key,
			})
		}
	}

	return ops
}

// isUpToDateFile is the Smart Update predicate: kinds already match by
// construction (both are plain files here), so only size and mtime-within-
// tolerance are compared. Mode bits are not compared here; Plan checks
// them separately and emits an UpdateFile when only the mode differs.
func isUpToDateFile(src, dest tree.FileRecord, toleranceSeconds int64) bool {
	if dest.IsDir || dest.IsSymlink {
		return false
	}
	return src.Size == dest.Size && src.ModTimeEqual(dest, toleranceSeconds)
}

func isUpToDateSymlink(src, dest tree.FileRecord, existsInDest bool) bool {
	if !existsInDest || !dest.IsSymlink {
		return false
	}
	return src.SymlinkTarget == dest.SymlinkTarget
}

// destOnlyKeysDeepestFirst returns every destination key absent from src
// (or present with a different kind at an ancestor that's being removed
// wholesale is not special-cased — each path stands on its own), ordered
// so deeper paths are visited before their ancestors.
func destOnlyKeysDeepestFirst(src, dest *tree.Tree) []string {
	var keys []string
	for _, key := range dest.Keys() {
		if !src.Has(key) {
			keys = append(keys, key)
		}
	}
	return tree.SortByDepthDesc(keys)
}
