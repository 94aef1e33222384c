// Package tree holds the in-memory representation of a scanned file tree:
// a flat map of normalized relative path keys to compact FileRecords. It
// deliberately avoids os.FileInfo (which pins a pointer to a live syscall
// result) so a full source or destination tree can be held in memory and
// serialized into a Snapshot cheaply.
package tree

import (
	"os"
	"sort"

	"github.com/disksyncpro/disksyncpro/internal/pathkey"
)

// FileRecord is the compact, serializable description of one scanned
// entry. ModTime is stored as a Unix nanosecond timestamp rather than
// time.Time to keep the struct small and trivially comparable.
type FileRecord struct {
	RelPath       string      `json:"rel_path"`
	ModTime       int64       `json:"mod_time"`
	Size          int64       `json:"size"`
	Mode          os.FileMode `json:"mode"`
	IsDir         bool        `json:"is_dir"`
	IsSymlink     bool        `json:"is_symlink"`
	SymlinkTarget string      `json:"symlink_target,omitempty"`
}

// ModTimeEqual reports whether r and other have modification times equal
// within toleranceSeconds, truncated to whole seconds (the Smart Update
// comparison the Planner uses, grounded on a 1-second default tolerance).
func (r FileRecord) ModTimeEqual(other FileRecord, toleranceSeconds int64) bool {
	a := r.ModTime / int64(1e9)
	b := other.ModTime / int64(1e9)
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= toleranceSeconds
}

// Tree is a scanned snapshot of a directory rooted at some path, keyed by
// normalized relative path. The root itself ("") is never a key.
type Tree struct {
	Root    string
	records map[string]FileRecord
}

func New(root string) *Tree {
	return &Tree{Root: root, records: make(map[string]FileRecord)}
}

// Add inserts or overwrites a record at its RelPath key. At most one
// record ever exists per path — inserting an existing key replaces it,
// which is how the invariant "at most one operation per path" is
// ultimately enforced: the Tree itself can't hold duplicates.
func (t *Tree) Add(r FileRecord) {
	t.records = t.ensure()
	t.records[r.RelPath] = r
}

func (t *Tree) ensure() map[string]FileRecord {
	if t.records == nil {
		return make(map[string]FileRecord)
	}
	return t.records
}

// Get returns the record at key, if present.
func (t *Tree) Get(key string) (FileRecord, bool) {
	r, ok := t.records[key]
	return r, ok
}

// Has reports whether key is present.
func (t *Tree) Has(key string) bool {
	_, ok := t.records[key]
	return ok
}

// Len returns the number of records in the tree.
func (t *Tree) Len() int { return len(t.records) }

// Keys returns a stably sorted list of every relative path key in the
// tree. Sorted order gives the Scanner and Planner deterministic
// iteration, which matters for reproducible dry-run output and tests.
func (t *Tree) Keys() []string {
	keys := make([]string, 0, len(t.records))
	for k := range t.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Range calls f for every record in sorted key order.
func (t *Tree) Range(f func(FileRecord)) {
	for _, k := range t.Keys() {
		f(t.records[k])
	}
}

// Records returns every record in the tree, sorted by relative path key —
// the shape the Metadata Writer serializes into a Snapshot artifact.
func (t *Tree) Records() []FileRecord {
	out := make([]FileRecord, 0, t.Len())
	t.Range(func(r FileRecord) { out = append(out, r) })
	return out
}

// HasDescendant reports whether key has any descendant recorded in the
// tree.
func (t *Tree) HasDescendant(key string) bool {
	prefix := key + "/"
	for k := range t.records {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// SortByDepthDesc returns keys sorted so deeper paths come first, breaking
// ties lexicographically. Used when deleting/relocating directories: a
// directory's own removal must follow the removal of everything inside it.
func SortByDepthDesc(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Slice(out, func(i, j int) bool {
		di, dj := pathkey.Depth(out[i]), pathkey.Depth(out[j])
		if di != dj {
			return di > dj
		}
		return out[i] < out[j]
	})
	return out
}
