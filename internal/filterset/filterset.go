// Package filterset implements the glob-style exclude matching the Scanner
// applies to both file and directory entries before they're allowed into a
// Tree. Patterns are categorized up front (exact, basename-exact, prefix,
// suffix, glob) so matching a single path against thousands of patterns
// stays cheap.
package filterset

import (
	"path/filepath"
	"strings"

	"github.com/disksyncpro/disksyncpro/internal/plog"
)

type matchType int

const (
	prefixMatch matchType = iota
	suffixMatch
	globMatch
)

type pattern struct {
	original      string
	clean         string
	matchType     matchType
	matchBasename bool
	dirPrefix     bool
}

// Set holds the categorized exclusion patterns for a Job.
type Set struct {
	literals         map[string]struct{}
	basenameLiterals map[string]struct{}
	patterns         []pattern
}

// New builds a Set from raw glob-style patterns. A pattern without a "/" is
// matched against the entry's basename only (so "node_modules" excludes
// that directory name anywhere in the tree); a pattern containing "/" is
// matched against the full relative path key.
func New(patterns []string) *Set {
	s := &Set{
		literals:         make(map[string]struct{}),
		basenameLiterals: make(map[string]struct{}),
		patterns:         make([]pattern, 0, len(patterns)),
	}

	matchesBasename := func(p string) bool { return !strings.Contains(p, "/") }

	for _, raw := range patterns {
		p := normalize(raw)
		switch {
		case strings.ContainsAny(p, "*?["):
			switch {
			case strings.HasSuffix(p, "/*"):
				s.patterns = append(s.patterns, pattern{
					original: p, clean: strings.TrimSuffix(p, "/*"),
					matchType: prefixMatch, matchBasename: false, dirPrefix: true,
				})
			case strings.HasSuffix(p, "*") && !strings.ContainsAny(p[:len(p)-1], "*?["):
				s.patterns = append(s.patterns, pattern{
					original: p, clean: strings.TrimSuffix(p, "*"),
					matchType: prefixMatch, matchBasename: matchesBasename(p),
				})
			case strings.HasPrefix(p, "*") && !strings.ContainsAny(p[1:], "*?["):
				s.patterns = append(s.patterns, pattern{
					original: p, clean: p[1:],
					matchType: suffixMatch, matchBasename: matchesBasename(p),
				})
			default:
				s.patterns = append(s.patterns, pattern{
					original: p, clean: p,
					matchType: globMatch, matchBasename: matchesBasename(p),
				})
			}
		case strings.HasSuffix(p, "/"):
			s.patterns = append(s.patterns, pattern{
				original: p, clean: strings.TrimSuffix(p, "/"),
				matchType: prefixMatch, matchBasename: false, dirPrefix: true,
			})
		default:
			if matchesBasename(p) {
				s.basenameLiterals[p] = struct{}{}
			} else {
				s.literals[p] = struct{}{}
			}
		}
	}
	return s
}

// Matches reports whether relKey (a normalized relative path key) or its
// basename matches any configured pattern.
func (s *Set) Matches(relKey, basename string) bool {
	normKey := normalize(relKey)
	normBase := normalize(basename)

	if _, ok := s.literals[normKey]; ok {
		return true
	}
	if _, ok := s.basenameLiterals[normBase]; ok {
		return true
	}

	for _, p := range s.patterns {
		candidate := normKey
		if p.matchBasename {
			candidate = normBase
		}
		switch p.matchType {
		case prefixMatch:
			if !strings.HasPrefix(candidate, p.clean) {
				continue
			}
			if p.dirPrefix {
				if candidate != p.clean && !strings.HasPrefix(candidate, p.clean+"/") {
					continue
				}
			}
			return true
		case suffixMatch:
			if strings.HasSuffix(candidate, p.clean) {
				return true
			}
		case globMatch:
			matched, err := filepath.Match(p.clean, candidate)
			if err != nil {
				plog.Warn("invalid exclusion pattern", "pattern", p.clean, "error", err)
				continue
			}
			if matched {
				return true
			}
		}
	}
	return false
}

// normalize lower-cases and forward-slashes a path or pattern so matching
// is consistent across platforms and case-insensitive like the rest of
// DiskSyncPro's exclude handling.
func normalize(p string) string {
	return strings.ToLower(filepath.ToSlash(p))
}
