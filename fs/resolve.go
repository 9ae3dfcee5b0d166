package fs

import (
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// ErrOutsideBase means a pattern matched a file that is not below the base
// its destination paths are computed from.
var ErrOutsideBase = errors.New("match is outside its base")

// Match is one resolved file. Rel is Path relative to the base it was
// resolved against and is what destinations mirror.
type Match struct {
	Path string
	Rel  string
}

// Resolve expands patterns in the order given. Matches of a single pattern
// are sorted lexically; a path matched by an earlier pattern is not repeated.
// A pattern with no matches contributes nothing.
//
// When base is empty each pattern uses its own static prefix as base, so
// "app/sass/**/*.sass" yields rel paths below app/sass.
func Resolve(fsys FileSystem, patterns []string, base string) ([]Match, error) {
	seen := make(map[string]bool)
	var out []Match

	for _, pattern := range patterns {
		matches, err := fsys.DoublestarGlob(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "error expanding glob pattern %s", pattern)
		}
		sort.Strings(matches)

		root := base
		if root == "" {
			root = PatternBase(pattern)
		}

		for _, match := range matches {
			if seen[match] {
				continue
			}
			seen[match] = true

			rel, err := filepath.Rel(root, match)
			if err != nil {
				return nil, errors.Wrapf(err, "computing path of %s relative to %s", match, root)
			}
			if !filepath.IsLocal(rel) {
				return nil, errors.Wrapf(ErrOutsideBase, "%s is not below %s", match, root)
			}
			out = append(out, Match{Path: match, Rel: filepath.ToSlash(rel)})
		}
	}

	return out, nil
}

// PatternBase returns the directory part of pattern before its first meta
// character, or "." when there is none.
func PatternBase(pattern string) string {
	base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
	if base == "" {
		return "."
	}
	return filepath.FromSlash(base)
}
