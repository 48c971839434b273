package sync

import (
	"os"

	"github.com/gobwas/glob"

	"github.com/lesync/lesync/pkg/errors"
)

// DefaultInclude matches everything: all directories (via the trailing
// separator) and all files.
var DefaultInclude = []string{"*/", "*"}

// Filter decides which source paths take part in the sync. A path is kept
// when it matches at least one include pattern and no exclude pattern.
// Directories are matched with a trailing separator so that patterns like
// "*/" or "build/" can target them specifically.
type Filter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewFilter compiles the include and exclude pattern lists. An empty
// include list keeps nothing, so callers usually pass DefaultInclude.
func NewFilter(include, exclude []string) (*Filter, error) {
	compiledInclude, err := compilePatterns(include)
	if err != nil {
		return nil, err
	}
	compiledExclude, err := compilePatterns(exclude)
	if err != nil {
		return nil, err
	}
	return &Filter{include: compiledInclude, exclude: compiledExclude}, nil
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.NewConfigError("bad pattern %q: %s", pattern, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// Match reports whether the path should be synced. Skipping a directory
// skips its entire subtree: the walk never descends into it.
func (f *Filter) Match(path string, isDir bool) bool {
	if isDir {
		path += string(os.PathSeparator)
	}

	return matchAny(f.include, path) && !matchAny(f.exclude, path)
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
