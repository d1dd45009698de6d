// Package watcher implements the dynamic service registry: directory
// watching with debounced reload, include/exclude path filtering, service
// file parsing, and reconciliation of discovered services into the live
// service table.
package watcher

import (
	"regexp"
	"strings"

	"github.com/JohnPreston/credproxy/internal/log"
)

// Filter applies a directory's include/exclude patterns to file paths.
// Patterns match from the start of the forward-slash normalized path;
// exclusion always wins over inclusion, and an empty include list means
// "include everything not excluded".
type Filter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewFilter compiles the pattern lists. An invalid pattern is logged and
// skipped so one bad pattern cannot disable a whole directory.
func NewFilter(includePatterns, excludePatterns []string) *Filter {
	return &Filter{
		include: compilePatterns(includePatterns, "include"),
		exclude: compilePatterns(excludePatterns, "exclude"),
	}
}

// Match reports whether path should be processed.
func (f *Filter) Match(path string) bool {
	normalized := NormalizePath(path)

	for _, re := range f.exclude {
		if re.MatchString(normalized) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, re := range f.include {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// NormalizePath converts path separators to forward slashes for pattern
// matching.
func NormalizePath(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

func compilePatterns(patterns []string, kind string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		// Anchor at the start: patterns are prefix matches, not substring
		// searches.
		re, err := regexp.Compile(`\A(?:` + pattern + `)`)
		if err != nil {
			log.Warn("invalid pattern skipped", "kind", kind, "pattern", pattern, "error", err)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}
