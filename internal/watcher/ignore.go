package watcher

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// matchesIgnore reports whether path matches any of the configured ignore
// patterns. Patterns are tried against the slash-form absolute path and
// against the base name, so both "**/node_modules/**" and "*.tmp" behave the
// way users expect. Malformed patterns never match.
func matchesIgnore(patterns []string, path string) bool {
	if len(patterns) == 0 {
		return false
	}
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, slashed); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pat, base); err == nil && ok {
			return true
		}
	}
	return false
}
