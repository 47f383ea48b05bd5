package staging

import (
	"path"
)

// matches reports whether the given slash-separated relative path passes the
// include/exclude glob filters of an entry. Exclude takes precedence over
// include on overlapping matches. An empty include list admits everything.
func matches(rel string, include, exclude []string) bool {
	for _, pattern := range exclude {
		if matchPattern(pattern, rel) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if matchPattern(pattern, rel) {
			return true
		}
	}
	return false
}

// matchPattern matches against the full relative path and, like fnmatch-based
// document filters, against the basename.
func matchPattern(pattern, rel string) bool {
	if ok, err := path.Match(pattern, rel); err == nil && ok {
		return true
	}
	ok, err := path.Match(pattern, path.Base(rel))
	return err == nil && ok
}
