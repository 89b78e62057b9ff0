package parser

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsMarkdown reports whether path has a .md extension, in any case.
func IsMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

// IsImage reports whether path is an image shown in the file tree.
func IsImage(path string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsHidden reports whether a file or directory name is dot-prefixed.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// HasHiddenComponent reports whether any element of rel is dot-prefixed.
func HasHiddenComponent(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part != "." && part != ".." && IsHidden(part) {
			return true
		}
	}
	return false
}

// WithinDir reports whether path equals dir or lies beneath it, comparing
// whole path components.
func WithinDir(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
}

// Ignored reports whether the vault-relative path rel matches any of the
// doublestar patterns.
func Ignored(patterns []string, rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// ValidatePattern reports whether p is a well-formed doublestar pattern.
func ValidatePattern(p string) bool {
	return doublestar.ValidatePattern(p)
}
