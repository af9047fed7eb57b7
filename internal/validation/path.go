// Package validation normalizes and validates logical paths.
//
// A logical path is POSIX-style, relative to the managed root: forward
// slashes, no leading slash, no "." or ".." components. Every path that
// crosses an API or store boundary goes through this package first.
package validation

import (
	"path"
	"strings"

	"github.com/lodekb/lodestone/internal/errors"
)

// ignoredDirs are path components suppressed everywhere: the observer,
// the scanner, and the upload surface.
var ignoredDirs = map[string]struct{}{
	".git":         {},
	".venv":        {},
	".lodestone":   {},
	"node_modules": {},
	"__pycache__":  {},
	".DS_Store":    {},
	"Thumbs.db":    {},
	"desktop.ini":  {},
}

// NormalizePath cleans a client-supplied path into logical form.
// Returns KindInvalidPath for anything that would escape the root.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return "", nil
	}
	if strings.ContainsRune(p, '\x00') {
		return "", errors.New(errors.KindInvalidPath, "path contains NUL byte")
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.Newf(errors.KindInvalidPath, "path escapes managed root: %q", p)
	}
	if path.IsAbs(cleaned) {
		return "", errors.Newf(errors.KindInvalidPath, "path must be relative: %q", p)
	}
	return cleaned, nil
}

// IsIgnored reports whether any component of the logical path is a
// dotted name or a member of the ignore set.
func IsIgnored(logical string) bool {
	if logical == "" {
		return false
	}
	for _, part := range strings.Split(logical, "/") {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, ".") {
			return true
		}
		if _, ok := ignoredDirs[part]; ok {
			return true
		}
	}
	return false
}

// FolderOf returns the logical folder containing a logical file path.
// The root folder is the empty string.
func FolderOf(logical string) string {
	dir := path.Dir(logical)
	if dir == "." {
		return ""
	}
	return dir
}

// BaseName returns the final component of a logical path.
func BaseName(logical string) string {
	return path.Base(logical)
}

// IsWithin reports whether logical equals prefix or lies under it.
// An empty prefix matches everything.
func IsWithin(logical, prefix string) bool {
	if prefix == "" {
		return true
	}
	return logical == prefix || strings.HasPrefix(logical, prefix+"/")
}

// TopLevel returns the first path component when the path sits inside
// a folder, or "" for root-level paths.
func TopLevel(logical string) string {
	if i := strings.Index(logical, "/"); i > 0 {
		return logical[:i]
	}
	return ""
}

// Ancestors yields every proper ancestor folder of a logical path,
// nearest first, excluding the root.
func Ancestors(logical string) []string {
	var out []string
	for dir := FolderOf(logical); dir != ""; dir = FolderOf(dir) {
		out = append(out, dir)
	}
	return out
}
