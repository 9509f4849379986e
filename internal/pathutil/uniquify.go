// Package pathutil holds small filesystem path helpers shared by the host and
// the dispatcher.
package pathutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ExistsFunc reports whether a path is taken.
type ExistsFunc func(path string) bool

// Exists reports whether anything (file, dir or dangling symlink) lives at path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Uniquify returns path unchanged when nothing exists there. Otherwise it inserts
// " (n)" before the extension, counting from 1, until it finds an unused name.
// Concurrent writers into one directory must coordinate externally.
func Uniquify(path string) string {
	return UniquifyWith(Exists, path)
}

// UniquifyWith is Uniquify against an arbitrary existence check.
func UniquifyWith(exists ExistsFunc, path string) string {
	if !exists(path) {
		return path
	}

	stem, ext := SplitExt(path)
	for counter := 1; ; counter++ {
		candidate := stem + " (" + strconv.Itoa(counter) + ")" + ext
		if !exists(candidate) {
			return candidate
		}
	}
}

// SplitExt splits path into stem and extension. Leading dots of the base name
// are not treated as an extension, so ".env" has no extension.
func SplitExt(path string) (string, string) {
	base := filepath.Base(path)
	trimmed := strings.TrimLeft(base, ".")
	ext := filepath.Ext(trimmed)
	if ext == "" {
		return path, ""
	}
	return path[:len(path)-len(ext)], ext
}
