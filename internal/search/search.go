// Package search implements §4.D's library search order: direct path,
// LD_LIBRARY_PATH, the requesting object's DT_RUNPATH, then the default
// system directories.
package search

import (
	"strings"

	"github.com/xyproto/rtld/internal/sysraw"
)

// Candidates returns every path worth trying to open for name, in the
// order §4.D specifies. The caller (loader) tries each until one opens
// successfully.
func Candidates(name string, libraryPath []string, runpath []string, defaultDirs []string) []string {
	if strings.ContainsRune(name, '/') {
		return []string{name}
	}

	var out []string
	for _, dir := range libraryPath {
		out = append(out, joinPath(dir, name))
	}
	for _, dir := range runpath {
		out = append(out, joinPath(dir, name))
	}
	for _, dir := range defaultDirs {
		out = append(out, joinPath(dir, name))
	}
	return out
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// Open tries every candidate path in order, returning the fd and the path
// that actually opened (§4.D step 2: "Open the file (try each candidate
// path in order)").
func Open(candidates []string) (fd int, path string, err error) {
	var lastErr error
	for _, c := range candidates {
		fd, err = sysraw.Open(c)
		if err == nil {
			return fd, c, nil
		}
		lastErr = err
	}
	return -1, "", lastErr
}
