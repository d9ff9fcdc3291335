// Package libclient drives the libtiktoken shared library through its C ABI
// without cgo, loading it at runtime with purego.
package libclient

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotFound is returned when no candidate directory holds the library.
var ErrNotFound = errors.New("libtiktoken shared library not found")

// ErrUnsupported is returned on platforms purego cannot load libraries on.
var ErrUnsupported = errors.New("shared library backend is not supported on " + runtime.GOOS)

// LibraryName is the platform file name of the shared library.
func LibraryName() string {
	if runtime.GOOS == "darwin" {
		return "libtiktoken.dylib"
	}
	return "libtiktoken.so"
}

// SearchPaths lists the directories (or files) tried for the library:
// explicit first, then TIKTOKEN_LIB_PATH, then LD_LIBRARY_PATH entries.
func SearchPaths(explicit string) []string {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	for _, env := range []string{"TIKTOKEN_LIB_PATH", "LD_LIBRARY_PATH"} {
		for _, p := range filepath.SplitList(os.Getenv(env)) {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
	}
	return paths
}

// Find resolves the library file. A candidate that names a regular file is
// used as is; a directory is joined with LibraryName.
func Find(explicit string) (string, error) {
	name := LibraryName()
	paths := SearchPaths(explicit)
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if !fi.IsDir() {
			return p, nil
		}

		candidate := filepath.Join(p, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s not in %v", ErrNotFound, name, paths)
}

// Error carries the message a library call left in its error cell.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("libtiktoken %s: %s", e.Op, e.Message)
}
