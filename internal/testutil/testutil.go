// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    path := testutil.RequireSharedLibrary(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-tiktoken/internal/libclient"
)

// RequireSharedLibrary skips the test unless libtiktoken can be located via
// TIKTOKEN_LIB_PATH or LD_LIBRARY_PATH, and returns its path.
func RequireSharedLibrary(tb testing.TB) string {
	tb.Helper()

	path, err := libclient.Find("")
	if err != nil {
		tb.Skipf("libtiktoken not available (%v); build it with go build -buildmode=c-shared and set TIKTOKEN_LIB_PATH", err)
		return ""
	}
	return path
}

// RequireParity skips the test unless TIKTOKEN_PARITY=1. Parity runs download
// the published vocabularies.
func RequireParity(tb testing.TB) {
	tb.Helper()

	if os.Getenv("TIKTOKEN_PARITY") != "1" {
		tb.Skipf("parity run disabled (TIKTOKEN_PARITY=%q); set TIKTOKEN_PARITY=1 to compare against tiktoken-go", os.Getenv("TIKTOKEN_PARITY"))
	}
}

// RequireFile skips the test if path does not exist and returns it cleaned.
func RequireFile(tb testing.TB, path string) string {
	tb.Helper()

	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		tb.Skipf("fixture %q not available: %v", path, err)
	}
	return path
}
