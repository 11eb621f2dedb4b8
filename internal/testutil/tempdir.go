// Package testutil provides small helpers shared across this
// repository's test suites.
package testutil

import (
	"os"
	"testing"
)

// TempDir creates a fresh temporary directory for a test's data
// directory, removed automatically when the test finishes.
func TempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "lsmkv-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}
