package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// SetupDefinitionDir creates a temporary directory holding files, keyed by
// file name. It returns the absolute path to the directory and fails the
// test immediately on error.
func SetupDefinitionDir(t *testing.T, files map[string]string) string {
	t.Helper()

	// Definition ids and stored paths are easier to compare when absolute.
	dir, err := filepath.Abs(t.TempDir())
	require.NoError(t, err, "Failed to get absolute path for temp dir")

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644), "Failed to write %s", name)
	}
	return dir
}
