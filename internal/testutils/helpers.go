package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"
	"github.com/stretchr/testify/require"
)

// SetupTopology initializes a Loam repository in a temporary directory and
// seeds it with files (name -> content). It returns the absolute path and
// the repository, failing the test immediately on error.
func SetupTopology(t *testing.T, files map[string]string, opts ...loam.Option) (string, core.Repository) {
	t.Helper()

	dir, err := filepath.Abs(t.TempDir())
	require.NoError(t, err, "failed to resolve temp dir")

	repo, err := loam.Init(dir, opts...)
	require.NoError(t, err, "failed to init loam repo")

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "failed to write %s", name)
	}

	return dir, repo
}
