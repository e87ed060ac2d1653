package socketpath_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nextpyp/procbridge/lib/socketpath"
	"github.com/stretchr/testify/require"
)

func TestHostAndUserNaming(t *testing.T) {
	require.Equal(t, "/tmp/host-processor-42", socketpath.Host("/tmp", 42))
	require.Equal(t, "/tmp/user-processor-42-alice", socketpath.User("/tmp", 42, "alice"))
}

func TestSecureAndCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	require.NoError(t, socketpath.Secure(path, 0o770))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o770), info.Mode().Perm())

	require.NoError(t, socketpath.Cleanup(path))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// cleanup of an already-gone file is not an error
	require.NoError(t, socketpath.Cleanup(path))
}
