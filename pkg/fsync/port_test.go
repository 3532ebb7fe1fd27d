package fsync

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFsync_Success(t *testing.T) {
	tmp := t.TempDir()
	fpath := filepath.Join(tmp, "testfile.txt")

	err := os.WriteFile(fpath, []byte("data"), 0o600)
	require.NoError(t, err)

	f, err := os.OpenFile(fpath, os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, Fsync(f))
}

func TestFsyncDir_Success(t *testing.T) {
	tmp := t.TempDir()
	err := FsyncDir(tmp)
	require.NoError(t, err)
}

func TestFsyncDir_DirNotExist(t *testing.T) {
	if runtime.GOOS == "windows" {
		return
	}
	err := FsyncDir("/nonexistent/dir")
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot open dir")
}
