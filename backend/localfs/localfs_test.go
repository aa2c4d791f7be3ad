package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fsys, err := New(dir, Options{})
	require.NoError(t, err)
	return fsys
}

func TestOpenFileCreatesAndWrites(t *testing.T) {
	fsys := newTestFS(t)
	h, err := fsys.OpenFile(context.Background(), "/a.txt", vfs.Flag{Writable: true, CreateIfMissing: true, Truncate: true}, 0o644, backend.Owner{})
	require.NoError(t, err)
	_, err = h.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	st, err := fsys.Stat(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(5), st.Size)
}

func TestOpenFileExclusiveFailsIfExists(t *testing.T) {
	fsys := newTestFS(t)
	mk := func() error {
		h, err := fsys.OpenFile(context.Background(), "/a.txt", vfs.Flag{Writable: true, CreateIfMissing: true, Exclusive: true}, 0o644, backend.Owner{})
		if err != nil {
			return err
		}
		return h.Close()
	}
	require.NoError(t, mk())
	err := mk()
	require.Error(t, err)
	require.True(t, vfs.IsExist(err))
}

func TestMkdirAndReaddir(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{}))

	h, err := fsys.OpenFile(context.Background(), "/dir/f.txt", vfs.Flag{Writable: true, CreateIfMissing: true}, 0o644, backend.Owner{})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, names, err := fsys.Readdir(context.Background(), "/dir")
	require.NoError(t, err)
	require.Equal(t, []string{"f.txt"}, names)
}

func TestRenameAndUnlink(t *testing.T) {
	fsys := newTestFS(t)
	h, err := fsys.OpenFile(context.Background(), "/a.txt", vfs.Flag{Writable: true, CreateIfMissing: true}, 0o644, backend.Owner{})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, fsys.Rename(context.Background(), "/a.txt", "/b.txt"))
	_, err = fsys.Stat(context.Background(), "/a.txt")
	require.True(t, vfs.IsNotExist(err))

	require.NoError(t, fsys.Unlink(context.Background(), "/b.txt"))
	_, err = fsys.Stat(context.Background(), "/b.txt")
	require.True(t, vfs.IsNotExist(err))
}

func TestSymlinkAndReadlink(t *testing.T) {
	fsys := newTestFS(t)
	h, err := fsys.OpenFile(context.Background(), "/target.txt", vfs.Flag{Writable: true, CreateIfMissing: true}, 0o644, backend.Owner{})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, fsys.Symlink(context.Background(), "target.txt", "/link.txt"))
	target, err := fsys.Readlink(context.Background(), "/link.txt")
	require.NoError(t, err)
	require.Equal(t, "target.txt", target)
}

func TestEscapeAttemptStaysSandboxed(t *testing.T) {
	dir := t.TempDir()
	fsys, err := New(dir, Options{})
	require.NoError(t, err)

	// Writing through a path that would escape dir via ".." must
	// either fail or resolve within dir; it must never touch the
	// parent of dir on the real filesystem.
	_, err = fsys.OpenFile(context.Background(), "/../escape.txt", vfs.Flag{Writable: true, CreateIfMissing: true}, 0o644, backend.Owner{})
	if err == nil {
		_, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt"))
		require.True(t, os.IsNotExist(statErr), "escape.txt must not exist outside the sandboxed root")
	}
}

func TestVirtualizeUidGidReportsZero(t *testing.T) {
	dir := t.TempDir()
	fsys, err := New(dir, Options{VirtualizeUidGid: true})
	require.NoError(t, err)

	h, err := fsys.OpenFile(context.Background(), "/a.txt", vfs.Flag{Writable: true, CreateIfMissing: true}, 0o644, backend.Owner{})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	st, err := fsys.Stat(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.Equal(t, uint32(0), st.Uid)
	require.Equal(t, uint32(0), st.Gid)
}
