package memfs

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

func writeFile(t *testing.T, fsys *FS, name, content string) {
	t.Helper()
	h, err := fsys.OpenFile(context.Background(), name, vfs.Flag{Writable: true, CreateIfMissing: true, Truncate: true}, 0o644, backend.Owner{})
	require.NoError(t, err)
	_, err = h.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func readFile(t *testing.T, fsys *FS, name string) string {
	t.Helper()
	h, err := fsys.OpenFile(context.Background(), name, vfs.Flag{Readable: true}, 0, backend.Owner{})
	require.NoError(t, err)
	defer h.Close()
	data, err := io.ReadAll(h)
	require.NoError(t, err)
	return string(data)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	fsys := New()
	writeFile(t, fsys, "/a.txt", "hello")
	require.Equal(t, "hello", readFile(t, fsys, "/a.txt"))
}

func TestStatReflectsSize(t *testing.T) {
	fsys := New()
	writeFile(t, fsys, "/a.txt", "hello world")
	st, err := fsys.Stat(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(len("hello world")), st.Size)
	require.False(t, st.Mode.IsDir())
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	fsys := New()
	_, err := fsys.OpenFile(context.Background(), "/missing.txt", vfs.Flag{Readable: true}, 0, backend.Owner{})
	require.Error(t, err)
	require.True(t, vfs.IsNotExist(err))
}

func TestMkdirAndReaddir(t *testing.T) {
	fsys := New()
	require.NoError(t, fsys.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{}))
	writeFile(t, fsys, "/dir/one.txt", "1")
	writeFile(t, fsys, "/dir/two.txt", "2")

	stats, names, err := fsys.Readdir(context.Background(), "/dir")
	require.NoError(t, err)
	require.Equal(t, []string{"one.txt", "two.txt"}, names)
	require.Len(t, stats, 2)
}

func TestMkdirExistingFails(t *testing.T) {
	fsys := New()
	require.NoError(t, fsys.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{}))
	err := fsys.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{})
	require.Error(t, err)
	require.True(t, vfs.IsExist(err))
}

func TestRenameMovesEntry(t *testing.T) {
	fsys := New()
	writeFile(t, fsys, "/a.txt", "x")
	require.NoError(t, fsys.Rename(context.Background(), "/a.txt", "/b.txt"))

	_, err := fsys.Stat(context.Background(), "/a.txt")
	require.True(t, vfs.IsNotExist(err))
	require.Equal(t, "x", readFile(t, fsys, "/b.txt"))
}

func TestUnlinkOnDirectoryFails(t *testing.T) {
	fsys := New()
	require.NoError(t, fsys.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{}))
	err := fsys.Unlink(context.Background(), "/dir")
	require.Error(t, err)
	require.ErrorIs(t, err, vfs.ErrIsDir)
}

func TestRmdirRequiresEmpty(t *testing.T) {
	fsys := New()
	require.NoError(t, fsys.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{}))
	writeFile(t, fsys, "/dir/f.txt", "x")

	err := fsys.Rmdir(context.Background(), "/dir")
	require.Error(t, err)
	require.ErrorIs(t, err, vfs.ErrNotEmpty)

	require.NoError(t, fsys.Unlink(context.Background(), "/dir/f.txt"))
	require.NoError(t, fsys.Rmdir(context.Background(), "/dir"))
}

func TestSymlinkAndReadlink(t *testing.T) {
	fsys := New()
	writeFile(t, fsys, "/target.txt", "x")
	require.NoError(t, fsys.Symlink(context.Background(), "/target.txt", "/link.txt"))

	target, err := fsys.Readlink(context.Background(), "/link.txt")
	require.NoError(t, err)
	require.Equal(t, "/target.txt", target)
}

func TestReadlinkOnNonSymlinkFails(t *testing.T) {
	fsys := New()
	writeFile(t, fsys, "/a.txt", "x")
	_, err := fsys.Readlink(context.Background(), "/a.txt")
	require.Error(t, err)
	require.ErrorIs(t, err, vfs.ErrInvalid)
}

func TestTruncateGrowsAndShrinks(t *testing.T) {
	fsys := New()
	writeFile(t, fsys, "/a.txt", "hello")
	h, err := fsys.OpenFile(context.Background(), "/a.txt", vfs.Flag{Writable: true}, 0, backend.Owner{})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Truncate(context.Background(), 2))
	require.Equal(t, "he", readFile(t, fsys, "/a.txt"))

	require.NoError(t, h.Truncate(context.Background(), 4))
	st, err := fsys.Stat(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(4), st.Size)
}
