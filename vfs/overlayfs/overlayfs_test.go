package overlayfs

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/backend/memfs"
	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

func writeTo(t *testing.T, b backend.Backend, name, content string) {
	t.Helper()
	h, err := b.OpenFile(context.Background(), name, vfs.Flag{Writable: true, CreateIfMissing: true, Truncate: true}, 0o644, backend.Owner{})
	require.NoError(t, err)
	_, err = h.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func readFrom(t *testing.T, b backend.Backend, name string) string {
	t.Helper()
	h, err := b.OpenFile(context.Background(), name, vfs.Flag{Readable: true}, 0, backend.Owner{})
	require.NoError(t, err)
	defer h.Close()
	data, err := io.ReadAll(h)
	require.NoError(t, err)
	return string(data)
}

func newOverlay(t *testing.T) (*FS, *memfs.FS, *memfs.FS) {
	t.Helper()
	upper := memfs.New()
	lower := memfs.New()
	fsys, err := New(upper, lower, Options{})
	require.NoError(t, err)
	return fsys, upper, lower
}

func TestReadFallsThroughToLower(t *testing.T) {
	fsys, _, lower := newOverlay(t)
	writeTo(t, lower, "/a.txt", "from lower")
	require.Equal(t, "from lower", readFrom(t, fsys, "/a.txt"))
}

func TestWriteTriggersCopyUp(t *testing.T) {
	fsys, upper, lower := newOverlay(t)
	writeTo(t, lower, "/a.txt", "original")

	h, err := fsys.OpenFile(context.Background(), "/a.txt", vfs.Flag{Writable: true}, 0, backend.Owner{})
	require.NoError(t, err)
	_, err = h.Write([]byte("changed"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	// lower is untouched; upper now has the copied-up file, whose first
	// 7 bytes the non-truncating write overwrote ("original" ->
	// "changedl").
	require.Equal(t, "original", readFrom(t, lower, "/a.txt"))
	require.Equal(t, "changedl", readFrom(t, upper, "/a.txt"))
	require.Equal(t, "changedl", readFrom(t, fsys, "/a.txt"))
}

func TestUnlinkOfLowerOnlyFileMarksDeleted(t *testing.T) {
	fsys, _, lower := newOverlay(t)
	writeTo(t, lower, "/a.txt", "x")

	require.NoError(t, fsys.Unlink(context.Background(), "/a.txt"))

	_, err := fsys.Stat(context.Background(), "/a.txt")
	require.True(t, vfs.IsNotExist(err))

	// Lower layer still physically has it; the overlay hides it via
	// the deletion log rather than mutating the read-only lower.
	_, err = lower.Stat(context.Background(), "/a.txt")
	require.NoError(t, err)
}

func TestDeletionSurvivesReconstruction(t *testing.T) {
	upper := memfs.New()
	lower := memfs.New()
	writeTo(t, lower, "/a.txt", "x")

	fsys1, err := New(upper, lower, Options{})
	require.NoError(t, err)
	require.NoError(t, fsys1.Unlink(context.Background(), "/a.txt"))

	fsys2, err := New(upper, lower, Options{})
	require.NoError(t, err)
	_, err = fsys2.Stat(context.Background(), "/a.txt")
	require.True(t, vfs.IsNotExist(err))
}

func TestRecreatingDeletedPathUnmarksIt(t *testing.T) {
	fsys, _, lower := newOverlay(t)
	writeTo(t, lower, "/a.txt", "x")
	require.NoError(t, fsys.Unlink(context.Background(), "/a.txt"))

	h, err := fsys.OpenFile(context.Background(), "/a.txt", vfs.Flag{Writable: true, CreateIfMissing: true, Truncate: true}, 0o644, backend.Owner{})
	require.NoError(t, err)
	_, err = h.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.Equal(t, "new", readFrom(t, fsys, "/a.txt"))
}

func TestReaddirMergesLayersAndHidesDeleted(t *testing.T) {
	fsys, upper, lower := newOverlay(t)
	require.NoError(t, lower.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{}))
	writeTo(t, lower, "/dir/a.txt", "a")
	writeTo(t, lower, "/dir/b.txt", "b")
	require.NoError(t, upper.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{}))
	writeTo(t, upper, "/dir/c.txt", "c")

	require.NoError(t, fsys.Unlink(context.Background(), "/dir/b.txt"))

	_, names, err := fsys.Readdir(context.Background(), "/dir")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "c.txt"}, names)
}

func TestRmdirFailsIfNotEmpty(t *testing.T) {
	fsys, _, lower := newOverlay(t)
	require.NoError(t, lower.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{}))
	writeTo(t, lower, "/dir/a.txt", "a")

	err := fsys.Rmdir(context.Background(), "/dir")
	require.Error(t, err)
	require.ErrorIs(t, err, vfs.ErrNotEmpty)
}

func TestMkdirUnderLowerOnlyParentCopiesUpParentChain(t *testing.T) {
	fsys, upper, lower := newOverlay(t)
	require.NoError(t, lower.Mkdir(context.Background(), "/dir", 0o750, backend.Owner{}))

	require.NoError(t, fsys.Mkdir(context.Background(), "/dir/sub", 0o755, backend.Owner{}))

	// The parent didn't exist on upper; mkdir must have created it
	// there (copying its mode from the merged view, which ORs 0o222
	// onto a lower-only node: 0o750|0o222) before creating the child,
	// rather than failing with ENOENT against upper.
	parentSt, err := upper.Stat(context.Background(), "/dir")
	require.NoError(t, err)
	require.Equal(t, vfs.FileMode(0o772), parentSt.Mode.Perm())

	_, err = upper.Stat(context.Background(), "/dir/sub")
	require.NoError(t, err)
}

func TestRenameCopiesUpFromLower(t *testing.T) {
	fsys, upper, lower := newOverlay(t)
	writeTo(t, lower, "/old.txt", "x")

	require.NoError(t, fsys.Rename(context.Background(), "/old.txt", "/new.txt"))

	_, err := fsys.Stat(context.Background(), "/old.txt")
	require.True(t, vfs.IsNotExist(err))
	require.Equal(t, "x", readFrom(t, upper, "/new.txt"))
	require.Equal(t, "x", readFrom(t, lower, "/old.txt"))
}
