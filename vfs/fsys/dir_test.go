package fsys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/vfs"
)

func TestStatfsReturnsSyntheticReportForMemfs(t *testing.T) {
	fsys := newTestFS(t)
	st, err := fsys.Statfs(context.Background(), "/")
	require.NoError(t, err)
	require.Equal(t, int64(4096), st.Bsize)
	require.Greater(t, st.Bfree, int64(0))
}

func TestMkdtempCreatesUniqueDirectory(t *testing.T) {
	fsys := newTestFS(t)
	ctx := context.Background()
	require.NoError(t, fsys.Mkdir(ctx, "/tmp", 0o755, false))

	name1, err := fsys.Mkdtemp(ctx, "/tmp", "build-")
	require.NoError(t, err)
	name2, err := fsys.Mkdtemp(ctx, "/tmp", "build-")
	require.NoError(t, err)
	require.NotEqual(t, name1, name2)

	st, err := fsys.Stat(ctx, name1)
	require.NoError(t, err)
	require.True(t, st.Mode.IsDir())
}

func TestCopyFileDuplicatesContent(t *testing.T) {
	fsys := newTestFS(t)
	ctx := context.Background()
	require.NoError(t, fsys.WriteFile(ctx, "/src.txt", []byte("payload"), "", 0o644))

	require.NoError(t, fsys.CopyFile(ctx, "/src.txt", "/dst.txt", false))

	got, err := fsys.ReadFile(ctx, "/dst.txt", "")
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestCopyFileExclusiveFailsWhenDestinationExists(t *testing.T) {
	fsys := newTestFS(t)
	ctx := context.Background()
	require.NoError(t, fsys.WriteFile(ctx, "/src.txt", []byte("a"), "", 0o644))
	require.NoError(t, fsys.WriteFile(ctx, "/dst.txt", []byte("b"), "", 0o644))

	err := fsys.CopyFile(ctx, "/src.txt", "/dst.txt", true)
	require.Error(t, err)
	require.ErrorIs(t, err, vfs.ErrExist)

	got, err := fsys.ReadFile(ctx, "/dst.txt", "")
	require.NoError(t, err)
	require.Equal(t, "b", string(got))
}

func TestOpendirIteratesEntries(t *testing.T) {
	fsys := newTestFS(t)
	ctx := context.Background()
	require.NoError(t, fsys.WriteFile(ctx, "/a.txt", []byte("x"), "", 0o644))
	require.NoError(t, fsys.WriteFile(ctx, "/b.txt", []byte("y"), "", 0o644))

	d, err := fsys.Opendir(ctx, "/")
	require.NoError(t, err)
	defer d.Close()

	var names []string
	for {
		name, _, ok := d.Next()
		if !ok {
			break
		}
		names = append(names, name)
	}
	require.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)

	_, _, ok := d.Next()
	require.False(t, ok)
}

func TestGlobMatchesWildcardPattern(t *testing.T) {
	fsys := newTestFS(t)
	ctx := context.Background()
	require.NoError(t, fsys.Mkdir(ctx, "/dir", 0o755, false))
	require.NoError(t, fsys.WriteFile(ctx, "/dir/one.txt", []byte("1"), "", 0o644))
	require.NoError(t, fsys.WriteFile(ctx, "/dir/two.txt", []byte("2"), "", 0o644))
	require.NoError(t, fsys.WriteFile(ctx, "/dir/three.md", []byte("3"), "", 0o644))

	matches, err := fsys.Glob(ctx, "/dir/*.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"/dir/one.txt", "/dir/two.txt"}, matches)
}

func TestGlobWithoutMetaCharactersBehavesLikeLstat(t *testing.T) {
	fsys := newTestFS(t)
	ctx := context.Background()
	require.NoError(t, fsys.WriteFile(ctx, "/a.txt", []byte("x"), "", 0o644))

	matches, err := fsys.Glob(ctx, "/a.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"/a.txt"}, matches)

	matches, err = fsys.Glob(ctx, "/missing.txt")
	require.NoError(t, err)
	require.Nil(t, matches)
}
