package mount

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

type stubBackend struct {
	backend.Backend
	name string
}

func TestResolveLongestPrefix(t *testing.T) {
	tbl := New()
	root := stubBackend{name: "root"}
	data := stubBackend{name: "data"}
	nested := stubBackend{name: "nested"}

	require.NoError(t, tbl.Mount("/", root))
	require.NoError(t, tbl.Mount("/data", data))
	require.NoError(t, tbl.Mount("/data/nested", nested))

	b, local, point, err := tbl.Resolve("/data/nested/file.txt")
	require.NoError(t, err)
	require.Equal(t, nested, b)
	require.Equal(t, "/file.txt", local)
	require.Equal(t, "/data/nested", point)

	b, local, point, err = tbl.Resolve("/data/other.txt")
	require.NoError(t, err)
	require.Equal(t, data, b)
	require.Equal(t, "/other.txt", local)
	require.Equal(t, "/data", point)

	b, local, point, err = tbl.Resolve("/unrelated")
	require.NoError(t, err)
	require.Equal(t, root, b)
	require.Equal(t, "/unrelated", local)
	require.Equal(t, "/", point)
}

func TestResolveExactMountPoint(t *testing.T) {
	tbl := New()
	data := stubBackend{name: "data"}
	require.NoError(t, tbl.Mount("/data", data))

	b, local, _, err := tbl.Resolve("/data")
	require.NoError(t, err)
	require.Equal(t, data, b)
	require.Equal(t, "/", local)
}

func TestResolveNoRootMounted(t *testing.T) {
	tbl := New()
	_, _, _, err := tbl.Resolve("/anything")
	require.Error(t, err)
	require.True(t, vfs.IsNotExist(err))
}

func TestMountRejectsDuplicate(t *testing.T) {
	tbl := New()
	a := stubBackend{name: "a"}
	b := stubBackend{name: "b"}
	require.NoError(t, tbl.Mount("/x", a))

	err := tbl.Mount("/x", b)
	require.Error(t, err)
	require.True(t, vfs.IsExist(err))
	require.Len(t, tbl.Mounts(), 1)

	got, _, _, resolveErr := tbl.Resolve("/x")
	require.NoError(t, resolveErr)
	require.Equal(t, a, got)
}

func TestUmount(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Mount("/x", stubBackend{name: "x"}))
	require.NoError(t, tbl.Umount("/x"))
	require.Empty(t, tbl.Mounts())

	err := tbl.Umount("/x")
	require.Error(t, err)
	require.True(t, vfs.IsNotExist(err))
}

func TestChildMounts(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Mount("/", stubBackend{name: "root"}))
	require.NoError(t, tbl.Mount("/mnt/a", stubBackend{name: "a"}))
	require.NoError(t, tbl.Mount("/mnt/b", stubBackend{name: "b"}))
	require.NoError(t, tbl.Mount("/mnt/a/deep", stubBackend{name: "deep"}))

	children := tbl.ChildMounts("/mnt")
	require.ElementsMatch(t, []string{"a", "b"}, children)
}
