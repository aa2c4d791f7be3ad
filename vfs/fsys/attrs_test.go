package fsys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/backend/memfs"
	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
	"corefs.dev/corefs/vfs/vfsutil"
)

// xattrBackend wraps memfs.FS with an in-memory xattr store, standing
// in for a backend.Xattrer-capable backend without needing a real one
// wired up yet.
type xattrBackend struct {
	*memfs.FS
	attrs map[string]map[string][]byte
}

func newXattrBackend() *xattrBackend {
	return &xattrBackend{FS: memfs.New(), attrs: map[string]map[string][]byte{}}
}

func (x *xattrBackend) SetXattr(ctx context.Context, name, attr string, value []byte) error {
	m, ok := x.attrs[name]
	if !ok {
		m = map[string][]byte{}
		x.attrs[name] = m
	}
	m[attr] = value
	return nil
}

func (x *xattrBackend) GetXattr(ctx context.Context, name, attr string) ([]byte, error) {
	v, ok := x.attrs[name][attr]
	if !ok {
		return nil, vfs.NewPathError("getxattr", name, vfs.ErrNotExist)
	}
	return v, nil
}

func (x *xattrBackend) ListXattrs(ctx context.Context, name string) ([]string, error) {
	var names []string
	for k := range x.attrs[name] {
		names = append(names, k)
	}
	return names, nil
}

func (x *xattrBackend) RemoveXattr(ctx context.Context, name, attr string) error {
	delete(x.attrs[name], attr)
	return nil
}

var _ backend.Xattrer = (*xattrBackend)(nil)

func TestXattrSetGetListRemove(t *testing.T) {
	fsys := New(Options{})
	require.NoError(t, fsys.Mount("/", newXattrBackend()))
	ctx := context.Background()
	require.NoError(t, fsys.WriteFile(ctx, "/a.txt", []byte("x"), "", 0o644))

	require.NoError(t, fsys.SetXattr(ctx, "/a.txt", "user.tag", []byte("v1")))
	got, err := fsys.GetXattr(ctx, "/a.txt", "user.tag")
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))

	names, err := fsys.ListXattrs(ctx, "/a.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"user.tag"}, names)

	require.NoError(t, fsys.RemoveXattr(ctx, "/a.txt", "user.tag"))
	_, err = fsys.GetXattr(ctx, "/a.txt", "user.tag")
	require.Error(t, err)
}

func TestXattrUnsupportedBackendReturnsNotSupported(t *testing.T) {
	fsys := New(Options{})
	require.NoError(t, fsys.Mount("/", memfs.New()))
	ctx := context.Background()
	require.NoError(t, fsys.WriteFile(ctx, "/a.txt", []byte("x"), "", 0o644))

	err := fsys.SetXattr(ctx, "/a.txt", "user.tag", []byte("v"))
	require.Error(t, err)
	require.ErrorIs(t, err, vfs.ErrNotSupported)

	names, err := fsys.ListXattrs(ctx, "/a.txt")
	require.NoError(t, err)
	require.Nil(t, names)
}

func TestExistsMapsNotExistToFalse(t *testing.T) {
	fsys := New(Options{})
	require.NoError(t, fsys.Mount("/", memfs.New()))
	ctx := context.Background()

	ok, err := fsys.Exists(ctx, "/missing.txt")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, fsys.WriteFile(ctx, "/a.txt", []byte("x"), "", 0o644))
	ok, err = fsys.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAccessDeniedWithoutPermissionBits(t *testing.T) {
	fsys := New(Options{})
	require.NoError(t, fsys.Mount("/", memfs.New()))
	ctx := context.Background()
	require.NoError(t, fsys.WriteFile(ctx, "/a.txt", []byte("x"), "", 0o200))

	caller := vfsutil.Caller{Uid: 1000, Gid: 1000}
	err := fsys.Access(vfsutil.WithCaller(ctx, caller), "/a.txt", vfsutil.R_OK)
	require.Error(t, err)
	require.ErrorIs(t, err, vfs.ErrPermission)
}

func TestLchmodDoesNotAffectSymlinkTarget(t *testing.T) {
	fsys := New(Options{})
	require.NoError(t, fsys.Mount("/", memfs.New()))
	ctx := context.Background()
	require.NoError(t, fsys.WriteFile(ctx, "/target.txt", []byte("x"), "", 0o644))
	require.NoError(t, fsys.Symlink(ctx, "/target.txt", "/link.txt"))

	require.NoError(t, fsys.Lchmod(ctx, "/link.txt", 0o600))

	targetSt, err := fsys.Stat(ctx, "/target.txt")
	require.NoError(t, err)
	require.Equal(t, vfs.FileMode(0o644), targetSt.Mode.Perm())
}

func TestFsyncByFd(t *testing.T) {
	fsys := New(Options{})
	require.NoError(t, fsys.Mount("/", memfs.New()))
	ctx := context.Background()

	fd, err := fsys.Open(ctx, "/a.txt", "w+", 0o644)
	require.NoError(t, err)
	defer fsys.Close(ctx, fd)
	_, err = fsys.Write(ctx, fd, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, fsys.Fsync(ctx, fd))
}
