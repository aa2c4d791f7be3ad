package s3fs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/vfs"
)

func TestOptionsValidateRequiresBucket(t *testing.T) {
	err := Options{}.Validate()
	require.Error(t, err)

	err = Options{Bucket: "my-bucket"}.Validate()
	require.NoError(t, err)
}

func TestKeyWithoutBasePath(t *testing.T) {
	fsys := &FS{}
	require.Equal(t, "/", fsys.key(""))
	require.Equal(t, "/", fsys.key("/"))
	require.Equal(t, "/foo/bar", fsys.key("/foo/bar"))
}

func TestKeyWithBasePath(t *testing.T) {
	fsys := &FS{basePath: "root"}
	require.Equal(t, "/root", fsys.key(""))
	require.Equal(t, "/root/foo", fsys.key("/foo"))
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	fsys := &FS{cache: map[string]*headEntry{}, cacheTTL: 10 * time.Millisecond}
	want := vfs.Stat{Size: 42}
	fsys.setCache("/a.txt", &headEntry{stat: want})

	got, ok := fsys.getCache("/a.txt")
	require.True(t, ok)
	require.Equal(t, want, got.stat)

	time.Sleep(20 * time.Millisecond)
	_, ok = fsys.getCache("/a.txt")
	require.False(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	fsys := &FS{cache: map[string]*headEntry{}, cacheTTL: time.Minute}
	fsys.setCache("/a.txt", &headEntry{stat: vfs.Stat{Size: 1}})
	fsys.invalidate("/a.txt")
	_, ok := fsys.getCache("/a.txt")
	require.False(t, ok)
}

func TestIsNotFoundNilError(t *testing.T) {
	require.False(t, isNotFound(nil))
}

func TestFileModeRoundTrip(t *testing.T) {
	for _, mode := range []vfs.FileMode{
		0o644,
		0o755,
	} {
		s := formatFileMode(mode)
		got := parseFileMode(s)
		require.Equal(t, mode.Perm(), got.Perm())
	}
}

func TestParseFileModeEmptyIsZero(t *testing.T) {
	require.Equal(t, vfs.FileMode(0), parseFileMode(""))
}
