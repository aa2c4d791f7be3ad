package vfsutil

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/vfs"
)

func TestFlagToMode(t *testing.T) {
	require.Equal(t, R_OK, FlagToMode(vfs.Flag{Readable: true}))
	require.Equal(t, W_OK, FlagToMode(vfs.Flag{Writable: true}))
	require.Equal(t, R_OK|W_OK, FlagToMode(vfs.Flag{Readable: true, Writable: true}))
	require.Equal(t, W_OK, FlagToMode(vfs.Flag{Appendable: true}))
}

func TestHasAccessOwnerGroupOther(t *testing.T) {
	st := vfs.Stat{Mode: fs.FileMode(0o640), Uid: 10, Gid: 20}

	require.True(t, HasAccess(st, R_OK, Caller{Uid: 10, Gid: 20}))
	require.True(t, HasAccess(st, W_OK, Caller{Uid: 10, Gid: 20}))

	require.True(t, HasAccess(st, R_OK, Caller{Uid: 99, Gid: 20}))
	require.False(t, HasAccess(st, W_OK, Caller{Uid: 99, Gid: 20}))

	require.False(t, HasAccess(st, R_OK, Caller{Uid: 99, Gid: 99}))
}

func TestHasAccessRootBypasses(t *testing.T) {
	st := vfs.Stat{Mode: fs.FileMode(0o000), Uid: 10, Gid: 20}
	require.True(t, HasAccess(st, R_OK|W_OK, Caller{}))
}

func TestCallerFromContextDefaultsToRoot(t *testing.T) {
	require.Equal(t, Caller{}, CallerFromContext(context.Background()))
	require.True(t, CallerFromContext(context.Background()).IsRoot())

	ctx := WithCaller(context.Background(), Caller{Uid: 5, Gid: 5})
	require.Equal(t, Caller{Uid: 5, Gid: 5}, CallerFromContext(ctx))
}
