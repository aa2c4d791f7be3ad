package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	require.Equal(t, "ENOENT", Code(ErrNotExist))
	require.Equal(t, "EEXIST", Code(ErrExist))
	require.Equal(t, "EIO", Code(ErrIO))
	require.Equal(t, "", Code(nil))
}

func TestPathErrorUnwrapAndMessage(t *testing.T) {
	err := NewPathError("open", "/foo", ErrNotExist)
	require.ErrorIs(t, err, ErrNotExist)
	require.Contains(t, err.Error(), "/foo")
	require.Contains(t, err.Error(), "ENOENT")
}

func TestIsHelpers(t *testing.T) {
	err := NewPathError("stat", "/missing", ErrNotExist)
	require.True(t, IsNotExist(err))
	require.False(t, IsExist(err))
	require.False(t, IsPermission(err))
}
