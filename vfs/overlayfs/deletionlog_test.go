package overlayfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/backend/memfs"
)

func TestDeletionLogMarkFlushLoad(t *testing.T) {
	upper := memfs.New()
	l := newDeletionLog(upper)
	require.NoError(t, l.Load(context.Background()))
	require.False(t, l.IsDeleted("/a.txt"))

	l.Mark("/a.txt")
	require.True(t, l.IsDeleted("/a.txt"))
	require.NoError(t, l.Flush(context.Background()))

	l2 := newDeletionLog(upper)
	require.NoError(t, l2.Load(context.Background()))
	require.True(t, l2.IsDeleted("/a.txt"))
}

func TestDeletionLogUnmark(t *testing.T) {
	upper := memfs.New()
	l := newDeletionLog(upper)
	l.Mark("/a.txt")
	require.NoError(t, l.Flush(context.Background()))

	l.Unmark("/a.txt")
	require.False(t, l.IsDeleted("/a.txt"))
	require.NoError(t, l.Flush(context.Background()))

	l2 := newDeletionLog(upper)
	require.NoError(t, l2.Load(context.Background()))
	require.False(t, l2.IsDeleted("/a.txt"))
}

func TestDeletionLogFlushNoopWhenClean(t *testing.T) {
	upper := memfs.New()
	l := newDeletionLog(upper)
	require.NoError(t, l.Flush(context.Background()))
	require.False(t, l.pending)
}
