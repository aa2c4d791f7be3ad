package mutexfs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/backend/memfs"
	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

func TestDoSerializesCallers(t *testing.T) {
	f := New(memfs.New(), Options{})
	var active int32
	var maxActive int32

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			err := f.Do(context.Background(), func() error {
				cur := atomic.AddInt32(&active, 1)
				if cur > atomic.LoadInt32(&maxActive) {
					atomic.StoreInt32(&maxActive, cur)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			require.NoError(t, err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestTryLockFailsWhenHeld(t *testing.T) {
	f := New(memfs.New(), Options{})
	unlock, err := f.TryLock()
	require.NoError(t, err)

	_, err = f.TryLock()
	require.Error(t, err)
	require.True(t, vfs.Code(err) == "EBUSY")

	unlock()

	unlock2, err := f.TryLock()
	require.NoError(t, err)
	unlock2()
}

func TestLockRespectsContextCancellation(t *testing.T) {
	f := New(memfs.New(), Options{})
	unlock, err := f.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeadlockTimeoutFailsSubsequentLocks(t *testing.T) {
	f := New(memfs.New(), Options{DeadlockTimeout: 5 * time.Millisecond})
	_, err := f.Lock(context.Background())
	require.NoError(t, err)
	// Never unlocked: wait past the deadline and confirm a new Lock
	// call fails fast instead of queuing behind the stuck holder.
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := f.Lock(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, vfs.ErrDeadlock)
	case <-time.After(time.Second):
		t.Fatal("Lock did not return after deadlock was detected")
	}
}

func TestForwardsOpenFileAndMkdirToUpstream(t *testing.T) {
	upstream := memfs.New()
	f := New(upstream, Options{})

	require.NoError(t, f.Mkdir(context.Background(), "/dir", 0o755, backend.Owner{}))
	h, err := f.OpenFile(context.Background(), "/dir/a.txt", vfs.Flag{Writable: true, CreateIfMissing: true}, 0o644, backend.Owner{})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	// Visible on the wrapped backend directly: mutexfs adds no state
	// of its own, it only serializes access to Upstream.
	st, err := upstream.Stat(context.Background(), "/dir/a.txt")
	require.NoError(t, err)
	require.False(t, st.Mode.IsDir())
}

func TestConcurrentMkdirsDontInterleave(t *testing.T) {
	upstream := memfs.New()
	f := New(upstream, Options{})

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			errs <- f.Mkdir(context.Background(), "/d", 0o755, backend.Owner{})
		}(i)
	}
	var oks, exists int
	for i := 0; i < n; i++ {
		err := <-errs
		switch {
		case err == nil:
			oks++
		case vfs.IsExist(err):
			exists++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, oks)
	require.Equal(t, n-1, exists)
}

func TestSymlinkNotSupportedWhenUpstreamLacksLinker(t *testing.T) {
	f := New(noLinkBackend{}, Options{})
	err := f.Symlink(context.Background(), "old", "new")
	require.ErrorIs(t, err, vfs.ErrNotSupported)
}

func TestMetadataWrapsUpstreamName(t *testing.T) {
	f := New(memfs.New(), Options{})
	require.Equal(t, "mutexfs(memfs)", f.Metadata().Name)
}

// noLinkBackend is a minimal backend.Backend that doesn't implement
// backend.Linker, exercising mutexfs's optional-capability fallback.
type noLinkBackend struct{}

func (noLinkBackend) Stat(ctx context.Context, name string) (vfs.Stat, error) {
	return vfs.Stat{}, vfs.NewPathError("stat", name, vfs.ErrNotExist)
}
func (noLinkBackend) OpenFile(ctx context.Context, name string, flag vfs.Flag, perm vfs.FileMode, owner backend.Owner) (backend.Handle, error) {
	return nil, vfs.NewPathError("open", name, vfs.ErrNotExist)
}
func (noLinkBackend) Mkdir(ctx context.Context, name string, perm vfs.FileMode, owner backend.Owner) error {
	return vfs.NewPathError("mkdir", name, vfs.ErrNotExist)
}
func (noLinkBackend) Readdir(ctx context.Context, name string) ([]vfs.Stat, []string, error) {
	return nil, nil, vfs.NewPathError("readdir", name, vfs.ErrNotExist)
}
func (noLinkBackend) Rename(ctx context.Context, oldname, newname string) error {
	return vfs.NewPathError("rename", oldname, vfs.ErrNotExist)
}
func (noLinkBackend) Unlink(ctx context.Context, name string) error {
	return vfs.NewPathError("unlink", name, vfs.ErrNotExist)
}
func (noLinkBackend) Rmdir(ctx context.Context, name string) error {
	return vfs.NewPathError("rmdir", name, vfs.ErrNotExist)
}
func (noLinkBackend) Sync(ctx context.Context) error { return nil }
