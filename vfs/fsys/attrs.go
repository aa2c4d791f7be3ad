package fsys

import (
	"context"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
	"corefs.dev/corefs/vfs/vfsutil"
)

// withHandle resolves name to its backend, opens a handle on it read-only
// (sufficient for the attribute-mutating handle methods below, which
// don't depend on the flag a caller originally opened the file with),
// and closes it after fn runs. followLinks controls whether name is run
// through Realpath first, the same follow/no-follow split Stat/Lstat
// use: Chmod/Chown/Utimes follow a trailing symlink to its target,
// Lchmod/Lchown/Lutimes act on the symlink itself.
func (f *FS) withHandle(ctx context.Context, op, name string, followLinks bool, fn func(backend.Handle) error) error {
	name = vfs.Normalize(name)
	rp := name
	if followLinks {
		if resolved, err := f.Realpath(name); err == nil {
			rp = resolved
		}
	}
	b, local, err := f.resolve(rp)
	if err != nil {
		return err
	}
	h, err := b.OpenFile(ctx, local, vfs.Flag{Readable: true}, 0, backend.Owner{})
	if err != nil {
		return rewrite(op, name, err)
	}
	defer h.Close()
	if err := fn(h); err != nil {
		return rewrite(op, name, err)
	}
	return nil
}

// Chmod changes name's permission bits, following a trailing symlink.
func (f *FS) Chmod(ctx context.Context, name string, mode vfs.FileMode) error {
	err := f.withHandle(ctx, "chmod", name, true, func(h backend.Handle) error {
		return h.Chmod(ctx, mode)
	})
	if err == nil {
		f.watch.Emit("attr", vfs.Normalize(name))
	}
	return err
}

// Lchmod is Chmod but acts on a symlink itself rather than its target.
func (f *FS) Lchmod(ctx context.Context, name string, mode vfs.FileMode) error {
	err := f.withHandle(ctx, "lchmod", name, false, func(h backend.Handle) error {
		return h.Chmod(ctx, mode)
	})
	if err == nil {
		f.watch.Emit("attr", vfs.Normalize(name))
	}
	return err
}

// Chown changes name's owning uid/gid, following a trailing symlink.
func (f *FS) Chown(ctx context.Context, name string, uid, gid int) error {
	err := f.withHandle(ctx, "chown", name, true, func(h backend.Handle) error {
		return h.Chown(ctx, uid, gid)
	})
	if err == nil {
		f.watch.Emit("attr", vfs.Normalize(name))
	}
	return err
}

// Lchown is Chown but acts on a symlink itself rather than its target.
func (f *FS) Lchown(ctx context.Context, name string, uid, gid int) error {
	err := f.withHandle(ctx, "lchown", name, false, func(h backend.Handle) error {
		return h.Chown(ctx, uid, gid)
	})
	if err == nil {
		f.watch.Emit("attr", vfs.Normalize(name))
	}
	return err
}

// Utimes sets name's access and modification times, in milliseconds
// since the epoch, following a trailing symlink.
func (f *FS) Utimes(ctx context.Context, name string, atimeMs, mtimeMs int64) error {
	err := f.withHandle(ctx, "utimes", name, true, func(h backend.Handle) error {
		return h.Utimes(ctx, atimeMs, mtimeMs)
	})
	if err == nil {
		f.watch.Emit("attr", vfs.Normalize(name))
	}
	return err
}

// Lutimes is Utimes but acts on a symlink itself rather than its target.
func (f *FS) Lutimes(ctx context.Context, name string, atimeMs, mtimeMs int64) error {
	err := f.withHandle(ctx, "lutimes", name, false, func(h backend.Handle) error {
		return h.Utimes(ctx, atimeMs, mtimeMs)
	})
	if err == nil {
		f.watch.Emit("attr", vfs.Normalize(name))
	}
	return err
}

// Access checks whether caller (from ctx) can access name per mode,
// following a trailing symlink the same way Open does.
func (f *FS) Access(ctx context.Context, name string, mode vfsutil.Mode) error {
	st, err := f.Stat(ctx, name)
	if err != nil {
		return err
	}
	if !vfsutil.HasAccess(st, mode, vfsutil.CallerFromContext(ctx)) {
		return vfs.NewPathError("access", vfs.Normalize(name), vfs.ErrPermission)
	}
	return nil
}

// Exists reports whether name resolves to something, without raising
// on ENOENT: a missing path reports (false, nil), any other error
// (bad mount, permission, a backend outage) propagates.
func (f *FS) Exists(ctx context.Context, name string) (bool, error) {
	_, err := f.Stat(ctx, name)
	if err == nil {
		return true, nil
	}
	if vfs.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Fchmod/Fchown/Futimes/Fdatasync expose the corresponding Handle
// methods by fd, mirroring Fstat/Truncate in open.go.

func (f *FS) Fchmod(ctx context.Context, fd int32, mode vfs.FileMode) error {
	of, err := f.lookupFd(fd)
	if err != nil {
		return err
	}
	return of.handle.Chmod(ctx, mode)
}

func (f *FS) Fchown(ctx context.Context, fd int32, uid, gid int) error {
	of, err := f.lookupFd(fd)
	if err != nil {
		return err
	}
	return of.handle.Chown(ctx, uid, gid)
}

func (f *FS) Futimes(ctx context.Context, fd int32, atimeMs, mtimeMs int64) error {
	of, err := f.lookupFd(fd)
	if err != nil {
		return err
	}
	return of.handle.Utimes(ctx, atimeMs, mtimeMs)
}

func (f *FS) Fdatasync(ctx context.Context, fd int32) error {
	of, err := f.lookupFd(fd)
	if err != nil {
		return err
	}
	return of.handle.Datasync(ctx)
}

func (f *FS) Fsync(ctx context.Context, fd int32) error {
	of, err := f.lookupFd(fd)
	if err != nil {
		return err
	}
	return of.handle.Sync(ctx)
}

// GetXattr/SetXattr/ListXattrs/RemoveXattr dispatch to a backend's
// optional Xattrer capability, mirroring how Symlink/Readlink dispatch
// to Linker.
func (f *FS) GetXattr(ctx context.Context, name, attr string) ([]byte, error) {
	name = vfs.Normalize(name)
	b, local, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	x, ok := b.(backend.Xattrer)
	if !ok {
		return nil, vfs.NewPathError("getxattr", name, vfs.ErrNotSupported)
	}
	v, err := x.GetXattr(ctx, local, attr)
	if err != nil {
		return nil, rewrite("getxattr", name, err)
	}
	return v, nil
}

func (f *FS) SetXattr(ctx context.Context, name, attr string, value []byte) error {
	name = vfs.Normalize(name)
	b, local, err := f.resolve(name)
	if err != nil {
		return err
	}
	x, ok := b.(backend.Xattrer)
	if !ok {
		return vfs.NewPathError("setxattr", name, vfs.ErrNotSupported)
	}
	if err := x.SetXattr(ctx, local, attr, value); err != nil {
		return rewrite("setxattr", name, err)
	}
	f.watch.Emit("attr", name)
	return nil
}

func (f *FS) ListXattrs(ctx context.Context, name string) ([]string, error) {
	name = vfs.Normalize(name)
	b, local, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	x, ok := b.(backend.Xattrer)
	if !ok {
		return nil, nil
	}
	attrs, err := x.ListXattrs(ctx, local)
	if err != nil {
		return nil, rewrite("listxattr", name, err)
	}
	return attrs, nil
}

func (f *FS) RemoveXattr(ctx context.Context, name, attr string) error {
	name = vfs.Normalize(name)
	b, local, err := f.resolve(name)
	if err != nil {
		return err
	}
	x, ok := b.(backend.Xattrer)
	if !ok {
		return vfs.NewPathError("removexattr", name, vfs.ErrNotSupported)
	}
	if err := x.RemoveXattr(ctx, local, attr); err != nil {
		return rewrite("removexattr", name, err)
	}
	f.watch.Emit("attr", name)
	return nil
}
