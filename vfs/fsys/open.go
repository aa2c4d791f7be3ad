package fsys

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"path"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
	"corefs.dev/corefs/vfs/vfsutil"
)

// Open implements the open algorithm: resolve the mount, check
// exclusive/create-if-missing semantics against the flag string, check
// the caller's access against an existing target, open (or create) the
// backend handle, and register it in the FD table.
func (f *FS) Open(ctx context.Context, name string, flagStr string, perm vfs.FileMode) (int32, error) {
	name = vfs.Normalize(name)
	flag, err := vfs.ParseFlag(flagStr)
	if err != nil {
		return 0, err
	}

	rp := name
	if !flag.Exclusive {
		// exclusive-create must not follow a dangling symlink into
		// existence; every other mode resolves symlinks first.
		if resolved, err := f.Realpath(name); err == nil {
			rp = resolved
		}
	}

	b, local, err := f.resolve(rp)
	if err != nil {
		return 0, err
	}

	st, statErr := b.Stat(ctx, local)
	exists := statErr == nil

	switch {
	case flag.Exclusive && exists:
		return 0, vfs.NewPathError("open", name, vfs.ErrExist)
	case !flag.CreateIfMissing && !exists:
		return 0, vfs.NewPathError("open", name, vfs.ErrNotExist)
	case exists && st.Mode.IsDir() && (flag.Writable || flag.Appendable):
		return 0, vfs.NewPathError("open", name, vfs.ErrIsDir)
	}

	caller := vfsutil.CallerFromContext(ctx)
	if exists && !vfsutil.HasAccess(st, vfsutil.FlagToMode(flag), caller) {
		return 0, vfs.NewPathError("open", name, vfs.ErrPermission)
	}

	owner := backend.Owner{Uid: caller.Uid, Gid: caller.Gid}
	if !exists {
		owner = f.inheritedOwner(ctx, b, rp, caller)
	}

	h, err := b.OpenFile(ctx, local, flag, perm, owner)
	if err != nil {
		return 0, rewrite("open", name, err)
	}

	if flag.Appendable {
		if _, err := h.Seek(0, 2); err != nil {
			h.Close()
			return 0, rewrite("open", name, err)
		}
	}

	fd := f.allocFd()
	f.fdmu.Lock()
	f.fds[fd] = &openFile{handle: h, backend: b, path: name, flag: flag}
	f.fdmu.Unlock()

	if !exists {
		f.watch.Emit("create", name)
	}
	return fd, nil
}

// Close releases fd, closing the underlying backend handle.
func (f *FS) Close(ctx context.Context, fd int32) error {
	of, err := f.lookupFd(fd)
	if err != nil {
		return err
	}
	f.releaseFd(fd)
	if err := of.handle.Close(); err != nil {
		return rewrite("close", of.path, err)
	}
	return nil
}

// Read reads from fd's current offset.
func (f *FS) Read(ctx context.Context, fd int32, p []byte) (int, error) {
	of, err := f.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	if !of.flag.Readable {
		return 0, vfs.NewPathError("read", of.path, vfs.ErrBadFd)
	}
	n, err := of.handle.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, rewrite("read", of.path, err)
	}
	return n, err
}

// Write writes to fd's current offset (or the end, if opened
// appendable).
func (f *FS) Write(ctx context.Context, fd int32, p []byte) (int, error) {
	of, err := f.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	if !of.flag.Writable {
		return 0, vfs.NewPathError("write", of.path, vfs.ErrBadFd)
	}
	n, err := of.handle.Write(p)
	if err != nil {
		return n, rewrite("write", of.path, err)
	}
	f.watch.Emit("write", of.path)
	return n, nil
}

// ReadAt/WriteAt/Seek expose the corresponding Handle methods by FD.

func (f *FS) ReadAt(ctx context.Context, fd int32, p []byte, off int64) (int, error) {
	of, err := f.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	return of.handle.ReadAt(p, off)
}

func (f *FS) WriteAt(ctx context.Context, fd int32, p []byte, off int64) (int, error) {
	of, err := f.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	n, err := of.handle.WriteAt(p, off)
	if err == nil {
		f.watch.Emit("write", of.path)
	}
	return n, err
}

// Readv reads into each buffer in bufs in turn, advancing fd's offset
// as it goes, stopping at the first short read or error. There's no
// native vectored read on backend.Handle, so this is plain repeated
// Read.
func (f *FS) Readv(ctx context.Context, fd int32, bufs [][]byte) (int64, error) {
	var total int64
	for _, buf := range bufs {
		n, err := f.Read(ctx, fd, buf)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if n < len(buf) {
			break
		}
	}
	return total, nil
}

// Writev writes each buffer in bufs in turn to fd, advancing its
// offset (or appending, if fd was opened appendable) between writes.
func (f *FS) Writev(ctx context.Context, fd int32, bufs [][]byte) (int64, error) {
	var total int64
	for _, buf := range bufs {
		n, err := f.Write(ctx, fd, buf)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *FS) Seek(ctx context.Context, fd int32, offset int64, whence int) (int64, error) {
	of, err := f.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	return of.handle.Seek(offset, whence)
}

func (f *FS) Fstat(ctx context.Context, fd int32) (vfs.Stat, error) {
	of, err := f.lookupFd(fd)
	if err != nil {
		return vfs.Stat{}, err
	}
	return of.handle.Stat(ctx)
}

func (f *FS) Truncate(ctx context.Context, fd int32, size int64) error {
	of, err := f.lookupFd(fd)
	if err != nil {
		return err
	}
	return of.handle.Truncate(ctx, size)
}

// backendOf is used by cross-mount operations that need direct backend
// access alongside FS-level bookkeeping.
func (f *FS) backendOf(name string) (backend.Backend, string, error) {
	return f.resolve(name)
}

// inheritedOwner computes the uid/gid a newly created node at name
// should carry. Backends that advertise FeatureSetid apply their own
// setuid/setgid semantics and get the caller's identity verbatim;
// backends without it fall back to BSD-style setgid-directory
// inheritance, where a new node takes its parent directory's group if
// the parent has the setgid bit set, rather than the caller's group.
func (f *FS) inheritedOwner(ctx context.Context, b backend.Backend, rp string, caller vfsutil.Caller) backend.Owner {
	owner := backend.Owner{Uid: caller.Uid, Gid: caller.Gid}
	if backend.HasFeature(b, backend.FeatureSetid) {
		return owner
	}
	parentStat, err := f.Stat(ctx, path.Dir(rp))
	if err != nil {
		return owner
	}
	if parentStat.Mode&iofs.ModeSetgid != 0 {
		owner.Gid = parentStat.Gid
	}
	return owner
}
