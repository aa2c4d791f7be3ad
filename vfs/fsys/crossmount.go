package fsys

import (
	"context"
	"io"
	iofs "io/fs"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

// Rename moves oldname to newname. When both resolve to the same
// backend the backend's native Rename is used; across backends it
// falls back to a recursive copy followed by a remove, grounded on the
// teacher's fs.Rename (same-fs fast path, ErrNotSupported otherwise)
// but generalized to the spec's explicit copy+unlink fallback instead
// of erroring out.
func (f *FS) Rename(ctx context.Context, oldname, newname string) error {
	oldname = vfs.Normalize(oldname)
	newname = vfs.Normalize(newname)

	oldb, oldlocal, err := f.resolve(oldname)
	if err != nil {
		return err
	}
	newb, newlocal, err := f.resolve(newname)
	if err != nil {
		return err
	}

	if sameBackend(oldb, newb) {
		if err := oldb.Rename(ctx, oldlocal, newlocal); err != nil {
			return rewrite("rename", newname, err)
		}
		f.watch.Emit("rename", oldname)
		f.watch.Emit("rename", newname)
		return nil
	}

	if err := f.Cp(ctx, oldname, newname); err != nil {
		return rewrite("rename", newname, err)
	}
	if err := f.RemoveAll(ctx, oldname); err != nil {
		return rewrite("rename", oldname, err)
	}
	f.watch.Emit("rename", oldname)
	f.watch.Emit("rename", newname)
	return nil
}

// Link creates a hard link at newname pointing to oldname. Hard links
// cannot cross backends; attempting to do so is EXDEV regardless of
// whether the destination backend supports hard links at all.
func (f *FS) Link(ctx context.Context, oldname, newname string) error {
	oldname = vfs.Normalize(oldname)
	newname = vfs.Normalize(newname)

	oldb, oldlocal, err := f.resolve(oldname)
	if err != nil {
		return err
	}
	newb, newlocal, err := f.resolve(newname)
	if err != nil {
		return err
	}
	if !sameBackend(oldb, newb) {
		return vfs.NewPathError("link", newname, vfs.ErrCrossDevice)
	}
	hl, ok := oldb.(backend.HardLinker)
	if !ok {
		return vfs.NewPathError("link", newname, vfs.ErrNotSupported)
	}
	if err := hl.Link(ctx, oldlocal, newlocal); err != nil {
		return rewrite("link", newname, err)
	}
	f.watch.Emit("create", newname)
	return nil
}

// Cp recursively copies src (file, directory, or symlink, not
// followed) to dst, which must not already exist as a non-directory.
// Grounded on the teacher's fs.CopyFS/copyDir/copyFile/copySymlink,
// adapted to dispatch through the mount table instead of taking two
// io/fs.FS values directly.
func (f *FS) Cp(ctx context.Context, src, dst string) error {
	src = vfs.Normalize(src)
	dst = vfs.Normalize(dst)

	srcInfo, err := f.Lstat(ctx, src)
	if err != nil {
		return err
	}
	if dstInfo, err := f.Lstat(ctx, dst); err == nil && !dstInfo.Mode.IsDir() {
		return vfs.NewPathError("cp", dst, vfs.ErrExist)
	}

	switch {
	case srcInfo.Mode&iofs.ModeSymlink != 0:
		return f.copySymlink(ctx, src, dst, srcInfo.Mode)
	case srcInfo.Mode.IsDir():
		return f.copyDir(ctx, src, dst, srcInfo.Mode)
	default:
		return f.copyFile(ctx, src, dst, srcInfo.Mode)
	}
}

func (f *FS) copySymlink(ctx context.Context, src, dst string, mode vfs.FileMode) error {
	target, err := f.Readlink(ctx, src)
	if err != nil {
		return err
	}
	if err := f.Symlink(ctx, target, dst); err != nil {
		return err
	}
	return nil
}

func (f *FS) copyFile(ctx context.Context, src, dst string, mode vfs.FileMode) (err error) {
	srcFd, err := f.Open(ctx, src, "r", 0)
	if err != nil {
		return err
	}
	defer f.Close(ctx, srcFd)

	dstFd, err := f.Open(ctx, dst, "w", mode.Perm())
	if err != nil {
		return err
	}

	srcOf, _ := f.lookupFd(srcFd)
	dstOf, _ := f.lookupFd(dstFd)

	if _, err = io.Copy(dstOf.handle, srcOf.handle); err != nil {
		f.Close(ctx, dstFd)
		return err
	}
	if err = f.Close(ctx, dstFd); err != nil {
		return err
	}
	f.watch.Emit("create", dst)
	return nil
}

func (f *FS) copyDir(ctx context.Context, src, dst string, mode vfs.FileMode) error {
	if err := f.Mkdir(ctx, dst, mode.Perm(), true); err != nil && !vfs.IsExist(err) {
		return err
	}
	names, err := f.Readdir(ctx, src)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := f.Cp(ctx, vfs.Join(src, name), vfs.Join(dst, name)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll recursively removes path.
func (f *FS) RemoveAll(ctx context.Context, p string) error {
	p = vfs.Normalize(p)
	info, err := f.Lstat(ctx, p)
	if err != nil {
		if vfs.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode.IsDir() {
		names, err := f.Readdir(ctx, p)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := f.RemoveAll(ctx, vfs.Join(p, name)); err != nil {
				return err
			}
		}
		b, local, err := f.resolve(p)
		if err != nil {
			return err
		}
		if err := b.Rmdir(ctx, local); err != nil {
			return rewrite("rm", p, err)
		}
		f.watch.Emit("remove", p)
		return nil
	}

	b, local, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := b.Unlink(ctx, local); err != nil {
		return rewrite("rm", p, err)
	}
	f.watch.Emit("remove", p)
	return nil
}

// Remove removes a single file or empty directory at p.
func (f *FS) Remove(ctx context.Context, p string) error {
	p = vfs.Normalize(p)
	info, err := f.Lstat(ctx, p)
	if err != nil {
		return err
	}
	b, local, err := f.resolve(p)
	if err != nil {
		return err
	}
	var rmErr error
	if info.Mode.IsDir() {
		rmErr = b.Rmdir(ctx, local)
	} else {
		rmErr = b.Unlink(ctx, local)
	}
	if rmErr != nil {
		return rewrite("rm", p, rmErr)
	}
	f.watch.Emit("remove", p)
	return nil
}

func sameBackend(a, b backend.Backend) bool {
	return a == b
}
