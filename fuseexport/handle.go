package fuseexport

import (
	"context"
	"io"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/fsys"
)

// handle is a go-fuse FileHandle backed by an fd registered with the
// shared fsys.FS, grounded on fusekit.handle but addressing the file by
// fd through the FS dispatcher instead of holding an io/fs.File
// directly.
type handle struct {
	vfs  *fsys.FS
	fd   int32
	path string
}

var _ = (fs.FileReader)((*handle)(nil))

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.vfs.ReadAt(ctx, h.fd, dest, off)
	if err != nil && err != io.EOF {
		return nil, sysErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

var _ = (fs.FileWriter)((*handle)(nil))

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.vfs.WriteAt(ctx, h.fd, data, off)
	if err != nil {
		return 0, sysErrno(err)
	}
	return uint32(n), 0
}

var _ = (fs.FileFlusher)((*handle)(nil))

func (h *handle) Flush(ctx context.Context) syscall.Errno {
	if err := h.vfs.Close(ctx, h.fd); err != nil {
		return sysErrno(err)
	}
	return 0
}

var _ = (fs.FileFsyncer)((*handle)(nil))

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	if err := h.vfs.Fdatasync(ctx, h.fd); err != nil {
		return sysErrno(err)
	}
	return 0
}

var _ = (fs.FileLseeker)((*handle)(nil))

func (h *handle) Lseek(ctx context.Context, off uint64, whence uint32) (uint64, syscall.Errno) {
	newOff, err := h.vfs.Seek(ctx, h.fd, int64(off), int(whence))
	if err != nil {
		return 0, sysErrno(err)
	}
	return uint64(newOff), 0
}

var _ = (fs.FileSetattrer)((*handle)(nil))

func (h *handle) Setattr(ctx context.Context, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if in.Valid&fuse.FATTR_SIZE != 0 {
		if err := h.vfs.Truncate(ctx, h.fd, int64(in.Size)); err != nil {
			return sysErrno(err)
		}
	}
	if in.Valid&fuse.FATTR_MODE != 0 {
		if err := h.vfs.Fchmod(ctx, h.fd, vfs.FileMode(in.Mode)); err != nil {
			return sysErrno(err)
		}
	}
	st, err := h.vfs.Fstat(ctx, h.fd)
	if err != nil {
		return sysErrno(err)
	}
	applyStat(&out.Attr, h.path, st)
	return 0
}

var _ = (fs.FileGetattrer)((*handle)(nil))

func (h *handle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	st, err := h.vfs.Fstat(ctx, h.fd)
	if err != nil {
		return sysErrno(err)
	}
	applyStat(&out.Attr, h.path, st)
	return 0
}

var _ = (fs.FileGetlker)((*handle)(nil))

func (h *handle) Getlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32, out *fuse.FileLock) syscall.Errno {
	return syscall.EOPNOTSUPP
}

var _ = (fs.FileSetlker)((*handle)(nil))

func (h *handle) Setlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	return syscall.EOPNOTSUPP
}

var _ = (fs.FileSetlkwer)((*handle)(nil))

func (h *handle) Setlkw(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	return syscall.EOPNOTSUPP
}
