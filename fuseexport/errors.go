package fuseexport

import (
	"errors"
	"log"
	"syscall"

	"corefs.dev/corefs/vfs"
)

// sysErrno maps a vfs sentinel to the syscall.Errno go-fuse expects,
// grounded on fusekit.sysErrno's switch over the same *fs package
// sentinels, generalized to vfs's Errno/PathError types.
func sysErrno(err error) syscall.Errno {
	if err == nil {
		return syscall.Errno(0)
	}
	switch {
	case errors.Is(err, vfs.ErrNotSupported):
		return syscall.EOPNOTSUPP
	case errors.Is(err, vfs.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, vfs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, vfs.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, vfs.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, vfs.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, vfs.ErrClosed):
		return syscall.EBADF
	case errors.Is(err, vfs.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, vfs.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, vfs.ErrBadFd):
		return syscall.EBADF
	case errors.Is(err, vfs.ErrBusy):
		return syscall.EBUSY
	case errors.Is(err, vfs.ErrCrossDevice):
		return syscall.EXDEV
	case errors.Is(err, vfs.ErrTooManyLinks):
		return syscall.ELOOP
	case errors.Is(err, vfs.ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, vfs.ErrFileTooBig):
		return syscall.EFBIG
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	log.Printf("fuseexport: unmapped error: %T %v", err, err)
	return syscall.EIO
}
