package p9fs

import (
	"context"
	"io"

	"github.com/hugelgupf/p9/p9"

	"corefs.dev/corefs/vfs"
)

// handle wraps an opened p9.File, grounded on p9kit's remoteFile: reads
// and writes go straight to ReadAt/WriteAt since 9P has no implicit
// file-position state on the wire, and Close flushes with FSync first.
type handle struct {
	file   p9.File
	name   string
	offset int64
}

func (h *handle) Read(p []byte) (int, error) {
	n, err := h.file.ReadAt(p, h.offset)
	h.offset += int64(n)
	if err != nil && err != io.EOF {
		err = translate("read", h.name, err)
	}
	return n, err
}

func (h *handle) ReadAt(p []byte, off int64) (int, error) {
	n, err := h.file.ReadAt(p, off)
	if err != nil && err != io.EOF {
		err = translate("read", h.name, err)
	}
	return n, err
}

func (h *handle) Write(p []byte) (int, error) {
	n, err := h.file.WriteAt(p, h.offset)
	h.offset += int64(n)
	if err != nil {
		err = translate("write", h.name, err)
	}
	return n, err
}

func (h *handle) WriteAt(p []byte, off int64) (int, error) {
	n, err := h.file.WriteAt(p, off)
	if err != nil {
		err = translate("write", h.name, err)
	}
	return n, err
}

func (h *handle) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += h.offset
	case io.SeekEnd:
		st, err := statFrom(h.file, h.name)
		if err != nil {
			return 0, err
		}
		offset += st.Size
	default:
		return 0, vfs.ErrInvalid
	}
	if offset < 0 {
		return 0, vfs.ErrInvalid
	}
	h.offset = offset
	return offset, nil
}

func (h *handle) Close() error {
	h.file.FSync()
	return translate("close", h.name, h.file.Close())
}

func (h *handle) Stat(ctx context.Context) (vfs.Stat, error) {
	return statFrom(h.file, h.name)
}

func (h *handle) Truncate(ctx context.Context, size int64) error {
	return translate("truncate", h.name, h.file.SetAttr(p9.SetAttrMask{Size: true}, p9.SetAttr{Size: uint64(size)}))
}

func (h *handle) Chmod(ctx context.Context, mode vfs.FileMode) error {
	return translate("chmod", h.name, h.file.SetAttr(p9.SetAttrMask{Permissions: true}, p9.SetAttr{Permissions: p9.FileMode(mode.Perm())}))
}

func (h *handle) Chown(ctx context.Context, uid, gid int) error {
	return translate("chown", h.name, h.file.SetAttr(p9.SetAttrMask{UID: true, GID: true}, p9.SetAttr{UID: p9.UID(uid), GID: p9.GID(gid)}))
}

func (h *handle) Utimes(ctx context.Context, atimeMs, mtimeMs int64) error {
	attr := p9.SetAttr{
		ATimeSeconds: uint64(atimeMs / 1000), ATimeNanoSeconds: uint64(atimeMs%1000) * 1e6,
		MTimeSeconds: uint64(mtimeMs / 1000), MTimeNanoSeconds: uint64(mtimeMs%1000) * 1e6,
	}
	mask := p9.SetAttrMask{ATime: true, ATimeNotSystemTime: true, MTime: true, MTimeNotSystemTime: true}
	return translate("utimes", h.name, h.file.SetAttr(mask, attr))
}

func (h *handle) Sync(ctx context.Context) error {
	return translate("sync", h.name, h.file.FSync())
}

func (h *handle) Datasync(ctx context.Context) error {
	return translate("datasync", h.name, h.file.FSync())
}
