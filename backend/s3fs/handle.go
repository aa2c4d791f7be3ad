package s3fs

import (
	"context"
	"io"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

// fileHandle buffers an S3 object's content in memory for the duration
// of the open/close cycle, grounded on r2fs.r2File: reads and writes
// operate on the in-memory buffer, and a dirty buffer is written back
// with a single PutObject on Close rather than per-write.
type fileHandle struct {
	fsys        *FS
	name        string
	content     []byte
	contentType string
	mode        vfs.FileMode
	owner       backend.Owner
	offset      int64
	dirty       bool
	closed      bool
}

func (h *fileHandle) Read(p []byte) (int, error) {
	if h.offset >= int64(len(h.content)) {
		return 0, io.EOF
	}
	n := copy(p, h.content[h.offset:])
	h.offset += int64(n)
	return n, nil
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(h.content)) {
		return 0, io.EOF
	}
	return copy(p, h.content[off:]), nil
}

func (h *fileHandle) Write(p []byte) (int, error) {
	n, err := h.writeAt(p, h.offset)
	h.offset += int64(n)
	return n, err
}

func (h *fileHandle) WriteAt(p []byte, off int64) (int, error) {
	return h.writeAt(p, off)
}

func (h *fileHandle) writeAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(h.content)) {
		grown := make([]byte, end)
		copy(grown, h.content)
		h.content = grown
	}
	copy(h.content[off:end], p)
	h.dirty = true
	return len(p), nil
}

func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += h.offset
	case io.SeekEnd:
		offset += int64(len(h.content))
	default:
		return 0, vfs.ErrInvalid
	}
	if offset < 0 {
		return 0, vfs.ErrInvalid
	}
	h.offset = offset
	return offset, nil
}

func (h *fileHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if !h.dirty {
		return nil
	}
	return h.fsys.putObjectRaw(context.Background(), h.name, h.content, h.mode, h.owner, h.contentType)
}

func (h *fileHandle) Stat(ctx context.Context) (vfs.Stat, error) {
	return h.fsys.Stat(ctx, h.name)
}

func (h *fileHandle) Truncate(ctx context.Context, size int64) error {
	if size < int64(len(h.content)) {
		h.content = h.content[:size]
	} else if size > int64(len(h.content)) {
		grown := make([]byte, size)
		copy(grown, h.content)
		h.content = grown
	}
	h.dirty = true
	return nil
}

func (h *fileHandle) Chmod(ctx context.Context, mode vfs.FileMode) error {
	h.mode = h.mode&^vfs.FileMode(0o777) | mode.Perm()
	h.dirty = true
	return nil
}

func (h *fileHandle) Chown(ctx context.Context, uid, gid int) error {
	h.owner = backend.Owner{Uid: uint32(uid), Gid: uint32(gid)}
	return h.fsys.chown(ctx, h.name, uid, gid)
}

func (h *fileHandle) Utimes(ctx context.Context, atimeMs, mtimeMs int64) error {
	return h.fsys.chtimes(ctx, h.name, mtimeMs)
}

func (h *fileHandle) Sync(ctx context.Context) error {
	return h.Datasync(ctx)
}

func (h *fileHandle) Datasync(ctx context.Context) error {
	if !h.dirty {
		return nil
	}
	return h.fsys.putObjectRaw(ctx, h.name, h.content, h.mode, h.owner, h.contentType)
}
