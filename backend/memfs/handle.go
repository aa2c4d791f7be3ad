package memfs

import (
	"context"
	"io"
	"time"

	"corefs.dev/corefs/vfs"
)

// fileHandle is an open regular file, grounded on the offset-tracking
// Read/Write/Seek/ReadAt/WriteAt logic in the teacher's fskit.nodeFile.
type fileHandle struct {
	n      *node
	fs     *FS
	offset int64
	closed bool
}

func (h *fileHandle) Read(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.offset >= int64(len(h.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.n.data[h.offset:])
	h.offset += int64(n)
	return n, nil
}

func (h *fileHandle) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	n, err := h.writeAtLocked(p, h.offset)
	h.offset += int64(n)
	return n, err
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if off >= int64(len(h.n.data)) {
		return 0, io.EOF
	}
	return copy(p, h.n.data[off:]), nil
}

func (h *fileHandle) WriteAt(p []byte, off int64) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	return h.writeAtLocked(p, off)
}

func (h *fileHandle) writeAtLocked(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(h.n.data)) {
		grown := make([]byte, end)
		copy(grown, h.n.data)
		h.n.data = grown
	}
	copy(h.n.data[off:end], p)
	h.n.mtime = time.Now().UnixMilli()
	return len(p), nil
}

func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += h.offset
	case io.SeekEnd:
		offset += int64(len(h.n.data))
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
	h.closed = true
	return nil
}

func (h *fileHandle) Stat(ctx context.Context) (vfs.Stat, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	return statOf(h.n), nil
}

func (h *fileHandle) Truncate(ctx context.Context, size int64) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if size < int64(len(h.n.data)) {
		h.n.data = h.n.data[:size]
	} else if size > int64(len(h.n.data)) {
		grown := make([]byte, size)
		copy(grown, h.n.data)
		h.n.data = grown
	}
	h.n.mtime = time.Now().UnixMilli()
	return nil
}

func (h *fileHandle) Chmod(ctx context.Context, mode vfs.FileMode) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	h.n.mode = h.n.mode&^vfs.FileMode(0o777) | mode.Perm()
	return nil
}

func (h *fileHandle) Chown(ctx context.Context, uid, gid int) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if uid >= 0 {
		h.n.uid = uint32(uid)
	}
	if gid >= 0 {
		h.n.gid = uint32(gid)
	}
	return nil
}

func (h *fileHandle) Utimes(ctx context.Context, atimeMs, mtimeMs int64) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	h.n.atime = atimeMs
	h.n.mtime = mtimeMs
	return nil
}

func (h *fileHandle) Sync(ctx context.Context) error     { return nil }
func (h *fileHandle) Datasync(ctx context.Context) error { return nil }

// dirHandle is an open directory; it supports Stat but not read/write
// I/O, matching the spec's "directories are opened for Readdir only"
// rule enforced one layer up in vfs/fsys.Open.
type dirHandle struct{ n *node }

func (h *dirHandle) Read([]byte) (int, error)             { return 0, vfs.ErrIsDir }
func (h *dirHandle) Write([]byte) (int, error)            { return 0, vfs.ErrIsDir }
func (h *dirHandle) ReadAt([]byte, int64) (int, error)     { return 0, vfs.ErrIsDir }
func (h *dirHandle) WriteAt([]byte, int64) (int, error)    { return 0, vfs.ErrIsDir }
func (h *dirHandle) Seek(int64, int) (int64, error)        { return 0, vfs.ErrIsDir }
func (h *dirHandle) Close() error                          { return nil }
func (h *dirHandle) Stat(ctx context.Context) (vfs.Stat, error) {
	return statOf(h.n), nil
}
func (h *dirHandle) Truncate(context.Context, int64) error { return vfs.ErrIsDir }
func (h *dirHandle) Chmod(ctx context.Context, mode vfs.FileMode) error {
	h.n.mode = h.n.mode&^vfs.FileMode(0o777) | mode.Perm()
	return nil
}
func (h *dirHandle) Chown(context.Context, int, int) error      { return nil }
func (h *dirHandle) Utimes(context.Context, int64, int64) error { return nil }
func (h *dirHandle) Sync(context.Context) error                 { return nil }
func (h *dirHandle) Datasync(context.Context) error             { return nil }
