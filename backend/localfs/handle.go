package localfs

import (
	"context"
	"os"
	"time"

	"corefs.dev/corefs/vfs"
)

// fileHandle wraps the *os.File returned by os.Root.OpenFile, the
// teacher's approach of handing back the bare os.File rather than a
// custom reader/writer since *os.File already satisfies every method
// backend.Handle needs.
type fileHandle struct {
	f    *os.File
	fsys *FS
	name string
}

func (h *fileHandle) Read(p []byte) (int, error)             { return h.f.Read(p) }
func (h *fileHandle) Write(p []byte) (int, error)            { return h.f.Write(p) }
func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) { return h.f.ReadAt(p, off) }
func (h *fileHandle) WriteAt(p []byte, off int64) (int, error) {
	return h.f.WriteAt(p, off)
}
func (h *fileHandle) Seek(offset int64, whence int) (int64, error) { return h.f.Seek(offset, whence) }
func (h *fileHandle) Close() error                                 { return h.f.Close() }

func (h *fileHandle) Stat(ctx context.Context) (vfs.Stat, error) {
	fi, err := h.f.Stat()
	if err != nil {
		return vfs.Stat{}, translate("stat", h.name, err)
	}
	return h.fsys.virtualStat(h.name, vfs.StatFromFileInfo(fi)), nil
}

func (h *fileHandle) Truncate(ctx context.Context, size int64) error {
	if err := h.f.Truncate(size); err != nil {
		return translate("truncate", h.name, err)
	}
	return nil
}

func (h *fileHandle) Chmod(ctx context.Context, mode vfs.FileMode) error {
	if err := h.f.Chmod(mode.Perm()); err != nil {
		return translate("chmod", h.name, err)
	}
	return nil
}

func (h *fileHandle) Chown(ctx context.Context, uid, gid int) error {
	if h.fsys.opts.VirtualizeUidGid {
		h.fsys.chownMu.Lock()
		h.fsys.chownData[h.name] = [2]int{uid, gid}
		h.fsys.chownMu.Unlock()
		return nil
	}
	if err := h.f.Chown(uid, gid); err != nil {
		return translate("chown", h.name, err)
	}
	return nil
}

func (h *fileHandle) Utimes(ctx context.Context, atimeMs, mtimeMs int64) error {
	if err := os.Chtimes(h.f.Name(), time.UnixMilli(atimeMs), time.UnixMilli(mtimeMs)); err != nil {
		return translate("utimes", h.name, err)
	}
	return nil
}

func (h *fileHandle) Sync(ctx context.Context) error {
	if err := h.f.Sync(); err != nil {
		return translate("sync", h.name, err)
	}
	return nil
}

func (h *fileHandle) Datasync(ctx context.Context) error {
	if err := h.f.Sync(); err != nil {
		return translate("datasync", h.name, err)
	}
	return nil
}

// dirHandle wraps an open directory for Stat only; the spec forbids
// read/write I/O on a directory handle.
type dirHandle struct {
	f    *os.File
	fsys *FS
	name string
}

func (h *dirHandle) Read([]byte) (int, error)                  { return 0, vfs.ErrIsDir }
func (h *dirHandle) Write([]byte) (int, error)                 { return 0, vfs.ErrIsDir }
func (h *dirHandle) ReadAt([]byte, int64) (int, error)          { return 0, vfs.ErrIsDir }
func (h *dirHandle) WriteAt([]byte, int64) (int, error)         { return 0, vfs.ErrIsDir }
func (h *dirHandle) Seek(int64, int) (int64, error)             { return 0, vfs.ErrIsDir }
func (h *dirHandle) Close() error                               { return h.f.Close() }
func (h *dirHandle) Truncate(context.Context, int64) error      { return vfs.ErrIsDir }

func (h *dirHandle) Stat(ctx context.Context) (vfs.Stat, error) {
	fi, err := h.f.Stat()
	if err != nil {
		return vfs.Stat{}, translate("stat", h.name, err)
	}
	return h.fsys.virtualStat(h.name, vfs.StatFromFileInfo(fi)), nil
}

func (h *dirHandle) Chmod(ctx context.Context, mode vfs.FileMode) error {
	if err := h.f.Chmod(mode.Perm()); err != nil {
		return translate("chmod", h.name, err)
	}
	return nil
}

func (h *dirHandle) Chown(ctx context.Context, uid, gid int) error {
	if h.fsys.opts.VirtualizeUidGid {
		h.fsys.chownMu.Lock()
		h.fsys.chownData[h.name] = [2]int{uid, gid}
		h.fsys.chownMu.Unlock()
		return nil
	}
	return h.f.Chown(uid, gid)
}

func (h *dirHandle) Utimes(ctx context.Context, atimeMs, mtimeMs int64) error {
	return os.Chtimes(h.f.Name(), time.UnixMilli(atimeMs), time.UnixMilli(mtimeMs))
}

func (h *dirHandle) Sync(ctx context.Context) error     { return nil }
func (h *dirHandle) Datasync(ctx context.Context) error { return nil }
