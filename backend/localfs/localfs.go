// Package localfs is a backend.Backend over a real OS directory tree,
// sandboxed with os.Root so every path operation stays confined to the
// mounted directory regardless of ".." segments or symlink tricks.
//
// Grounded on the teacher's fs/localfs (os.Root-scoped Create/Open/
// Mkdir/Remove/Rename/Stat/Chmod/Chown/Chtimes/Symlink/Readlink set,
// virtualized-uid/gid option) for translating a host syscall.Stat_t
// into the portable vfs.Stat.
package localfs

import (
	"context"
	iofs "io/fs"
	"log/slog"
	"os"
	"sync"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

// Options configures a localfs backend.
type Options struct {
	// VirtualizeUidGid, when true, keeps ownership in memory instead of
	// applying it on disk: each file reports the uid/gid recorded for it
	// at creation or by Chown, or 0:0 when none was recorded, matching
	// the teacher's NewWithVirtualUidGid mode for running unprivileged.
	VirtualizeUidGid bool
	Log              *slog.Logger
}

func (o Options) Validate() error { return nil }

// FS is a backend.Backend rooted at a real directory on disk.
type FS struct {
	root *os.Root
	opts Options
	log  *slog.Logger

	chownMu   sync.RWMutex
	chownData map[string][2]int // path -> [uid, gid], only used when virtualizing
}

// New opens dir as the backend's root.
func New(dir string, opts Options) (*FS, error) {
	r, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return &FS{root: r, opts: opts, log: opts.Log, chownData: make(map[string][2]int)}, nil
}

var _ backend.Backend = (*FS)(nil)
var _ backend.Linker = (*FS)(nil)

func (fsys *FS) virtualStat(name string, st vfs.Stat) vfs.Stat {
	if !fsys.opts.VirtualizeUidGid {
		return st
	}
	fsys.chownMu.RLock()
	owner, ok := fsys.chownData[name]
	fsys.chownMu.RUnlock()
	if ok {
		st.Uid = uint32(owner[0])
		st.Gid = uint32(owner[1])
	} else {
		st.Uid, st.Gid = 0, 0
	}
	return st
}

func (fsys *FS) Stat(ctx context.Context, name string) (vfs.Stat, error) {
	fi, err := fsys.root.Lstat(rootPath(name))
	if err != nil {
		return vfs.Stat{}, translate("stat", name, err)
	}
	return fsys.virtualStat(name, vfs.StatFromFileInfo(fi)), nil
}

func (fsys *FS) OpenFile(ctx context.Context, name string, flag vfs.Flag, perm vfs.FileMode, owner backend.Owner) (backend.Handle, error) {
	osFlag := os.O_RDONLY
	switch {
	case flag.Readable && (flag.Writable || flag.Appendable):
		osFlag = os.O_RDWR
	case flag.Writable || flag.Appendable:
		osFlag = os.O_WRONLY
	}
	if flag.Appendable {
		osFlag |= os.O_APPEND
	}
	if flag.Truncate && !flag.Appendable {
		osFlag |= os.O_TRUNC
	}
	if flag.CreateIfMissing {
		osFlag |= os.O_CREATE
	}
	if flag.Exclusive {
		osFlag |= os.O_EXCL
	}

	_, existedErr := fsys.root.Lstat(rootPath(name))
	existed := existedErr == nil

	f, err := fsys.root.OpenFile(rootPath(name), osFlag, perm.Perm())
	if err != nil {
		return nil, translate("open", name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, translate("open", name, err)
	}
	if !existed {
		fsys.applyOwner(name, owner)
	}
	if fi.IsDir() {
		return &dirHandle{f: f, fsys: fsys, name: name}, nil
	}
	return &fileHandle{f: f, fsys: fsys, name: name}, nil
}

func (fsys *FS) Mkdir(ctx context.Context, name string, perm vfs.FileMode, owner backend.Owner) error {
	if err := fsys.root.Mkdir(rootPath(name), perm.Perm()); err != nil {
		return translate("mkdir", name, err)
	}
	fsys.applyOwner(name, owner)
	return nil
}

// applyOwner records owner for name when virtualizing ownership; on a
// real OS-backed root a process without CAP_CHOWN can't chown to an
// arbitrary uid/gid, so without virtualization the file simply keeps
// the identity of whatever ran this process, same as the teacher's
// localfs with VirtualizeUidGid off.
func (fsys *FS) applyOwner(name string, owner backend.Owner) {
	if !fsys.opts.VirtualizeUidGid {
		return
	}
	fsys.chownMu.Lock()
	fsys.chownData[name] = [2]int{int(owner.Uid), int(owner.Gid)}
	fsys.chownMu.Unlock()
}

func (fsys *FS) Readdir(ctx context.Context, name string) ([]vfs.Stat, []string, error) {
	f, err := fsys.root.Open(rootPath(name))
	if err != nil {
		return nil, nil, translate("readdir", name, err)
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, nil, translate("readdir", name, err)
	}
	stats := make([]vfs.Stat, 0, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		names = append(names, e.Name())
		stats = append(stats, fsys.virtualStat(vfs.Join(name, e.Name()), vfs.StatFromFileInfo(fi)))
	}
	return stats, names, nil
}

func (fsys *FS) Rename(ctx context.Context, oldname, newname string) error {
	if err := fsys.root.Rename(rootPath(oldname), rootPath(newname)); err != nil {
		return translate("rename", oldname, err)
	}
	return nil
}

func (fsys *FS) Unlink(ctx context.Context, name string) error {
	if err := fsys.root.Remove(rootPath(name)); err != nil {
		return translate("unlink", name, err)
	}
	return nil
}

func (fsys *FS) Rmdir(ctx context.Context, name string) error {
	if err := fsys.root.Remove(rootPath(name)); err != nil {
		return translate("rmdir", name, err)
	}
	return nil
}

func (fsys *FS) Sync(ctx context.Context) error { return nil }

func (fsys *FS) Symlink(ctx context.Context, oldname, newname string) error {
	if err := fsys.root.Symlink(oldname, rootPath(newname)); err != nil {
		return translate("symlink", newname, err)
	}
	return nil
}

func (fsys *FS) Readlink(ctx context.Context, name string) (string, error) {
	target, err := fsys.root.Readlink(rootPath(name))
	if err != nil {
		return "", translate("readlink", name, err)
	}
	return target, nil
}

func (fsys *FS) Metadata() backend.Metadata {
	md := backend.Metadata{Name: "localfs"}
	if !fsys.opts.VirtualizeUidGid {
		// A real OS root already applies its own setuid/setgid
		// inheritance at the kernel level; fsys's emulation is only
		// needed when ownership itself is virtualized above it.
		md.Features = append(md.Features, backend.FeatureSetid)
	}
	return md
}

// rootPath strips the leading "/" the VFS uses for absolute paths:
// os.Root treats its argument as relative to the root directory and
// rejects a leading slash.
func rootPath(name string) string {
	if name == "/" || name == "" {
		return "."
	}
	if name[0] == '/' {
		return name[1:]
	}
	return name
}

// translate maps an *os.PathError (or *os.LinkError) from the os.Root
// call into a *vfs.PathError carrying the caller-facing path and a
// POSIX sentinel, grounded on the teacher's error mapping.
func translate(op, name string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err):
		return vfs.NewPathError(op, name, vfs.ErrNotExist)
	case os.IsExist(err):
		return vfs.NewPathError(op, name, vfs.ErrExist)
	case os.IsPermission(err):
		return vfs.NewPathError(op, name, vfs.ErrPermission)
	}
	if pe, ok := err.(*iofs.PathError); ok {
		return vfs.NewPathError(op, name, pe.Err)
	}
	return vfs.NewPathError(op, name, err)
}
