package fuseexport

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/fsys"
)

// node is a go-fuse inode addressing an absolute path in a shared
// *fsys.FS, grounded on fusekit.node but carrying one FS reference
// plus a path instead of a per-directory sub-filesystem, since
// vfs/fsys.FS resolves every operation from an absolute path through
// its own mount table rather than exposing an fs.Sub-able tree.
type node struct {
	fs.Inode
	vfs  *fsys.FS
	path string
	ctx  context.Context
}

func (n *node) child(name string) string {
	return vfs.Join(n.path, name)
}

var _ = (fs.NodeGetattrer)((*node)(nil))

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := n.vfs.Stat(n.ctx, n.path)
	if err != nil {
		return sysErrno(err)
	}
	applyStat(&out.Attr, n.path, st)
	return 0
}

var _ = (fs.NodeSetattrer)((*node)(nil))

func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if in.Valid&fuse.FATTR_MODE != 0 {
		if err := n.vfs.Chmod(n.ctx, n.path, vfs.FileMode(in.Mode)); err != nil {
			return sysErrno(err)
		}
	}

	if in.Valid&(fuse.FATTR_UID|fuse.FATTR_GID) != 0 {
		uid, gid := -1, -1
		if in.Valid&fuse.FATTR_UID != 0 {
			uid = int(in.Uid)
		}
		if in.Valid&fuse.FATTR_GID != 0 {
			gid = int(in.Gid)
		}
		if err := n.vfs.Chown(n.ctx, n.path, uid, gid); err != nil {
			return sysErrno(err)
		}
	}

	if in.Valid&fuse.FATTR_SIZE != 0 {
		fd, err := n.vfs.Open(n.ctx, n.path, "w", 0)
		if err != nil {
			return sysErrno(err)
		}
		terr := n.vfs.Truncate(n.ctx, fd, int64(in.Size))
		n.vfs.Close(n.ctx, fd)
		if terr != nil {
			return sysErrno(terr)
		}
	}

	if in.Valid&(fuse.FATTR_ATIME|fuse.FATTR_MTIME) != 0 {
		st, err := n.vfs.Stat(n.ctx, n.path)
		if err != nil {
			return sysErrno(err)
		}
		atimeMs, mtimeMs := st.Atime, st.Mtime
		now := time.Now().UnixMilli()
		if in.Valid&fuse.FATTR_ATIME != 0 {
			if in.Valid&fuse.FATTR_ATIME_NOW != 0 {
				atimeMs = now
			} else {
				atimeMs = int64(in.Atime)*1000 + int64(in.Atimensec)/1e6
			}
		}
		if in.Valid&fuse.FATTR_MTIME != 0 {
			if in.Valid&fuse.FATTR_MTIME_NOW != 0 {
				mtimeMs = now
			} else {
				mtimeMs = int64(in.Mtime)*1000 + int64(in.Mtimensec)/1e6
			}
		}
		if err := n.vfs.Utimes(n.ctx, n.path, atimeMs, mtimeMs); err != nil {
			return sysErrno(err)
		}
	}

	st, err := n.vfs.Stat(n.ctx, n.path)
	if err != nil {
		return sysErrno(err)
	}
	applyStat(&out.Attr, n.path, st)
	return 0
}

var _ = (fs.NodeReaddirer)((*node)(nil))

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := n.vfs.Readdir(n.ctx, n.path)
	if err != nil {
		return nil, sysErrno(err)
	}

	fentries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		childPath := n.child(name)
		st, err := n.vfs.Lstat(n.ctx, childPath)
		var mode uint32 = fuse.S_IFREG
		var inode uint64
		if err == nil {
			mode = fuseType(st.Mode)
			inode = ino(childPath, st)
		} else {
			inode = fakeIno(childPath)
		}
		fentries = append(fentries, fuse.DirEntry{Name: name, Mode: mode, Ino: inode})
	}

	return fs.NewListDirStream(fentries), 0
}

var _ = (fs.NodeOpendirer)((*node)(nil))

func (n *node) Opendir(ctx context.Context) syscall.Errno { return 0 }

var _ = (fs.NodeLookuper)((*node)(nil))

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.child(name)
	st, err := n.vfs.Lstat(n.ctx, childPath)
	if err != nil {
		return nil, sysErrno(err)
	}
	applyStat(&out.Attr, childPath, st)

	return n.Inode.NewPersistentInode(ctx, &node{
		vfs: n.vfs, ctx: n.ctx, path: childPath,
	}, fs.StableAttr{Mode: fuseType(st.Mode), Ino: ino(childPath, st)}), 0
}

var _ = (fs.NodeCreater)((*node)(nil))

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := n.child(name)
	fd, err := n.vfs.Open(n.ctx, childPath, "w+", vfs.FileMode(mode))
	if err != nil {
		return nil, nil, 0, sysErrno(err)
	}
	st, err := n.vfs.Fstat(n.ctx, fd)
	if err != nil {
		n.vfs.Close(n.ctx, fd)
		return nil, nil, 0, sysErrno(err)
	}
	applyStat(&out.Attr, childPath, st)

	inode := n.Inode.NewPersistentInode(ctx, &node{
		vfs: n.vfs, ctx: n.ctx, path: childPath,
	}, fs.StableAttr{Mode: fuseType(st.Mode), Ino: ino(childPath, st)})

	return inode, &handle{vfs: n.vfs, fd: fd, path: childPath}, fuse.FOPEN_DIRECT_IO, 0
}

var _ = (fs.NodeOpener)((*node)(nil))

func (n *node) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	flagStr := "r"
	switch {
	case flags&syscall.O_RDWR != 0:
		flagStr = "r+"
	case flags&syscall.O_WRONLY != 0:
		flagStr = "w+"
	}
	if flags&syscall.O_CREAT != 0 {
		flagStr = "w+"
	}

	fd, err := n.vfs.Open(n.ctx, n.path, flagStr, 0644)
	if err != nil {
		return nil, 0, sysErrno(err)
	}
	return &handle{vfs: n.vfs, fd: fd, path: n.path}, fuse.FOPEN_DIRECT_IO, 0
}

var _ = (fs.NodeMkdirer)((*node)(nil))

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.child(name)
	if err := n.vfs.Mkdir(n.ctx, childPath, vfs.FileMode(mode), false); err != nil {
		return nil, sysErrno(err)
	}
	st, err := n.vfs.Stat(n.ctx, childPath)
	if err != nil {
		return nil, sysErrno(err)
	}
	applyStat(&out.Attr, childPath, st)

	return n.Inode.NewPersistentInode(ctx, &node{
		vfs: n.vfs, ctx: n.ctx, path: childPath,
	}, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: ino(childPath, st)}), 0
}

var _ = (fs.NodeUnlinker)((*node)(nil))

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	if err := n.vfs.Remove(n.ctx, n.child(name)); err != nil {
		return sysErrno(err)
	}
	return 0
}

var _ = (fs.NodeRmdirer)((*node)(nil))

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	if err := n.vfs.Remove(n.ctx, n.child(name)); err != nil {
		return sysErrno(err)
	}
	return 0
}

var _ = (fs.NodeRenamer)((*node)(nil))

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	newParentNode, ok := newParent.(*node)
	if !ok {
		return syscall.EINVAL
	}
	oldPath := n.child(name)
	newPath := newParentNode.child(newName)
	if err := n.vfs.Rename(n.ctx, oldPath, newPath); err != nil {
		return sysErrno(err)
	}
	return 0
}

var _ = (fs.NodeSymlinker)((*node)(nil))

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.child(name)
	if err := n.vfs.Symlink(n.ctx, target, childPath); err != nil {
		return nil, sysErrno(err)
	}
	st, err := n.vfs.Lstat(n.ctx, childPath)
	if err != nil {
		return nil, sysErrno(err)
	}
	applyStat(&out.Attr, childPath, st)

	return n.Inode.NewPersistentInode(ctx, &node{
		vfs: n.vfs, ctx: n.ctx, path: childPath,
	}, fs.StableAttr{Mode: fuse.S_IFLNK, Ino: ino(childPath, st)}), 0
}

var _ = (fs.NodeReadlinker)((*node)(nil))

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.vfs.Readlink(n.ctx, n.path)
	if err != nil {
		return nil, sysErrno(err)
	}
	return []byte(target), 0
}

var _ = (fs.NodeLinker)((*node)(nil))

func (n *node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	targetNode, ok := target.(*node)
	if !ok {
		return nil, syscall.EINVAL
	}
	childPath := n.child(name)
	if err := n.vfs.Link(n.ctx, targetNode.path, childPath); err != nil {
		return nil, sysErrno(err)
	}
	st, err := n.vfs.Lstat(n.ctx, childPath)
	if err != nil {
		return nil, sysErrno(err)
	}
	applyStat(&out.Attr, childPath, st)

	return n.Inode.NewPersistentInode(ctx, &node{
		vfs: n.vfs, ctx: n.ctx, path: childPath,
	}, fs.StableAttr{Mode: fuseType(st.Mode), Ino: ino(childPath, st)}), 0
}

var _ = (fs.NodeGetxattrer)((*node)(nil))

func (n *node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	data, err := n.vfs.GetXattr(n.ctx, n.path, attr)
	if err != nil {
		return 0, sysErrno(err)
	}
	if dest == nil {
		return uint32(len(data)), 0
	}
	if len(dest) < len(data) {
		return uint32(len(data)), syscall.ERANGE
	}
	copy(dest, data)
	return uint32(len(data)), 0
}

var _ = (fs.NodeSetxattrer)((*node)(nil))

func (n *node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	if err := n.vfs.SetXattr(n.ctx, n.path, attr, data); err != nil {
		return sysErrno(err)
	}
	return 0
}

var _ = (fs.NodeListxattrer)((*node)(nil))

func (n *node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	attrs, err := n.vfs.ListXattrs(n.ctx, n.path)
	if err != nil {
		return 0, sysErrno(err)
	}
	var total uint32
	for _, a := range attrs {
		total += uint32(len(a) + 1)
	}
	if dest == nil {
		return total, 0
	}
	if uint32(len(dest)) < total {
		return total, syscall.ERANGE
	}
	offset := 0
	for _, a := range attrs {
		copy(dest[offset:], a)
		offset += len(a)
		dest[offset] = 0
		offset++
	}
	return total, 0
}

var _ = (fs.NodeRemovexattrer)((*node)(nil))

func (n *node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	if err := n.vfs.RemoveXattr(n.ctx, n.path, attr); err != nil {
		return sysErrno(err)
	}
	return 0
}
