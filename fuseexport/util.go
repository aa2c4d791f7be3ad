package fuseexport

import (
	"hash/fnv"
	iofs "io/fs"

	"github.com/hanwen/go-fuse/v2/fuse"

	"corefs.dev/corefs/vfs"
)

// fakeIno synthesizes an inode number for backends (s3fs, p9fs) that
// don't report one, grounded on fusekit.fakeIno.
func fakeIno(path string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	return h.Sum64()
}

func ino(path string, st vfs.Stat) uint64 {
	if st.Ino != 0 {
		return st.Ino
	}
	return fakeIno(path)
}

// applyStat fills a fuse.Attr from a vfs.Stat, grounded on
// fusekit.applyStat but working directly off vfs.Stat's own
// uid/gid/mode/time fields instead of unwrapping a host Sys() value.
func applyStat(out *fuse.Attr, path string, st vfs.Stat) {
	out.Ino = ino(path, st)
	out.Size = uint64(st.Size)
	out.Mode = vfs.FileModeToUnixMode(st.Mode)
	out.Uid = st.Uid
	out.Gid = st.Gid
	out.Nlink = st.Nlink
	if out.Nlink == 0 {
		out.Nlink = 1
	}
	out.Blksize = uint32(st.Blksize)
	if out.Blksize == 0 {
		out.Blksize = 4096
	}
	out.Blocks = uint64(st.Blocks)
	out.Atime = uint64(st.Atime / 1000)
	out.Atimensec = uint32((st.Atime % 1000) * 1e6)
	out.Mtime = uint64(st.Mtime / 1000)
	out.Mtimensec = uint32((st.Mtime % 1000) * 1e6)
	out.Ctime = uint64(st.Ctime / 1000)
	out.Ctimensec = uint32((st.Ctime % 1000) * 1e6)
}

func fuseType(mode vfs.FileMode) uint32 {
	switch {
	case mode.IsDir():
		return fuse.S_IFDIR
	case mode&iofs.ModeSymlink != 0:
		return fuse.S_IFLNK
	default:
		return fuse.S_IFREG
	}
}
