//go:build freebsd || darwin || netbsd

package vfs

import "syscall"

// fillSysStat mirrors pstat's freebsd/darwin/netbsd variant, where the
// timestamp fields are named Atimespec/Mtimespec/Ctimespec instead of
// Atim/Mtim/Ctim.
func fillSysStat(s *Stat, sys any) {
	st, ok := sys.(*syscall.Stat_t)
	if !ok || st == nil {
		return
	}
	s.Ino = st.Ino
	s.Nlink = uint32(st.Nlink)
	s.Uid = st.Uid
	s.Gid = st.Gid
	s.Blksize = int64(st.Blksize)
	s.Blocks = st.Blocks
	s.Atime = st.Atimespec.Sec*1000 + st.Atimespec.Nsec/1e6
	s.Ctime = st.Ctimespec.Sec*1000 + st.Ctimespec.Nsec/1e6
}
