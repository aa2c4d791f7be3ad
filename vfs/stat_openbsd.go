//go:build openbsd

package vfs

import "syscall"

func fillSysStat(s *Stat, sys any) {
	st, ok := sys.(*syscall.Stat_t)
	if !ok || st == nil {
		return
	}
	s.Ino = st.Ino
	s.Nlink = st.Nlink
	s.Uid = st.Uid
	s.Gid = st.Gid
	s.Blksize = int64(st.Blksize)
	s.Blocks = st.Blocks
	s.Atime = st.Atim.Sec*1000 + st.Atim.Nsec/1e6
	s.Ctime = st.Ctim.Sec*1000 + st.Ctim.Nsec/1e6
}
