//go:build (linux || dragonfly || solaris) && !(arm64 || arm || 386)

package vfs

import "syscall"

// fillSysStat extracts uid/gid/ino/nlink/blocks from a host
// syscall.Stat_t, grounded on pstat.SysToStat's field mapping for this
// build tag set.
func fillSysStat(s *Stat, sys any) {
	st, ok := sys.(*syscall.Stat_t)
	if !ok || st == nil {
		return
	}
	s.Ino = st.Ino
	s.Nlink = uint32(st.Nlink)
	s.Uid = st.Uid
	s.Gid = st.Gid
	s.Blksize = st.Blksize
	s.Blocks = st.Blocks
	s.Atime = st.Atim.Sec*1000 + st.Atim.Nsec/1e6
	s.Ctime = st.Ctim.Sec*1000 + st.Ctim.Nsec/1e6
}
