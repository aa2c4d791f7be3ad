package vfs

import (
	"io/fs"
	"time"
)

// FileMode reuses io/fs's mode bits (ModeDir, ModeSymlink, permission
// bits, ...) the same way the teacher's fs package aliases them instead
// of inventing a parallel set.
type FileMode = fs.FileMode

// Stat is the portable file metadata record every backend reports and
// every caller of the VFS API receives, grounded on the fields the
// teacher's pstat package extracts from a host syscall.Stat_t plus the
// birth time a handful of filesystems (and this one) track separately
// from ctime.
type Stat struct {
	Mode      FileMode
	Uid       uint32
	Gid       uint32
	Size      int64
	Atime     int64 // unix milliseconds
	Mtime     int64
	Ctime     int64
	Birthtime int64
	Ino       uint64
	Nlink     uint32
	Blocks    int64
	Blksize   int64
}

// FileInfo adapts a (name, Stat) pair to io/fs.FileInfo so Stat values
// compose with io/fs.WalkDir, io/fs.Glob and other stdlib consumers.
type FileInfo struct {
	FileName string
	Stat     Stat
}

func (fi FileInfo) Name() string       { return fi.FileName }
func (fi FileInfo) Size() int64        { return fi.Stat.Size }
func (fi FileInfo) Mode() FileMode     { return fi.Stat.Mode }
func (fi FileInfo) ModTime() time.Time { return time.UnixMilli(fi.Stat.Mtime) }
func (fi FileInfo) IsDir() bool        { return fi.Stat.Mode.IsDir() }
func (fi FileInfo) Sys() any           { return &fi.Stat }

var _ fs.FileInfo = FileInfo{}

// StatFromFileInfo builds a Stat from a generic fs.FileInfo, extracting
// the platform-specific fields (uid/gid/ino/nlink/blocks) via a host
// syscall.Stat_t when present and falling back to synthesized values
// (ino 0, nlink 1, blocks derived from size) for backends that don't
// expose one, the same fallback the teacher's localfs uses for
// backends/platforms without a real stat_t.
func StatFromFileInfo(fi fs.FileInfo) Stat {
	s := Stat{
		Mode:    fi.Mode(),
		Size:    fi.Size(),
		Mtime:   fi.ModTime().UnixMilli(),
		Atime:   fi.ModTime().UnixMilli(),
		Ctime:   fi.ModTime().UnixMilli(),
		Nlink:   1,
		Blksize: 4096,
	}
	s.Blocks = (s.Size + 511) / 512
	if sys, ok := fi.Sys().(*Stat); ok && sys != nil {
		return *sys
	}
	fillSysStat(&s, fi.Sys())
	return s
}

// unix S_IFMT file type bits, used by FileModeToUnixMode/UnixModeToFileMode
// to translate between FileMode's bit layout and the one wire protocols
// (9P, FUSE) and raw syscalls expect.
const (
	unixIFDIR  = 0o040000
	unixIFCHR  = 0o020000
	unixIFBLK  = 0o060000
	unixIFREG  = 0o100000
	unixIFIFO  = 0o010000
	unixIFLNK  = 0o120000
	unixIFSOCK = 0o140000
)

// FileModeToUnixMode packs a FileMode's type and permission bits into a
// raw Unix mode_t, for callers (fuseexport) that hand a mode to a wire
// protocol expecting one.
func FileModeToUnixMode(mode FileMode) uint32 {
	unixMode := uint32(mode & fs.ModePerm)
	switch {
	case mode&fs.ModeDir != 0:
		unixMode |= unixIFDIR
	case mode&fs.ModeSymlink != 0:
		unixMode |= unixIFLNK
	case mode&fs.ModeCharDevice != 0:
		unixMode |= unixIFCHR
	case mode&fs.ModeDevice != 0:
		unixMode |= unixIFBLK
	case mode&fs.ModeNamedPipe != 0:
		unixMode |= unixIFIFO
	case mode&fs.ModeSocket != 0:
		unixMode |= unixIFSOCK
	default:
		unixMode |= unixIFREG
	}
	return unixMode
}

// UnixModeToFileMode is FileModeToUnixMode's inverse, for callers
// receiving a raw mode_t off a wire protocol or syscall result.
func UnixModeToFileMode(unixMode uint32) FileMode {
	perm := FileMode(unixMode & 0o777)
	switch unixMode & 0o170000 {
	case unixIFDIR:
		return fs.ModeDir | perm
	case unixIFLNK:
		return fs.ModeSymlink | perm
	case unixIFBLK:
		return fs.ModeDevice | perm
	case unixIFCHR:
		return fs.ModeCharDevice | perm
	case unixIFIFO:
		return fs.ModeNamedPipe | perm
	case unixIFSOCK:
		return fs.ModeSocket | perm
	default:
		return perm
	}
}
