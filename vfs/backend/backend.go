// Package backend defines the contract a storage backend implements to
// be mountable in the VFS: a small required interface plus a set of
// optional capability interfaces checked with type assertions at the
// call site, the same pattern the teacher's fs package uses for
// ChmodFS/RenameFS/SymlinkFS/etc.
package backend

import (
	"context"
	"io"

	"corefs.dev/corefs/vfs"
)

// Owner carries the uid/gid a backend should record against a newly
// created file or directory. Backends that have no notion of ownership
// (e.g. localfs with VirtualizeUidGid off) may ignore it.
type Owner struct {
	Uid, Gid uint32
}

// Backend is the minimal contract every leaf filesystem (memfs, localfs,
// s3fs, p9fs, ...) and every composing filesystem (mutexfs, overlayfs)
// must satisfy.
type Backend interface {
	// Stat returns metadata for name without following a trailing
	// symlink.
	Stat(ctx context.Context, name string) (vfs.Stat, error)

	// OpenFile opens name per flag, returning a Handle. Directories
	// are opened for Readdir only; Read/Write on a directory handle
	// is an error. owner is only consulted when flag.CreateIfMissing
	// creates a new node.
	OpenFile(ctx context.Context, name string, flag vfs.Flag, perm vfs.FileMode, owner Owner) (Handle, error)

	Mkdir(ctx context.Context, name string, perm vfs.FileMode, owner Owner) error
	Readdir(ctx context.Context, name string) ([]vfs.Stat, []string, error)
	Rename(ctx context.Context, oldname, newname string) error
	Unlink(ctx context.Context, name string) error
	Rmdir(ctx context.Context, name string) error

	// Sync flushes any buffered state (coalesced writers, deletion
	// logs) to durable storage. Backends with nothing to flush may
	// no-op.
	Sync(ctx context.Context) error
}

// Handle is an open file's I/O surface.
type Handle interface {
	io.Reader
	io.Writer
	io.ReaderAt
	io.WriterAt
	io.Seeker
	io.Closer

	Stat(ctx context.Context) (vfs.Stat, error)
	Truncate(ctx context.Context, size int64) error
	Chmod(ctx context.Context, mode vfs.FileMode) error
	Chown(ctx context.Context, uid, gid int) error
	Utimes(ctx context.Context, atimeMs, mtimeMs int64) error

	// Sync flushes both data and metadata to durable storage. Datasync
	// flushes data only, skipping a metadata-only update (e.g. atime)
	// where the backend can tell the difference; backends without a
	// real metadata journal (memfs, and every backend here except a
	// real localfs) may treat the two identically.
	Sync(ctx context.Context) error
	Datasync(ctx context.Context) error
}

// Statfs reports coarse filesystem-level capacity for a mount, the
// portable subset of POSIX struct statfs every backend can plausibly
// report even when (like memfs) it has no real notion of free space.
type Statfs struct {
	Bsize   int64 // preferred I/O block size
	Blocks  int64 // total blocks, in Bsize units
	Bfree   int64 // free blocks
	Bavail  int64 // free blocks available to an unprivileged caller
	Files   int64 // total file nodes
	Ffree   int64 // free file nodes
	NameLen int64 // maximum filename length
}

// Statfser is implemented by backends that can report real capacity
// figures. Backends without one (memfs) let vfs/fsys synthesize a
// Statfs reporting unlimited space.
type Statfser interface {
	Statfs(ctx context.Context, name string) (Statfs, error)
}

// Linker is implemented by backends that support symlinks.
type Linker interface {
	Symlink(ctx context.Context, oldname, newname string) error
	Readlink(ctx context.Context, name string) (string, error)
}

// HardLinker is implemented by backends that support hard links within
// themselves; cross-backend hard links are always EXDEV regardless.
type HardLinker interface {
	Link(ctx context.Context, oldname, newname string) error
}

// Xattrer is implemented by backends that carry extended attributes,
// grounded on the teacher's fs.XattrFS capability interface.
type Xattrer interface {
	SetXattr(ctx context.Context, name, attr string, value []byte) error
	GetXattr(ctx context.Context, name, attr string) ([]byte, error)
	ListXattrs(ctx context.Context, name string) ([]string, error)
	RemoveXattr(ctx context.Context, name, attr string) error
}

// Watcher is implemented by backends that can notify the watch bus of
// out-of-band changes (e.g. a remote backend receiving a push).
type Watcher interface {
	Watch(ctx context.Context, name string, emit func(kind, path string)) (cancel func(), err error)
}

// Feature flags, probed via Metadata, let vfs/fsys know which optional
// POSIX behaviors (setuid/setgid inheritance, hard links) a backend
// implements without forcing every backend to implement every
// interface, mirroring how the teacher probes capability interfaces.
type Feature int

const (
	FeatureSetid Feature = iota
	FeatureHardlink
	FeatureXattr
	FeatureSymlink
)

// Metadata describes a backend's identity and capabilities for logging
// and feature probing.
type Metadata struct {
	Name     string
	Features []Feature
}

// Describer is implemented by backends that want to report Metadata;
// backends that don't implement it are assumed to have no optional
// features.
type Describer interface {
	Metadata() Metadata
}

func HasFeature(b Backend, f Feature) bool {
	d, ok := b.(Describer)
	if !ok {
		return false
	}
	for _, have := range d.Metadata().Features {
		if have == f {
			return true
		}
	}
	return false
}

// Options is implemented by every backend's construction options type,
// generalizing the ad hoc option handling the teacher's localfs.New /
// localfs.NewWithVirtualUidGid pair uses into one validated struct per
// backend.
type Options interface {
	Validate() error
}
