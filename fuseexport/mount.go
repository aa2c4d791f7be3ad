// Package fuseexport projects a corefs.dev/corefs/vfs/fsys.FS onto a
// real host mountpoint via FUSE, so any combination of mounted backends
// (memfs, localfs, s3fs, p9fs, overlayfs) shows up as an ordinary
// directory tree to every other process on the machine.
//
// Grounded on fs/fusekit: the same go-fuse Inode/FileHandle split, the
// same Mount helper shape, reworked from fusekit's per-node io/fs.FS
// ("rootfs"/"fs" sub-filesystem pair) into a single shared *fsys.FS
// plus an absolute path string per node, since vfs/fsys.FS addresses
// everything by path through its mount table rather than handing back
// a scoped sub-filesystem per directory.
package fuseexport

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"corefs.dev/corefs/vfs/fsys"
)

type mount struct {
	path string
	*fuse.Server
}

func (m *mount) Close() error {
	if m.Server == nil {
		exec.Command("umount", m.path).Run()
		return nil
	}
	return m.Server.Unmount()
}

// Mount exports fsys at path, starting a background FUSE server. The
// returned io.Closer unmounts it.
func Mount(vfsys *fsys.FS, path string, ctx context.Context) (closer io.Closer, err error) {
	exec.Command("umount", path).Run()

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.New("unable to mkdir")
	}

	opts := &fs.Options{
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
	}
	opts.Debug = false

	server, err := fs.Mount(path, &node{vfs: vfsys, path: "/", ctx: ctx}, opts)
	if err != nil {
		return nil, err
	}

	return &mount{Server: server, path: path}, nil
}
