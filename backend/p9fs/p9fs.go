// Package p9fs is a backend.Backend over the 9P2000.L protocol,
// letting a remote p9 server (or another corefs process exporting one)
// be mounted as a leaf backend.
//
// Grounded on fs/p9kit.ClientFS/FS: walking a path into a p9.File
// handle, translating p9 error strings into POSIX sentinels, and the
// GetAttr-derived fs.FileInfo construction, reworked from io/fs.FS's
// Open/Stat/Mkdir surface to the backend.Backend contract and from
// p9kit's string-matching translateError to vfs's structured
// PathError/Errno sentinels.
package p9fs

import (
	"context"
	iofs "io/fs"
	"net"
	"os"
	"path"
	"strings"

	"github.com/hugelgupf/p9/p9"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

// Options configures a p9fs backend.
type Options struct {
	Aname string // attach name passed to the server's Attach
}

func (o Options) Validate() error { return nil }

// FS is a backend.Backend talking 9P2000.L over conn.
type FS struct {
	client *p9.Client
	root   p9.File
}

// New attaches to a 9P server over conn.
func New(conn net.Conn, opts Options, clientOpts ...p9.ClientOpt) (*FS, error) {
	client, err := p9.NewClient(conn, clientOpts...)
	if err != nil {
		return nil, err
	}
	root, err := client.Attach(opts.Aname)
	if err != nil {
		return nil, err
	}
	return &FS{client: client, root: root}, nil
}

var _ backend.Backend = (*FS)(nil)
var _ backend.Linker = (*FS)(nil)

func walkParts(name string) []string {
	name = path.Clean("/" + name)
	if name == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(name, "/"), "/")
}

func (fsys *FS) walk(name string) (p9.File, error) {
	_, f, err := fsys.root.Walk(walkParts(name))
	if err != nil {
		return nil, translate("walk", name, err)
	}
	return f, nil
}

func (fsys *FS) Stat(ctx context.Context, name string) (vfs.Stat, error) {
	f, err := fsys.walk(name)
	if err != nil {
		return vfs.Stat{}, err
	}
	defer f.Close()
	return statFrom(f, name)
}

func (fsys *FS) OpenFile(ctx context.Context, name string, flag vfs.Flag, perm vfs.FileMode, owner backend.Owner) (backend.Handle, error) {
	f, err := fsys.walk(name)
	if err != nil {
		if !vfs.IsNotExist(err) || !flag.CreateIfMissing {
			return nil, err
		}
		dir, derr := fsys.walk(path.Dir(name))
		if derr != nil {
			return nil, derr
		}
		base := path.Base(name)
		_, _, _, cerr := dir.Create(base, openFlags(flag), p9.FileMode(perm.Perm()), p9.UID(owner.Uid), p9.GID(owner.Gid))
		dir.Close()
		if cerr != nil {
			return nil, translate("open", name, cerr)
		}
		f, err = fsys.walk(name)
		if err != nil {
			return nil, err
		}
	} else if flag.Exclusive {
		f.Close()
		return nil, vfs.NewPathError("open", name, vfs.ErrExist)
	} else if flag.Truncate && !flag.Appendable {
		if serr := f.SetAttr(p9.SetAttrMask{Size: true}, p9.SetAttr{Size: 0}); serr != nil {
			f.Close()
			return nil, translate("open", name, serr)
		}
	}

	if _, _, err := f.Open(openFlags(flag)); err != nil {
		f.Close()
		return nil, translate("open", name, err)
	}
	h := &handle{file: f, name: name}
	if flag.Appendable {
		if st, err := statFrom(f, name); err == nil {
			h.offset = st.Size
		}
	}
	return h, nil
}

func openFlags(flag vfs.Flag) p9.OpenFlags {
	switch {
	case flag.Readable && (flag.Writable || flag.Appendable):
		return p9.ReadWrite
	case flag.Writable || flag.Appendable:
		return p9.WriteOnly
	default:
		return p9.ReadOnly
	}
}

func (fsys *FS) Mkdir(ctx context.Context, name string, perm vfs.FileMode, owner backend.Owner) error {
	d, err := fsys.walk(path.Dir(name))
	if err != nil {
		return err
	}
	defer d.Close()
	_, err = d.Mkdir(path.Base(name), p9.FileMode(perm.Perm()), p9.UID(owner.Uid), p9.GID(owner.Gid))
	return translate("mkdir", name, err)
}

func (fsys *FS) Readdir(ctx context.Context, name string) ([]vfs.Stat, []string, error) {
	f, err := fsys.walk(name)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	if _, _, err := f.Open(p9.ReadOnly); err != nil {
		return nil, nil, translate("readdir", name, err)
	}
	dirents, err := f.Readdir(0, 65535)
	if err != nil {
		return nil, nil, translate("readdir", name, err)
	}
	names := make([]string, 0, len(dirents))
	stats := make([]vfs.Stat, 0, len(dirents))
	for _, entry := range dirents {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		child, err := fsys.walk(vfs.Join(name, entry.Name))
		if err != nil {
			continue
		}
		st, err := statFrom(child, entry.Name)
		child.Close()
		if err != nil {
			continue
		}
		names = append(names, entry.Name)
		stats = append(stats, st)
	}
	return stats, names, nil
}

func (fsys *FS) Rename(ctx context.Context, oldname, newname string) error {
	oldDir, err := fsys.walk(path.Dir(oldname))
	if err != nil {
		return err
	}
	defer oldDir.Close()
	newDir, err := fsys.walk(path.Dir(newname))
	if err != nil {
		return err
	}
	defer newDir.Close()
	return translate("rename", oldname, oldDir.RenameAt(path.Base(oldname), newDir, path.Base(newname)))
}

func (fsys *FS) Unlink(ctx context.Context, name string) error {
	return fsys.unlink(ctx, name, 0)
}

func (fsys *FS) Rmdir(ctx context.Context, name string) error {
	return fsys.unlink(ctx, name, 0x200) // AT_REMOVEDIR
}

func (fsys *FS) unlink(ctx context.Context, name string, flags uint32) error {
	d, err := fsys.walk(path.Dir(name))
	if err != nil {
		return err
	}
	defer d.Close()
	return translate("unlink", name, d.UnlinkAt(path.Base(name), flags))
}

func (fsys *FS) Sync(ctx context.Context) error { return nil }

func (fsys *FS) Symlink(ctx context.Context, oldname, newname string) error {
	d, err := fsys.walk(path.Dir(newname))
	if err != nil {
		return err
	}
	defer d.Close()
	_, err = d.Symlink(oldname, path.Base(newname), 0, 0)
	return translate("symlink", newname, err)
}

func (fsys *FS) Readlink(ctx context.Context, name string) (string, error) {
	f, err := fsys.walk(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	target, err := f.Readlink()
	if err != nil {
		return "", translate("readlink", name, err)
	}
	return target, nil
}

func (fsys *FS) Metadata() backend.Metadata {
	return backend.Metadata{Name: "p9fs", Features: []backend.Feature{backend.FeatureSymlink}}
}

func statFrom(f p9.File, name string) (vfs.Stat, error) {
	_, _, attr, err := f.GetAttr(p9.AttrMask{
		Mode: true, UID: true, GID: true, ATime: true, MTime: true, CTime: true, Size: true, NLink: true,
	})
	if err != nil {
		return vfs.Stat{}, translate("stat", name, err)
	}
	mode := vfs.FileMode(attr.Mode & 0o777)
	switch attr.Mode & 0o170000 {
	case p9.ModeDirectory:
		mode |= iofs.ModeDir
	case p9.ModeSymlink:
		mode |= iofs.ModeSymlink
	}
	return vfs.Stat{
		Mode: mode, Uid: uint32(attr.UID), Gid: uint32(attr.GID), Size: int64(attr.Size),
		Atime:   int64(attr.ATimeSeconds)*1000 + int64(attr.ATimeNanoSeconds)/1e6,
		Mtime:   int64(attr.MTimeSeconds)*1000 + int64(attr.MTimeNanoSeconds)/1e6,
		Ctime:   int64(attr.CTimeSeconds)*1000 + int64(attr.CTimeNanoSeconds)/1e6,
		Nlink:   uint32(attr.NLink),
		Blksize: 4096, Blocks: (int64(attr.Size) + 511) / 512,
	}, nil
}

// translate maps a p9 error's message (9P has no structured error
// codes on the wire in this library, only strings) into a vfs
// sentinel, grounded on p9kit.translateError's substring matching.
func translate(op, name string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "file exists"):
		return vfs.NewPathError(op, name, vfs.ErrExist)
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "not found"):
		return vfs.NewPathError(op, name, vfs.ErrNotExist)
	case strings.Contains(msg, "permission denied"):
		return vfs.NewPathError(op, name, vfs.ErrPermission)
	case strings.Contains(msg, "not empty"):
		return vfs.NewPathError(op, name, vfs.ErrNotEmpty)
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "bad"):
		return vfs.NewPathError(op, name, vfs.ErrInvalid)
	case os.IsNotExist(err):
		return vfs.NewPathError(op, name, vfs.ErrNotExist)
	case os.IsExist(err):
		return vfs.NewPathError(op, name, vfs.ErrExist)
	case os.IsPermission(err):
		return vfs.NewPathError(op, name, vfs.ErrPermission)
	}
	return vfs.NewPathError(op, name, vfs.ErrIO)
}
