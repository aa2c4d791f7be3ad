package fsys

import (
	"context"
	"math"
	"math/rand"
	"path"
	"sort"
	"strings"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

// Statfs reports coarse capacity info for the backend mounted at name.
// Backends with a real notion of free space (a real disk, a quota'd
// object store) implement backend.Statfser; everything else (memfs,
// and any backend that doesn't bother) gets a synthetic unlimited-space
// report, mirroring the "if not defined, the out argument will be
// zeroed with an OK result" contract FUSE's statfs callback uses.
func (f *FS) Statfs(ctx context.Context, name string) (backend.Statfs, error) {
	name = vfs.Normalize(name)
	b, local, err := f.resolve(name)
	if err != nil {
		return backend.Statfs{}, err
	}
	if sf, ok := b.(backend.Statfser); ok {
		st, err := sf.Statfs(ctx, local)
		if err != nil {
			return backend.Statfs{}, rewrite("statfs", name, err)
		}
		return st, nil
	}
	return backend.Statfs{
		Bsize:   4096,
		Blocks:  math.MaxInt32,
		Bfree:   math.MaxInt32,
		Bavail:  math.MaxInt32,
		Files:   math.MaxInt32,
		Ffree:   math.MaxInt32,
		NameLen: 255,
	}, nil
}

const mkdtempRetries = 10000

// Mkdtemp creates a new, uniquely-named directory under dir, with
// prefix prepended to the generated suffix, and returns its path.
// Grounded on os.MkdirTemp's retry-on-collision loop, generalized to
// retry against Mkdir's ErrExist instead of a host syscall error.
func (f *FS) Mkdtemp(ctx context.Context, dir, prefix string) (string, error) {
	dir = vfs.Normalize(dir)
	for i := 0; i < mkdtempRetries; i++ {
		name := vfs.Join(dir, prefix+randSuffix())
		if err := f.Mkdir(ctx, name, 0o700, false); err == nil {
			return name, nil
		} else if !vfs.IsExist(err) {
			return "", err
		}
	}
	return "", vfs.NewPathError("mkdtemp", dir, vfs.ErrExist)
}

const randSuffixChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randSuffix() string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = randSuffixChars[rand.Intn(len(randSuffixChars))]
	}
	return string(b)
}

// CopyFile copies the single regular file src to dst. Unlike Cp, it
// never recurses into a directory and, when exclusive is set
// (COPYFILE_EXCL), fails with ErrExist instead of overwriting an
// existing dst.
func (f *FS) CopyFile(ctx context.Context, src, dst string, exclusive bool) error {
	src = vfs.Normalize(src)
	dst = vfs.Normalize(dst)

	srcInfo, err := f.Stat(ctx, src)
	if err != nil {
		return err
	}
	if srcInfo.Mode.IsDir() {
		return vfs.NewPathError("copyfile", src, vfs.ErrIsDir)
	}

	flagStr := "w"
	if exclusive {
		flagStr = "wx"
	}

	srcFd, err := f.Open(ctx, src, "r", 0)
	if err != nil {
		return err
	}
	defer f.Close(ctx, srcFd)

	dstFd, err := f.Open(ctx, dst, flagStr, srcInfo.Mode.Perm())
	if err != nil {
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := f.Read(ctx, srcFd, buf)
		if n > 0 {
			if _, werr := f.Write(ctx, dstFd, buf[:n]); werr != nil {
				f.Close(ctx, dstFd)
				return werr
			}
		}
		if rerr != nil {
			break
		}
	}
	if err := f.Close(ctx, dstFd); err != nil {
		return err
	}
	f.watch.Emit("create", dst)
	return nil
}

// Dir is a cursor over a directory's entries, opened by Opendir, for
// callers that want to step through entries one at a time rather than
// take Readdir's single name slice.
type Dir struct {
	path  string
	names []string
	stats []vfs.Stat
	pos   int
}

// Next returns the next entry, or ok=false once the directory is
// exhausted.
func (d *Dir) Next() (name string, st vfs.Stat, ok bool) {
	if d.pos >= len(d.names) {
		return "", vfs.Stat{}, false
	}
	name, st = d.names[d.pos], d.stats[d.pos]
	d.pos++
	return name, st, true
}

// Rewind resets the cursor to the first entry.
func (d *Dir) Rewind() { d.pos = 0 }

// Close releases the directory cursor. Readdir already collects the
// whole listing up front, so there's no underlying resource to
// release; Close exists for parity with opendir/closedir.
func (d *Dir) Close() error { return nil }

// Opendir opens a directory stream over name's entries.
func (f *FS) Opendir(ctx context.Context, name string) (*Dir, error) {
	name = vfs.Normalize(name)
	b, local, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	stats, names, err := b.Readdir(ctx, local)
	if err != nil {
		return nil, rewrite("opendir", name, err)
	}
	return &Dir{path: name, names: names, stats: stats}, nil
}

// Glob returns all names matching pattern, which may contain the
// shell wildcards path.Match understands. Grounded on io/fs.Glob's
// dir/file split (a pattern is matched one path segment at a time,
// recursing into any segment that itself contains wildcards) but
// walking the mount table via Readdir/Lstat instead of a single
// io/fs.FS; path.Match itself is the same stdlib matcher io/fs.Glob
// uses, there being no third-party glob matcher anywhere in reach.
func (f *FS) Glob(ctx context.Context, pattern string) ([]string, error) {
	if !hasGlobMeta(pattern) {
		if _, err := f.Lstat(ctx, pattern); err != nil {
			return nil, nil
		}
		return []string{pattern}, nil
	}

	dir, file := path.Split(pattern)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "/"
	}

	var dirs []string
	if hasGlobMeta(dir) {
		var err error
		dirs, err = f.Glob(ctx, dir)
		if err != nil {
			return nil, err
		}
	} else {
		dirs = []string{dir}
	}

	var matches []string
	for _, d := range dirs {
		m, err := f.globDir(ctx, d, file)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m...)
	}
	sort.Strings(matches)
	return matches, nil
}

func (f *FS) globDir(ctx context.Context, dir, pattern string) ([]string, error) {
	if st, err := f.Lstat(ctx, dir); err != nil || !st.Mode.IsDir() {
		return nil, nil
	}
	names, err := f.Readdir(ctx, dir)
	if err != nil {
		return nil, nil
	}
	var matches []string
	for _, n := range names {
		ok, err := path.Match(pattern, n)
		if err != nil {
			return nil, vfs.NewPathError("glob", pattern, vfs.ErrInvalid)
		}
		if ok {
			matches = append(matches, vfs.Join(dir, n))
		}
	}
	return matches, nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
