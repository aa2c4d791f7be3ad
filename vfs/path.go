package vfs

import (
	"fmt"
	"path"
	"strings"
)

// maxSymlinkDepth bounds realpath's recursion so a symlink cycle fails
// with ELOOP instead of recursing forever.
const maxSymlinkDepth = 40

// Normalize cleans a path into the absolute, slash-separated form every
// vfs/fsys and vfs/mount operation expects: a leading "/", no trailing
// slash (except for the root itself), and no "." or ".." segments.
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	return p
}

// Join normalizes the result of joining dir and name, the same way
// path.Join is used throughout the teacher's fs package.
func Join(dir, name string) string {
	return Normalize(path.Join(dir, name))
}

// linkResolver is the minimal capability realpath needs from whatever is
// resolving symlinks for it: read a symlink's target, given a
// normalized path.
type linkResolver interface {
	Readlink(p string) (string, error)
}

// Realpath resolves p to its canonical form by following symlinks,
// including symlinks that cross mount points, up to maxSymlinkDepth
// hops. It returns ErrTooManyLinks (ELOOP) past that bound.
func Realpath(r linkResolver, p string) (string, error) {
	p = Normalize(p)
	for depth := 0; depth < maxSymlinkDepth; depth++ {
		target, err := r.Readlink(p)
		if err != nil {
			if isNotLink(err) {
				return p, nil
			}
			return "", err
		}
		if strings.HasPrefix(target, "/") {
			p = Normalize(target)
		} else {
			p = Join(path.Dir(p), target)
		}
	}
	return "", NewPathError("realpath", p, ErrTooManyLinks)
}

func isNotLink(err error) bool {
	return err != nil && (isErr(err, ErrInvalid) || isErr(err, ErrNotSupported) || isErr(err, ErrNotExist))
}

func isErr(err error, target error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ValidPath reports whether p is a well-formed absolute path, mirroring
// io/fs.ValidPath's contract but for the vfs package's leading-slash
// absolute paths instead of io/fs's relative ones.
func ValidPath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		return false
	}
	return !strings.Contains(p, "\x00")
}

func errInvalidPath(op, p string) error {
	return NewPathError(op, p, fmt.Errorf("%w: invalid path", ErrInvalid))
}
