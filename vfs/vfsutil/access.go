// Package vfsutil renders permission bits for the VFS dispatcher:
// turning an open flag into an access mode, an access mode plus a
// caller's uid/gid into a yes/no decision against a Stat's owner and
// permission bits, and carrying that caller identity through a
// context.Context the way the teacher's fs package threads a
// *http.Request's auth state through context for its web-facing
// backends.
package vfsutil

import (
	"context"

	"corefs.dev/corefs/vfs"
)

// Mode is an access-check bitmask mirroring POSIX access(2)'s R_OK/
// W_OK/X_OK.
type Mode int

const (
	R_OK Mode = 1 << iota
	W_OK
	X_OK
)

// FlagToMode derives the access mode Open must check before honoring
// flag: R_OK|W_OK for a read-write flag, R_OK for read-only, W_OK for
// write-only.
func FlagToMode(flag vfs.Flag) Mode {
	var m Mode
	if flag.Readable {
		m |= R_OK
	}
	if flag.Writable || flag.Appendable {
		m |= W_OK
	}
	if m == 0 {
		m = R_OK
	}
	return m
}

// Caller identifies the uid/gid of whoever is making a VFS call. The
// zero Caller is uid/gid 0, matching POSIX root and bypassing every
// permission check below - the default for callers that never set one
// in context, so existing single-tenant callers are unaffected.
type Caller struct {
	Uid uint32
	Gid uint32
}

// IsRoot reports whether c bypasses permission checks.
func (c Caller) IsRoot() bool { return c.Uid == 0 }

type callerKey struct{}

// WithCaller attaches caller to ctx for HasAccess checks made while
// servicing the resulting request.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext extracts the Caller attached by WithCaller,
// defaulting to root when none was attached.
func CallerFromContext(ctx context.Context) Caller {
	c, ok := ctx.Value(callerKey{}).(Caller)
	if !ok {
		return Caller{}
	}
	return c
}

// HasAccess reports whether caller may access a node with the given
// stat under mode, following the usual owner/group/other class
// selection: caller's uid matching st.Uid checks the owner bits,
// caller's gid matching st.Gid checks the group bits, and everyone
// else is checked against the other bits. Root always passes.
func HasAccess(st vfs.Stat, mode Mode, caller Caller) bool {
	if caller.IsRoot() {
		return true
	}
	var perm vfs.FileMode
	switch {
	case caller.Uid == st.Uid:
		perm = st.Mode.Perm() >> 6
	case caller.Gid == st.Gid:
		perm = st.Mode.Perm() >> 3
	default:
		perm = st.Mode.Perm()
	}
	perm &= 0o7

	if mode&R_OK != 0 && perm&0o4 == 0 {
		return false
	}
	if mode&W_OK != 0 && perm&0o2 == 0 {
		return false
	}
	if mode&X_OK != 0 && perm&0o1 == 0 {
		return false
	}
	return true
}
