package fsys

import (
	"context"
	"io"
	"unicode/utf8"

	"corefs.dev/corefs/vfs"
)

// Encoding selects how ReadFile/WriteFile round-trip between bytes and
// a Go string, standing in for the byte/string duality a caller using
// string content (as opposed to []byte) expects from the read/write
// file operations.
type Encoding int

const (
	Raw  Encoding = iota // no decoding; ReadFile returns the raw bytes as a string
	UTF8                 // validate as UTF-8; ReadFile fails on invalid sequences
)

// WriteFile writes data to name using flag (defaulting to "w" per the
// spec's write_file contract), creating the file and any necessary
// truncation per the flag's semantics.
func (f *FS) WriteFile(ctx context.Context, name string, data []byte, flagStr string, perm vfs.FileMode) error {
	if flagStr == "" {
		flagStr = "w"
	}
	fd, err := f.Open(ctx, name, flagStr, perm)
	if err != nil {
		return err
	}
	defer f.Close(ctx, fd)

	n, err := f.Write(ctx, fd, data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	return err
}

// AppendFile appends data to name, opening with flag "a" unless an
// explicit flag is given.
func (f *FS) AppendFile(ctx context.Context, name string, data []byte, flagStr string, perm vfs.FileMode) error {
	if flagStr == "" {
		flagStr = "a"
	}
	return f.WriteFile(ctx, name, data, flagStr, perm)
}

// ReadFile reads the entire contents of name, opened with flag "r"
// unless an explicit flag is given.
func (f *FS) ReadFile(ctx context.Context, name string, flagStr string) ([]byte, error) {
	if flagStr == "" {
		flagStr = "r"
	}
	fd, err := f.Open(ctx, name, flagStr, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx, fd)

	of, err := f.lookupFd(fd)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(of.handle)
}

// ReadFileString reads name and decodes it per enc.
func (f *FS) ReadFileString(ctx context.Context, name string, enc Encoding) (string, error) {
	b, err := f.ReadFile(ctx, name, "")
	if err != nil {
		return "", err
	}
	if enc == UTF8 && !utf8.Valid(b) {
		return "", vfs.NewPathError("read", name, vfs.ErrInvalid)
	}
	return string(b), nil
}
