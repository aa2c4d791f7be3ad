package s3fs

import (
	"bytes"
	"context"
	"fmt"
	iofs "io/fs"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

// getObject fetches an object's full content and content type,
// grounded on r2fs's repeated GetObject+io.ReadAll pattern.
func (fsys *FS) getObject(ctx context.Context, name string) ([]byte, string, error) {
	resp, err := fsys.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(fsys.bucket), Key: aws.String(fsys.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", vfs.NewPathError("open", name, vfs.ErrNotExist)
		}
		return nil, "", vfs.NewPathError("open", name, vfs.ErrIO)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", vfs.NewPathError("open", name, vfs.ErrIO)
	}
	return content, aws.ToString(resp.ContentType), nil
}

// putObject writes content to name with the POSIX metadata r2fs
// encodes into per-object metadata keys, since S3 has no native mode/
// owner/time fields.
func (fsys *FS) putObject(ctx context.Context, name string, content []byte, mode vfs.FileMode, owner backend.Owner, contentType string) error {
	return fsys.putObjectRaw(ctx, name, content, mode, owner, contentType)
}

func (fsys *FS) putObjectRaw(ctx context.Context, name string, content []byte, mode vfs.FileMode, owner backend.Owner, contentType string) error {
	now := time.Now()
	metadata := map[string]string{
		"Content-Mode":      formatFileMode(mode),
		"Content-Modified":  strconv.FormatInt(now.Unix(), 10),
		"Content-Ownership": fmt.Sprintf("%d:%d", owner.Uid, owner.Gid),
		"Change-Timestamp":  strconv.FormatInt(now.UnixMicro(), 10),
	}
	_, err := fsys.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(fsys.bucket),
		Key:         aws.String(fsys.key(name)),
		Body:        bytes.NewReader(content),
		Metadata:    metadata,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return vfs.NewPathError("write", name, vfs.ErrIO)
	}
	return nil
}

func (fsys *FS) deleteObject(ctx context.Context, name string) error {
	_, err := fsys.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fsys.bucket), Key: aws.String(fsys.key(name)),
	})
	if err != nil && !isNotFound(err) {
		return vfs.NewPathError("unlink", name, vfs.ErrIO)
	}
	return nil
}

// compareAndSwap retries updateFn against the current ETag, grounded
// on r2fs.compareAndSwap: if PutObject reports a precondition failure
// because another writer raced us, refetch and retry, making at most 3
// attempts in all.
func (fsys *FS) compareAndSwap(ctx context.Context, name string, updateFn func(content []byte, etag string) ([]byte, error)) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		resp, err := fsys.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(fsys.bucket), Key: aws.String(fsys.key(name)),
		})
		var content []byte
		var etag string
		if err != nil {
			if !isNotFound(err) {
				return vfs.NewPathError("write", name, vfs.ErrIO)
			}
			// Object doesn't exist yet (e.g. first entry in a parent
			// listing) - proceed with empty content and no If-Match.
		} else {
			content, err = io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return vfs.NewPathError("write", name, vfs.ErrIO)
			}
			etag = aws.ToString(resp.ETag)
		}

		newContent, err := updateFn(content, etag)
		if err != nil {
			return err
		}

		put := &s3.PutObjectInput{
			Bucket: aws.String(fsys.bucket), Key: aws.String(fsys.key(name)),
			Body: bytes.NewReader(newContent), ContentType: aws.String("application/x-directory"),
		}
		if etag != "" {
			put.IfMatch = aws.String(etag)
		}
		if _, err := fsys.client.PutObject(ctx, put); err != nil {
			if strings.Contains(err.Error(), "PreconditionFailed") && i < maxRetries-1 {
				time.Sleep(time.Duration(i*50) * time.Millisecond)
				continue
			}
			return vfs.NewPathError("write", name, vfs.ErrIO)
		}
		return nil
	}
	return vfs.NewPathError("write", name, vfs.ErrBusy)
}

// updateParentListing adds or removes name's entry from its parent's
// directory-listing object, grounded on r2fs.updateParentDirectoryListing.
func (fsys *FS) updateParentListing(ctx context.Context, name string, mode vfs.FileMode, remove bool) error {
	if name == "" || name == "." || name == "/" {
		return nil
	}
	parent := vfs.Normalize(parentOf(name))
	base := baseOf(name)

	return fsys.compareAndSwap(ctx, parent, func(content []byte, etag string) ([]byte, error) {
		entries := parseListing(content)
		if remove {
			delete(entries, base)
		} else {
			entries[base] = formatFileMode(mode)
		}
		return formatListing(entries), nil
	})
}

func parentOf(name string) string {
	i := strings.LastIndex(strings.TrimRight(name, "/"), "/")
	if i <= 0 {
		return "/"
	}
	return name[:i]
}

func baseOf(name string) string {
	name = strings.TrimRight(name, "/")
	i := strings.LastIndex(name, "/")
	return name[i+1:]
}

// parseListing/formatListing encode a directory's children as "name
// mode\n" lines, grounded on r2fs.parseDirectoryEntries/
// formatDirectoryEntries.
func parseListing(content []byte) map[string]string {
	entries := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		entries[fields[0]] = fields[1]
	}
	return entries
}

func formatListing(entries map[string]string) []byte {
	var b strings.Builder
	for name, mode := range entries {
		fmt.Fprintf(&b, "%s %s\n", name, mode)
	}
	return []byte(b.String())
}

func statFromMetadata(metadata map[string]string, size int64, contentType string) vfs.Stat {
	mode := parseFileMode(metadata["Content-Mode"])
	isDir := contentType == "application/x-directory"
	if mode == 0 {
		if isDir {
			mode = iofs.ModeDir | 0o755
		} else {
			mode = 0o644
		}
	}
	mtime := parseUnixSeconds(metadata["Content-Modified"])
	uid, gid := parseOwnership(metadata["Content-Ownership"])
	return vfs.Stat{
		Mode: mode, Uid: uid, Gid: gid, Size: size,
		Mtime: mtime, Ctime: mtime, Atime: mtime, Nlink: 1, Blksize: 4096,
		Blocks: (size + 511) / 512,
	}
}

func parseFileMode(s string) vfs.FileMode {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return unixModeToGoMode(uint32(n))
}

func formatFileMode(mode vfs.FileMode) string {
	return strconv.FormatUint(uint64(goModeToUnixMode(mode)), 10)
}

func unixModeToGoMode(unixMode uint32) vfs.FileMode {
	perm := vfs.FileMode(unixMode & 0o777)
	switch unixMode & 0o170000 {
	case 0o40000:
		return iofs.ModeDir | perm
	case 0o120000:
		return iofs.ModeSymlink | perm
	default:
		return perm
	}
}

func goModeToUnixMode(mode vfs.FileMode) uint32 {
	unixMode := uint32(mode & iofs.ModePerm)
	switch {
	case mode&iofs.ModeDir != 0:
		unixMode |= 0o40000
	case mode&iofs.ModeSymlink != 0:
		unixMode |= 0o120000
	default:
		unixMode |= 0o100000
	}
	return unixMode
}

func parseUnixSeconds(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n * 1000
}

// chown and chtimes read an object's current content and content
// type, then rewrite it with updated Content-Ownership/Content-Modified
// metadata, grounded on r2fs.chown/r2fs.chtimes.
func (fsys *FS) chown(ctx context.Context, name string, uid, gid int) error {
	content, ctype, err := fsys.getObject(ctx, name)
	if err != nil {
		return err
	}
	st, err := fsys.Stat(ctx, name)
	if err != nil {
		return err
	}
	now := time.Now()
	metadata := map[string]string{
		"Content-Mode":      formatFileMode(st.Mode),
		"Content-Modified":  strconv.FormatInt(now.Unix(), 10),
		"Content-Ownership": fmt.Sprintf("%d:%d", uid, gid),
		"Change-Timestamp":  strconv.FormatInt(now.UnixMicro(), 10),
	}
	if _, err := fsys.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(fsys.bucket), Key: aws.String(fsys.key(name)),
		Body: bytes.NewReader(content), Metadata: metadata, ContentType: aws.String(ctype),
	}); err != nil {
		return vfs.NewPathError("chown", name, vfs.ErrIO)
	}
	fsys.invalidate(name)
	return nil
}

func (fsys *FS) chtimes(ctx context.Context, name string, mtimeMs int64) error {
	content, ctype, err := fsys.getObject(ctx, name)
	if err != nil {
		return err
	}
	st, err := fsys.Stat(ctx, name)
	if err != nil {
		return err
	}
	metadata := map[string]string{
		"Content-Mode":      formatFileMode(st.Mode),
		"Content-Modified":  strconv.FormatInt(mtimeMs/1000, 10),
		"Content-Ownership": fmt.Sprintf("%d:%d", st.Uid, st.Gid),
		"Change-Timestamp":  strconv.FormatInt(time.Now().UnixMicro(), 10),
	}
	if _, err := fsys.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(fsys.bucket), Key: aws.String(fsys.key(name)),
		Body: bytes.NewReader(content), Metadata: metadata, ContentType: aws.String(ctype),
	}); err != nil {
		return vfs.NewPathError("utimes", name, vfs.ErrIO)
	}
	fsys.invalidate(name)
	return nil
}

func parseOwnership(s string) (uint32, uint32) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	uid, _ := strconv.ParseUint(parts[0], 10, 32)
	gid, _ := strconv.ParseUint(parts[1], 10, 32)
	return uint32(uid), uint32(gid)
}
