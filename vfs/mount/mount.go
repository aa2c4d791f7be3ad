// Package mount implements the VFS mount table: longest-prefix-match
// resolution of a path to the backend mounted at or above it, grounded
// on avfs's MountFS (mounts map[string]*mount, descending-length
// ordering) and on the prefix-matching technique in the teacher's
// namespace.FS.Sub, generalized from Plan 9-style multi-binding to one
// backend per mount point.
package mount

import (
	"sort"
	"strings"
	"sync"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

type entry struct {
	point   string
	backend backend.Backend
}

// Table is a mount table keyed by absolute mount point, resolved by
// longest matching prefix.
type Table struct {
	mu      sync.RWMutex
	entries []entry // kept sorted by descending len(point)
}

func New() *Table {
	return &Table{}
}

// Mount attaches b at point. Mounting on top of a point that already
// has a backend is rejected rather than silently replacing it; call
// Umount first.
func (t *Table) Mount(point string, b backend.Backend) error {
	point = vfs.Normalize(point)
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].point == point {
			return vfs.NewPathError("mount", point, vfs.ErrExist)
		}
	}
	t.entries = append(t.entries, entry{point: point, backend: b})
	sort.Slice(t.entries, func(i, j int) bool {
		return len(t.entries[i].point) > len(t.entries[j].point)
	})
	return nil
}

// Umount detaches the backend mounted at exactly point.
func (t *Table) Umount(point string) error {
	point = vfs.Normalize(point)
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].point == point {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return nil
		}
	}
	return vfs.NewPathError("umount", point, vfs.ErrNotExist)
}

// Mounts returns the current mount points, longest (most specific)
// first.
func (t *Table) Mounts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	points := make([]string, len(t.entries))
	for i, e := range t.entries {
		points[i] = e.point
	}
	return points
}

// Resolve finds the backend mounted at or above p, returning that
// backend, the path local to it, and the mount point matched.
func (t *Table) Resolve(p string) (b backend.Backend, local string, point string, err error) {
	p = vfs.Normalize(p)
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.point == "/" {
			continue // root is the fallback, checked last
		}
		if p == e.point || strings.HasPrefix(p, e.point+"/") {
			local = strings.TrimPrefix(p, e.point)
			if local == "" {
				local = "/"
			}
			return e.backend, local, e.point, nil
		}
	}
	for _, e := range t.entries {
		if e.point == "/" {
			return e.backend, p, "/", nil
		}
	}
	return nil, "", "", vfs.NewPathError("resolve", p, vfs.ErrNotExist)
}

// ChildMounts returns the mount points that are direct children of dir,
// i.e. additional entries a readdir of dir must splice in because
// another backend is mounted at dir/<name>.
func (t *Table) ChildMounts(dir string) []string {
	dir = vfs.Normalize(dir)
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := map[string]bool{}
	var names []string
	for _, e := range t.entries {
		if e.point == dir || !strings.HasPrefix(e.point, prefix) {
			continue
		}
		rest := strings.TrimPrefix(e.point, prefix)
		name := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name = rest[:i]
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
