package overlayfs

import (
	"context"
	"strings"
	"sync"

	"corefs.dev/corefs/vfs"
	"corefs.dev/corefs/vfs/backend"
)

// deletionLogPath is where the tombstone list is persisted on the
// upper backend, so deletions of lower-only entries survive the
// process restarting and reconstructing the overlay from upper+lower.
const deletionLogPath = "/.deleted"

// deletionLog tracks paths deleted from the lower layer (deleting a
// path that only exists in upper needs no tombstone: removing it from
// upper is enough). Writes are coalesced: Mark just flags the log
// dirty, and the next Flush (called after every mutating operation and
// from Sync) writes the whole file once, the "coalesced write, pending
// flag, latched error" scheme the spec requires instead of one write
// per tombstone.
type deletionLog struct {
	mu      sync.Mutex
	upper   backend.Backend
	entries map[string]bool
	pending bool
	err     error // latched: once set, every Flush keeps failing until it clears
}

func newDeletionLog(upper backend.Backend) *deletionLog {
	return &deletionLog{upper: upper, entries: map[string]bool{}}
}

// Load reads the persisted log, if present. A missing log is not an
// error: it means nothing has been deleted yet.
func (l *deletionLog) Load(ctx context.Context) error {
	h, err := l.upper.OpenFile(ctx, deletionLogPath, vfs.Flag{Readable: true}, 0, backend.Owner{})
	if err != nil {
		if vfs.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer h.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, rerr := h.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if rerr != nil {
			break
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range strings.Split(string(buf), "\n") {
		if strings.HasPrefix(line, "d") {
			l.entries[line[1:]] = true
		}
	}
	return nil
}

func (l *deletionLog) IsDeleted(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[path]
}

// Mark records path as deleted and flags the log dirty without
// blocking on a write.
func (l *deletionLog) Mark(path string) {
	l.mu.Lock()
	l.entries[path] = true
	l.pending = true
	l.mu.Unlock()
}

// Unmark clears a tombstone, e.g. because the path was recreated.
func (l *deletionLog) Unmark(path string) {
	l.mu.Lock()
	if l.entries[path] {
		delete(l.entries, path)
		l.pending = true
	}
	l.mu.Unlock()
}

// Flush writes the full log to upper if there are unwritten changes.
// A prior failed Flush latches l.err, which every subsequent Flush
// returns until a write finally succeeds (pending stays true so the
// next call keeps retrying).
func (l *deletionLog) Flush(ctx context.Context) error {
	l.mu.Lock()
	if !l.pending {
		err := l.err
		l.mu.Unlock()
		return err
	}
	var b strings.Builder
	for p := range l.entries {
		b.WriteString("d")
		b.WriteString(p)
		b.WriteString("\n")
	}
	content := b.String()
	l.mu.Unlock()

	h, err := l.upper.OpenFile(ctx, deletionLogPath, vfs.Flag{Writable: true, Truncate: true, CreateIfMissing: true}, 0o600, backend.Owner{})
	if err != nil {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		return err
	}
	_, werr := h.Write([]byte(content))
	cerr := h.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	if werr != nil {
		l.err = werr
		return werr
	}
	if cerr != nil {
		l.err = cerr
		return cerr
	}
	l.err = nil
	l.pending = false
	return nil
}
