// Package watch implements the process-wide watcher bus: a path to
// subscriber-set map, change fan-out, and a channel-based subscription
// any caller can iterate.
//
// Grounded on the teacher's fs.WatchFS (Watch(ctx, name) (<-chan Event,
// error)) channel-return convention, generalized from one fs.Event type
// per filesystem to the VFS-wide emit_change(kind, path) fan-out the
// spec's watcher bus needs, with explicit unsubscribe-unblocks-pending-
// reader semantics the teacher's version leaves to context cancellation
// alone.
package watch

import (
	"strings"
	"sync"
)

// Event is one change notification.
type Event struct {
	Kind string // "create", "write", "remove", "rename", "attr"
	Path string
}

// Bus fans out Emit calls to every Subscription registered on a path
// equal to the emitted path or, for a recursive watch, an ancestor of it.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]string // subscription -> watched path
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]string)}
}

// Subscription is an async-iterator-style handle: repeated Next calls
// deliver events in order until Close is called, at which point any
// blocked Next returns immediately with ok=false, mirroring a JS async
// iterator's return() unblocking a pending next().
type Subscription struct {
	bus    *Bus
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Watch registers a subscription on path. Events on path itself or any
// descendant of it (when recursive is true) are delivered.
func (b *Bus) Watch(path string, recursive bool) *Subscription {
	s := &Subscription{
		bus:    b,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	key := path
	if recursive {
		key += "/..."
	}
	b.mu.Lock()
	b.subs[s] = key
	b.mu.Unlock()
	return s
}

// Next blocks until an event arrives or the subscription is closed.
func (s *Subscription) Next() (Event, bool) {
	select {
	case e, ok := <-s.events:
		return e, ok
	case <-s.done:
		return Event{}, false
	}
}

// Close unsubscribes and unblocks any pending Next.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

// Emit notifies every subscription whose watched path matches p.
func (b *Bus) Emit(kind, p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s, key := range b.subs {
		if !matches(key, p) {
			continue
		}
		select {
		case s.events <- Event{Kind: kind, Path: p}:
		default:
			// slow subscriber: once its 64-event buffer is
			// full, drop the event rather than block emit.
		}
	}
}

func matches(key, p string) bool {
	if strings.HasSuffix(key, "/...") {
		prefix := strings.TrimSuffix(key, "/...")
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
	return key == p
}
