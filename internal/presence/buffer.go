package presence

import (
	"fmt"
	"sync"
	"time"
)

// Key identifies one monitored (camera, subject) pair. Windows are kept per
// key: two cameras seeing the same subject accumulate evidence independently.
type Key struct {
	Camera    string
	SubjectID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Camera, k.SubjectID)
}

// Buffer holds the recent detection timestamps for every active key. It is
// the only structure shared between the ingest path and the sweep loop, so
// all access goes through one mutex. Individual detections are never stored;
// only their timestamps survive, pruned to a trailing window on every insert.
type Buffer struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[Key][]time.Time
}

// NewBuffer creates a buffer that retains timestamps for the given trailing
// window.
func NewBuffer(window time.Duration) *Buffer {
	return &Buffer{
		window:  window,
		entries: make(map[Key][]time.Time),
	}
}

// Record appends ts to the window for key and drops everything older than
// ts minus the buffer window.
func (b *Buffer) Record(key Key, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lst := append(b.entries[key], ts)
	cutoff := ts.Add(-b.window)
	kept := lst[:0]
	for _, t := range lst {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	b.entries[key] = kept
}

// Snapshot returns a copy of the current window for key. The copy is safe to
// inspect without holding the buffer lock.
func (b *Buffer) Snapshot(key Key) []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	lst, ok := b.entries[key]
	if !ok {
		return nil
	}
	out := make([]time.Time, len(lst))
	copy(out, lst)
	return out
}

// SnapshotAll returns a copy of every window, keyed by key. Used by the
// debug endpoint.
func (b *Buffer) SnapshotAll() map[Key][]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[Key][]time.Time, len(b.entries))
	for key, lst := range b.entries {
		cp := make([]time.Time, len(lst))
		copy(cp, lst)
		out[key] = cp
	}
	return out
}

// Keys returns a snapshot of all buffered keys so the sweep can iterate
// without holding the lock during reconciliation.
func (b *Buffer) Keys() []Key {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]Key, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	return keys
}

// Reset empties the window for key but keeps the key registered, so the
// sweep continues to visit it. Used after a session opens: the spent
// evidence must not re-trigger an arrival, but the key still needs departure
// checks even if no further detection ever arrives.
func (b *Buffer) Reset(key Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; ok {
		b.entries[key] = nil
	}
}

// Clear removes the window for key entirely. Used after a session closes.
func (b *Buffer) Clear(key Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Len reports the number of buffered keys.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
